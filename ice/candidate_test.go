package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidate(t *testing.T) {
	line := "candidate:0 1 udp 123456789 192.168.1.1 12345 typ host"
	c, err := ParseCandidate(line)
	require.NoError(t, err)

	assert.Equal(t, "0", c.Foundation)
	assert.Equal(t, 1, c.Component)
	assert.EqualValues(t, 123456789, c.Priority)
	assert.Equal(t, "192.168.1.1", c.Address.UDPAddr().IP.String())
	assert.Equal(t, 12345, c.Address.Port)
	assert.Equal(t, TypeHost, c.Type)
}

func TestCandidateStringRoundTrip(t *testing.T) {
	line := "candidate:0 1 udp 123456789 192.168.1.1 12345 typ host"
	c, err := ParseCandidate(line)
	require.NoError(t, err)
	assert.Equal(t, line, c.String())
}

func TestParseCandidateWithRelatedAddress(t *testing.T) {
	line := "candidate:1 1 udp 1694498815 203.0.113.5 40000 typ srflx raddr 192.168.1.1 rport 12345"
	c, err := ParseCandidate(line)
	require.NoError(t, err)

	assert.Equal(t, TypeServerReflexive, c.Type)
	assert.Equal(t, "192.168.1.1", c.RelatedAddress.UDPAddr().IP.String())
	assert.Equal(t, 12345, c.RelatedAddress.Port)
}

func TestParseCandidateRejectsMalformed(t *testing.T) {
	_, err := ParseCandidate("candidate:0 1 udp not-a-number 192.168.1.1 12345 typ host")
	assert.Error(t, err)

	_, err = ParseCandidate("too short")
	assert.Error(t, err)
}

func TestComputePriorityOrdersTypesCorrectly(t *testing.T) {
	host := computePriority(TypeHost, 65535, 1)
	srflx := computePriority(TypeServerReflexive, 65535, 1)
	prflx := computePriority(TypePeerReflexive, 65535, 1)
	relay := computePriority(TypeRelay, 65535, 1)

	assert.True(t, host > prflx)
	assert.True(t, prflx > srflx)
	assert.True(t, srflx > relay)
}

func TestIsEphemeralLocalDomain(t *testing.T) {
	assert.True(t, isEphemeralLocalDomain("7e4fa9e0-6f1e-4a1a-9e1d-2a6d9e6f1e4a.local"))
	assert.False(t, isEphemeralLocalDomain("example.com"))
	assert.False(t, isEphemeralLocalDomain("short.local"))
}
