package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStunMessageRoundTrip(t *testing.T) {
	msg := newBindingRequest("")
	msg.addUsername("ufragA:ufragB")
	msg.addPriority(12345)
	msg.addIceControlling(42)
	msg.addMessageIntegrity("password")
	msg.addFingerprint()

	encoded := msg.Bytes()
	assert.Equal(t, 0, len(encoded)%4, "STUN message length must be a multiple of 4")

	parsed, err := parseMessage(encoded)
	require.NoError(t, err)
	require.NotNil(t, parsed)

	assert.Equal(t, msg.class, parsed.class)
	assert.Equal(t, msg.method, parsed.method)
	assert.Equal(t, msg.transactionID, parsed.transactionID)

	u, ok := parsed.username()
	require.True(t, ok)
	assert.Equal(t, "ufragA:ufragB", u)

	p, ok := parsed.priority()
	require.True(t, ok)
	assert.EqualValues(t, 12345, p)

	tb, ok := parsed.iceControlling()
	require.True(t, ok)
	assert.EqualValues(t, 42, tb)

	assert.True(t, parsed.verifyMessageIntegrity(encoded, "password"))
	assert.False(t, parsed.verifyMessageIntegrity(encoded, "wrong-password"))
}

func TestStunXorMappedAddress(t *testing.T) {
	addr := NewAddress(&net.UDPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 40000})

	msg := newBindingSuccess(newTransactionID())
	msg.setXorMappedAddress(addr)

	encoded := msg.Bytes()
	parsed, err := parseMessage(encoded)
	require.NoError(t, err)

	got, ok := parsed.mappedAddress()
	require.True(t, ok)
	assert.True(t, got.Equal(addr), "got %s, want %s", got, addr)
}

func TestStunFingerprintRejectsCorruption(t *testing.T) {
	msg := newBindingRequest("")
	msg.addFingerprint()

	encoded := msg.Bytes()
	// Corrupt the FINGERPRINT attribute's value (last 4 bytes), leaving its
	// type/length intact so the parser still recognizes and checks it.
	encoded[len(encoded)-1] ^= 0xFF

	_, err := parseMessage(encoded)
	assert.Error(t, err)
}

func TestClassifyRejectsNonStun(t *testing.T) {
	assert.False(t, classify([]byte("hello, world, this is application data")))
	assert.False(t, classify(make([]byte, 10)))
}

func TestParseMessageReturnsNilForApplicationData(t *testing.T) {
	msg, err := parseMessage([]byte("not a stun message at all, but long enough"))
	assert.NoError(t, err)
	assert.Nil(t, msg)
}
