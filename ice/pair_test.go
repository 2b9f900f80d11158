package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testCandidate(typ CandidateType, priority uint32, port int) Candidate {
	return Candidate{
		Type:       typ,
		Foundation: "f",
		Component:  1,
		Priority:   priority,
		Address:    Address{Family: IPv4, Port: port},
	}
}

func TestPairPriorityFormula(t *testing.T) {
	local := testCandidate(TypeHost, 126<<24, 1)
	remote := testCandidate(TypeHost, 100<<24, 2)
	p := newCandidatePair(1, local, remote)

	// RFC 8445 section 6.1.2.3: 2^32*min(G,D) + 2*max(G,D) + (G>D?1:0).
	g, d := uint64(local.Priority), uint64(remote.Priority)
	want := d<<32 + g<<1 + 1 // G > D, so min(G,D)=D; controlling perspective
	assert.Equal(t, want, p.Priority(true))

	// From the controlled perspective, G and D swap.
	want2 := d<<32 + g<<1 + 0
	assert.Equal(t, want2, p.Priority(false))
}

func TestSortAndPruneOrdersDescending(t *testing.T) {
	low := newCandidatePair(1, testCandidate(TypeHost, 1, 1), testCandidate(TypeHost, 1, 3))
	high := newCandidatePair(2, testCandidate(TypeHost, 1000, 1), testCandidate(TypeHost, 1000, 2))

	sorted := sortAndPrune([]*CandidatePair{low, high}, true)
	assert.Equal(t, high, sorted[0])
	assert.Equal(t, low, sorted[1])
}

func TestSortAndPrunePreservesChainedRedundancy(t *testing.T) {
	b1 := &base{}
	b2 := &base{}

	remote := testCandidate(TypeHost, 1, 9)

	a := testCandidate(TypeHost, 400, 1)
	a.base = b1
	bb := testCandidate(TypeHost, 300, 1)
	bb.base = b1 // shares base with a and remote -> redundant with a
	c := testCandidate(TypeHost, 200, 1)
	c.base = b2
	d := testCandidate(TypeHost, 100, 1)
	d.base = b2 // shares base with c -> redundant with c, not with a/bb

	pairA := newCandidatePair(1, a, remote)
	pairB := newCandidatePair(2, bb, remote)
	pairC := newCandidatePair(3, c, remote)
	pairD := newCandidatePair(4, d, remote)

	kept := sortAndPrune([]*CandidatePair{pairA, pairB, pairC, pairD}, true)

	assert.Contains(t, kept, pairA)
	assert.Contains(t, kept, pairC)
	assert.NotContains(t, kept, pairB)
	assert.NotContains(t, kept, pairD)
	assert.Len(t, kept, 2)
}

func TestCanBePaired(t *testing.T) {
	v4 := testCandidate(TypeHost, 1, 1)
	v6 := testCandidate(TypeHost, 1, 1)
	v6.Address.Family = IPv6

	assert.True(t, canBePaired(v4, testCandidate(TypeHost, 1, 2)))
	assert.False(t, canBePaired(v4, v6))
}
