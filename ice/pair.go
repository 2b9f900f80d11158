package ice

import (
	"fmt"
	"sort"
)

// PairState is the lifecycle state of a CandidatePair, per RFC 8445
// section 6.1.2.1.
type PairState int

const (
	Frozen PairState = iota
	Waiting
	InProgress
	Succeeded
	Failed
)

func (s PairState) String() string {
	switch s {
	case Frozen:
		return "frozen"
	case Waiting:
		return "waiting"
	case InProgress:
		return "in-progress"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// CandidatePair is an (local, remote) candidate tuple probed by
// connectivity checks. Grounded on the teacher's internal/ice/pair.go,
// extended with the nominated flag and entry back-reference from
// spec.md section 3.
type CandidatePair struct {
	id         int
	Local      Candidate
	Remote     Candidate
	Foundation string

	State     PairState
	Nominated bool

	// nominationRequested is set when a USE-CANDIDATE request arrives for
	// this pair before its own check has succeeded (controlled side): the
	// pair is nominated as soon as that check does succeed (spec.md
	// section 4.4).
	nominationRequested bool

	// useCandidateSent marks a controlling-side follow-up check sent with
	// USE-CANDIDATE, so its success response is recognized as a
	// nomination rather than an ordinary check (spec.md section 4.4).
	useCandidateSent bool

	// reverseChecked is set once this agent has authenticated and replied
	// to at least one connectivity check request from the remote address
	// of this pair. "completed" requires both the forward check (this
	// agent's own entry) and the reverse check (the peer's entry, probed
	// against us) to have succeeded (spec.md section 4.4, "then completed
	// once the check has also succeeded in the reverse direction").
	reverseChecked bool

	// entry is the STUN entry that performs this pair's connectivity
	// check. Exactly one per pair, for its lifetime (spec.md invariant).
	entry *stunEntry
}

func newCandidatePair(id int, local, remote Candidate) *CandidatePair {
	return &CandidatePair{
		id:         id,
		Local:      local,
		Remote:     remote,
		Foundation: local.Foundation + "/" + remote.Foundation,
		State:      Frozen,
	}
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("pair#%d %s -> %s [%s]", p.id, p.Local.Address, p.Remote.Address, p.State)
}

// Priority implements RFC 8445 section 6.1.2.3:
//
//	pair-priority = 2^32 * min(G,D) + 2*max(G,D) + (G>D ? 1 : 0)
//
// where G is the controlling agent's candidate priority and D is the
// controlled agent's. controlling reports whether the local side of this
// pair is the controlling agent.
func (p *CandidatePair) Priority(controlling bool) uint64 {
	local := uint64(p.Local.Priority)
	remote := uint64(p.Remote.Priority)

	var g, d uint64
	if controlling {
		g, d = local, remote
	} else {
		g, d = remote, local
	}

	min, max := g, d
	var bit uint64
	if g > d {
		min, max = d, g
		bit = 1
	}
	return min<<32 + max<<1 + bit
}

// canBePaired reports whether local and remote candidates may form a pair:
// same component (always 1 here) and compatible address families.
func canBePaired(local, remote Candidate) bool {
	return local.Component == remote.Component && local.Address.Family == remote.Address.Family
}

// isRedundant implements RFC 8445 section 6.1.2.4: two pairs are redundant
// if they share the same remote candidate and the same local base.
func isRedundant(p1, p2 *CandidatePair) bool {
	return p1.Remote.Address.Equal(p2.Remote.Address) && p1.Local.base == p2.Local.base
}

// sortAndPrune sorts pairs from highest to lowest priority (from the
// controlling side's perspective; see Priority) and removes redundant
// lower-priority pairs, preserving any pair whose check is in flight or
// has already produced a result (draft-ietf-ice-trickle section 10).
func sortAndPrune(pairs []*CandidatePair, controlling bool) []*CandidatePair {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Priority(controlling) > pairs[j].Priority(controlling)
	})

	kept := make([]*CandidatePair, 0, len(pairs))
	for i, p := range pairs {
		if p.State == InProgress || p.State == Succeeded || p.State == Failed {
			kept = append(kept, p)
			continue
		}
		redundant := false
		for j := 0; j < i; j++ {
			if isRedundant(p, pairs[j]) {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, p)
		}
	}
	return kept
}
