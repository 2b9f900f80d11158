package ice

import "time"

// Compile-time bounds on the agent's tables. Grounded on
// original_source/src/agent.h (libjuice): fixed-size arrays sized at agent
// creation, overflow drops the addition rather than growing (spec.md
// section 5, "Shared resources").
const (
	// ICEMaxCandidates bounds the combined local candidate count (host +
	// server-reflexive + peer-reflexive). libjuice derives
	// MAX_HOST_CANDIDATES from this minus MAX_STUN_SERVER_RECORDS and an
	// unexplained "-2" (spec.md section 9, Open question): we keep the
	// same shape and document the headroom as reserved for the two
	// peer-reflexive candidates typically learned during role-conflict
	// recovery and triggered checks, so a single-interface host running
	// against MaxStunServers stun servers never has its loopback/only
	// candidate dropped.
	ICEMaxCandidates = 32

	// MaxStunServers bounds configured STUN servers used for reflexive
	// gathering.
	MaxStunServers = 2

	// MaxHostCandidates bounds host candidates created during gathering.
	MaxHostCandidates = ICEMaxCandidates - MaxStunServers - 2

	// MaxCandidatePairs bounds the pair table; "just to be safe" doubling
	// per libjuice.
	MaxCandidatePairs = ICEMaxCandidates * 2

	// MaxStunEntries bounds the STUN transaction scheduling table: one
	// entry per live pair, plus one per configured STUN server.
	MaxStunEntries = MaxCandidatePairs + MaxStunServers

	// MinRTO is the minimum STUN retransmission timeout (RFC 8445 requires
	// agents not use anything smaller).
	MinRTO = 500 * time.Millisecond

	// MaxRTO caps the doubling retransmission timeout. Chosen so the cap
	// never engages within the documented retransmission schedule
	// (0, 500, 1500, 3500, 7500, 15500 ms for MinRTO=500ms,
	// MaxRetransmissions=5): the largest RTO that schedule actually uses
	// is 8000 ms, between the 5th and 6th sends.
	MaxRTO = 8 * time.Second

	// MaxRetransmissions bounds the number of Binding request
	// retransmissions sent for a single STUN transaction, after the
	// initial transmission, before it is considered finished (6 sends
	// total: 1 initial + MaxRetransmissions retries).
	MaxRetransmissions = 5

	// StunPacingTime is the minimum interval between two *initial*
	// transmissions of distinct entries (RFC 8445 default Ta).
	StunPacingTime = 50 * time.Millisecond

	// StunKeepalivePeriod is how often a Binding indication is sent on the
	// selected pair to keep the NAT binding alive (RFC 8445 section 11).
	StunKeepalivePeriod = 15 * time.Second

	// ICEFailTimeout bounds the unconnected lifetime of the agent.
	ICEFailTimeout = 30 * time.Second
)
