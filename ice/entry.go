package ice

import (
	"sync/atomic"
	"time"
)

// entryType distinguishes a STUN entry probing a configured STUN server
// (for reflexive discovery) from one performing a connectivity check
// against a candidate pair. Grounded on original_source/src/agent.h's
// agent_stun_entry_type_t.
type entryType int

const (
	entryServer entryType = iota
	entryCheck
)

// stunEntry is the per-transaction scheduling record from spec.md section
// 3/4.3: "STUN entry". Fields mirror agent_stun_entry_t in
// original_source/src/agent.h, adapted to Go concurrency primitives
// (time.Time instead of an integer millisecond clock, an int32 driven by
// sync/atomic instead of a C11 atomic_flag).
type stunEntry struct {
	typ    entryType
	record Address // server or remote candidate address to send to

	pair   *CandidatePair // non-nil iff typ == entryCheck
	server string         // configured "host:port", non-empty iff typ == entryServer

	transactionID string
	nextTx        time.Time
	rto           time.Duration
	retries       int
	finished      bool

	// keepalive marks a CHECK entry that has already driven its pair to
	// selection and now just re-arms every StunKeepalivePeriod to send a
	// Binding indication (spec.md section 4.3, "Keepalive"), instead of
	// retransmitting a request.
	keepalive bool

	// armed is set by arm() under the agent mutex and cleared by the
	// worker when it actually sends; a CAS-like armed flag lets external
	// callers request a transmission without racing the worker loop
	// (spec.md section 4.3, "arm_transmission").
	armed int32
}

func newServerEntry(server string, addr Address) *stunEntry {
	return &stunEntry{typ: entryServer, record: addr, server: server, rto: MinRTO}
}

func newCheckEntry(pair *CandidatePair) *stunEntry {
	e := &stunEntry{typ: entryCheck, record: pair.Remote.Address, pair: pair, rto: MinRTO}
	pair.entry = e
	return e
}

// retarget re-points an existing entry at pair, preserving its
// retransmission bookkeeping. This implements
// agent_translate_host_candidate_entry (spec.md section 4.2): when a
// CHECK entry's local candidate is later discovered to actually be
// reflexive, the entry (and its outstanding transaction) survives the
// reclassification instead of being torn down and recreated.
func (e *stunEntry) retarget(pair *CandidatePair) {
	e.pair = pair
	e.record = pair.Remote.Address
	pair.entry = e
}

// arm requests that the entry be (re)transmitted at now+delay. If the
// entry is already armed, this call is a no-op: a transmission is already
// pending (spec.md section 4.3, armed is idempotent).
func (e *stunEntry) arm(now time.Time, delay time.Duration) {
	if !atomic.CompareAndSwapInt32(&e.armed, 0, 1) {
		return
	}
	e.nextTx = now.Add(delay)
}

// disarm clears the armed flag once the worker has acted on it.
func (e *stunEntry) disarm() {
	atomic.StoreInt32(&e.armed, 0)
}

func (e *stunEntry) isArmed() bool {
	return atomic.LoadInt32(&e.armed) != 0
}

// newTransaction starts a fresh STUN transaction on this entry: new
// transaction id, reset retransmission state.
func (e *stunEntry) newTransaction() {
	e.transactionID = newTransactionID()
	e.rto = MinRTO
	e.retries = 0
	e.finished = false
}
