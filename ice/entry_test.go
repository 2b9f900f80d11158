package ice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntryArmIsIdempotent(t *testing.T) {
	e := newServerEntry("stun.example.com:3478", Address{})
	now := time.Now()

	e.arm(now, 100*time.Millisecond)
	first := e.nextTx
	assert.True(t, e.isArmed())

	// A second concurrent arm before the worker has disarmed it must not
	// reschedule the pending transmission (spec.md section 4.3).
	e.arm(now, 5*time.Second)
	assert.Equal(t, first, e.nextTx)

	e.disarm()
	assert.False(t, e.isArmed())

	e.arm(now, 5*time.Second)
	assert.NotEqual(t, first, e.nextTx)
}

// TestEntryRetransmissionSchedule reproduces the send-timestamp sequence a
// CHECK/SERVER entry must follow: RTO=500ms, MaxRetransmissions=5 retries
// after the initial send, so 6 sends total (spec.md section 8, property 4).
func TestEntryRetransmissionSchedule(t *testing.T) {
	e := newServerEntry("stun.example.com:3478", Address{})
	e.rto = MinRTO

	var offsets []time.Duration
	start := time.Unix(0, 0)
	now := start
	for e.retries <= MaxRetransmissions {
		offsets = append(offsets, now.Sub(start))
		now = now.Add(e.rto)
		e.retries++
		e.rto *= 2
		if e.rto > MaxRTO {
			e.rto = MaxRTO
		}
	}

	want := []time.Duration{
		0,
		500 * time.Millisecond,
		1500 * time.Millisecond,
		3500 * time.Millisecond,
		7500 * time.Millisecond,
		15500 * time.Millisecond,
	}
	assert.Equal(t, want, offsets)
}

func TestEntryRetargetPreservesPair(t *testing.T) {
	pair1 := newCandidatePair(1, Candidate{}, Candidate{})
	pair2 := newCandidatePair(2, Candidate{}, Candidate{})

	e := newCheckEntry(pair1)
	assert.Equal(t, e, pair1.entry)

	e.retarget(pair2)
	assert.Equal(t, e, pair2.entry)
	assert.Equal(t, pair2, e.pair)
}
