package ice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackAgent(t *testing.T, role Role) *Agent {
	t.Helper()
	a := NewAgent()
	a.Configure("ufrag-"+role.String(), "password-"+role.String(), role)
	require.NoError(t, a.GatherCandidates())
	t.Cleanup(func() { a.Close() })
	return a
}

func waitForState(t *testing.T, a *Agent, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.GetState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent did not reach state %s within %s (last state %s)", want, timeout, a.GetState())
}

// TestHostToHostSuccess reproduces S1: two agents on this host, each with
// its gathered host candidates (loopback only when no other interface is
// up), full exchange up front, both sides reaching completed and exchanging data
// (spec.md section 8).
func TestHostToHostSuccess(t *testing.T) {
	controlling := newLoopbackAgent(t, RoleControlling)
	controlled := newLoopbackAgent(t, RoleControlled)

	received := make(chan []byte, 1)
	controlled.OnData(func(data []byte) {
		received <- append([]byte(nil), data...)
	})

	require.NoError(t, controlled.SetRemoteDescription(controlling.LocalDescription()))
	require.NoError(t, controlling.SetRemoteDescription(controlled.LocalDescription()))

	waitForState(t, controlling, StateCompleted, 2*time.Second)
	waitForState(t, controlled, StateCompleted, 2*time.Second)

	require.NoError(t, controlling.Send([]byte("hi")))

	select {
	case data := <-received:
		assert.Equal(t, "hi", string(data))
	case <-time.After(time.Second):
		t.Fatal("data never delivered to controlled agent")
	}

	pair, ok := controlling.GetSelectedCandidatePair()
	require.True(t, ok)
	assert.Equal(t, TypeHost, pair.Local.Type)
	assert.Equal(t, TypeHost, pair.Remote.Type)
}

// TestRoleConflictResolved reproduces S2: both agents configured as
// controlling, so the first request either side receives triggers RFC 8445
// section 7.3.1.1's tiebreaker-based role-conflict resolution, and the pair
// still completes.
func TestRoleConflictResolved(t *testing.T) {
	a := newLoopbackAgent(t, RoleControlling)
	b := newLoopbackAgent(t, RoleControlling)

	require.NoError(t, a.SetRemoteDescription(b.LocalDescription()))
	require.NoError(t, b.SetRemoteDescription(a.LocalDescription()))

	waitForState(t, a, StateCompleted, 2*time.Second)
	waitForState(t, b, StateCompleted, 2*time.Second)

	// Exactly one of the two must have conceded the controlling role.
	aRole, bRole := a.role, b.role
	assert.True(t, (aRole == RoleControlling) != (bRole == RoleControlling),
		"expected exactly one agent to remain controlling, got a=%s b=%s", aRole, bRole)
}

// TestTimeoutWithoutRemote reproduces S4: an agent that never receives a
// remote description fails once its fail timeout elapses. SetFailTimeout
// overrides the 30s production default so this runs as a fast unit test.
func TestTimeoutWithoutRemote(t *testing.T) {
	a := NewAgent()
	a.Configure("ufrag-"+RoleControlling.String(), "password-"+RoleControlling.String(), RoleControlling)
	a.SetFailTimeout(100 * time.Millisecond)
	require.NoError(t, a.GatherCandidates())
	t.Cleanup(func() { a.Close() })

	waitForState(t, a, StateFailed, 2*time.Second)
}

// TestKeepaliveAfterCompletion reproduces S6: once completed, the selected
// pair's entry switches into keepalive mode rather than continuing to
// retransmit connectivity checks.
func TestKeepaliveAfterCompletion(t *testing.T) {
	controlling := newLoopbackAgent(t, RoleControlling)
	controlled := newLoopbackAgent(t, RoleControlled)

	require.NoError(t, controlled.SetRemoteDescription(controlling.LocalDescription()))
	require.NoError(t, controlling.SetRemoteDescription(controlled.LocalDescription()))

	waitForState(t, controlling, StateCompleted, 2*time.Second)
	waitForState(t, controlled, StateCompleted, 2*time.Second)

	pair, ok := controlling.GetSelectedCandidatePair()
	require.True(t, ok)
	assert.True(t, pair.entry.keepalive)
	assert.False(t, pair.entry.finished)
}
