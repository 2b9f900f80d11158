package ice

import (
	"fmt"

	"github.com/pkg/errors"
)

// RFC 8445: https://tools.ietf.org/html/rfc8445
// RFC 5389: https://tools.ietf.org/html/rfc5389

// Kind classifies the failure modes a caller of the agent's control surface
// can observe. See spec.md section 7 (Error handling design).
type Kind int

const (
	// InvalidArgument covers malformed SDP and bad attribute sizes.
	InvalidArgument Kind = iota
	// Protocol covers STUN parse/integrity/fingerprint failures.
	Protocol
	// NotFound covers lookups for an unknown candidate or pair.
	NotFound
	// InvalidState covers operations invalid for the agent's current state,
	// e.g. Send before a pair is selected, or Close after Close.
	InvalidState
	// Full covers a fixed-size table (candidates, pairs, entries) that has
	// no room for the requested addition.
	Full
	// IO covers socket errors from the underlying net.PacketConn.
	IO
	// Timeout covers ICE_FAIL_TIMEOUT expiring with no succeeded pair.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Protocol:
		return "protocol"
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case Full:
		return "full"
	case IO:
		return "io"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by every exported Agent
// operation. Kind lets a caller decide on retry/backoff policy without
// string-matching the message.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ice: %s: %s", e.Kind, e.msg)
}

func newError(kind Kind, format string, a ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, msg: fmt.Sprintf(format, a...)})
}

// causeKind unwraps err (which may be wrapped by github.com/pkg/errors) and
// returns the Kind of the underlying *Error, if any.
func causeKind(err error) (Kind, bool) {
	if err == nil {
		return 0, false
	}
	if ierr, ok := errors.Cause(err).(*Error); ok {
		return ierr.Kind, true
	}
	return 0, false
}

// Is reports whether err is an *Error (possibly wrapped) of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := causeKind(err)
	return ok && k == kind
}
