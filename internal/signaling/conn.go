package signaling

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lanikai/iceagent/ice"
)

// newSession wraps an established websocket connection (either accepted by
// Listen or opened by Dial) in a Session, starting the read pump that
// demultiplexes incoming description/candidate messages and serializing
// writes from Send/SendCandidate behind one mutex, since gorilla/websocket
// forbids concurrent writers on the same connection.
func newSession(ctx context.Context, ws *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(ctx)

	var writeMu sync.Mutex
	write := func(m message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteJSON(m)
	}

	s := &Session{
		Context:          ctx,
		Remote:           make(chan ice.Description, 1),
		RemoteCandidates: make(chan string, 8),
		Send: func(d ice.Description) error {
			return write(descriptionToMessage(d))
		},
		SendCandidate: func(line string) error {
			return write(message{Type: "candidate", Candidate: line})
		},
	}

	go func() {
		defer cancel()
		defer close(s.RemoteCandidates)
		for {
			var m message
			if err := ws.ReadJSON(&m); err != nil {
				log.Debug("signaling connection closed: %v", err)
				return
			}
			switch m.Type {
			case "description":
				select {
				case s.Remote <- messageToDescription(m):
				case <-ctx.Done():
					return
				}
			case "candidate":
				select {
				case s.RemoteCandidates <- m.Candidate:
				case <-ctx.Done():
					return
				}
			case "end-of-candidates":
				return
			default:
				log.Warn("unexpected signaling message type %q", m.Type)
			}
		}
	}()

	return s
}
