package signaling

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Handler receives each incoming peer session as it's established.
type Handler func(*Session)

// Listen starts an HTTP server on addr (":8000" form) and upgrades every
// connection to "/ws" to a signaling Session, invoking handler for each one
// in its own goroutine. Grounded on the teacher's
// internal/signaling/local.go localWebSignaler, minus the bundled browser
// UI: this exercise's peers are iceagentd processes, not a browser.
func Listen(addr string, handler Handler) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		log.Info("peer connected from %s", r.RemoteAddr)
		session := newSession(context.Background(), ws)
		go handler(session)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	log.Info("listening for peers on %s", addr)
	return server.ListenAndServe()
}

// Dial opens a websocket connection to a peer previously started with
// Listen and returns the resulting Session.
func Dial(url string) (*Session, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return newSession(context.Background(), ws), nil
}
