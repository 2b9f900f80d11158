// Package signaling exchanges ICE descriptions and trickled candidates
// between two iceagentd processes over a websocket, grounded on the
// teacher's local web-based signaler (internal/signaling/local.go) but
// adapted for a peer-to-peer CLI instead of a browser-facing HTTP server:
// one side listens, the other dials in directly.
package signaling

import (
	"context"

	"github.com/lanikai/iceagent/ice"
	"github.com/lanikai/iceagent/internal/logging"
)

var log = logging.DefaultLogger.WithTag("signaling")

// message is the wire format exchanged over the websocket. Exactly one of
// Description/Candidate is set per message.
type message struct {
	Type          string   `json:"type"`
	Ufrag         string   `json:"ufrag,omitempty"`
	Password      string   `json:"password,omitempty"`
	Candidates    []string `json:"candidates,omitempty"`
	Candidate     string   `json:"candidate,omitempty"`
	GatheringDone bool     `json:"gatheringDone,omitempty"`
}

// Session carries one peer exchange: the local side's description is sent
// once via Send, trickled local candidates via SendCandidate; the remote
// side's description and trickled candidates arrive on the corresponding
// channels. RemoteCandidates is closed when the peer signals
// end-of-candidates.
type Session struct {
	Context context.Context

	Remote           chan ice.Description
	RemoteCandidates chan string

	Send          func(ice.Description) error
	SendCandidate func(string) error
}

func descriptionToMessage(d ice.Description) message {
	m := message{Type: "description", Ufrag: d.Ufrag, Password: d.Password, GatheringDone: d.GatheringDone}
	for _, c := range d.Candidates {
		m.Candidates = append(m.Candidates, c.String())
	}
	return m
}

func messageToDescription(m message) ice.Description {
	d := ice.Description{Ufrag: m.Ufrag, Password: m.Password, GatheringDone: m.GatheringDone}
	for _, line := range m.Candidates {
		c, err := ice.ParseCandidate(line)
		if err != nil {
			log.Warn("drop malformed candidate in description: %v", err)
			continue
		}
		d.Candidates = append(d.Candidates, c)
	}
	return d
}
