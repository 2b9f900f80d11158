package ice

import "strings"

// Description is the SDP-level collaborator named in spec.md section 6:
// ice_description_t{ufrag, pwd, candidates[], gathering_done}. It carries
// one side's credentials and candidates across the signaling channel,
// independent of how that channel is transported (the demo command wires it
// over a websocket; callers embedding this package may use SDP proper).
type Description struct {
	Ufrag         string
	Password      string
	Candidates    []Candidate
	GatheringDone bool
}

// LocalDescription snapshots the agent's own credentials and gathered
// candidates for handoff to the signaling layer.
func (a *Agent) LocalDescription() Description {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Description{
		Ufrag:         a.localUfrag,
		Password:      a.localPassword,
		Candidates:    append([]Candidate(nil), a.localCandidates...),
		GatheringDone: a.gatheringDone,
	}
}

// String renders the description's candidates as "a=candidate:..." lines
// plus ice-ufrag/ice-pwd attribute lines, in the order an SDP media section
// would carry them (RFC 5245 section 15).
func (d Description) String() string {
	var b strings.Builder
	b.WriteString("a=ice-ufrag:" + d.Ufrag + "\n")
	b.WriteString("a=ice-pwd:" + d.Password + "\n")
	for _, c := range d.Candidates {
		b.WriteString("a=" + c.String() + "\n")
	}
	if d.GatheringDone {
		b.WriteString("a=end-of-candidates\n")
	}
	return b.String()
}

// ParseDescription parses the line-oriented form String produces.
func ParseDescription(s string) (Description, error) {
	var d Description
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			d.Ufrag = strings.TrimPrefix(line, "a=ice-ufrag:")
		case strings.HasPrefix(line, "a=ice-pwd:"):
			d.Password = strings.TrimPrefix(line, "a=ice-pwd:")
		case strings.HasPrefix(line, "a=end-of-candidates"):
			d.GatheringDone = true
		case strings.HasPrefix(line, "a=candidate:"):
			c, err := ParseCandidate(line)
			if err != nil {
				return Description{}, err
			}
			d.Candidates = append(d.Candidates, c)
		}
	}
	return d, nil
}
