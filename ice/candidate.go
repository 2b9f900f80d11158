package ice

import (
	"fmt"
	"strconv"
	"strings"
)

// CandidateType is one of the four kinds of transport address RFC 8445
// section 5.1.1 assigns a type preference to.
type CandidateType int

const (
	TypeHost CandidateType = iota
	TypeServerReflexive
	TypePeerReflexive
	TypeRelay
)

func (t CandidateType) String() string {
	switch t {
	case TypeHost:
		return "host"
	case TypeServerReflexive:
		return "srflx"
	case TypePeerReflexive:
		return "prflx"
	case TypeRelay:
		return "relay"
	default:
		return "unknown"
	}
}

func parseCandidateType(s string) (CandidateType, error) {
	switch s {
	case "host":
		return TypeHost, nil
	case "srflx":
		return TypeServerReflexive, nil
	case "prflx":
		return TypePeerReflexive, nil
	case "relay":
		return TypeRelay, nil
	default:
		return 0, newError(InvalidArgument, "unknown candidate type %q", s)
	}
}

// typePreference values from RFC 8445 section 5.1.2.1's recommended
// defaults. relay is never produced by this agent (no TURN client) but a
// remote relay candidate can still arrive over SDP and must be paired.
func (t CandidateType) typePreference() uint32 {
	switch t {
	case TypeHost:
		return 126
	case TypePeerReflexive:
		return 110
	case TypeServerReflexive:
		return 100
	case TypeRelay:
		return 0
	default:
		return 0
	}
}

// Candidate is a potential transport address for a data stream component,
// per spec.md section 3. Grounded on the teacher's internal/ice/candidate.go,
// with RelatedAddress added so srflx/relay candidates carry the base they
// were discovered from (RFC 8445 section 5.1.1's "related address").
type Candidate struct {
	Type        CandidateType
	Foundation  string
	Component   int
	Priority    uint32
	Address     Address
	RelatedAddress Address

	// base is the local socket a candidate of local origin sends from. It
	// is only read on a pair's local candidate; on a remote candidate it
	// carries no meaning (nil when parsed from an SDP line).
	base *base

	// unresolvedHost holds an mDNS ".local" hostname for a remote candidate
	// whose address has not yet been resolved (spec.md section 6); empty
	// once Address is populated.
	unresolvedHost string
}

// computeFoundation groups candidates that are "of the same type, obtained
// from the same host candidate/base, and obtained using the same STUN/TURN
// server" (RFC 8445 section 5.1.1.3), approximated here by type + base
// address, since this agent only ever has one base and at most
// MaxStunServers reflexive servers.
func computeFoundation(typ CandidateType, baseAddr Address) string {
	return fmt.Sprintf("%d-%s", typ, baseAddr)
}

// computePriority implements RFC 8445 section 5.1.2.1:
//
//	priority = (2^24)*type-pref + (2^8)*local-pref + (256 - component-id)
//
// localPref distinguishes candidates of the same type (e.g. multiple host
// interfaces); this agent uses a constant since it gathers from a single
// base, matching the teacher's treatment.
func computePriority(typ CandidateType, localPref uint32, component int) uint32 {
	return typ.typePreference()<<24 | localPref<<8 | uint32(256-component)
}

func makeHostCandidate(b *base, component int) Candidate {
	return Candidate{
		Type:       TypeHost,
		Foundation: computeFoundation(TypeHost, b.address),
		Component:  component,
		Priority:   computePriority(TypeHost, 65535, component),
		Address:    b.address,
		base:       b,
	}
}

// makeHostCandidateFromAddr builds a host candidate for a specific local
// interface address while sending/receiving through the shared wildcard
// socket b. This is what lets a single UDP socket bound to INADDR_ANY back
// multiple host candidates (spec.md section 6, gather_candidates).
func makeHostCandidateFromAddr(b *base, addr Address, component int) Candidate {
	return Candidate{
		Type:       TypeHost,
		Foundation: computeFoundation(TypeHost, addr),
		Component:  component,
		Priority:   computePriority(TypeHost, 65535, component),
		Address:    addr,
		base:       b,
	}
}

// makeServerReflexiveCandidate builds a srflx candidate discovered through
// base. hostAddr is the address of the host candidate this srflx was
// gathered on behalf of: with a single socket bound to the wildcard
// address, b.address itself is just "0.0.0.0:port" and cannot serve as the
// related address RFC 8445 section 5.1.1 requires (it must equal the
// corresponding host candidate).
func makeServerReflexiveCandidate(b *base, hostAddr, mapped Address, component int) Candidate {
	return Candidate{
		Type:           TypeServerReflexive,
		Foundation:     computeFoundation(TypeServerReflexive, hostAddr),
		Component:      component,
		Priority:       computePriority(TypeServerReflexive, 65535, component),
		Address:        mapped,
		RelatedAddress: hostAddr,
		base:           b,
	}
}

// makePeerReflexiveCandidate implements the local-side learning path of
// spec.md section 4.4: a connectivity check response's XOR-MAPPED-ADDRESS, or
// an inbound request's source address, that matches no known candidate.
func makePeerReflexiveCandidate(b *base, addr Address, priority uint32, component int) Candidate {
	return Candidate{
		Type:       TypePeerReflexive,
		Foundation: computeFoundation(TypePeerReflexive, addr),
		Component:  component,
		Priority:   priority,
		Address:    addr,
		base:       b,
	}
}

// peerPriority returns the PRIORITY attribute value this agent advertises
// when using this candidate in a connectivity check: RFC 8445 section 4.1.3
// says to use the candidate's own priority as if it were of type
// peer-reflexive, so the remote side can rank a prflx candidate it might
// learn from this candidate consistently with how it would rank the host
// candidate itself.
func (c Candidate) peerPriority() uint32 {
	return computePriority(TypePeerReflexive, c.Priority>>8&0xFFFF, c.Component)
}

func (c Candidate) isReflexive() bool {
	return c.Type == TypeServerReflexive || c.Type == TypePeerReflexive
}

// String serializes the candidate as an RFC 5245 section 15.1
// candidate-attribute line (without the leading "a=" / "candidate:" is
// included, matching common SDP usage):
//
//	candidate:<foundation> <component> udp <priority> <address> <port> typ <type> [raddr <addr> rport <port>]
func (c Candidate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate:%s %d udp %d %s %d typ %s",
		c.Foundation, c.Component, c.Priority, c.addressLiteral(), c.Address.Port, c.Type)
	if c.isReflexive() {
		fmt.Fprintf(&b, " raddr %s rport %d", c.relatedLiteral(), c.RelatedAddress.Port)
	}
	return b.String()
}

func (c Candidate) addressLiteral() string {
	return c.Address.UDPAddr().IP.String()
}

func (c Candidate) relatedLiteral() string {
	return c.RelatedAddress.UDPAddr().IP.String()
}

// ParseCandidate parses an SDP candidate-attribute line, per spec.md
// section 6's SDP collaborator. The "candidate:" prefix, if present (as in
// a full a-line), is stripped by the caller or tolerated here.
func ParseCandidate(line string) (Candidate, error) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "a=")
	line = strings.TrimPrefix(line, "candidate:")
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return Candidate{}, newError(InvalidArgument, "malformed candidate line %q", line)
	}

	foundation := fields[0]
	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return Candidate{}, newError(InvalidArgument, "bad component id in %q: %v", line, err)
	}
	if !strings.EqualFold(fields[2], "udp") {
		return Candidate{}, newError(InvalidArgument, "unsupported transport %q", fields[2])
	}
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Candidate{}, newError(InvalidArgument, "bad priority in %q: %v", line, err)
	}
	host := fields[4]
	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return Candidate{}, newError(InvalidArgument, "bad port in %q: %v", line, err)
	}
	if fields[6] != "typ" {
		return Candidate{}, newError(InvalidArgument, "expected \"typ\" in %q", line)
	}
	typ, err := parseCandidateType(fields[7])
	if err != nil {
		return Candidate{}, err
	}

	c := Candidate{
		Type:       typ,
		Foundation: foundation,
		Component:  component,
		Priority:   uint32(priority),
	}

	if isEphemeralLocalDomain(host) {
		// Left unresolved; AddRemoteCandidate resolves mDNS names
		// asynchronously before pairing (spec.md section 4.2).
		c.unresolvedHost = host
		c.Address.Port = port
	} else {
		udpAddr, err := resolveUDPAddr(fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return Candidate{}, newError(InvalidArgument, "bad candidate address %q: %v", host, err)
		}
		c.Address = NewAddress(udpAddr)
	}

	for i := 8; i+1 < len(fields); i += 2 {
		switch fields[i] {
		case "raddr":
			rhost := fields[i+1]
			if i+3 < len(fields) && fields[i+2] == "rport" {
				rport, err := strconv.Atoi(fields[i+3])
				if err == nil {
					if udpAddr, err := resolveUDPAddr(fmt.Sprintf("%s:%d", rhost, rport)); err == nil {
						c.RelatedAddress = NewAddress(udpAddr)
					}
				}
			}
		}
	}

	return c, nil
}
