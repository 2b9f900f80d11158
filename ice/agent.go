package ice

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/iceagent/internal/logging"
)

var log = logging.DefaultLogger.WithTag("ice")

// Agent implements a full ICE agent (RFC 8445) for a single component of a
// single data stream, per spec.md section 1's scope. It owns one UDP socket
// and one worker goroutine; every exported method is safe to call from any
// goroutine and synchronizes with the worker through the mutex and, for
// Send, a lock-free atomic read.
//
// Grounded on the teacher's internal/ice/agent.go, restructured around a
// single worker-owned socket (spec.md section 4.5/5) instead of one
// goroutine per local base.
type Agent struct {
	mu sync.Mutex

	role       Role
	tiebreaker uint64
	state      State

	localUfrag, localPassword   string
	remoteUfrag, remotePassword string

	localCandidates  []Candidate
	remoteCandidates []Candidate
	pairs            []*CandidatePair
	orderedPairs     []*CandidatePair
	nextPairID       int

	entries []*stunEntry

	stunServers []string
	enableIPv6  bool

	base       *base
	interrupt  *interrupter
	mdns       *mdnsResolver
	lastInitialTx time.Time
	failDeadline  time.Time
	failTimeout   time.Duration

	gatheringDone       bool
	remoteGatheringDone bool
	selectedPair        *CandidatePair
	selectedEntry       atomic.Value // *stunEntry

	onStateChange    func(State)
	onData           func([]byte)
	onLocalCandidate func(Candidate)

	started  bool
	stopping bool
	stopped  chan struct{}
}

// NewAgent creates an unconfigured agent. Configure must be called before
// GatherCandidates.
func NewAgent() *Agent {
	return &Agent{
		tiebreaker:  randUint64(),
		stopped:     make(chan struct{}),
		failTimeout: ICEFailTimeout,
	}
}

// SetFailTimeout overrides the unconnected-lifetime deadline (ICEFailTimeout
// by default). Must be called before GatherCandidates; primarily useful for
// tests that want to exercise the timeout->failed transition without
// waiting out the production default.
func (a *Agent) SetFailTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failTimeout = d
}

func randUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint64(b[:])
}

// Configure sets the local credentials and initial role (spec.md section 3,
// Agent: "created -> configured").
func (a *Agent) Configure(localUfrag, localPassword string, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.localUfrag = localUfrag
	a.localPassword = localPassword
	a.role = role
}

// EnableIPv6 controls whether GatherCandidates also produces host
// candidates for IPv6 interface addresses. Disabled by default.
func (a *Agent) EnableIPv6(enable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableIPv6 = enable
}

// AddStunServer registers a "host:port" STUN server for reflexive candidate
// gathering, bounded by MaxStunServers.
func (a *Agent) AddStunServer(hostport string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.stunServers) >= MaxStunServers {
		return newError(Full, "stun server table full")
	}
	a.stunServers = append(a.stunServers, hostport)
	return nil
}

// OnStateChange registers the state-change callback. The callback runs
// synchronously while the agent mutex is held, on the goroutine that makes
// the transition: the transitions to gathering and connecting are reported
// on the goroutine calling GatherCandidates, SetRemoteDescription or
// AddRemoteCandidate; connected, completed and failed are reported on the
// worker goroutine. It must not call back into the agent.
func (a *Agent) OnStateChange(cb func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStateChange = cb
}

// OnData registers the application-data delivery callback, invoked from the
// worker goroutine for every datagram whose source matches the selected
// pair's remote address.
func (a *Agent) OnData(cb func([]byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onData = cb
}

// OnLocalCandidate registers a callback invoked, with the agent mutex held,
// for every local candidate as it's added — host candidates on the
// goroutine calling GatherCandidates, and server-reflexive/peer-reflexive
// candidates discovered afterward on the worker goroutine. A caller trickling candidates to the remote side
// (spec.md section 6) uses this instead of waiting for GatheringDone.
func (a *Agent) OnLocalCandidate(cb func(Candidate)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLocalCandidate = cb
}

// GatheringDone reports whether every configured STUN server's gathering
// entry has finished (spec.md section 4.3).
func (a *Agent) GatheringDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gatheringDone
}

// GatherCandidates binds the agent's socket, enumerates local interface
// addresses to produce host candidates (bounded by MaxHostCandidates), arms
// a SERVER entry per configured STUN server, and starts the worker
// goroutine. It returns once the socket is bound and gathering has begun;
// gathering itself proceeds asynchronously (spec.md section 6,
// "gather_candidates ... returns immediately").
func (a *Agent) GatherCandidates() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.localUfrag == "" {
		return newError(InvalidState, "agent not configured")
	}
	if a.started {
		return newError(InvalidState, "gathering already started")
	}

	bindAddr := net.IPv4zero
	if a.enableIPv6 {
		// nil with network "udp" binds dual-stack on platforms that
		// support it, so host candidates of either family share the one
		// socket the worker loop polls.
		bindAddr = nil
	}
	b, err := listenBase(bindAddr)
	if err != nil {
		return newError(IO, "bind socket: %v", err)
	}
	a.base = b

	interrupt, err := newInterrupter()
	if err != nil {
		b.Close()
		return newError(IO, "create interrupt pipe: %v", err)
	}
	a.interrupt = interrupt

	ips, err := localInterfaceAddrs(a.enableIPv6)
	if err != nil {
		log.Warn("enumerate interfaces: %v", err)
	}
	count := 0
	for _, ip := range ips {
		if count >= MaxHostCandidates {
			log.Warn("dropping host candidate for %s: MaxHostCandidates reached", ip)
			break
		}
		addr := NewAddress(&net.UDPAddr{IP: ip, Port: b.address.Port})
		c := makeHostCandidateFromAddr(b, addr, 1)
		a.addLocalCandidateLocked(c)
		count++
	}
	if count == 0 {
		// No usable interface found (e.g. sandboxed/offline host): fall
		// back to the loopback address so single-host testing still
		// produces a candidate, matching S1's loopback scenario.
		addr := Address{Family: IPv4, Port: b.address.Port}
		copy(addr.IP[12:], net.IPv4(127, 0, 0, 1).To4())
		a.addLocalCandidateLocked(makeHostCandidateFromAddr(b, addr, 1))
	}

	for _, server := range a.stunServers {
		udpAddr, err := resolveUDPAddr(server)
		if err != nil {
			log.Warn("resolve stun server %s: %v", server, err)
			continue
		}
		e := newServerEntry(server, NewAddress(udpAddr))
		e.newTransaction()
		e.arm(time.Now(), 0)
		if len(a.entries) >= MaxStunEntries {
			log.Warn("dropping stun server %s: MaxStunEntries reached", server)
			continue
		}
		a.entries = append(a.entries, e)
	}
	if len(a.stunServers) == 0 {
		a.gatheringDone = true
	}

	a.failDeadline = time.Now().Add(a.failTimeout)
	a.setStateLocked(StateGathering)
	a.started = true
	go a.run()
	return nil
}

// SetRemoteDescription installs the remote side's credentials and
// candidates (spec.md section 6).
func (a *Agent) SetRemoteDescription(desc Description) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteUfrag = desc.Ufrag
	a.remotePassword = desc.Password
	for _, c := range desc.Candidates {
		if err := a.addRemoteCandidateLocked(c); err != nil {
			log.Warn("add remote candidate: %v", err)
		}
	}
	if desc.GatheringDone {
		a.remoteGatheringDone = true
	}
	if a.state == StateGathering || a.state == StateDisconnected {
		a.setStateLocked(StateConnecting)
	}
	if a.interrupt != nil {
		a.interrupt.signal()
	}
	return nil
}

// AddRemoteCandidate parses and adds a single trickled remote candidate
// (spec.md section 6, add_remote_candidate(sdp_line)). An mDNS ".local"
// hostname is resolved asynchronously before the candidate is paired.
func (a *Agent) AddRemoteCandidate(line string) error {
	c, err := ParseCandidate(line)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if c.unresolvedHost != "" {
		if a.mdns == nil {
			r, err := newMDNSResolver()
			if err != nil {
				return newError(IO, "start mdns resolver: %v", err)
			}
			a.mdns = r
		}
		go a.resolveAndAddRemoteCandidate(c)
		return nil
	}

	if err := a.addRemoteCandidateLocked(c); err != nil {
		return err
	}
	if a.state == StateGathering || a.state == StateDisconnected {
		a.setStateLocked(StateConnecting)
	}
	if a.interrupt != nil {
		a.interrupt.signal()
	}
	return nil
}

func (a *Agent) resolveAndAddRemoteCandidate(c Candidate) {
	ip, err := a.mdns.Resolve(context.Background(), c.unresolvedHost)
	if err != nil {
		log.Warn("resolve mdns candidate %s: %v", c.unresolvedHost, err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	addr := Address{Family: IPv4, Port: c.Address.Port}
	if ip4 := ip.To4(); ip4 != nil {
		copy(addr.IP[12:], ip4)
	} else {
		addr.Family = IPv6
		copy(addr.IP[:], ip.To16())
	}
	c.Address = addr
	c.unresolvedHost = ""
	if err := a.addRemoteCandidateLocked(c); err != nil {
		log.Warn("add resolved mdns candidate: %v", err)
		return
	}
	if a.interrupt != nil {
		a.interrupt.signal()
	}
}

// SetRemoteGatheringDone records that the remote side has finished
// trickling candidates.
func (a *Agent) SetRemoteGatheringDone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteGatheringDone = true
}

// Send writes data to the currently selected pair's remote address. It is
// the agent's lock-free fast path (spec.md section 5): a single atomic load
// of selectedEntry, then a direct socket write.
func (a *Agent) Send(data []byte) error {
	v := a.selectedEntry.Load()
	e, _ := v.(*stunEntry)
	if e == nil {
		return newError(InvalidState, "no selected candidate pair")
	}
	if _, err := a.base.WriteTo(data, e.record); err != nil {
		return newError(IO, "send: %v", err)
	}
	return nil
}

// GetState returns the agent's current overall state.
func (a *Agent) GetState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// GetSelectedCandidatePair returns the pair currently used for Send, if any.
func (a *Agent) GetSelectedCandidatePair() (*CandidatePair, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectedPair, a.selectedPair != nil
}

// Close stops the worker goroutine and closes the socket (spec.md section
// 3, Agent lifecycle: "destroyed: thread joined, socket closed").
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.stopping {
		a.mu.Unlock()
		return newError(InvalidState, "agent already closed")
	}
	a.stopping = true
	started := a.started
	interrupt := a.interrupt
	a.mu.Unlock()

	if !started {
		return nil
	}
	if interrupt != nil {
		interrupt.signal()
	}
	<-a.stopped
	if a.mdns != nil {
		a.mdns.Close()
	}
	return nil
}

func (a *Agent) setStateLocked(s State) {
	if s == a.state {
		return
	}
	a.state = s
	if a.onStateChange != nil {
		a.onStateChange(s)
	}
}
