package ice

import "time"

// run is the agent's worker goroutine: the event loop of spec.md section
// 4.5. It owns the socket exclusively; every other goroutine reaches the
// agent only through the mutex (or, for Send, the atomic selectedEntry).
func (a *Agent) run() {
	defer close(a.stopped)
	defer a.base.Close()
	defer a.interrupt.close()

	buf := make([]byte, 1500)
	for {
		a.mu.Lock()
		if a.stopping {
			a.mu.Unlock()
			return
		}

		now := time.Now()
		next := a.bookkeeping(now)
		if a.state < StateConnected && now.After(a.failDeadline) {
			a.setStateLocked(StateFailed)
		}
		if a.state < StateConnected && a.failDeadline.Before(next) {
			next = a.failDeadline
		}
		a.mu.Unlock()

		timeout := next.Sub(now)
		if timeout < 0 {
			timeout = 0
		}
		ms := int(timeout / time.Millisecond)
		if ms > 60000 {
			ms = 60000
		}

		sockReady, _, err := a.interrupt.wait(a.base.rawFd, ms)
		if err != nil {
			log.Warn("socket wait: %v", err)
			continue
		}
		if sockReady {
			a.drainDatagrams(buf)
		}
	}
}

// bookkeeping drives retransmission and pacing for every live entry and
// returns the earliest time the worker should wake up again, per spec.md
// section 4.3. Caller holds a.mu.
func (a *Agent) bookkeeping(now time.Time) time.Time {
	next := now.Add(time.Minute)

	for _, e := range a.entries {
		if e.finished {
			continue
		}

		if e.keepalive {
			if !now.Before(e.nextTx) {
				a.transmitKeepalive(e)
				e.nextTx = now.Add(StunKeepalivePeriod)
			}
			if e.nextTx.Before(next) {
				next = e.nextTx
			}
			continue
		}

		if now.Before(e.nextTx) {
			if e.nextTx.Before(next) {
				next = e.nextTx
			}
			continue
		}

		if e.retries == 0 {
			if !a.lastInitialTx.IsZero() {
				if wait := StunPacingTime - now.Sub(a.lastInitialTx); wait > 0 {
					deadline := now.Add(wait)
					if deadline.Before(next) {
						next = deadline
					}
					continue
				}
			}
			a.lastInitialTx = now
		}

		if e.retries <= MaxRetransmissions {
			if e.typ == entryCheck && e.pair.State == Waiting {
				e.pair.State = InProgress
			}
			a.transmit(e)
			e.nextTx = now.Add(e.rto)
			e.retries++
			e.rto *= 2
			if e.rto > MaxRTO {
				e.rto = MaxRTO
			}
			e.disarm()
			if e.nextTx.Before(next) {
				next = e.nextTx
			}
		} else {
			e.finished = true
			e.disarm()
			if e.typ == entryCheck && e.pair.State != Succeeded {
				e.pair.State = Failed
			} else if e.typ == entryServer {
				a.maybeMarkGatheringDoneLocked()
			}
		}
	}

	return next
}

func (a *Agent) transmit(e *stunEntry) {
	msg := newBindingRequest(e.transactionID)
	switch e.typ {
	case entryServer:
		// No authentication: this is a request to our own STUN server,
		// not the peer.
	case entryCheck:
		msg.addUsername(a.remoteUfrag + ":" + a.localUfrag)
		msg.addPriority(e.pair.Local.peerPriority())
		if a.role == RoleControlling {
			msg.addIceControlling(a.tiebreaker)
			if e.pair.useCandidateSent {
				msg.addUseCandidate()
			}
		} else {
			msg.addIceControlled(a.tiebreaker)
		}
		msg.addMessageIntegrity(a.remotePassword)
	}
	msg.addSoftware(softwareName)
	msg.addFingerprint()
	if _, err := a.base.WriteTo(msg.Bytes(), e.record); err != nil {
		log.Warn("send stun request to %s: %v", e.record, err)
	}
}

func (a *Agent) transmitKeepalive(e *stunEntry) {
	e.newTransaction()
	msg := newBindingIndication()
	msg.addUsername(a.remoteUfrag + ":" + a.localUfrag)
	msg.addMessageIntegrity(a.remotePassword)
	msg.addSoftware(softwareName)
	msg.addFingerprint()
	if _, err := a.base.WriteTo(msg.Bytes(), e.record); err != nil {
		log.Warn("send keepalive indication to %s: %v", e.record, err)
	}
}

// sendUseCandidateCheckLocked re-arms p's check entry for an immediate
// retransmission carrying USE-CANDIDATE (spec.md section 4.4's controlling-
// side nomination trigger).
func (a *Agent) sendUseCandidateCheckLocked(p *CandidatePair) {
	p.useCandidateSent = true
	e := p.entry
	e.newTransaction()
	e.rto = MinRTO
	e.retries = 0
	e.finished = false
	e.arm(time.Now(), 0)
	if a.interrupt != nil {
		a.interrupt.signal()
	}
}

// selectPairLocked commits p as the agent's selected pair: the lock-free
// Send fast path now targets it, and its entry switches from connectivity
// checking to periodic keepalive (spec.md section 4.3/4.4).
func (a *Agent) selectPairLocked(p *CandidatePair) {
	a.selectedPair = p
	a.selectedEntry.Store(p.entry)
	p.entry.keepalive = true
	p.entry.finished = false
	p.entry.nextTx = time.Now().Add(StunKeepalivePeriod)
	if a.state < StateConnected {
		a.setStateLocked(StateConnected)
	}
}

// drainDatagrams reads every currently-queued datagram from the socket,
// classifying and dispatching each one, per spec.md section 4.5.
func (a *Agent) drainDatagrams(buf []byte) {
	first := true
	for {
		if !first {
			a.base.conn.SetReadDeadline(time.Now())
		}
		n, from, err := a.base.ReadFrom(buf)
		if err != nil {
			if !first {
				a.base.conn.SetReadDeadline(time.Time{})
			}
			return
		}
		first = false
		a.handleDatagram(buf[:n], from)
	}
}

func (a *Agent) handleDatagram(data []byte, from Address) {
	msg, err := parseMessage(data)
	if err != nil {
		log.Warn("dropping malformed stun message from %s: %v", from, err)
		return
	}
	if msg == nil {
		a.mu.Lock()
		sel := a.selectedPair
		cb := a.onData
		a.mu.Unlock()
		if sel != nil && sel.Remote.Address.Equal(from) && cb != nil {
			cb(append([]byte(nil), data...))
		}
		return
	}
	a.dispatchSTUN(msg, data, from)
}

// dispatchSTUN routes a parsed STUN message by transaction id, per spec.md
// section 4.4.
func (a *Agent) dispatchSTUN(msg *message, raw []byte, from Address) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch msg.class {
	case classRequest:
		a.handleRequest(msg, raw, from)
	case classSuccessResponse, classErrorResponse:
		e := a.findEntryByTransactionLocked(msg.transactionID)
		if e == nil {
			log.Debug("unexpected stun response from %s: %s", from, msg)
			return
		}
		a.handleResponse(e, msg, raw, from)
	case classIndication:
		// Peer keepalive or an unrelated indication: no-op.
	}
}

// handleRequest implements spec.md section 4.4's "Handling a peer request".
func (a *Agent) handleRequest(msg *message, raw []byte, from Address) {
	if unknown := msg.unknownComprehensionRequiredAttributes(); len(unknown) > 0 {
		a.replyUnknownAttributes(msg, from, unknown)
		return
	}
	if !msg.verifyMessageIntegrity(raw, a.localPassword) {
		a.replyError(msg, from, 401, "Unauthorized")
		return
	}
	username, ok := msg.username()
	if !ok || username != a.localUfrag+":"+a.remoteUfrag {
		a.replyError(msg, from, 400, "Bad Request")
		return
	}

	if tb, ok := msg.iceControlling(); ok && a.role == RoleControlling {
		if a.tiebreaker >= tb {
			a.replyError(msg, from, 487, "Role Conflict")
			return
		}
		a.role = RoleControlled
		a.recomputePairPriorities()
	} else if tb, ok := msg.iceControlled(); ok && a.role == RoleControlled {
		if a.tiebreaker < tb {
			a.replyError(msg, from, 487, "Role Conflict")
			return
		}
		a.role = RoleControlling
		a.recomputePairPriorities()
	}

	p := a.findPairByRemoteLocked(from)
	if p == nil {
		priority, ok := msg.priority()
		if !ok {
			priority = computePriority(TypePeerReflexive, 65535, 1)
		}
		c := makePeerReflexiveCandidate(a.base, from, priority, 1)
		if err := a.addRemoteCandidateLocked(c); err != nil {
			log.Warn("learn peer-reflexive candidate %s: %v", from, err)
			return
		}
		p = a.findPairByRemoteLocked(from)
		if p == nil {
			log.Warn("no local candidate to pair with peer-reflexive source %s", from)
			return
		}
	}

	p.reverseChecked = true

	if msg.hasUseCandidate() && a.role == RoleControlled {
		if p.State == Succeeded {
			p.Nominated = true
			if a.selectedPair == nil {
				a.selectPairLocked(p)
			}
		} else {
			p.nominationRequested = true
		}
	}

	resp := newBindingSuccess(msg.transactionID)
	resp.setXorMappedAddress(from)
	resp.addMessageIntegrity(a.localPassword)
	resp.addSoftware(softwareName)
	resp.addFingerprint()
	if _, err := a.base.WriteTo(resp.Bytes(), from); err != nil {
		log.Warn("send stun success response to %s: %v", from, err)
	}

	a.maybeCompleteLocked(p)
}

// maybeCompleteLocked promotes the agent from connected to completed once
// its selected pair's check has succeeded in both directions (spec.md
// section 4.4). Caller holds a.mu.
func (a *Agent) maybeCompleteLocked(p *CandidatePair) {
	if a.selectedPair == p && p.reverseChecked && a.state == StateConnected {
		a.setStateLocked(StateCompleted)
	}
}

func (a *Agent) replyError(req *message, from Address, code int, reason string) {
	resp := newBindingError(req.transactionID, code, reason)
	resp.addMessageIntegrity(a.localPassword)
	resp.addSoftware(softwareName)
	resp.addFingerprint()
	if _, err := a.base.WriteTo(resp.Bytes(), from); err != nil {
		log.Warn("send stun error response to %s: %v", from, err)
	}
}

// replyUnknownAttributes rejects a request carrying a comprehension-required
// attribute this agent does not understand, per RFC 5389 section 7.3.1: a
// 420 error response listing the offending types in UNKNOWN-ATTRIBUTES.
// Unlike replyError's responses, it carries no MESSAGE-INTEGRITY: it answers
// a request that may not have parsed far enough to carry a valid
// USERNAME/MESSAGE-INTEGRITY.
func (a *Agent) replyUnknownAttributes(req *message, from Address, types []uint16) {
	resp := newBindingError(req.transactionID, 420, "Unknown Attribute")
	resp.addUnknownAttributes(types)
	resp.addSoftware(softwareName)
	resp.addFingerprint()
	if _, err := a.base.WriteTo(resp.Bytes(), from); err != nil {
		log.Warn("send stun 420 response to %s: %v", from, err)
	}
}

// handleResponse implements spec.md section 4.4's "Handling a response".
func (a *Agent) handleResponse(e *stunEntry, msg *message, raw []byte, from Address) {
	if e.typ == entryCheck && !msg.verifyMessageIntegrity(raw, a.remotePassword) {
		log.Warn("dropping stun response from %s: message integrity failed", from)
		return
	}

	if msg.class == classErrorResponse {
		code, reason, _ := msg.errorCode()
		if code == 487 && e.typ == entryCheck {
			if a.role == RoleControlling {
				a.role = RoleControlled
			} else {
				a.role = RoleControlling
			}
			a.recomputePairPriorities()
			e.newTransaction()
			e.rto = MinRTO
			e.retries = 0
			e.finished = false
			e.arm(time.Now(), 0)
			if a.interrupt != nil {
				a.interrupt.signal()
			}
			return
		}

		log.Warn("stun error response from %s: %d %s", from, code, reason)
		e.finished = true
		if e.typ == entryCheck {
			e.pair.State = Failed
		} else {
			a.maybeMarkGatheringDoneLocked()
		}
		return
	}

	mapped, ok := msg.mappedAddress()

	switch e.typ {
	case entryServer:
		e.finished = true
		if ok && !a.hasLocalCandidateAddrLocked(mapped) {
			reflexive := makeServerReflexiveCandidate(a.base, a.primaryHostAddressLocked(), mapped, 1)
			a.retargetReflexiveLocked(reflexive)
			a.addLocalCandidateLocked(reflexive)
		}
		a.maybeMarkGatheringDoneLocked()

	case entryCheck:
		p := e.pair
		// Capture before any mutation below: if this entry's previous
		// transmission already carried USE-CANDIDATE, this success
		// response is the nominating round trip itself (spec.md section
		// 4.4, "returned from a USE-CANDIDATE check").
		wasNominatingCheck := p.useCandidateSent

		p.State = Succeeded
		// A succeeded check stops retransmitting on its own; it is only
		// re-armed deliberately, by sendUseCandidateCheckLocked (the
		// nominating follow-up) or selectPairLocked (keepalive mode).
		e.finished = true

		if ok && !a.hasLocalCandidateAddrLocked(mapped) {
			a.addLocalCandidateLocked(makePeerReflexiveCandidate(a.base, mapped, p.Local.peerPriority(), 1))
		}

		a.unfreezeFoundationLocked(p.Foundation)

		if a.role == RoleControlling && !p.Nominated && !p.useCandidateSent && a.isHighestPrioritySucceededLocked(p) {
			a.sendUseCandidateCheckLocked(p)
		}

		nominateNow := p.Nominated || p.nominationRequested || wasNominatingCheck
		if nominateNow && a.selectedPair == nil {
			p.Nominated = true
			a.selectPairLocked(p)
		}
		a.maybeCompleteLocked(p)
	}
}
