package ice

import "time"

// addLocalCandidateLocked appends a local candidate (deduped by address) and
// pairs it with every known remote candidate, per spec.md section 4.2's
// add_local_reflexive_candidate / symmetric local-candidate addition. Caller
// holds a.mu.
func (a *Agent) addLocalCandidateLocked(c Candidate) {
	for _, lc := range a.localCandidates {
		if lc.Address.Equal(c.Address) {
			return
		}
	}
	if len(a.localCandidates) >= ICEMaxCandidates {
		log.Warn("dropping local candidate %s: ICEMaxCandidates reached", c.Address)
		return
	}
	a.localCandidates = append(a.localCandidates, c)
	for _, rc := range a.remoteCandidates {
		a.addPairLocked(c, rc)
	}
	if a.onLocalCandidate != nil {
		a.onLocalCandidate(c)
	}
}

// addRemoteCandidateLocked appends a remote candidate (deduped by
// type+address) and pairs it with every known local candidate, per spec.md
// section 4.2's add_remote_candidate. Caller holds a.mu.
func (a *Agent) addRemoteCandidateLocked(c Candidate) error {
	for _, rc := range a.remoteCandidates {
		if rc.Address.Equal(c.Address) && rc.Type == c.Type {
			return nil
		}
	}
	if len(a.remoteCandidates) >= ICEMaxCandidates {
		return newError(Full, "remote candidate table full")
	}
	a.remoteCandidates = append(a.remoteCandidates, c)
	for _, lc := range a.localCandidates {
		a.addPairLocked(lc, c)
	}
	return nil
}

// addPairLocked forms a candidate pair if local and remote are compatible
// and not already paired (deduped by local base + remote address, per
// spec.md section 3's invariant). A new pair starts frozen; it is unfrozen
// to waiting, and its check entry armed, only if no existing pair already
// shares its foundation in a non-frozen state (spec.md section 4.2).
func (a *Agent) addPairLocked(local, remote Candidate) {
	if !canBePaired(local, remote) {
		return
	}
	for _, p := range a.pairs {
		if p.Local.base == local.base && p.Remote.Address.Equal(remote.Address) {
			return
		}
	}
	if len(a.pairs) >= MaxCandidatePairs {
		log.Warn("dropping candidate pair %s<->%s: MaxCandidatePairs reached", local.Address, remote.Address)
		return
	}

	a.nextPairID++
	p := newCandidatePair(a.nextPairID, local, remote)

	foundationActive := false
	for _, existing := range a.pairs {
		if existing.Foundation == p.Foundation && existing.State != Frozen {
			foundationActive = true
			break
		}
	}
	a.pairs = append(a.pairs, p)
	if !foundationActive {
		a.activatePairLocked(p)
	}
	a.recomputePairPriorities()
}

// activatePairLocked unfreezes p to waiting and arms its check entry.
func (a *Agent) activatePairLocked(p *CandidatePair) {
	p.State = Waiting
	if len(a.entries) >= MaxStunEntries {
		log.Warn("dropping check entry for %s: MaxStunEntries reached", p)
		return
	}
	e := newCheckEntry(p)
	e.newTransaction()
	e.arm(time.Now(), 0)
	a.entries = append(a.entries, e)
	if a.interrupt != nil {
		a.interrupt.signal()
	}
}

// unfreezeFoundationLocked unfreezes every still-frozen pair sharing
// foundation, per spec.md section 4.4's "unfreeze other pairs sharing its
// foundation" on a successful check.
func (a *Agent) unfreezeFoundationLocked(foundation string) {
	for _, p := range a.pairs {
		if p.Foundation == foundation && p.State == Frozen {
			a.activatePairLocked(p)
		}
	}
}

// recomputePairPriorities rebuilds the ordered-pairs view for the current
// role (spec.md section 4.2, update_ordered_pairs). Pair priority itself is
// computed on demand by CandidatePair.Priority, so there is nothing to
// recompute per pair — only the sort order depends on role.
func (a *Agent) recomputePairPriorities() {
	pairs := append([]*CandidatePair(nil), a.pairs...)
	a.orderedPairs = sortAndPrune(pairs, a.role == RoleControlling)
}

// findPairByRemoteLocked returns the pair whose remote address matches from.
// With a single base per agent, remote address alone identifies the pair.
func (a *Agent) findPairByRemoteLocked(from Address) *CandidatePair {
	for _, p := range a.pairs {
		if p.Remote.Address.Equal(from) {
			return p
		}
	}
	return nil
}

// findEntryByTransactionLocked returns the entry whose outstanding
// transaction id matches tid.
func (a *Agent) findEntryByTransactionLocked(tid string) *stunEntry {
	for _, e := range a.entries {
		if e.transactionID == tid {
			return e
		}
	}
	return nil
}

// hasLocalCandidateAddrLocked reports whether addr matches a known local
// candidate's address (used to decide whether a mapped address is novel
// enough to learn as a new reflexive candidate).
func (a *Agent) hasLocalCandidateAddrLocked(addr Address) bool {
	for _, lc := range a.localCandidates {
		if lc.Address.Equal(addr) {
			return true
		}
	}
	return false
}

// primaryHostAddressLocked returns this agent's first gathered host
// candidate address, used as a server-reflexive candidate's related address
// (RFC 8445 section 5.1.1) instead of the shared base's own wildcard bind
// address. Falls back to the base address if gathering somehow produced no
// host candidate.
func (a *Agent) primaryHostAddressLocked() Address {
	for _, lc := range a.localCandidates {
		if lc.Type == TypeHost {
			return lc.Address
		}
	}
	return a.base.address
}

// retargetReflexiveLocked implements agent_translate_host_candidate_entry
// (SPEC_FULL.md section 5): when reflexive was gathered on behalf of a host
// candidate that already has a pair whose check is still pending, that pair
// is redundant with the one reflexive would form (same base, same remote;
// RFC 8445 section 6.1.2.4), and addPairLocked's base+remote dedup lets only
// one of the two exist. Reuse
// the pending check's in-flight transaction instead of discarding it: retarget
// the entry onto a new pair built from reflexive rather than starting a fresh
// transaction from scratch.
func (a *Agent) retargetReflexiveLocked(reflexive Candidate) {
	for i, p := range a.pairs {
		if p.Local.Type != TypeHost || p.Local.base != reflexive.base {
			continue
		}
		if !p.Local.Address.Equal(reflexive.RelatedAddress) {
			continue
		}
		if p.State != Waiting && p.State != InProgress {
			continue
		}
		if p.entry == nil || p.entry.finished {
			continue
		}

		a.nextPairID++
		np := newCandidatePair(a.nextPairID, reflexive, p.Remote)
		np.State = p.State
		np.Nominated = p.Nominated
		np.nominationRequested = p.nominationRequested
		np.useCandidateSent = p.useCandidateSent
		np.reverseChecked = p.reverseChecked
		p.entry.retarget(np)
		a.pairs[i] = np
	}
	a.recomputePairPriorities()
}

// isHighestPrioritySucceededLocked reports whether p is the highest-priority
// pair (from the controlling side's perspective) currently in the succeeded
// state, per spec.md section 4.4's nomination trigger.
func (a *Agent) isHighestPrioritySucceededLocked(p *CandidatePair) bool {
	for _, candidate := range a.orderedPairs {
		if candidate.State == Succeeded {
			return candidate == p
		}
	}
	return false
}

// maybeMarkGatheringDoneLocked sets gatheringDone once every SERVER entry
// has finished (spec.md section 4.3's bookkeeping: "If it was a SERVER,
// mark gathering for that server done").
func (a *Agent) maybeMarkGatheringDoneLocked() {
	for _, e := range a.entries {
		if e.typ == entryServer && !e.finished {
			return
		}
	}
	a.gatheringDone = true
}
