package vm

// ---------------------------------------------------------------------------
// Finalizers (__gc)
// ---------------------------------------------------------------------------

// checkFinalizer moves o to the finobj list if its new metatable has a
// __gc field. Only metatables set after the field exists take effect.
func (g *State) checkFinalizer(o object, mt *Table) {
	h := o.hdr()
	if h.isSeparated() || h.isFinalized() || g.fastTM(mt, tmGC).t == TypeNil {
		return
	}
	p := &g.allgc
	for *p != o {
		p = &(*p).hdr().next
	}
	*p = h.next
	if g.sweepgc == &h.next {
		// o was the last swept object; continue from its predecessor
		g.sweepgc = p
	}
	h.next = g.finobj
	g.finobj = o
	h.marked |= 1 << separatedBit
	if !g.keepInvariant() {
		g.makeWhite(o)
	}
}

// separateToBeFinalized moves unreached objects (or all of them) from
// finobj to the end of tobefnz, in creation order of the finobj list.
func (g *State) separateToBeFinalized(all bool) {
	last := &g.tobefnz
	for *last != nil {
		last = &(*last).hdr().next
	}
	p := &g.finobj
	for *p != nil {
		o := *p
		h := o.hdr()
		if !h.isWhite() && !all {
			p = &h.next
			continue
		}
		h.marked |= 1 << finalizedBit
		*p = h.next
		h.next = nil
		*last = o
		last = &h.next
	}
}

// markBeingFinalized marks every object waiting for its finalizer, so that
// it and everything it refers to survive until the finalizer has run.
func (g *State) markBeingFinalized() {
	for o := g.tobefnz; o != nil; o = o.hdr().next {
		g.makeWhite(o)
		g.markObject(o)
	}
}

// nextToFinalize takes the first object of tobefnz and returns it to the
// ordinary heap list.
func (g *State) nextToFinalize() object {
	o := g.tobefnz
	h := o.hdr()
	g.tobefnz = h.next
	h.next = g.allgc
	g.allgc = o
	h.marked &^= 1 << separatedBit
	if !g.keepInvariant() {
		g.makeWhite(o)
	}
	return o
}

// callFinalizer runs the __gc metamethod of one pending object on the
// running thread under a protected call. Errors are reported, never
// propagated.
func (g *State) callFinalizer() {
	v := valueOf(g.nextToFinalize())
	tm := g.tmByObj(v, tmGC)
	if tm.t != TypeFunction {
		return
	}
	l := g.running
	running := g.gcRunning
	g.gcRunning = false
	defer func() { g.gcRunning = running }()

	oldTop := l.top
	err := l.pcall(func() {
		l.ensureStack(2)
		l.stack[l.top] = tm
		l.stack[l.top+1] = v
		l.top += 2
		l.call(l.top-2, 0, false)
	}, oldTop, 0)
	g.stats.FinalizersRun++
	if err == nil {
		return
	}
	l.top = oldTop
	g.stats.FinalizerErrors++
	if err.Status == StatusErrRun {
		msg := "no message"
		if s, ok := err.Value.AsString(); ok {
			msg = s
		}
		err.Status = StatusErrGCMM
		err.Value = g.String("error in __gc metamethod (" + msg + ")")
	}
	gcLog.Warning("finalizer failed", "state", g.id.String(), "error", err.Error())
	if g.onFinalizerError != nil {
		g.onFinalizerError(err)
	}
}
