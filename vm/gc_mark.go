package vm

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

// markObject turns a white object gray. Objects without outgoing
// references, and closed upvalues, go straight to black; the rest wait on
// the gray list.
func (g *State) markObject(o object) {
	h := o.hdr()
	if !h.isWhite() {
		return
	}
	h.white2gray()
	switch x := o.(type) {
	case *String:
		h.gray2black()
	case *Userdata:
		g.markTable(x.meta)
		g.markValue(x.uservalue)
		h.gray2black()
	case *Upvalue:
		g.markValue(x.get())
		if !x.isOpen() {
			// open upvalues stay gray; their value belongs to a stack
			h.gray2black()
		}
	default:
		g.gray = append(g.gray, o)
	}
}

func (g *State) markValue(v Value) {
	if v.o != nil {
		g.markObject(v.o)
	}
}

func (g *State) markTable(t *Table) {
	if t != nil {
		g.markObject(t)
	}
}

// markRoots marks the objects every cycle starts from.
func (g *State) markRoots() {
	g.markObject(g.mainThread)
	if g.running != nil {
		g.markObject(g.running)
	}
	g.markTable(g.registry)
	for _, mt := range g.mt {
		g.markTable(mt)
	}
}

// restartCollection clears the work lists and marks the roots.
func (g *State) restartCollection() {
	g.gray = g.gray[:0]
	g.grayagain = g.grayagain[:0]
	g.weak = g.weak[:0]
	g.ephemeron = g.ephemeron[:0]
	g.allweak = g.allweak[:0]
	g.markRoots()
	g.markBeingFinalized()
}

// propagateMark traverses one gray object and returns the work done.
func (g *State) propagateMark() int {
	n := len(g.gray) - 1
	o := g.gray[n]
	g.gray[n] = nil
	g.gray = g.gray[:n]
	o.hdr().gray2black()
	return o.traverse(g)
}

func (g *State) propagateAll() int {
	work := 0
	for len(g.gray) > 0 {
		work += g.propagateMark()
	}
	return work
}

// propagateList traverses every object of list, which was detached from
// the collector before the call.
func (g *State) propagateList(list []object) int {
	g.gray = append(g.gray, list...)
	return g.propagateAll()
}

func tablesToObjects(ts []*Table) []object {
	list := make([]object, len(ts))
	for i, t := range ts {
		list[i] = t
	}
	return list
}

// retraverseGrays traverses objects caught by barriers and weak tables
// found during propagation.
func (g *State) retraverseGrays() int {
	grayagain := g.grayagain
	weak := g.weak
	ephemeron := g.ephemeron
	g.grayagain, g.weak, g.ephemeron = nil, nil, nil
	work := g.propagateAll()
	work += g.propagateList(grayagain)
	work += g.propagateList(tablesToObjects(weak))
	work += g.propagateList(tablesToObjects(ephemeron))
	return work
}

// remarkUpvalues marks the values of reachable open upvalues whose thread
// has not been marked. Threads without open upvalues leave the list.
func (g *State) remarkUpvalues() {
	p := &g.twups
	for th := *p; th != nil; th = *p {
		if th.openUpval == nil {
			*p = th.twupsNext
			th.twupsNext = nil
			th.inTwups = false
			continue
		}
		if th.isWhite() {
			for uv := th.openUpval; uv != nil; uv = uv.nextOpen {
				if !uv.isWhite() {
					g.markValue(uv.get())
				}
			}
		}
		p = &th.twupsNext
	}
}

// trackOpenUpvalues records that l has open upvalues.
func (g *State) trackOpenUpvalues(l *Thread) {
	if !l.inTwups {
		l.inTwups = true
		l.twupsNext = g.twups
		g.twups = l
	}
}

// atomic finishes the mark phase without interruption and flips the
// current white. It returns the work done.
func (g *State) atomic() int {
	if g.running != nil {
		g.markObject(g.running)
	}
	g.markTable(g.registry)
	for _, mt := range g.mt {
		g.markTable(mt)
	}
	g.remarkUpvalues()
	work := g.propagateAll()
	work += g.retraverseGrays()
	g.convergeEphemerons()

	// all strongly reachable objects are marked
	g.clearValues(g.weak)
	g.clearValues(g.allweak)
	origWeak, origAll := len(g.weak), len(g.allweak)
	g.separateToBeFinalized(false)
	g.markBeingFinalized()
	work += g.propagateAll()
	g.convergeEphemerons()

	// resurrected objects are marked too
	g.clearKeys(g.ephemeron)
	g.clearKeys(g.allweak)
	g.clearValues(g.weak[origWeak:])
	g.clearValues(g.allweak[origAll:])
	g.currentWhite = g.otherWhite()
	return work
}

// ---------------------------------------------------------------------------
// Traversal of each kind
// ---------------------------------------------------------------------------

func (t *Table) traverse(g *State) int {
	g.markTable(t.meta)
	weakKeys, weakValues := g.weakMode(t)
	if !weakKeys && !weakValues {
		g.traverseStrongTable(t)
		return t.memSize()
	}
	t.black2gray()
	switch {
	case !weakKeys:
		g.traverseWeakValue(t)
	case !weakValues:
		g.traverseEphemeron(t)
	default:
		g.allweak = append(g.allweak, t)
	}
	return t.memSize()
}

func (g *State) traverseStrongTable(t *Table) {
	for _, v := range t.arr {
		g.markValue(v)
	}
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.val.t == TypeNil {
			continue
		}
		g.markValue(n.key)
		g.markValue(n.val)
	}
}

func (c *LClosure) traverse(g *State) int {
	g.markObject(c.p)
	for _, uv := range c.upvals {
		if uv != nil {
			g.markObject(uv)
		}
	}
	return c.memSize()
}

func (c *GoClosure) traverse(g *State) int {
	for _, v := range c.upvals {
		g.markValue(v)
	}
	return c.memSize()
}

// traverse marks a prototype's constants and children. The cached closure
// is a weak reference: it is dropped if nothing else marked it yet.
func (f *proto) traverse(g *State) int {
	if f.cache != nil && f.cache.isWhite() {
		f.cache = nil
	}
	for _, k := range f.k {
		g.markValue(k)
	}
	for _, p := range f.p {
		g.markObject(p)
	}
	return f.memSize()
}

func (uv *Upvalue) traverse(g *State) int {
	g.markValue(uv.get())
	return uv.memSize()
}

func (u *Userdata) traverse(g *State) int {
	g.markTable(u.meta)
	g.markValue(u.uservalue)
	return u.memSize()
}

// traverse marks the live part of a thread's stack. Threads are always
// traversed again in the atomic phase, which also clears the dead part of
// the stack so that stale slots never keep objects alive.
func (l *Thread) traverse(g *State) int {
	if l.stack == nil {
		return 1
	}
	l.black2gray()
	for i := 0; i < l.top; i++ {
		g.markValue(l.stack[i])
	}
	if g.gcState == gcAtomic {
		for i := l.top; i < len(l.stack); i++ {
			l.stack[i] = Nil
		}
	} else {
		g.grayagain = append(g.grayagain, l)
	}
	return l.memSize()
}
