package vm

// ---------------------------------------------------------------------------
// Sweeping
// ---------------------------------------------------------------------------

// sweepList frees up to count dead objects of the list starting at *p and
// turns survivors back to the current white. It returns where to continue,
// or nil once the list is exhausted.
func (g *State) sweepList(p *object, count int) *object {
	ow := g.otherWhite()
	white := g.newWhite()
	for ; *p != nil && count > 0; count-- {
		o := *p
		h := o.hdr()
		if isDeadMark(h.marked, ow) {
			*p = h.next
			h.next = nil
			g.freeObject(o)
			continue
		}
		if th, ok := o.(*Thread); ok {
			g.sweepThread(th)
		}
		h.marked = (h.marked & maskMarks) | white
		p = &h.next
	}
	if *p == nil {
		return nil
	}
	return p
}

// sweepStringBucket sweeps one bucket of the string table.
func (g *State) sweepStringBucket(b int) {
	ow := g.otherWhite()
	white := g.newWhite()
	p := &g.strt.buckets[b]
	for *p != nil {
		o := *p
		h := o.hdr()
		if isDeadMark(h.marked, ow) {
			*p = h.next
			h.next = nil
			g.strt.count--
			g.freeObject(o)
			continue
		}
		h.marked = (h.marked & maskMarks) | white
		p = &h.next
	}
}

// sweepThread sweeps the open upvalues of a live thread, drops its unused
// frames and shrinks its stack. Emergency collections leave the stack
// alone: the allocation that triggered them may be resizing it.
func (g *State) sweepThread(l *Thread) {
	if l.stack == nil {
		return
	}
	ow := g.otherWhite()
	white := g.newWhite()
	p := &l.openUpval
	for *p != nil {
		uv := *p
		if isDeadMark(uv.marked, ow) {
			*p = uv.nextOpen
			uv.nextOpen = nil
			uv.th = nil
			g.freeObject(uv)
			continue
		}
		uv.marked = (uv.marked & maskMarks) | white
		p = &uv.nextOpen
	}
	if !g.emergency {
		l.shrinkStack()
	}
}

// freeObject releases the accounting of a dead object. The Go runtime
// reclaims the memory once nothing refers to it.
func (g *State) freeObject(o object) {
	size := o.memSize()
	switch x := o.(type) {
	case *Table:
		size = x.charged
	case *Thread:
		x.closeUpvalues(0)
		size = x.memSize()
	}
	g.charge(size, 0)
	o.hdr().marked |= 1 << freedBit
	g.stats.FreedObjects++
	g.stats.FreedBytes += size
}
