package vm

// ---------------------------------------------------------------------------
// Write barriers
// ---------------------------------------------------------------------------

// barrierForward is applied after a black object o starts referring to v.
// While the invariant holds, v is marked at once. During a sweep o is
// turned white instead, which avoids further barriers on it.
func (g *State) barrierForward(o, v object) {
	if !v.hdr().isWhite() || !o.hdr().isBlack() {
		return
	}
	if g.keepInvariant() {
		g.markObject(v)
	} else {
		g.makeWhite(o)
	}
}

// barrierBack is applied after a store into table t. A black table is
// turned gray again and queued for the atomic phase.
func (g *State) barrierBack(t *Table, k, v Value) {
	if !t.isBlack() || (!valIsWhite(k) && !valIsWhite(v)) {
		return
	}
	t.black2gray()
	g.grayagain = append(g.grayagain, t)
}

// linkClosedUpvalue moves a freshly closed upvalue onto the heap list.
// An open upvalue that was marked is gray; once closed it must follow the
// rules of any other object.
func (g *State) linkClosedUpvalue(uv *Upvalue) {
	uv.next = g.allgc
	g.allgc = uv
	if !uv.isGray() {
		return
	}
	if g.keepInvariant() {
		uv.gray2black()
		g.markValue(uv.closed)
	} else {
		g.makeWhite(uv)
	}
}
