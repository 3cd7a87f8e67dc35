package vm

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// GoFunction is a native function callable from the language. Arguments are
// on the thread's stack at indices 1..Top(); the function pushes its results
// and returns how many it pushed.
type GoFunction func(l *Thread) int

// LClosure pairs an installed prototype with its resolved upvalues.
type LClosure struct {
	header
	p      *proto
	upvals []*Upvalue
}

func (c *LClosure) kind() Type { return TypeFunction }

func (c *LClosure) memSize() int { return sizeLClosure + len(c.upvals)*8 }

// Prototype returns the compiled prototype the closure runs.
func (c *LClosure) Prototype() *Prototype { return c.p.src }

// GoClosure is a native function with a fixed array of upvalues.
type GoClosure struct {
	header
	fn     GoFunction
	upvals []Value
	name   string
}

func (c *GoClosure) kind() Type { return TypeFunction }

func (c *GoClosure) memSize() int { return sizeGClosure + len(c.upvals)*sizeSlot }

// newLClosure allocates a Lua closure with nup unresolved upvalues.
func (g *State) newLClosure(p *proto, nup int) *LClosure {
	c := &LClosure{p: p, upvals: make([]*Upvalue, nup)}
	g.link(c, c.memSize())
	return c
}

// NewGoClosure wraps fn with the given upvalues.
func (g *State) NewGoClosure(name string, fn GoFunction, upvals ...Value) Value {
	c := &GoClosure{fn: fn, name: name, upvals: upvals}
	g.link(c, c.memSize())
	return valueOf(c)
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// Upvalue is a captured variable. While open it aliases slot idx of th's
// stack; once closed it owns the value in closed. Open upvalues live on
// their thread's open list, never on the collector's object list; closing
// moves them there.
type Upvalue struct {
	header
	th       *Thread
	idx      int
	closed   Value
	nextOpen *Upvalue
}

func (uv *Upvalue) kind() Type { return typeUpvalue }
func (uv *Upvalue) memSize() int { return sizeUpvalue }
func (uv *Upvalue) isOpen() bool { return uv.th != nil }

// get reads the captured variable.
func (uv *Upvalue) get() Value {
	if uv.th != nil {
		return uv.th.stack[uv.idx]
	}
	return uv.closed
}

// set writes the captured variable and applies the forward barrier.
func (uv *Upvalue) set(g *State, v Value) {
	if uv.th != nil {
		uv.th.stack[uv.idx] = v
		return
	}
	uv.closed = v
	if v.o != nil {
		g.barrierForward(uv, v.o)
	}
}

// sameSlot reports whether two upvalues denote the same variable.
func (uv *Upvalue) sameSlot(th *Thread, idx int) bool {
	return uv.th == th && uv.idx == idx
}

// findUpvalue returns the open upvalue for stack slot idx, creating it if
// needed. The open list is kept sorted by decreasing slot.
func (l *Thread) findUpvalue(idx int) *Upvalue {
	g := l.g
	if uv := l.openAt(idx); uv != nil {
		if g.isDead(uv) {
			changeWhite(uv)
		}
		return uv
	}
	// charge first: an emergency collection may prune the open list
	g.charge(0, sizeUpvalue)
	var prev *Upvalue
	p := l.openUpval
	for p != nil && p.idx > idx {
		prev = p
		p = p.nextOpen
	}
	uv := &Upvalue{th: l, idx: idx, nextOpen: p}
	uv.marked = g.newWhite()
	if prev == nil {
		l.openUpval = uv
	} else {
		prev.nextOpen = uv
	}
	g.trackOpenUpvalues(l)
	return uv
}

func (l *Thread) openAt(idx int) *Upvalue {
	for p := l.openUpval; p != nil && p.idx >= idx; p = p.nextOpen {
		if p.idx == idx {
			return p
		}
	}
	return nil
}

// closeUpvalues closes every open upvalue at or above stack slot level.
func (l *Thread) closeUpvalues(level int) {
	g := l.g
	for uv := l.openUpval; uv != nil && uv.idx >= level; uv = l.openUpval {
		l.openUpval = uv.nextOpen
		uv.nextOpen = nil
		if g.isDead(uv) {
			g.charge(sizeUpvalue, 0)
			uv.th = nil
			uv.marked |= 1 << freedBit
			continue
		}
		uv.closed = l.stack[uv.idx]
		uv.th = nil
		g.linkClosedUpvalue(uv)
	}
}

// ---------------------------------------------------------------------------
// Closure creation (CLOSURE instruction)
// ---------------------------------------------------------------------------

// cachedClosure returns p's cached closure if all of its upvalues resolve
// to the same variables the new closure would capture.
func (l *Thread) cachedClosure(p *proto, encup []*Upvalue, base int) *LClosure {
	c := p.cache
	if c == nil {
		return nil
	}
	for i, desc := range p.src.Upvalues {
		uv := c.upvals[i]
		if desc.InStack {
			if !uv.sameSlot(l, base+desc.Index) {
				return nil
			}
		} else if outer := encup[desc.Index]; uv != outer && (outer.th == nil || !uv.sameSlot(outer.th, outer.idx)) {
			return nil
		}
	}
	return c
}

// pushClosure builds a closure for p into register ra, anchoring it there
// before resolving upvalues so that a collection triggered by upvalue
// creation cannot free it.
func (l *Thread) pushClosure(p *proto, encup []*Upvalue, base, ra int) {
	g := l.g
	c := g.newLClosure(p, len(p.src.Upvalues))
	l.stack[ra] = valueOf(c)
	for i, desc := range p.src.Upvalues {
		if desc.InStack {
			c.upvals[i] = l.findUpvalue(base + desc.Index)
		} else {
			c.upvals[i] = encup[desc.Index]
		}
	}
	p.cache = c
	g.barrierForward(p, c)
}

// newUpvalue allocates a closed upvalue holding nil.
func (g *State) newUpvalue() *Upvalue {
	uv := &Upvalue{}
	g.link(uv, sizeUpvalue)
	return uv
}
