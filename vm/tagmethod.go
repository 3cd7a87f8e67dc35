package vm

// ---------------------------------------------------------------------------
// Tag methods (metamethods)
// ---------------------------------------------------------------------------

// tms enumerates the metamethod events. The order matters: events up to
// tmEq are "fast" and have their absence cached in the metatable's flags.
type tms int

const (
	tmIndex tms = iota
	tmNewIndex
	tmGC
	tmMode
	tmLen
	tmEq
	tmAdd
	tmSub
	tmMul
	tmDiv
	tmMod
	tmPow
	tmUnm
	tmLt
	tmLe
	tmConcat
	tmCall

	tmN
)

var tmNames = [tmN]string{
	tmIndex:    "__index",
	tmNewIndex: "__newindex",
	tmGC:       "__gc",
	tmMode:     "__mode",
	tmLen:      "__len",
	tmEq:       "__eq",
	tmAdd:      "__add",
	tmSub:      "__sub",
	tmMul:      "__mul",
	tmDiv:      "__div",
	tmMod:      "__mod",
	tmPow:      "__pow",
	tmUnm:      "__unm",
	tmLt:       "__lt",
	tmLe:       "__le",
	tmConcat:   "__concat",
	tmCall:     "__call",
}

// maxTagLoop bounds chains of __index/__newindex tables.
const maxTagLoop = 100

// fastTM looks up a fast event in mt, caching its absence.
func (g *State) fastTM(mt *Table, e tms) Value {
	if mt == nil || mt.flags&(1<<uint(e)) != 0 {
		return Nil
	}
	tm := mt.getStr(g.tmName[e])
	if tm.t == TypeNil {
		mt.flags |= 1 << uint(e)
	}
	return tm
}

// tmByObj returns the handler for event e of value v, or nil.
func (g *State) tmByObj(v Value, e tms) Value {
	mt := g.Metatable(v)
	if mt == nil {
		return Nil
	}
	return mt.getStr(g.tmName[e])
}

// callTM calls f(p1, p2) for its side effects.
func (l *Thread) callTM(f, p1, p2, p3 Value) {
	l.ensureStack(4)
	fn := l.top
	l.stack[fn] = f
	l.stack[fn+1] = p1
	l.stack[fn+2] = p2
	l.stack[fn+3] = p3
	l.top += 4
	l.call(fn, 0, false)
}

// callTMRes calls f(p1, p2) and returns its first result.
func (l *Thread) callTMRes(f, p1, p2 Value) Value {
	l.ensureStack(3)
	fn := l.top
	l.stack[fn] = f
	l.stack[fn+1] = p1
	l.stack[fn+2] = p2
	l.top += 3
	l.call(fn, 1, false)
	l.top--
	return l.stack[l.top]
}

// ---------------------------------------------------------------------------
// Indexing with metamethods
// ---------------------------------------------------------------------------

// getTable returns t[k], following __index handlers.
func (l *Thread) getTable(t, k Value) Value {
	g := l.g
	for loop := 0; loop < maxTagLoop; loop++ {
		var tm Value
		if h := t.AsTable(); h != nil {
			res := h.Get(k)
			if res.t != TypeNil {
				return res
			}
			if tm = g.fastTM(h.meta, tmIndex); tm.t == TypeNil {
				return res
			}
		} else if tm = g.tmByObj(t, tmIndex); tm.t == TypeNil {
			l.typeError(t, "index")
		}
		if tm.t == TypeFunction {
			return l.callTMRes(tm, t, k)
		}
		t = tm
	}
	l.runError("loop in gettable")
	return Nil
}

// setTable performs t[k] = v, following __newindex handlers.
func (l *Thread) setTable(t, k, v Value) {
	g := l.g
	for loop := 0; loop < maxTagLoop; loop++ {
		var tm Value
		if h := t.AsTable(); h != nil {
			old := h.Get(k)
			if old.t != TypeNil {
				h.set(g, k, v)
				return
			}
			if tm = g.fastTM(h.meta, tmNewIndex); tm.t == TypeNil {
				l.rawSet(h, k, v)
				return
			}
		} else if tm = g.tmByObj(t, tmNewIndex); tm.t == TypeNil {
			l.typeError(t, "index")
		}
		if tm.t == TypeFunction {
			l.callTM(tm, t, k, v)
			return
		}
		t = tm
	}
	l.runError("loop in settable")
}

// rawSet stores into a table, raising a runtime error for invalid keys.
func (l *Thread) rawSet(h *Table, k, v Value) {
	if err := checkKey(k); err != nil {
		l.runError("%s", err.Error())
	}
	h.set(l.g, k, v)
}

// ---------------------------------------------------------------------------
// Length
// ---------------------------------------------------------------------------

// objLen returns #v.
func (l *Thread) objLen(v Value) Value {
	var tm Value
	switch v.t {
	case TypeTable:
		h := v.o.(*Table)
		if tm = l.g.fastTM(h.meta, tmLen); tm.t == TypeNil {
			return Number(float64(h.Len()))
		}
	case TypeString:
		return Number(float64(len(v.o.(*String).s)))
	default:
		if tm = l.g.tmByObj(v, tmLen); tm.t == TypeNil {
			l.typeError(v, "get length of")
		}
	}
	return l.callTMRes(tm, v, v)
}
