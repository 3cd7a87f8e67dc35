package vm

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// equalObj compares two values of the same type, consulting __eq for
// tables and userdata that are not identical.
func (l *Thread) equalObj(a, b Value) bool {
	if a.t != b.t {
		return false
	}
	var mt1, mt2 *Table
	switch a.t {
	case TypeTable:
		if a.o == b.o {
			return true
		}
		mt1, mt2 = a.o.(*Table).meta, b.o.(*Table).meta
	case TypeUserdata:
		if a.o == b.o {
			return true
		}
		mt1, mt2 = a.o.(*Userdata).meta, b.o.(*Userdata).meta
	default:
		return RawEqual(a, b)
	}
	tm := l.equalTM(mt1, mt2)
	if tm.t == TypeNil {
		return false
	}
	return !l.callTMRes(tm, a, b).IsFalsy()
}

// equalTM returns the __eq handler shared by both metatables, or nil.
func (l *Thread) equalTM(mt1, mt2 *Table) Value {
	tm1 := l.g.fastTM(mt1, tmEq)
	if tm1.t == TypeNil {
		return Nil
	}
	if mt1 == mt2 {
		return tm1
	}
	tm2 := l.g.fastTM(mt2, tmEq)
	if tm2.t == TypeNil || !RawEqual(tm1, tm2) {
		return Nil
	}
	return tm1
}

// callOrderTM tries event e on a then b; ok is false if neither has it.
func (l *Thread) callOrderTM(a, b Value, e tms) (res bool, ok bool) {
	tm := l.g.tmByObj(a, e)
	if tm.t == TypeNil {
		tm = l.g.tmByObj(b, e)
	}
	if tm.t == TypeNil {
		return false, false
	}
	return !l.callTMRes(tm, a, b).IsFalsy(), true
}

// lessThan computes a < b.
func (l *Thread) lessThan(a, b Value) bool {
	if a.t == TypeNumber && b.t == TypeNumber {
		return a.n < b.n
	}
	if a.t == TypeString && b.t == TypeString {
		return a.o.(*String).s < b.o.(*String).s
	}
	res, ok := l.callOrderTM(a, b, tmLt)
	if !ok {
		l.orderError(a, b)
	}
	return res
}

// lessEqual computes a <= b, falling back to not (b < a) when only __lt
// is available.
func (l *Thread) lessEqual(a, b Value) bool {
	if a.t == TypeNumber && b.t == TypeNumber {
		return a.n <= b.n
	}
	if a.t == TypeString && b.t == TypeString {
		return a.o.(*String).s <= b.o.(*String).s
	}
	if res, ok := l.callOrderTM(a, b, tmLe); ok {
		return res
	}
	res, ok := l.callOrderTM(b, a, tmLt)
	if !ok {
		l.orderError(a, b)
	}
	return !res
}
