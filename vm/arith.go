package vm

import "math"

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// arithOp applies a primitive arithmetic event to two numbers.
func arithOp(e tms, a, b float64) float64 {
	switch e {
	case tmAdd:
		return a + b
	case tmSub:
		return a - b
	case tmMul:
		return a * b
	case tmDiv:
		return a / b
	case tmMod:
		return a - math.Floor(a/b)*b
	case tmPow:
		return math.Pow(a, b)
	case tmUnm:
		return -a
	}
	panic("arithOp: not an arithmetic event")
}

// arith computes rb <e> rc, coercing numeric strings and falling back to
// the operands' metamethods.
func (l *Thread) arith(rb, rc Value, e tms) Value {
	if b, ok := toNumber(rb); ok {
		if c, ok := toNumber(rc); ok {
			return Number(arithOp(e, b, c))
		}
	}
	tm := l.g.tmByObj(rb, e)
	if tm.t == TypeNil {
		tm = l.g.tmByObj(rc, e)
	}
	if tm.t == TypeNil {
		l.arithError(rb, rc)
	}
	return l.callTMRes(tm, rb, rc)
}

// ---------------------------------------------------------------------------
// Concatenation
// ---------------------------------------------------------------------------

// toStringValue converts numbers to strings for concatenation.
func (l *Thread) toStringValue(v Value) (Value, bool) {
	switch v.t {
	case TypeString:
		return v, true
	case TypeNumber:
		return l.g.String(formatNumber(v.n)), true
	}
	return v, false
}

// concat concatenates the total values ending at top-1, leaving the result
// in top-total and popping the rest. Runs of strings and numbers are joined
// in one allocation; other operands go through __concat pairwise from the
// right.
func (l *Thread) concat(total int) {
	for total > 1 {
		top := l.top
		n := 2
		a, b := l.stack[top-2], l.stack[top-1]
		aok := a.t == TypeString || a.t == TypeNumber
		bs, bok := l.toStringValue(b)
		if !aok || !bok {
			tm := l.g.tmByObj(a, tmConcat)
			if tm.t == TypeNil {
				tm = l.g.tmByObj(b, tmConcat)
			}
			if tm.t == TypeNil {
				l.concatError(a, b)
			}
			v := l.callTMRes(tm, a, b)
			l.stack[top-2] = v
		} else if s, _ := bs.AsString(); s == "" {
			as, _ := l.toStringValue(a)
			l.stack[top-2] = as
		} else {
			// collect as many string operands as possible
			l.stack[top-1] = bs
			size := len(s)
			for n < total {
				v, ok := l.toStringValue(l.stack[top-n-1])
				if !ok {
					break
				}
				l.stack[top-n-1] = v
				size += len(v.o.(*String).s)
				n++
			}
			buf := make([]byte, 0, size)
			for i := n; i > 0; i-- {
				v, _ := l.toStringValue(l.stack[top-i])
				buf = append(buf, v.o.(*String).s...)
			}
			v := l.g.String(string(buf))
			l.stack[top-n] = v
		}
		total -= n - 1
		l.top -= n - 1
	}
}
