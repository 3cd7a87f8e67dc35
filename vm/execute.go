package vm

// ---------------------------------------------------------------------------
// Bytecode dispatcher
// ---------------------------------------------------------------------------

// execute runs the Lua frame at l.ci until it returns to a frame that was
// not entered by execute itself. Calls between Lua functions switch frames
// inside this loop, so they consume no Go stack.
//
// Registers are addressed as indices into l.stack and every access reads
// l.stack afresh: any metamethod, allocation or collector step may have
// reallocated the slice. Results of such calls are bound to a local before
// being stored, since Go does not order a call against the evaluation of
// the assignment's left-hand side.
func (l *Thread) execute() {
	g := l.g
	ci := l.ci

newframe:
	cl := l.stack[ci.fn].o.(*LClosure)
	k := cl.p.k
	code := cl.p.src.Code
	base := ci.base

	for {
		i := code[ci.savedPC]
		ci.savedPC++
		ra := base + i.A()

		switch op := i.Opcode(); op {
		case OpMove:
			l.stack[ra] = l.stack[base+i.B()]

		case OpLoadK:
			l.stack[ra] = k[i.Bx()]

		case OpLoadKX:
			l.stack[ra] = k[code[ci.savedPC].Ax()]
			ci.savedPC++

		case OpLoadBool:
			l.stack[ra] = Bool(i.B() != 0)
			if i.C() != 0 {
				ci.savedPC++
			}

		case OpLoadNil:
			for j := 0; j <= i.B(); j++ {
				l.stack[ra+j] = Nil
			}

		case OpGetUpval:
			l.stack[ra] = cl.upvals[i.B()].get()

		case OpGetTabUp:
			t := cl.upvals[i.B()].get()
			v := l.getTable(t, l.rk(base, k, i.C()))
			l.stack[ra] = v

		case OpGetTable:
			v := l.getTable(l.stack[base+i.B()], l.rk(base, k, i.C()))
			l.stack[ra] = v

		case OpSetTabUp:
			t := cl.upvals[i.A()].get()
			l.setTable(t, l.rk(base, k, i.B()), l.rk(base, k, i.C()))

		case OpSetUpval:
			cl.upvals[i.B()].set(g, l.stack[ra])

		case OpSetTable:
			l.setTable(l.stack[ra], l.rk(base, k, i.B()), l.rk(base, k, i.C()))

		case OpNewTable:
			t := g.newTable(fb2int(i.B()), fb2int(i.C()))
			l.stack[ra] = valueOf(t)
			l.checkGC()

		case OpSelf:
			rb := l.stack[base+i.B()]
			l.stack[ra+1] = rb
			v := l.getTable(rb, l.rk(base, k, i.C()))
			l.stack[ra] = v

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			rb, rc := l.rk(base, k, i.B()), l.rk(base, k, i.C())
			e := tmAdd + tms(op-OpAdd)
			if rb.t == TypeNumber && rc.t == TypeNumber {
				l.stack[ra] = Number(arithOp(e, rb.n, rc.n))
			} else {
				v := l.arith(rb, rc, e)
				l.stack[ra] = v
			}

		case OpUnm:
			rb := l.stack[base+i.B()]
			if rb.t == TypeNumber {
				l.stack[ra] = Number(-rb.n)
			} else {
				v := l.arith(rb, rb, tmUnm)
				l.stack[ra] = v
			}

		case OpNot:
			l.stack[ra] = Bool(l.stack[base+i.B()].IsFalsy())

		case OpLen:
			v := l.objLen(l.stack[base+i.B()])
			l.stack[ra] = v

		case OpConcat:
			b, c := i.B(), i.C()
			l.top = base + c + 1
			l.concat(c - b + 1)
			l.stack[ra] = l.stack[base+b]
			l.top = ci.top
			l.checkGC()

		case OpJmp:
			l.jump(ci, i)

		case OpEq:
			rb, rc := l.rk(base, k, i.B()), l.rk(base, k, i.C())
			l.condJump(ci, code, l.equalObj(rb, rc) == (i.A() != 0))

		case OpLt:
			rb, rc := l.rk(base, k, i.B()), l.rk(base, k, i.C())
			l.condJump(ci, code, l.lessThan(rb, rc) == (i.A() != 0))

		case OpLe:
			rb, rc := l.rk(base, k, i.B()), l.rk(base, k, i.C())
			l.condJump(ci, code, l.lessEqual(rb, rc) == (i.A() != 0))

		case OpTest:
			l.condJump(ci, code, l.stack[ra].IsFalsy() == (i.C() == 0))

		case OpTestSet:
			rb := l.stack[base+i.B()]
			if rb.IsFalsy() == (i.C() == 0) {
				l.stack[ra] = rb
				l.condJump(ci, code, true)
			} else {
				ci.savedPC++
			}

		case OpCall:
			b := i.B()
			nresults := i.C() - 1
			if b != 0 {
				l.top = ra + b
			}
			if l.precall(ra, nresults) {
				if nresults >= 0 {
					l.top = ci.top
				}
			} else {
				ci = l.ci
				ci.status |= cistReentry
				goto newframe
			}

		case OpTailCall:
			if b := i.B(); b != 0 {
				l.top = ra + b
			}
			if !l.precall(ra, MultRet) {
				l.tailCall()
				ci = l.ci
				goto newframe
			}

		case OpReturn:
			if b := i.B(); b != 0 {
				l.top = ra + b - 1
			}
			l.closeUpvalues(base)
			fixed := l.poscall(ra)
			if ci.status&cistReentry == 0 {
				return
			}
			ci = l.ci
			if fixed {
				l.top = ci.top
			}
			goto newframe

		case OpForLoop:
			step := l.stack[ra+2].n
			idx := l.stack[ra].n + step
			limit := l.stack[ra+1].n
			if (0 < step && idx <= limit) || (0 >= step && limit <= idx) {
				ci.savedPC += i.SBx()
				l.stack[ra] = Number(idx)
				l.stack[ra+3] = Number(idx)
			}

		case OpForPrep:
			init, ok1 := toNumber(l.stack[ra])
			limit, ok2 := toNumber(l.stack[ra+1])
			step, ok3 := toNumber(l.stack[ra+2])
			switch {
			case !ok1:
				l.runError("'for' initial value must be a number")
			case !ok2:
				l.runError("'for' limit must be a number")
			case !ok3:
				l.runError("'for' step must be a number")
			}
			l.stack[ra] = Number(init - step)
			l.stack[ra+1] = Number(limit)
			l.stack[ra+2] = Number(step)
			ci.savedPC += i.SBx()

		case OpTForCall:
			cb := ra + 3
			l.stack[cb+2] = l.stack[ra+2]
			l.stack[cb+1] = l.stack[ra+1]
			l.stack[cb] = l.stack[ra]
			l.top = cb + 3
			l.call(cb, i.C(), true)
			l.top = ci.top
			i = code[ci.savedPC]
			ci.savedPC++
			ra = base + i.A()
			l.tforLoop(ci, i, ra)

		case OpTForLoop:
			l.tforLoop(ci, i, ra)

		case OpSetList:
			n, c := i.B(), i.C()
			if n == 0 {
				n = l.top - ra - 1
			}
			if c == 0 {
				c = code[ci.savedPC].Ax()
				ci.savedPC++
			}
			h := l.stack[ra].AsTable()
			if h == nil {
				l.runError("SETLIST target is a %s value", l.stack[ra].t)
			}
			first := (c-1)*fieldsPerFlush + 1
			if last := first + n - 1; last > cap(h.arr) && first == len(h.arr)+1 {
				h.resize(g, last, cap(h.nodes))
			}
			for j := 0; j < n; j++ {
				h.set(g, Number(float64(first+j)), l.stack[ra+1+j])
			}
			l.top = ci.top

		case OpClosure:
			p := cl.p.p[i.Bx()]
			if c := l.cachedClosure(p, cl.upvals, base); c != nil {
				l.stack[ra] = valueOf(c)
			} else {
				l.pushClosure(p, cl.upvals, base, ra)
			}
			l.checkGC()

		case OpVararg:
			b := i.B() - 1
			n := base - ci.fn - cl.p.src.NumParams - 1
			if b < 0 {
				b = n
				l.ensureStack(n)
				l.top = ra + n
			}
			for j := 0; j < b; j++ {
				if j < n {
					l.stack[ra+j] = l.stack[base-n+j]
				} else {
					l.stack[ra+j] = Nil
				}
			}

		default:
			l.runError("invalid opcode %s", op)
		}
	}
}

// rk reads an RK operand.
func (l *Thread) rk(base int, k []Value, x int) Value {
	if isK(x) {
		return k[indexK(x)]
	}
	return l.stack[base+x]
}

// jump performs a JMP, closing upvalues when its A operand asks for it.
func (l *Thread) jump(ci *callInfo, i Instruction) {
	if a := i.A(); a > 0 {
		l.closeUpvalues(ci.base + a - 1)
	}
	ci.savedPC += i.SBx()
}

// condJump executes the JMP following a test instruction when taken is
// true, and skips it otherwise.
func (l *Thread) condJump(ci *callInfo, code []Instruction, taken bool) {
	if !taken {
		ci.savedPC++
		return
	}
	next := code[ci.savedPC]
	l.jump(ci, next)
	ci.savedPC++
}

func (l *Thread) tforLoop(ci *callInfo, i Instruction, ra int) {
	if v := l.stack[ra+1]; v.t != TypeNil {
		l.stack[ra] = v
		ci.savedPC += i.SBx()
	}
}

// tailCall replaces the caller's frame with the frame precall just pushed:
// upvalues of the departing frame are closed, the callee and its arguments
// are moved down over the caller's slots, and the callee's frame is dropped.
// The Go stack does not grow and neither does the frame chain.
func (l *Thread) tailCall() {
	nci := l.ci
	oci := nci.prev
	nfn := nci.fn
	ofn := oci.fn
	lim := nci.base + l.stack[nfn].o.(*LClosure).p.src.NumParams
	l.closeUpvalues(oci.base)
	for aux := 0; nfn+aux < lim; aux++ {
		l.stack[ofn+aux] = l.stack[nfn+aux]
	}
	oci.base = ofn + (nci.base - nfn)
	l.top = ofn + (l.top - nfn)
	oci.top = l.top
	oci.savedPC = nci.savedPC
	oci.status |= cistTail
	oci.tailcalls++
	l.ci = oci
}

// checkGC runs a collector step if allocation debt has built up. All
// registers of the running frame stay below top and are marked.
func (l *Thread) checkGC() {
	if l.g.gcDebt > 0 {
		l.g.step()
	}
}

// fb2int decodes the "floating point byte" used by NEWTABLE size hints:
// (eeeeexxx) is xxx when eeeee is zero, else (1xxx) * 2^(eeeee-1).
func fb2int(x int) int {
	e := (x >> 3) & 0x1f
	if e == 0 {
		return x
	}
	return ((x & 7) + 8) << (e - 1)
}

// Int2FB encodes a size hint for NEWTABLE, rounding up.
func Int2FB(x int) int {
	e := 0
	if x < 8 {
		return x
	}
	for x >= 16 {
		x = (x + 1) >> 1
		e++
	}
	return ((e + 1) << 3) | (x - 8)
}
