package vm

// ---------------------------------------------------------------------------
// Call engine
// ---------------------------------------------------------------------------

// precall prepares a call to the function at stack index fn whose
// arguments occupy fn+1..top-1. A Go function runs to completion here and
// precall returns true. For a Lua function a frame is pushed and precall
// returns false; the caller then runs execute (or, inside execute, simply
// continues in the new frame).
func (l *Thread) precall(fn int, nresults int) bool {
	switch f := l.stack[fn].o.(type) {
	case *GoClosure:
		l.ensureStack(minStack)
		ci := l.nextCI()
		ci.nresults = nresults
		ci.fn = fn
		ci.top = l.top + minStack
		n := f.fn(l)
		if n < 0 || n > l.top-(ci.fn+1) {
			l.runError("native function %q returned %d results from a stack of %d", f.name, n, l.top-(ci.fn+1))
		}
		l.poscall(l.top - n)
		return true
	case *LClosure:
		p := f.p.src
		l.ensureStack(p.MaxStack)
		n := l.top - fn - 1
		for ; n < p.NumParams; n++ {
			l.stack[l.top] = Nil
			l.top++
		}
		base := fn + 1
		if p.IsVararg {
			base = l.adjustVarargs(p, n)
		}
		ci := l.nextCI()
		ci.nresults = nresults
		ci.fn = fn
		ci.base = base
		ci.top = base + p.MaxStack
		ci.savedPC = 0
		ci.status = cistLua
		l.top = ci.top
		return false
	default:
		fn = l.tryFuncTM(fn)
		return l.precall(fn, nresults)
	}
}

// adjustVarargs moves the fixed parameters above the actual arguments so
// that the extra arguments stay below the new frame's base.
func (l *Thread) adjustVarargs(p *Prototype, actual int) int {
	nfix := p.NumParams
	l.ensureStack(p.MaxStack)
	fixed := l.top - actual
	base := l.top
	for i := 0; i < nfix; i++ {
		l.stack[l.top] = l.stack[fixed+i]
		l.stack[fixed+i] = Nil
		l.top++
	}
	return base
}

// tryFuncTM makes room below the arguments of a non-function call target
// and inserts its __call handler there.
func (l *Thread) tryFuncTM(fn int) int {
	tm := l.g.tmByObj(l.stack[fn], tmCall)
	if tm.t != TypeFunction {
		l.typeError(l.stack[fn], "call")
	}
	l.ensureStack(1)
	copy(l.stack[fn+1:l.top+1], l.stack[fn:l.top])
	l.top++
	l.stack[fn] = tm
	return fn
}

// poscall finishes the current call: results starting at firstResult are
// moved to the function's slot and the frame is popped. It reports
// whether the caller asked for a fixed number of results.
func (l *Thread) poscall(firstResult int) bool {
	ci := l.ci
	res := ci.fn
	wanted := ci.nresults
	l.ci = ci.prev
	i := wanted
	for ; i != 0 && firstResult < l.top; i-- {
		l.stack[res] = l.stack[firstResult]
		res++
		firstResult++
	}
	for ; i > 0; i-- {
		l.stack[res] = Nil
		res++
	}
	l.top = res
	return wanted != MultRet
}

// call runs the function at fn with the arguments above it. Each call
// through here is one level of native (Go stack) recursion.
func (l *Thread) call(fn int, nresults int, allowYield bool) {
	l.nCcalls++
	if limit := l.g.maxCCalls; l.nCcalls >= limit {
		if l.nCcalls == limit {
			l.runError("C stack overflow")
		} else if l.nCcalls >= limit+limit>>3 {
			l.throw(StatusErrErr, valueOf(l.g.errErrMsg))
		}
	}
	if !allowYield {
		l.nny++
	}
	if !l.precall(fn, nresults) {
		l.execute()
	}
	if !allowYield {
		l.nny--
	}
	l.nCcalls--
}

// ---------------------------------------------------------------------------
// Protected calls
// ---------------------------------------------------------------------------

// runProtected runs f under a new error boundary and returns the status it
// ended with. Panics that are not raised by this thread's boundary
// mechanism pass through unchanged.
func (l *Thread) runProtected(f func()) (b *boundary) {
	oldNCcalls := l.nCcalls
	b = &boundary{status: StatusOK, prev: l.errorJmp}
	l.errorJmp = b
	defer func() {
		l.errorJmp = b.prev
		l.nCcalls = oldNCcalls
		if r := recover(); r != nil && r != b {
			panic(r)
		}
	}()
	f()
	return b
}

// pcall runs f as a protected call. On error the frame chain is restored,
// upvalues above oldTop are closed and the error value is left at oldTop.
func (l *Thread) pcall(f func(), oldTop int, ef int) *Error {
	oldCI := l.ci
	oldNny := l.nny
	oldErrfunc := l.errfunc
	oldInHandler := l.inHandler
	l.errfunc = ef
	b := l.runProtected(f)
	l.errfunc = oldErrfunc
	if b.status == StatusOK {
		return nil
	}
	l.closeUpvalues(oldTop)
	v := l.errorObject(b.status, b.value)
	l.stack[oldTop] = v
	l.top = oldTop + 1
	l.ci = oldCI
	l.nny = oldNny
	l.inHandler = oldInHandler
	l.shrinkStack()
	return &Error{Status: b.status, Value: v, Traceback: b.traceback}
}

// errorObject returns the value reported for an error of the given status.
func (l *Thread) errorObject(status Status, v Value) Value {
	switch status {
	case StatusErrMem:
		return valueOf(l.g.memErrMsg)
	case StatusErrErr:
		return valueOf(l.g.errErrMsg)
	}
	return v
}
