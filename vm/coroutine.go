package vm

// ---------------------------------------------------------------------------
// Coroutines
// ---------------------------------------------------------------------------

// CoStatus is the state of a thread seen as a coroutine.
type CoStatus int

const (
	CoSuspended CoStatus = iota // yielded, or created and not started
	CoRunning                   // currently executing
	CoNormal                    // active but resuming another coroutine
	CoDead                      // finished or stopped by an error
)

var coStatusNames = [...]string{
	CoSuspended: "suspended",
	CoRunning:   "running",
	CoNormal:    "normal",
	CoDead:      "dead",
}

func (s CoStatus) String() string { return coStatusNames[s] }

// Status reports the coroutine status of l.
func (l *Thread) Status() CoStatus {
	if l == l.g.running {
		return CoRunning
	}
	switch l.status {
	case StatusYield:
		return CoSuspended
	case StatusOK:
		if l.ci != &l.baseCI {
			return CoNormal
		}
		if l.top == 1 {
			return CoDead
		}
		return CoSuspended
	default:
		return CoDead
	}
}

// Resume starts or continues the coroutine l. The body is the function
// pushed on l before the first resume; args are passed to it, or returned
// by the pending Yield. Resume returns the values passed to Yield, or the
// body's results when it finishes. An error inside the coroutine is
// returned as *Error and leaves the coroutine dead.
func (l *Thread) Resume(from *Thread, args ...Value) ([]Value, error) {
	g := l.g
	switch st := l.Status(); {
	case st == CoDead:
		return nil, l.resumeError("cannot resume dead coroutine")
	case st != CoSuspended:
		return nil, l.resumeError("cannot resume non-suspended coroutine")
	}
	nCcalls := 1
	if from != nil {
		nCcalls = from.nCcalls + 1
	}
	if nCcalls >= g.maxCCalls {
		return nil, l.resumeError("C stack overflow")
	}

	oldNny := l.nny
	oldRunning := g.running
	l.nCcalls = nCcalls
	l.nny = 0
	g.running = l
	b := l.runProtected(func() {
		l.ensureStack(len(args))
		firstArg := l.top
		for _, a := range args {
			l.stack[l.top] = a
			l.top++
		}
		l.resume(firstArg)
	})
	g.running = oldRunning
	l.nny = oldNny
	l.nCcalls = nCcalls - 1

	switch b.status {
	case StatusOK:
		res := l.popValues(l.top - 1)
		return res, nil
	case StatusYield:
		res := l.popValues(l.top - l.ci.fn - 1)
		return res, nil
	default:
		l.status = b.status
		v := l.errorObject(b.status, b.value)
		l.ensureStack(1)
		l.stack[l.top] = v
		l.top++
		l.ci.top = l.top
		return nil, &Error{Status: b.status, Value: v, Traceback: b.traceback}
	}
}

// resume runs inside the resume boundary.
func (l *Thread) resume(firstArg int) {
	if l.status == StatusOK {
		if !l.precall(firstArg-1, MultRet) {
			l.execute()
		}
		return
	}
	// continue after a yield: the native function that yielded returns
	// the resume arguments
	l.status = StatusOK
	ci := l.ci
	ci.fn = ci.extra
	l.poscall(firstArg)
	l.unroll()
}

// unroll finishes the Lua frames interrupted by a yield. Native frames
// between a yield and its resume are never yieldable, so every frame left
// is a Lua frame.
func (l *Thread) unroll() {
	for l.ci != &l.baseCI {
		l.finishOp()
		l.execute()
	}
}

// finishOp completes the instruction that was calling the native function
// when it yielded.
func (l *Thread) finishOp() {
	ci := l.ci
	cl := l.stack[ci.fn].o.(*LClosure)
	i := cl.p.src.Code[ci.savedPC-1]
	switch i.Opcode() {
	case OpCall:
		if i.C()-1 >= 0 {
			l.top = ci.top
		}
	case OpTForCall:
		l.top = ci.top
	}
}

// Yield suspends the running coroutine from inside a native function,
// handing the top n values to Resume. Use it as
//
//	return l.Yield(n)
//
// When the coroutine is resumed, the native function returns the values
// passed to Resume.
func (l *Thread) Yield(n int) int {
	if l.nny > 0 {
		if l != l.g.mainThread {
			l.runError("attempt to yield across a C-call boundary")
		}
		l.runError("attempt to yield from outside a coroutine")
	}
	l.status = StatusYield
	ci := l.ci
	ci.extra = ci.fn
	ci.fn = l.top - n - 1
	l.throw(StatusYield, Nil)
	return 0
}

// resumeError builds the error returned for a coroutine that cannot run.
func (l *Thread) resumeError(msg string) *Error {
	return &Error{Status: StatusErrRun, Value: l.g.String(msg)}
}

// popValues removes the top n values and returns them.
func (l *Thread) popValues(n int) []Value {
	res := make([]Value, n)
	copy(res, l.stack[l.top-n:l.top])
	l.top -= n
	return res
}
