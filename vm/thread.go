package vm

// ---------------------------------------------------------------------------
// Threads and call frames
// ---------------------------------------------------------------------------

// Call status flags.
const (
	cistLua     = 1 << iota // frame runs a Lua function
	cistReentry             // frame was entered by execute's own CALL
	cistYPCall              // frame is a protected call
	cistTail                // frame was reused by a tail call
)

// callInfo describes one active function call. All positions are indices
// into the owning thread's stack, so reallocating the stack never
// invalidates a frame.
type callInfo struct {
	fn       int // stack index of the called function
	top      int // limit of the frame's registers
	base     int // first register (Lua frames)
	savedPC  int // next instruction (Lua frames)
	nresults int // wanted results, or MultRet
	status   uint8

	tailcalls int // frames elided by tail calls into this one

	// saved by yields and protected calls
	extra      int
	oldErrfunc int
	oldNny     int

	prev, next *callInfo
}

func (ci *callInfo) isLua() bool { return ci.status&cistLua != 0 }

// MultRet asks a call for all of its results.
const MultRet = -1

// Thread is an independent call stack sharing its State's heap. The main
// thread is created with the State; others are coroutines.
type Thread struct {
	header
	g      *State
	status Status

	stack     []Value
	top       int
	stackLast int // last usable slot; the rest is slack for metamethod calls

	ci     *callInfo
	baseCI callInfo
	nci    int

	openUpval *Upvalue
	twupsNext *Thread
	inTwups   bool

	nCcalls  int // nested native calls
	nny      int // non-yieldable calls in the stack
	errorJmp *boundary
	errfunc  int // stack index of the current message handler

	inHandler bool // a message handler is running

	stackFixups int // number of stack reallocations, for observers
}

func (l *Thread) kind() Type { return TypeThread }

func (l *Thread) memSize() int {
	return sizeThread + len(l.stack)*sizeSlot + l.nci*sizeCallInfo
}

// State returns the thread's interpreter.
func (l *Thread) State() *State { return l.g }

// NewThread creates a coroutine sharing l's heap and pushes it on l's
// stack, which keeps it alive until the host pops it or stores it
// somewhere reachable.
func (l *Thread) NewThread() *Thread {
	g := l.g
	l.ensureStack(1)
	co := &Thread{g: g}
	g.link(co, sizeThread)
	l.stack[l.top] = valueOf(co)
	l.top++
	co.initStack()
	return co
}

// NewThread creates a coroutine anchored on the main thread's stack.
func (g *State) NewThread() *Thread {
	return g.mainThread.NewThread()
}

// Stack limits.
const (
	minStack       = 20
	basicStackSize = 2 * minStack
	extraStack     = 5
)

func (l *Thread) initStack() {
	l.g.charge(0, (basicStackSize+extraStack)*sizeSlot)
	l.stack = make([]Value, basicStackSize+extraStack)
	l.stackLast = basicStackSize
	ci := &l.baseCI
	ci.next, ci.prev = nil, nil
	ci.status = 0
	ci.fn = 0
	l.stack[0] = Nil
	l.top = 1
	ci.top = l.top + minStack
	l.ci = ci
	l.nny = 1 // yieldable only while being resumed
}

// nextCI moves to the next call frame, reusing an allocated one if
// possible.
func (l *Thread) nextCI() *callInfo {
	if l.ci.next == nil {
		l.g.charge(0, sizeCallInfo)
		ci := &callInfo{prev: l.ci}
		l.ci.next = ci
		l.nci++
	}
	l.ci = l.ci.next
	l.ci.status = 0
	l.ci.tailcalls = 0
	return l.ci
}

// freeCI drops the frames beyond the current one.
func (l *Thread) freeCI() {
	n := 0
	for ci := l.ci.next; ci != nil; ci = ci.next {
		n++
	}
	l.ci.next = nil
	l.nci -= n
	l.g.charge(n*sizeCallInfo, 0)
}

// CallDepth returns the number of active frames, the base frame excluded.
func (l *Thread) CallDepth() int {
	n := 0
	for ci := l.ci; ci != &l.baseCI; ci = ci.prev {
		n++
	}
	return n
}

// NativeCallDepth returns the number of nested Go-level calls currently
// active on the thread. Lua-to-Lua calls and tail calls do not count.
func (l *Thread) NativeCallDepth() int { return l.nCcalls }

// StackFixups returns how many times the stack has been reallocated.
func (l *Thread) StackFixups() int { return l.stackFixups }

// StackSize returns the current number of allocated stack slots.
func (l *Thread) StackSize() int { return len(l.stack) }
