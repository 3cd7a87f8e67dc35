package vm

// ---------------------------------------------------------------------------
// Stack management
// ---------------------------------------------------------------------------

// errorStackExtra is the number of slots granted past the limit so that an error
// handler can run after "stack overflow".
const errorStackExtra = 200

// ensureStack makes room for n more slots above top.
func (l *Thread) ensureStack(n int) {
	if l.stackLast-l.top <= n {
		l.growStack(n)
	}
}

// growStack reallocates the stack to fit n more slots. Frames and open
// upvalues hold indices, so relocation needs no pointer fix-up; the copy
// into the new slice is the whole operation.
func (l *Thread) growStack(n int) {
	size := len(l.stack)
	limit := l.g.maxStack
	if size > limit {
		// already using the extra space granted to handle an overflow
		l.throw(StatusErrErr, valueOf(l.g.errErrMsg))
	}
	needed := l.top + n + extraStack
	newSize := 2 * size
	if newSize > limit {
		newSize = limit
	}
	if newSize < needed {
		newSize = needed
	}
	if newSize > limit {
		l.reallocStack(limit + errorStackExtra)
		l.runError("stack overflow")
	}
	l.reallocStack(newSize)
}

func (l *Thread) reallocStack(newSize int) {
	l.g.charge(len(l.stack)*sizeSlot, newSize*sizeSlot)
	stack := make([]Value, newSize)
	copy(stack, l.stack)
	l.stack = stack
	l.stackLast = newSize - extraStack
	l.stackFixups++
}

// stackInUse returns the highest slot any frame may touch.
func (l *Thread) stackInUse() int {
	lim := l.top
	for ci := l.ci; ci != nil; ci = ci.prev {
		if lim < ci.top {
			lim = ci.top
		}
	}
	return lim + 1
}

// shrinkStack releases slack left behind by deep recursion. Called by the
// sweeper for every live thread.
func (l *Thread) shrinkStack() {
	if l.stack == nil {
		return
	}
	inuse := l.stackInUse()
	good := inuse + inuse/8 + 2*extraStack
	if good > l.g.maxStack {
		good = l.g.maxStack
	}
	if good < basicStackSize+extraStack {
		good = basicStackSize + extraStack
	}
	l.freeCI()
	if inuse <= l.g.maxStack && good < len(l.stack) {
		l.reallocStack(good)
	}
}
