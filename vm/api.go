package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Host interface: stack access
// ---------------------------------------------------------------------------
//
// Native functions and the host address the stack of the running frame
// with 1-based indices: 1 is the first argument (or the first slot above
// the base frame), and negative indices count down from the top.

// index converts an API index to an absolute stack position.
func (l *Thread) index(idx int) int {
	switch {
	case idx > 0:
		return l.ci.fn + idx
	case idx < 0 && l.top+idx > l.ci.fn:
		return l.top + idx
	}
	panic(fmt.Sprintf("vm: invalid stack index %d", idx))
}

// Top returns the number of values in the current frame.
func (l *Thread) Top() int { return l.top - (l.ci.fn + 1) }

// SetTop sets the number of values in the current frame, filling new slots
// with nil. A negative n removes -n-1 values.
func (l *Thread) SetTop(n int) {
	if n >= 0 {
		want := l.ci.fn + 1 + n
		l.ensureStack(want - l.top)
		for l.top < want {
			l.stack[l.top] = Nil
			l.top++
		}
		l.top = want
		return
	}
	l.top += n + 1
}

// CheckStack makes room for n more values. It reports false if the stack
// would exceed its limit.
func (l *Thread) CheckStack(n int) bool {
	if l.top+n+extraStack > l.g.maxStack {
		return false
	}
	l.ensureStack(n)
	if l.ci.top < l.top+n {
		l.ci.top = l.top + n
	}
	return true
}

// Push pushes values onto the stack.
func (l *Thread) Push(vs ...Value) {
	l.ensureStack(len(vs))
	for _, v := range vs {
		l.stack[l.top] = v
		l.top++
	}
}

// Pop removes the top n values.
func (l *Thread) Pop(n int) {
	l.top -= n
}

// Get returns the value at idx, or nil above the top.
func (l *Thread) Get(idx int) Value {
	if idx > 0 && l.ci.fn+idx >= l.top {
		return Nil
	}
	return l.stack[l.index(idx)]
}

// Set replaces the value at idx.
func (l *Thread) Set(idx int, v Value) {
	l.stack[l.index(idx)] = v
}

// XMove pops n values from l and pushes them onto to, which must belong
// to the same state.
func (l *Thread) XMove(to *Thread, n int) {
	if l == to || n == 0 {
		return
	}
	to.ensureStack(n)
	copy(to.stack[to.top:], l.stack[l.top-n:l.top])
	to.top += n
	l.top -= n
}

// PushNil pushes nil.
func (l *Thread) PushNil() { l.Push(Nil) }

// PushNumber pushes a number.
func (l *Thread) PushNumber(f float64) { l.Push(Number(f)) }

// PushBool pushes a boolean.
func (l *Thread) PushBool(b bool) { l.Push(Bool(b)) }

// PushString interns s and pushes it.
func (l *Thread) PushString(s string) {
	l.ensureStack(1)
	v := l.g.String(s)
	l.stack[l.top] = v
	l.top++
}

// PushGoFunction pushes a native function.
func (l *Thread) PushGoFunction(name string, fn GoFunction) {
	l.ensureStack(1)
	v := l.g.NewGoClosure(name, fn)
	l.stack[l.top] = v
	l.top++
}

// NewTable creates a table and pushes it.
func (l *Thread) NewTable() *Table {
	l.ensureStack(1)
	t := l.g.newTable(0, 0)
	l.stack[l.top] = valueOf(t)
	l.top++
	return t
}

// NewUserdata creates a userdata and pushes it.
func (l *Thread) NewUserdata(data any, size int) *Userdata {
	l.ensureStack(1)
	u := l.g.newUserdata(data, size)
	l.stack[l.top] = valueOf(u)
	l.top++
	return u
}

// Upvalue returns upvalue n (1-based) of the running native function, or
// nil if it has fewer.
func (l *Thread) Upvalue(n int) Value {
	f, ok := l.stack[l.ci.fn].o.(*GoClosure)
	if !ok || n < 1 || n > len(f.upvals) {
		return Nil
	}
	return f.upvals[n-1]
}

// ToNumber converts the value at idx to a number, accepting numeric
// strings.
func (l *Thread) ToNumber(idx int) (float64, bool) {
	return toNumber(l.Get(idx))
}

// ToString converts the value at idx to a string, accepting numbers.
func (l *Thread) ToString(idx int) (string, bool) {
	v := l.Get(idx)
	switch v.t {
	case TypeString:
		return v.o.(*String).s, true
	case TypeNumber:
		return formatNumber(v.n), true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Host interface: tables and metatables
// ---------------------------------------------------------------------------

// GetTable pushes t[k], where t is at idx and k is popped from the top.
// Metamethods may run.
func (l *Thread) GetTable(idx int) {
	t := l.Get(idx)
	v := l.getTable(t, l.stack[l.top-1])
	l.stack[l.top-1] = v
}

// SetTable performs t[k] = v, where t is at idx, v is the top value and k
// the one below it. Both are popped. Metamethods may run.
func (l *Thread) SetTable(idx int) {
	t := l.Get(idx)
	l.setTable(t, l.stack[l.top-2], l.stack[l.top-1])
	l.top -= 2
}

// GetField pushes t[name], where t is at idx.
func (l *Thread) GetField(idx int, name string) {
	t := l.Get(idx)
	l.PushString(name)
	v := l.getTable(t, l.stack[l.top-1])
	l.stack[l.top-1] = v
}

// SetField performs t[name] = v, where t is at idx and v is popped.
func (l *Thread) SetField(idx int, name string) {
	t := l.Get(idx)
	l.PushString(name)
	l.setTable(t, l.stack[l.top-1], l.stack[l.top-2])
	l.top -= 2
}

// RawGet is GetTable without metamethods.
func (l *Thread) RawGet(idx int) {
	t := l.Get(idx).AsTable()
	if t == nil {
		l.typeError(l.Get(idx), "index")
	}
	l.stack[l.top-1] = t.Get(l.stack[l.top-1])
}

// RawSet is SetTable without metamethods. The store is barriered.
func (l *Thread) RawSet(idx int) {
	t := l.Get(idx).AsTable()
	if t == nil {
		l.typeError(l.Get(idx), "index")
	}
	l.rawSet(t, l.stack[l.top-2], l.stack[l.top-1])
	l.top -= 2
}

// RawGetInt pushes t[n] for the table at idx without metamethods.
func (l *Thread) RawGetInt(idx, n int) {
	t := l.Get(idx).AsTable()
	if t == nil {
		l.typeError(l.Get(idx), "index")
	}
	l.Push(t.GetInt(n))
}

// SetMetatable pops a table (or nil) and makes it the metatable of the
// value at idx.
func (l *Thread) SetMetatable(idx int) {
	v := l.Get(idx)
	mt := l.stack[l.top-1].AsTable()
	l.g.SetMetatable(v, mt)
	l.top--
}

// GetGlobal pushes the global name.
func (l *Thread) GetGlobal(name string) {
	l.Push(l.g.Globals())
	l.GetField(-1, name)
	l.stack[l.top-2] = l.stack[l.top-1]
	l.top--
}

// SetGlobal pops a value and assigns it to the global name.
func (l *Thread) SetGlobal(name string) {
	l.Push(l.g.Globals())
	l.stack[l.top-1], l.stack[l.top-2] = l.stack[l.top-2], l.stack[l.top-1]
	l.SetField(-2, name)
	l.top--
}

// ---------------------------------------------------------------------------
// Host interface: calls
// ---------------------------------------------------------------------------

// Call calls the function below the top nargs values. Its results replace
// the function and the arguments; MultRet keeps all of them. Errors
// propagate to the enclosing protected call.
func (l *Thread) Call(nargs, nresults int) {
	fn := l.top - nargs - 1
	l.call(fn, nresults, false)
	if nresults == MultRet && l.ci.top < l.top {
		l.ci.top = l.top
	}
}

// PCall is Call in protected mode. On error the stack is restored to its
// state before the call with the error value in place of the function and
// arguments, and the error is returned as *Error. msgh, if not zero, is the
// index of a message handler that receives the error value first.
func (l *Thread) PCall(nargs, nresults, msgh int) error {
	ef := 0
	if msgh != 0 {
		ef = l.index(msgh)
	}
	fn := l.top - nargs - 1
	if err := l.pcall(func() { l.call(fn, nresults, false) }, fn, ef); err != nil {
		return err
	}
	if nresults == MultRet && l.ci.top < l.top {
		l.ci.top = l.top
	}
	return nil
}

// Load verifies p and pushes a closure for it. The closure's first upvalue,
// if it has one, is the global table.
func (l *Thread) Load(p *Prototype) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g := l.g
	oldTop := l.top
	err := l.pcall(func() {
		g.gcLock = true
		defer func() { g.gcLock = false }()
		l.ensureStack(1)
		f := g.newProto(p)
		c := g.newLClosure(f, len(p.Upvalues))
		l.stack[l.top] = valueOf(c)
		l.top++
		for i := range c.upvals {
			c.upvals[i] = g.newUpvalue()
		}
		if len(c.upvals) > 0 {
			c.upvals[0].set(g, g.Globals())
		}
	}, oldTop, 0)
	if err != nil {
		l.top = oldTop
		return fmt.Errorf("vm: loading %s: %w", p.Source, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Host interface: argument checks and errors for native functions
// ---------------------------------------------------------------------------

// Errorf raises a runtime error whose message is prefixed with the
// position of the Lua code that called the native function.
func (l *Thread) Errorf(format string, args ...any) int {
	msg := l.callerWhere() + fmt.Sprintf(format, args...)
	l.errorMsg(l.g.String(msg))
	return 0
}

// Error raises v as an error value, unchanged.
func (l *Thread) Error(v Value) int {
	l.errorMsg(v)
	return 0
}

// ArgError raises an error about argument arg of the running native
// function.
func (l *Thread) ArgError(arg int, msg string) int {
	name := "?"
	if f, ok := l.stack[l.ci.fn].o.(*GoClosure); ok {
		name = f.name
	}
	return l.Errorf("bad argument #%d to '%s' (%s)", arg, name, msg)
}

// CheckNumber returns argument arg as a number or raises an error.
func (l *Thread) CheckNumber(arg int) float64 {
	f, ok := l.ToNumber(arg)
	if !ok {
		l.ArgError(arg, fmt.Sprintf("number expected, got %s", l.typeNameAt(arg)))
	}
	return f
}

// CheckString returns argument arg as a string or raises an error.
func (l *Thread) CheckString(arg int) string {
	s, ok := l.ToString(arg)
	if !ok {
		l.ArgError(arg, fmt.Sprintf("string expected, got %s", l.typeNameAt(arg)))
	}
	return s
}

func (l *Thread) typeNameAt(arg int) string {
	if arg > l.Top() {
		return "no value"
	}
	return l.Get(arg).t.String()
}

// callerWhere returns the position of the Lua function that called the
// running native function.
func (l *Thread) callerWhere() string {
	ci := l.ci.prev
	if ci == nil || !ci.isLua() {
		return ""
	}
	p := l.stack[ci.fn].o.(*LClosure).p.src
	if line := p.lineAt(ci.savedPC - 1); line > 0 {
		return fmt.Sprintf("%s:%d: ", p.Source, line)
	}
	return ""
}
