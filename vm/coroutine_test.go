package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Coroutine tests
// ---------------------------------------------------------------------------

func yieldAll(l *Thread) int {
	return l.Yield(l.Top())
}

// buildYielder creates a coroutine body that yields once:
//
//	function (a, b)
//	    local x, y = yield(a + b)
//	    return x * y
//	end
func buildYielder() *Prototype {
	b := mainBuilder("yielder", 2)
	b.ABC(OpGetTabUp, 2, 0, RK(b.Str("yield")))
	b.ABC(OpAdd, 3, 0, 1)
	b.ABC(OpCall, 2, 2, 3)
	b.ABC(OpMul, 4, 2, 3)
	b.Return(4, 1)
	return b.Build()
}

// newCoroutine creates a coroutine running p, anchored on l's stack.
func newCoroutine(t *testing.T, l *Thread, p *Prototype) *Thread {
	t.Helper()
	co := l.NewThread()
	if err := l.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.XMove(co, 1)
	return co
}

func TestCoroutineYieldResume(t *testing.T) {
	g, l := newTestState(t)
	g.Register("yield", yieldAll)

	co := newCoroutine(t, l, buildYielder())
	if st := co.Status(); st != CoSuspended {
		t.Fatalf("new coroutine status = %v, want suspended", st)
	}

	got, err := co.Resume(l, Number(2), Number(3))
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	checkResults(t, got, Number(5))
	if st := co.Status(); st != CoSuspended {
		t.Errorf("status after yield = %v, want suspended", st)
	}

	got, err = co.Resume(l, Number(4), Number(6))
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	checkResults(t, got, Number(24))
	if st := co.Status(); st != CoDead {
		t.Errorf("status after return = %v, want dead", st)
	}

	_, err = co.Resume(l)
	if err == nil || err.Error() != "cannot resume dead coroutine" {
		t.Errorf("resume of dead coroutine: %v", err)
	}
}

func TestCoroutineGenerator(t *testing.T) {
	g, l := newTestState(t)
	g.Register("yield", yieldAll)

	// function (n) for i = 1, n do yield(i) end return "end" end
	b := mainBuilder("gen", 1)
	body, loop := b.NewLabel(), b.NewLabel()
	b.LoadK(1, b.Num(1))
	b.ABC(OpMove, 2, 0, 0)
	b.LoadK(3, b.Num(1))
	b.Jump(OpForPrep, 1, loop)
	b.Mark(body)
	b.ABC(OpGetTabUp, 5, 0, RK(b.Str("yield")))
	b.ABC(OpMove, 6, 4, 0)
	b.ABC(OpCall, 5, 2, 1)
	b.Mark(loop)
	b.Jump(OpForLoop, 1, body)
	b.LoadK(5, b.Str("end"))
	b.Return(5, 1)

	co := newCoroutine(t, l, b.Build())
	var seen []Value
	args := []Value{Number(3)}
	for co.Status() == CoSuspended {
		got, err := co.Resume(l, args...)
		if err != nil {
			t.Fatalf("resume: %v", err)
		}
		seen = append(seen, got...)
		args = nil
	}
	checkResults(t, seen, Number(1), Number(2), Number(3), g.String("end"))
}

func TestCoroutineNativeBody(t *testing.T) {
	g, l := newTestState(t)

	co := l.NewThread()
	co.Push(g.NewGoClosure("body", func(l *Thread) int {
		l.PushString("from native")
		return 1
	}))
	got, err := co.Resume(l)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	checkResults(t, got, g.String("from native"))
	if co.Status() != CoDead {
		t.Errorf("status = %v, want dead", co.Status())
	}
}

func TestCoroutineError(t *testing.T) {
	g, l := newTestState(t)

	co := l.NewThread()
	co.Push(g.NewGoClosure("body", failing("broken")))
	_, err := co.Resume(l)
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := err.(*Error)
	if !ok || e.Status != StatusErrRun || e.Error() != "broken" {
		t.Errorf("error = %#v", err)
	}
	if co.Status() != CoDead {
		t.Errorf("status = %v, want dead", co.Status())
	}
	_, err = co.Resume(l)
	if err == nil || !strings.Contains(err.Error(), "cannot resume dead coroutine") {
		t.Errorf("second resume: %v", err)
	}
	// the resumer is unaffected
	checkResults(t, runProto(t, l, sumProto(), Number(3)), Number(6))
}

func TestYieldAcrossProtectedCall(t *testing.T) {
	g, l := newTestState(t)

	co := l.NewThread()
	co.Push(g.NewGoClosure("guarded", func(l *Thread) int {
		l.PushGoFunction("yield", yieldAll)
		if err := l.PCall(0, 0, 0); err == nil {
			l.PushString("yield succeeded")
		}
		return 1
	}))
	got, err := co.Resume(l)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("results = %v", got)
	}
	msg, _ := got[0].AsString()
	if !strings.Contains(msg, "attempt to yield across a C-call boundary") {
		t.Errorf("message = %q", msg)
	}
}

func TestYieldOutsideCoroutine(t *testing.T) {
	_, l := newTestState(t)

	l.PushGoFunction("yield", yieldAll)
	err := l.PCall(0, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "attempt to yield from outside a coroutine") {
		t.Errorf("error = %v", err)
	}
}

func TestResumeRunningCoroutine(t *testing.T) {
	g, l := newTestState(t)

	co := l.NewThread()
	co.Push(g.NewGoClosure("self", func(l *Thread) int {
		_, err := l.Resume(l)
		if err == nil {
			l.PushString("resumed itself")
			return 1
		}
		l.PushString(err.Error())
		return 1
	}))
	got, err := co.Resume(l)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	checkResults(t, got, g.String("cannot resume non-suspended coroutine"))
}

func TestCoroutineStatusNormal(t *testing.T) {
	g, l := newTestState(t)

	var outer *Thread
	var seen CoStatus
	inner := l.NewThread()
	inner.Push(g.NewGoClosure("inner", func(l *Thread) int {
		seen = outer.Status()
		return 0
	}))
	outer = l.NewThread()
	outer.Push(g.NewGoClosure("outer", func(l *Thread) int {
		if _, err := inner.Resume(l); err != nil {
			return l.Errorf("%v", err)
		}
		return 0
	}))

	if _, err := outer.Resume(l); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if seen != CoNormal {
		t.Errorf("resumer status seen from inside = %v, want normal", seen)
	}
	if g.Running() != l {
		t.Error("running thread not restored after resume")
	}
}

func TestCoroutineYieldFromNestedLuaCalls(t *testing.T) {
	g, l := newTestState(t)
	g.Register("yield", yieldAll)

	// local function inner(x) return yield(x) + 1 end
	inner := globalFunc("inner", 1)
	inner.ABC(OpGetTabUp, 1, 0, RK(inner.Str("yield")))
	inner.ABC(OpMove, 2, 0, 0)
	inner.ABC(OpCall, 1, 2, 2)
	inner.ABC(OpAdd, 1, 1, RK(inner.Num(1)))
	inner.Return(1, 1)

	// function (x) return inner(x) * 10 end
	b := mainBuilder("nested", 1)
	b.ABx(OpClosure, 1, b.AddProto(inner.Build()))
	b.ABC(OpMove, 2, 0, 0)
	b.ABC(OpCall, 1, 2, 2)
	b.ABC(OpMul, 1, 1, RK(b.Num(10)))
	b.Return(1, 1)

	co := newCoroutine(t, l, b.Build())
	got, err := co.Resume(l, Number(7))
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	checkResults(t, got, Number(7))
	if depth := co.CallDepth(); depth != 3 {
		t.Errorf("suspended call depth = %d, want 3", depth)
	}

	got, err = co.Resume(l, Number(4))
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	checkResults(t, got, Number(50))
}
