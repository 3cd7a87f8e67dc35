package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Tail-Call Optimization (TCO) tests
// ---------------------------------------------------------------------------

// depthProbe records the frame depths seen from a native function called
// at the bottom of a recursion.
type depthProbe struct {
	calls  int
	native int
	frames int
}

func (d *depthProbe) register(g *State) {
	g.Register("probe", func(l *Thread) int {
		d.calls++
		d.native = l.NativeCallDepth()
		d.frames = l.CallDepth()
		l.PushString("done")
		return 1
	})
}

// buildTailCountdown creates a chunk defining a tail-recursive countdown
// and calling it with its first argument:
//
//	function f(n)
//	    if n == 0 then return probe() end
//	    return f(n - 1)
//	end
//	return f(...)
//
// The recursive call is in tail position, so the frame of f is reused.
func buildTailCountdown() *Prototype {
	f := globalFunc("f", 1)
	rec := f.NewLabel()
	f.ABC(OpEq, 0, 0, RK(f.Num(0)))
	f.Jump(OpJmp, 0, rec)
	f.ABC(OpGetTabUp, 1, 0, RK(f.Str("probe")))
	f.ABC(OpCall, 1, 1, 2)
	f.Return(1, 1)
	f.Mark(rec)
	f.ABC(OpGetTabUp, 1, 0, RK(f.Str("f")))
	f.ABC(OpSub, 2, 0, RK(f.Num(1)))
	f.ABC(OpTailCall, 1, 2, 0)
	f.Return(1, -1)

	b := mainBuilder("countdown", 1)
	idx := b.AddProto(f.Build())
	b.ABx(OpClosure, 1, idx)
	b.ABC(OpSetTabUp, 0, RK(b.Str("f")), 1)
	b.ABC(OpMove, 2, 0, 0)
	b.ABC(OpCall, 1, 2, 2)
	b.Return(1, 1)
	return b.Build()
}

func TestTailCallDeepRecursion(t *testing.T) {
	g, l := newTestState(t, WithMaxStack(1000))
	var probe depthProbe
	probe.register(g)

	got := runProto(t, l, buildTailCountdown(), Number(100000))
	checkResults(t, got, g.String("done"))
	if probe.calls != 1 {
		t.Fatalf("probe called %d times, want 1", probe.calls)
	}
}

func TestTailCallKeepsDepthConstant(t *testing.T) {
	g, l := newTestState(t)
	var probe depthProbe
	probe.register(g)
	p := buildTailCountdown()

	runProto(t, l, p, Number(1))
	shallowNative, shallowFrames := probe.native, probe.frames

	runProto(t, l, p, Number(50000))
	if probe.native != shallowNative {
		t.Errorf("native depth after 50000 tail calls = %d, want %d", probe.native, shallowNative)
	}
	if probe.frames != shallowFrames {
		t.Errorf("frame depth after 50000 tail calls = %d, want %d", probe.frames, shallowFrames)
	}
	// chunk, f and the probe itself
	if probe.frames != 3 {
		t.Errorf("frame depth = %d, want 3", probe.frames)
	}
}

func TestLuaCallsDoNotUseNativeDepth(t *testing.T) {
	g, l := newTestState(t)
	var probe depthProbe
	probe.register(g)

	// function f(n)
	//     if n == 0 then return probe() end
	//     local r = f(n - 1)
	//     return r
	// end
	f := globalFunc("f", 1)
	rec := f.NewLabel()
	f.ABC(OpEq, 0, 0, RK(f.Num(0)))
	f.Jump(OpJmp, 0, rec)
	f.ABC(OpGetTabUp, 1, 0, RK(f.Str("probe")))
	f.ABC(OpCall, 1, 1, 2)
	f.Return(1, 1)
	f.Mark(rec)
	f.ABC(OpGetTabUp, 1, 0, RK(f.Str("f")))
	f.ABC(OpSub, 2, 0, RK(f.Num(1)))
	f.ABC(OpCall, 1, 2, 2)
	f.Return(1, 1)

	b := mainBuilder("nontail", 1)
	idx := b.AddProto(f.Build())
	b.ABx(OpClosure, 1, idx)
	b.ABC(OpSetTabUp, 0, RK(b.Str("f")), 1)
	b.ABC(OpMove, 2, 0, 0)
	b.ABC(OpCall, 1, 2, 2)
	b.Return(1, 1)
	p := b.Build()

	runProto(t, l, p, Number(0))
	baseNative := probe.native

	runProto(t, l, p, Number(500))
	if probe.native != baseNative {
		t.Errorf("native depth = %d, want %d", probe.native, baseNative)
	}
	// chunk, 501 activations of f and the probe
	if probe.frames != 503 {
		t.Errorf("frame depth = %d, want 503", probe.frames)
	}
}

func TestTailCallToNativeFunction(t *testing.T) {
	g, l := newTestState(t)
	g.Register("pair", func(l *Thread) int {
		l.PushNumber(1)
		l.PushNumber(2)
		return 2
	})

	// return pair()
	b := mainBuilder("tailnative", 0)
	b.ABC(OpGetTabUp, 0, 0, RK(b.Str("pair")))
	b.ABC(OpTailCall, 0, 1, 0)
	b.Return(0, -1)

	checkResults(t, runProto(t, l, b.Build()), Number(1), Number(2))
}

func TestTailCallVararg(t *testing.T) {
	_, l := newTestState(t)

	// local function last(...) local a, b, c = ...; return c end
	last := NewProtoBuilder("last", 0).SetVararg()
	last.ABC(OpVararg, 0, 4, 0)
	last.Return(2, 1)

	// function (...) return last(...) end
	b := NewProtoBuilder("forward", 0).SetVararg()
	idx := b.AddProto(last.Build())
	b.ABx(OpClosure, 0, idx)
	b.ABC(OpVararg, 1, 0, 0)
	b.ABC(OpTailCall, 0, 0, 0)
	b.Return(0, -1)

	got := runProto(t, l, b.Build(), Number(7), Number(8), Number(9))
	checkResults(t, got, Number(9))
}
