package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Collector tests
// ---------------------------------------------------------------------------

// propagateUntilBlack starts a cycle and traverses gray objects until o has
// been blackened.
func propagateUntilBlack(t *testing.T, g *State, o object) {
	t.Helper()
	if g.gcState != gcPause {
		g.runUntil(gcPause)
	}
	g.singleStep()
	for !o.hdr().isBlack() {
		if g.gcState != gcPropagate {
			t.Fatalf("collector left propagation (%s) before the object was traversed", g.gcState)
		}
		g.singleStep()
	}
}

func TestBackwardBarrierOnBlackTable(t *testing.T) {
	g, _ := newTestState(t)
	g.GCStop()

	holder := g.NewTable()
	g.SetGlobal("holder", holder)
	tab := holder.AsTable()
	propagateUntilBlack(t, g, tab)

	child := g.NewTable()
	if !child.AsTable().isWhite() {
		t.Fatal("new object is not white")
	}
	g.RawSet(holder, g.String("child"), child)
	if tab.isBlack() {
		t.Error("table stayed black after storing a white value")
	}

	g.runUntil(gcPause)
	if child.AsTable().isFreed() {
		t.Fatal("object stored into a traversed table was collected")
	}
	if got := tab.Get(g.String("child")); !RawEqual(got, child) {
		t.Errorf("holder.child = %v, want the child table", got)
	}
}

func TestForwardBarrierOnBlackUserdata(t *testing.T) {
	g, _ := newTestState(t)
	g.GCStop()

	ud := g.NewUserdata("payload", 16)
	g.SetGlobal("ud", ud)
	u := ud.AsUserdata()
	propagateUntilBlack(t, g, u)

	v := g.NewTable()
	g.SetUserValue(u, v)
	if v.AsTable().isWhite() {
		t.Error("value stored into a black userdata is still white")
	}

	g.runUntil(gcPause)
	if v.AsTable().isFreed() {
		t.Fatal("user value was collected")
	}
}

func TestUnreachableObjectCreatedDuringCycleIsFreed(t *testing.T) {
	g, _ := newTestState(t)
	g.GCStop()

	holder := g.NewTable()
	g.SetGlobal("holder", holder)
	propagateUntilBlack(t, g, holder.AsTable())

	// created before the atomic phase flips the white, so the sweep of
	// this very cycle sees it as dead
	orphan := g.NewTable().AsTable()
	g.runUntil(gcPause)
	if !orphan.isFreed() {
		t.Error("unreachable table survived the cycle it was created in")
	}
}

func TestFullGCFreesUnreachable(t *testing.T) {
	g, _ := newTestState(t)

	keep := g.NewTable()
	g.SetGlobal("keep", keep)
	var garbage []*Table
	for i := 0; i < 100; i++ {
		garbage = append(garbage, g.NewTable().AsTable())
	}
	before := g.GCCount()
	freedBefore := g.GCStats().FreedObjects

	g.FullGC()

	for i, tab := range garbage {
		if !tab.isFreed() {
			t.Fatalf("garbage table %d survived", i)
		}
	}
	if keep.AsTable().isFreed() {
		t.Fatal("reachable table was freed")
	}
	if g.GCCount() >= before {
		t.Errorf("heap did not shrink: %d -> %d", before, g.GCCount())
	}
	stats := g.GCStats()
	if stats.FreedObjects-freedBefore < 100 {
		t.Errorf("freed %d objects, want at least 100", stats.FreedObjects-freedBefore)
	}
	if stats.Cycles == 0 {
		t.Error("no completed cycle recorded")
	}
	if stats.Phase != "pause" {
		t.Errorf("phase after full collection = %q, want pause", stats.Phase)
	}
}

func TestIncrementalMutationKeepsReachableObjects(t *testing.T) {
	g, _ := newTestState(t)
	g.GCStop()

	// build a linked list while the collector runs in small steps; each
	// new node is linked in front of the previous head
	root := g.NewTable()
	g.SetGlobal("root", root)
	one := Number(1)
	for i := 0; i < 300; i++ {
		node := g.NewTable()
		g.RawSet(node, one, root.AsTable().Get(one))
		g.RawSet(node, Number(2), Number(float64(i)))
		g.RawSet(root, one, node)
		g.GCStep(0)
	}
	g.FullGC()

	n := 0
	for cur := root.AsTable().Get(one); !cur.IsNil(); cur = cur.AsTable().Get(one) {
		if cur.AsTable().isFreed() {
			t.Fatalf("node %d was freed while reachable", n)
		}
		want := Number(float64(299 - n))
		if got := cur.AsTable().Get(Number(2)); !RawEqual(got, want) {
			t.Fatalf("node %d payload = %v, want %v", n, got, want)
		}
		n++
	}
	if n != 300 {
		t.Errorf("list has %d nodes, want 300", n)
	}
}

func TestCollectorRunsFromAllocation(t *testing.T) {
	g, l := newTestState(t, WithGCPause(100), WithGCStepMul(400))

	// local t; for i = 1, n do t = {} end
	b := NewProtoBuilder("churn", 1)
	body, loop := b.NewLabel(), b.NewLabel()
	b.LoadK(2, b.Num(1))
	b.ABC(OpMove, 3, 0, 0)
	b.LoadK(4, b.Num(1))
	b.Jump(OpForPrep, 2, loop)
	b.Mark(body)
	b.ABC(OpNewTable, 1, 0, 0)
	b.Mark(loop)
	b.Jump(OpForLoop, 2, body)
	b.Return(0, 0)

	runProto(t, l, b.Build(), Number(20000))
	stats := g.GCStats()
	if stats.Steps == 0 || stats.Cycles == 0 {
		t.Errorf("collector never ran: %+v", stats)
	}
	if stats.FreedObjects == 0 {
		t.Error("no garbage collected")
	}
}

func TestGCStopAndRestart(t *testing.T) {
	g, l := newTestState(t)
	g.GCStop()
	if g.GCRunning() {
		t.Fatal("GCRunning after GCStop")
	}
	p := NewProtoBuilder("alloc", 0)
	p.ABC(OpNewTable, 0, 0, 0)
	p.Return(0, 0)
	proto := p.Build()
	for i := 0; i < 2000; i++ {
		runProto(t, l, proto)
	}
	if steps := g.GCStats().Steps; steps != 0 {
		t.Errorf("%d collector steps ran while stopped", steps)
	}
	g.GCRestart()
	if !g.GCRunning() {
		t.Fatal("not running after GCRestart")
	}
	for !g.GCStep(64) {
	}
	if g.GCStats().Cycles == 0 {
		t.Error("explicit steps did not finish a cycle")
	}
}

func TestTuningSetters(t *testing.T) {
	g, _ := newTestState(t)
	if old := g.SetGCPause(150); old != DefaultGCPause {
		t.Errorf("SetGCPause returned %d, want %d", old, DefaultGCPause)
	}
	if old := g.SetGCPause(300); old != 150 {
		t.Errorf("SetGCPause returned %d, want 150", old)
	}
	if old := g.SetGCStepMul(100); old != DefaultGCStepMul {
		t.Errorf("SetGCStepMul returned %d, want %d", old, DefaultGCStepMul)
	}
}

func TestMemoryLimit(t *testing.T) {
	g, l := newTestState(t, WithMemoryLimit(64*1024))
	g.GCStop()

	// local t = {}; for i = 1, 1e6 do t[i] = {} end
	b := NewProtoBuilder("hog", 0)
	body, loop := b.NewLabel(), b.NewLabel()
	b.ABC(OpNewTable, 0, 0, 0)
	b.LoadK(1, b.Num(1))
	b.LoadK(2, b.Num(1e6))
	b.LoadK(3, b.Num(1))
	b.Jump(OpForPrep, 1, loop)
	b.Mark(body)
	b.ABC(OpNewTable, 5, 0, 0)
	b.ABC(OpSetTable, 0, 4, 5)
	b.Mark(loop)
	b.Jump(OpForLoop, 1, body)
	b.Return(0, 0)

	_, err := callProto(l, b.Build())
	if err == nil {
		t.Fatal("expected a memory error")
	}
	e := err.(*Error)
	if e.Status != StatusErrMem || e.Error() != "not enough memory" {
		t.Errorf("error = %v (%v)", e, e.Status)
	}
	// the live table is garbage now; the state keeps working
	g.FullGC()
	checkResults(t, runProto(t, l, sumProto(), Number(4)), Number(10))
}

func TestEmergencyCollectionSkipsFinalizers(t *testing.T) {
	g, _ := newTestState(t, WithMemoryLimit(256*1024))
	g.SetGCPause(1 << 30)

	calls := 0
	mt := finalizerMeta(g, func(l *Thread) int {
		calls++
		return 0
	})
	g.SetMetatable(g.NewUserdata("resource", 8), mt)

	// more garbage than the limit allows; only emergency collections can
	// make room for it
	for i := 0; i < 20000; i++ {
		g.NewTable()
	}

	s := g.GCStats()
	if s.Cycles == 0 || s.FreedObjects == 0 {
		t.Fatalf("no emergency collection reclaimed garbage: %+v", s)
	}
	if calls != 0 || s.FinalizersRun != 0 {
		t.Fatalf("finalizer ran %d times during emergency collections", calls)
	}
	if g.tobefnz == nil {
		t.Fatal("unreachable finalizable object is not pending")
	}

	g.FullGC()
	if calls != 1 {
		t.Errorf("finalizer ran %d times after a full collection, want 1", calls)
	}
}

// ---------------------------------------------------------------------------
// Finalizers
// ---------------------------------------------------------------------------

// finalizerMeta returns a metatable whose __gc runs fn.
func finalizerMeta(g *State, fn GoFunction) *Table {
	mt := g.NewTable()
	g.RawSet(mt, g.String("__gc"), g.NewGoClosure("gc", fn))
	return mt.AsTable()
}

func TestFinalizerRunsOnce(t *testing.T) {
	g, _ := newTestState(t)

	var finalized []Value
	mt := finalizerMeta(g, func(l *Thread) int {
		finalized = append(finalized, l.Get(1))
		return 0
	})
	ud := g.NewUserdata("resource", 8)
	g.SetMetatable(ud, mt)
	u := ud.AsUserdata()

	g.FullGC()
	if len(finalized) != 1 || !RawEqual(finalized[0], ud) {
		t.Fatalf("finalizer calls = %v, want one call with the userdata", finalized)
	}
	if u.isFreed() {
		t.Fatal("object freed in the same cycle as its finalizer ran")
	}

	g.FullGC()
	if len(finalized) != 1 {
		t.Errorf("finalizer ran %d times", len(finalized))
	}
	if !u.isFreed() {
		t.Error("finalized object not freed by the next cycle")
	}
	if runs := g.GCStats().FinalizersRun; runs != 1 {
		t.Errorf("FinalizersRun = %d, want 1", runs)
	}
}

func TestFinalizerResurrection(t *testing.T) {
	g, _ := newTestState(t)

	calls := 0
	mt := finalizerMeta(g, func(l *Thread) int {
		calls++
		l.Push(l.Get(1))
		l.SetGlobal("revived")
		return 0
	})
	tab := g.NewTable()
	g.SetMetatable(tab, mt)

	g.FullGC()
	g.FullGC()
	if calls != 1 {
		t.Fatalf("finalizer ran %d times, want 1", calls)
	}
	revived := g.GetGlobal("revived")
	if !RawEqual(revived, tab) {
		t.Fatal("finalizer did not store the object")
	}
	if tab.AsTable().isFreed() {
		t.Fatal("resurrected object was freed")
	}

	// once unreachable again it is simply collected
	g.SetGlobal("revived", Nil)
	g.FullGC()
	if calls != 1 {
		t.Errorf("finalizer ran again (%d calls)", calls)
	}
	if !tab.AsTable().isFreed() {
		t.Error("object not freed after it became unreachable again")
	}
}

func TestFinalizerOrder(t *testing.T) {
	g, _ := newTestState(t)

	var order []float64
	mt := finalizerMeta(g, func(l *Thread) int {
		l.GetField(1, "id")
		n, _ := l.ToNumber(-1)
		order = append(order, n)
		return 0
	})
	for i := 1; i <= 3; i++ {
		tab := g.NewTable()
		g.RawSet(tab, g.String("id"), Number(float64(i)))
		g.SetMetatable(tab, mt)
	}
	g.FullGC()
	if len(order) != 3 {
		t.Fatalf("ran %d finalizers, want 3", len(order))
	}
	// most recently created first
	if order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("finalization order = %v, want [3 2 1]", order)
	}
}

func TestFinalizerErrorIsContained(t *testing.T) {
	var reported []*Error
	g, l := newTestState(t, WithFinalizerErrorHandler(func(err *Error) {
		reported = append(reported, err)
	}))

	mt := finalizerMeta(g, failing("cleanup failed"))
	ran := false
	okMT := finalizerMeta(g, func(l *Thread) int {
		ran = true
		return 0
	})
	g.SetMetatable(g.NewTable(), okMT)
	g.SetMetatable(g.NewTable(), mt)

	g.FullGC()

	if len(reported) != 1 {
		t.Fatalf("reported %d finalizer errors, want 1", len(reported))
	}
	err := reported[0]
	if err.Status != StatusErrGCMM {
		t.Errorf("status = %v, want %v", err.Status, StatusErrGCMM)
	}
	if !strings.Contains(err.Error(), "error in __gc metamethod") || !strings.Contains(err.Error(), "cleanup failed") {
		t.Errorf("message = %q", err.Error())
	}
	if !ran {
		t.Error("a failing finalizer prevented the others from running")
	}
	if g.GCStats().FinalizerErrors != 1 {
		t.Errorf("FinalizerErrors = %d, want 1", g.GCStats().FinalizerErrors)
	}
	// execution continues normally
	checkResults(t, runProto(t, l, sumProto(), Number(2)), Number(3))
}

func TestMetatableWithoutGCAtSetTimeIsNotFinalized(t *testing.T) {
	g, _ := newTestState(t)

	calls := 0
	mt := g.NewTable()
	obj := g.NewTable()
	g.SetMetatable(obj, mt.AsTable())
	// __gc added after the metatable was set has no effect
	g.RawSet(mt, g.String("__gc"), g.NewGoClosure("gc", func(l *Thread) int {
		calls++
		return 0
	}))
	g.FullGC()
	if calls != 0 {
		t.Errorf("finalizer ran %d times, want 0", calls)
	}
}
