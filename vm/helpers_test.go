package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// valueCmp compares values the way the raw equality of the language does.
var valueCmp = cmp.Comparer(RawEqual)

func newTestState(t *testing.T, opts ...Option) (*State, *Thread) {
	t.Helper()
	g := NewState(opts...)
	return g, g.MainThread()
}

// callProto loads p on l, calls it with args under a protected call and
// returns its results. The stack is left as it was found.
func callProto(l *Thread, p *Prototype, args ...Value) ([]Value, error) {
	base := l.Top()
	if err := l.Load(p); err != nil {
		return nil, err
	}
	l.Push(args...)
	if err := l.PCall(len(args), MultRet, 0); err != nil {
		l.SetTop(base)
		return nil, err
	}
	res := make([]Value, l.Top()-base)
	for i := range res {
		res[i] = l.Get(base + 1 + i)
	}
	l.SetTop(base)
	return res, nil
}

// runProto is callProto for code that must not fail.
func runProto(t *testing.T, l *Thread, p *Prototype, args ...Value) []Value {
	t.Helper()
	res, err := callProto(l, p, args...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func checkResults(t *testing.T, got []Value, want ...Value) {
	t.Helper()
	if diff := cmp.Diff(want, got, valueCmp, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

// mainBuilder starts a main chunk whose only upvalue is the global table.
func mainBuilder(name string, numParams int) *ProtoBuilder {
	b := NewProtoBuilder(name, numParams)
	b.AddUpvalue("_ENV", true, 0)
	return b
}

// globalFunc starts a nested function that reaches the globals through
// the enclosing function's first upvalue.
func globalFunc(name string, numParams int) *ProtoBuilder {
	b := NewProtoBuilder(name, numParams)
	b.AddUpvalue("_ENV", false, 0)
	return b
}
