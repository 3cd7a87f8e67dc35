package chunk

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/lumen/vm"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// sampleProto builds
//
//	local function sq(x) return x * x end
//	return sq(...) + 1, "done"
func sampleProto() *vm.Prototype {
	sq := vm.NewProtoBuilder("sample", 1)
	sq.SetLines(1, 1)
	sq.Line(1)
	sq.ABC(vm.OpMul, 1, 0, 0)
	sq.Return(1, 1)

	b := vm.NewProtoBuilder("sample", 0).SetVararg()
	b.AddUpvalue("_ENV", true, 0)
	b.Line(2)
	b.ABx(vm.OpClosure, 0, b.AddProto(sq.Build()))
	b.ABC(vm.OpVararg, 1, 2, 0)
	b.ABC(vm.OpCall, 0, 2, 2)
	b.ABC(vm.OpAdd, 0, 0, vm.RK(b.Num(1)))
	b.LoadK(1, b.Str("done"))
	b.Return(0, 2)
	return b.Build()
}

func TestChunk_CBORRoundTrip(t *testing.T) {
	c, err := New("sample", sampleProto())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Hash != c.Hash {
		t.Error("Hash mismatch")
	}
	if got.Name != "sample" {
		t.Errorf("Name: got %q, want %q", got.Name, "sample")
	}
	if diff := cmp.Diff(c.Main, got.Main, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("prototype mismatch (-want +got):\n%s", diff)
	}
}

func TestChunk_DecodedCodeRuns(t *testing.T) {
	c, err := New("sample", sampleProto())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	g := vm.NewState()
	l := g.MainThread()
	if err := l.Load(got.Main); err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.PushNumber(7)
	if err := l.PCall(1, 2, 0); err != nil {
		t.Fatalf("PCall: %v", err)
	}
	if n, _ := l.ToNumber(1); n != 50 {
		t.Errorf("first result = %v, want 50", n)
	}
	if s, _ := l.ToString(2); s != "done" {
		t.Errorf("second result = %q, want %q", s, "done")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	h1, err := HashPrototype(sampleProto())
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashPrototype(sampleProto())
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("equal prototypes hash differently")
	}

	p := sampleProto()
	p.Constants[0] = vm.NumberConstant(2)
	h3, err := HashPrototype(p)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("changing a constant did not change the hash")
	}
}

func TestUnmarshal_HashMismatch(t *testing.T) {
	c, err := New("sample", sampleProto())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Hash[0] ^= 0xff
	data, err := Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("Unmarshal error = %v, want ErrHashMismatch", err)
	}
}

func TestUnmarshal_MissingMain(t *testing.T) {
	data, err := Marshal(&Chunk{Name: "empty"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrNoMain) {
		t.Errorf("Unmarshal error = %v, want ErrNoMain", err)
	}
}

func TestUnmarshal_Garbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("Unmarshal accepted garbage")
	}
}

func TestUnmarshal_InvalidPrototype(t *testing.T) {
	// hand-assemble a chunk whose hash is right but whose code is not
	bad := vm.NewProtoBuilder("bad", 0)
	bad.LoadK(0, bad.Num(1))
	p := bad.Build()
	h, err := HashPrototype(p)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(&Chunk{Hash: h, Name: "bad", Main: p})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, vm.ErrInvalidPrototype) {
		t.Errorf("Unmarshal error = %v, want ErrInvalidPrototype", err)
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, err := New("nil", nil); !errors.Is(err, ErrNoMain) {
		t.Errorf("New(nil) error = %v", err)
	}
	bad := vm.NewProtoBuilder("bad", 0)
	bad.ABC(vm.OpMove, 0, 1, 0)
	if _, err := New("bad", bad.Build()); !errors.Is(err, vm.ErrInvalidPrototype) {
		t.Errorf("New(bad) error = %v", err)
	}
}

func TestReadWriteFile(t *testing.T) {
	c, err := New("sample", sampleProto())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sample.lmc")
	if err := WriteFile(path, c); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Hash != c.Hash {
		t.Error("Hash mismatch after file round trip")
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.lmc")); err == nil {
		t.Error("ReadFile of a missing file succeeded")
	}
}

func TestStats(t *testing.T) {
	c, err := New("sample", sampleProto())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := Stats{Functions: 2, Instructions: 8, Constants: 2, Upvalues: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
	if (&Chunk{}).Stats() != (Stats{}) {
		t.Error("empty chunk has non-zero stats")
	}
}
