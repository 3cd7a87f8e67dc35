package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/lumen/vm"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
pause = 150
step-mul = 400

[limits]
max-stack = 5000
max-c-calls = 50
memory-limit = 1048576

[log]
verbosity = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Config{
		GC:     GC{Pause: 150, StepMul: 400},
		Limits: Limits{MaxStack: 5000, MaxCCalls: 50, MemoryLimit: 1 << 20},
		Log:    Log{Verbosity: 2},
		Path:   filepath.Join(dir, FileName),
	}
	if diff := cmp.Diff(want, *c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
pause = 300
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.GC.Pause != 300 {
		t.Errorf("gc.pause = %d, want 300", c.GC.Pause)
	}
	if c.GC.StepMul != vm.DefaultGCStepMul {
		t.Errorf("gc.step-mul = %d, want default %d", c.GC.StepMul, vm.DefaultGCStepMul)
	}
	if c.Limits.MaxStack != vm.DefaultMaxStack || c.Limits.MaxCCalls != vm.DefaultMaxCCalls {
		t.Errorf("limits = %+v, want defaults", c.Limits)
	}
	if c.Limits.MemoryLimit != 0 {
		t.Errorf("memory-limit = %d, want unlimited", c.Limits.MemoryLimit)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"zero pause", "[gc]\npause = 0\n", "gc.pause must be positive"},
		{"negative step", "[gc]\nstep-mul = -1\n", "gc.step-mul must be positive"},
		{"tiny stack", "[limits]\nmax-stack = 10\n", "limits.max-stack must be at least"},
		{"no native calls", "[limits]\nmax-c-calls = 0\n", "limits.max-c-calls must be positive"},
		{"negative memory", "[limits]\nmemory-limit = -5\n", "limits.memory-limit must not be negative"},
		{"verbosity", "[log]\nverbosity = 9\n", "log.verbosity must be between"},
		{"unknown key", "[gc]\nspeed = 3\n", "unknown keys gc.speed"},
		{"unknown table", "[project]\nname = \"x\"\n", "unknown keys project"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse("[gc\npause = ")
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if errors.Is(err, ErrInvalid) {
		t.Errorf("syntax error reported as a validation failure: %v", err)
	}
	if !strings.Contains(err.Error(), "parse error") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without lumen.toml succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "[limits]\nmax-c-calls = 77\n")

	c, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Limits.MaxCCalls != 77 {
		t.Errorf("max-c-calls = %d, want 77", c.Limits.MaxCCalls)
	}
	if c.Path != filepath.Join(dir, FileName) {
		t.Errorf("path = %q", c.Path)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if diff := cmp.Diff(*Default(), *c); diff != "" {
		t.Errorf("expected defaults (-want +got):\n%s", diff)
	}
}

func TestOptionsConfigureState(t *testing.T) {
	c := Default()
	c.GC.Pause = 120
	c.GC.StepMul = 300
	c.Limits.MaxCCalls = 40

	g := vm.NewState(c.Options()...)
	// the setters report the previous value
	if prev := g.SetGCPause(vm.DefaultGCPause); prev != 120 {
		t.Errorf("state pause = %d, want 120", prev)
	}
	if prev := g.SetGCStepMul(vm.DefaultGCStepMul); prev != 300 {
		t.Errorf("state step-mul = %d, want 300", prev)
	}
}

func TestOptionsMemoryLimit(t *testing.T) {
	c := Default()
	if n := len(c.Options()); n != 4 {
		t.Errorf("unlimited config produced %d options, want 4", n)
	}
	c.Limits.MemoryLimit = 64 << 10
	if n := len(c.Options()); n != 5 {
		t.Errorf("limited config produced %d options, want 5", n)
	}

	g := vm.NewState(c.Options()...)
	g.GCStop()
	l := g.MainThread()
	l.PushGoFunction("grow", func(l *vm.Thread) int {
		for {
			l.NewTable()
		}
	})
	err := l.PCall(0, 0, 0)
	var verr *vm.Error
	if !errors.As(err, &verr) || verr.Status != vm.StatusErrMem {
		t.Errorf("PCall error = %v, want a memory error", err)
	}
}
