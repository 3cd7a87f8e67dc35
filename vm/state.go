package vm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// State: one heap, its collector and its threads
// ---------------------------------------------------------------------------

// Defaults for the tunables exposed through Options and the config file.
const (
	DefaultGCPause   = 200     // wait for the heap to double before a new cycle
	DefaultGCStepMul = 200     // collector runs twice the speed of allocation
	DefaultMaxStack  = 1000000 // slots per thread
	DefaultMaxCCalls = 200     // nested native calls
)

// State owns everything shared by the threads of one interpreter: the
// collector and its object lists, the string table, the registry and the
// per-type metatables. A State must be used by one goroutine at a time.
type State struct {
	id uuid.UUID

	alloc      Allocator
	totalBytes int // bytes currently accounted to live and garbage objects
	gcDebt     int // bytes allocated beyond the threshold
	threshold  int
	estimate   int // estimated live bytes after the last cycle

	gcPause   int
	gcStepMul int
	gcRunning bool // false while stopped by the host
	gcLock    bool // set while installing prototypes
	inGC      bool // a collector step is running
	emergency bool

	gcState      gcPhase
	currentWhite uint8

	strt       stringTable
	allgc      object    // all collectable objects except strings and open upvalues
	finobj     object    // objects with a __gc metamethod
	tobefnz    object    // unreached objects waiting for their finalizer
	sweepgc    *object   // link currently being swept
	sweepStr   int       // next string bucket to sweep
	gray       []object  // objects to traverse
	grayagain  []object  // objects to traverse again in the atomic phase
	weak       []*Table  // tables with weak values
	ephemeron  []*Table  // tables with weak keys
	allweak    []*Table  // tables with weak keys and values
	twups      *Thread   // threads with open upvalues
	mainThread *Thread
	running    *Thread

	registry *Table
	mt       [numTypes]*Table
	tmName   [tmN]*String

	memErrMsg *String
	errErrMsg *String

	maxStack  int
	maxCCalls int

	panicHandler     func(l *Thread, err *Error)
	onFinalizerError func(err *Error)

	stats      GCStats
	cycleStart time.Time
}

// Option configures a State at creation time.
type Option func(*State)

// WithAllocator routes every heap accounting change through a.
func WithAllocator(a Allocator) Option {
	return func(g *State) { g.alloc = a }
}

// WithMemoryLimit installs a LimitAllocator with the given byte limit.
func WithMemoryLimit(limit int) Option {
	return func(g *State) {
		if limit > 0 {
			g.alloc = LimitAllocator(limit)
		}
	}
}

// WithPanicHandler installs the hook invoked when an error escapes every
// protected call. The default logs the error and panics.
func WithPanicHandler(fn func(l *Thread, err *Error)) Option {
	return func(g *State) { g.panicHandler = fn }
}

// WithFinalizerErrorHandler installs the hook receiving errors raised by
// __gc metamethods. Finalizer errors never propagate out of the collector.
func WithFinalizerErrorHandler(fn func(err *Error)) Option {
	return func(g *State) { g.onFinalizerError = fn }
}

// WithGCPause sets the collector pause (percent of live heap to wait for).
func WithGCPause(pause int) Option {
	return func(g *State) { g.gcPause = pause }
}

// WithGCStepMul sets the collector speed relative to allocation (percent).
func WithGCStepMul(mul int) Option {
	return func(g *State) { g.gcStepMul = mul }
}

// WithMaxStack bounds the number of stack slots per thread.
func WithMaxStack(n int) Option {
	return func(g *State) { g.maxStack = n }
}

// WithMaxCCalls bounds the depth of nested native calls.
func WithMaxCCalls(n int) Option {
	return func(g *State) { g.maxCCalls = n }
}

// NewState creates an interpreter with an empty global table.
func NewState(opts ...Option) *State {
	g := &State{
		id:           uuid.New(),
		alloc:        func(int, int) bool { return true },
		gcPause:      DefaultGCPause,
		gcStepMul:    DefaultGCStepMul,
		maxStack:     DefaultMaxStack,
		maxCCalls:    DefaultMaxCCalls,
		currentWhite: 1 << white0Bit,
		gcState:      gcPause,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.strt = newStringTable()

	l := &Thread{g: g}
	l.marked = g.newWhite()
	g.mainThread = l
	g.running = l
	l.initStack()

	g.registry = g.newTable(2, 0)
	g.registry.set(g, Number(1), valueOf(l))
	g.registry.set(g, Number(2), valueOf(g.newTable(0, 0)))

	g.memErrMsg = g.intern("not enough memory")
	g.memErrMsg.marked |= 1 << fixedBit
	g.errErrMsg = g.intern("error in error handling")
	g.errErrMsg.marked |= 1 << fixedBit
	for e, name := range tmNames {
		g.tmName[e] = g.intern(name)
		g.tmName[e].marked |= 1 << fixedBit
	}

	g.gcRunning = true
	g.setThreshold(g.totalBytes)
	vmLog.Debug("state created", "id", g.id.String(), "bytes", g.totalBytes)
	return g
}

// ID returns the state's unique identifier, used to correlate log output.
func (g *State) ID() uuid.UUID { return g.id }

// MainThread returns the thread created with the state.
func (g *State) MainThread() *Thread { return g.mainThread }

// Running returns the thread currently executing.
func (g *State) Running() *Thread { return g.running }

// Registry returns the registry table.
func (g *State) Registry() Value { return valueOf(g.registry) }

// Globals returns the global table.
func (g *State) Globals() Value { return g.registry.GetInt(2) }

// SetGlobal assigns a global variable without invoking metamethods.
func (g *State) SetGlobal(name string, v Value) {
	s := g.String(name)
	g.Globals().AsTable().set(g, s, v)
}

// GetGlobal reads a global variable without invoking metamethods.
func (g *State) GetGlobal(name string) Value {
	return g.Globals().AsTable().Get(g.String(name))
}

// Register installs fn as a global function.
func (g *State) Register(name string, fn GoFunction) {
	g.SetGlobal(name, g.NewGoClosure(name, fn))
}

// NewTable creates an empty table.
func (g *State) NewTable() Value {
	return valueOf(g.newTable(0, 0))
}

// NewUserdata creates a userdata carrying data, charged as size bytes.
func (g *State) NewUserdata(data any, size int) Value {
	return valueOf(g.newUserdata(data, size))
}

// RawSet stores v under k in table t without invoking metamethods. It
// applies the write barrier like any store made by the interpreter.
func (g *State) RawSet(t, k, v Value) error {
	tab := t.AsTable()
	if tab == nil {
		return fmt.Errorf("vm: attempt to index a %s value", t.Type())
	}
	if err := checkKey(k); err != nil {
		return err
	}
	tab.set(g, k, v)
	return nil
}

// Metatable returns the metatable of v, or nil.
func (g *State) Metatable(v Value) *Table {
	switch o := v.o.(type) {
	case *Table:
		return o.meta
	case *Userdata:
		return o.meta
	}
	return g.mt[v.t]
}

// SetMetatable sets the metatable of a table or userdata; for other types
// it sets the metatable shared by all values of that type. A nil mt
// removes it.
func (g *State) SetMetatable(v Value, mt *Table) {
	switch o := v.o.(type) {
	case *Table:
		o.meta = mt
		if mt != nil {
			g.barrierBack(o, Nil, valueOf(mt))
			g.checkFinalizer(o, mt)
		}
	case *Userdata:
		o.meta = mt
		if mt != nil {
			g.barrierForward(o, mt)
			g.checkFinalizer(o, mt)
		}
	default:
		g.mt[v.t] = mt
	}
}

// SetTypeMetatable sets the metatable shared by all values of type t.
func (g *State) SetTypeMetatable(t Type, mt *Table) {
	g.mt[t] = mt
}
