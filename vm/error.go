package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Status codes and error values
// ---------------------------------------------------------------------------

// Status is the outcome of a protected operation.
type Status int

const (
	StatusOK        Status = iota
	StatusYield            // thread is suspended
	StatusErrRun           // runtime error
	StatusErrSyntax        // error reported by a compiler front end
	StatusErrMem           // allocation refused
	StatusErrGCMM          // error while running a __gc metamethod
	StatusErrErr           // error while handling an error
)

var statusNames = [...]string{
	StatusOK:        "ok",
	StatusYield:     "yield",
	StatusErrRun:    "runtime error",
	StatusErrSyntax: "syntax error",
	StatusErrMem:    "memory error",
	StatusErrGCMM:   "finalizer error",
	StatusErrErr:    "error in error handling",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// TraceEntry is one frame of an error traceback, innermost first.
type TraceEntry struct {
	Source    string
	Line      int
	Function  string
	TailCalls int
	Native    bool
}

func (e TraceEntry) String() string {
	var s string
	if e.Native {
		s = fmt.Sprintf("[Go]: in function '%s'", e.Function)
	} else {
		s = fmt.Sprintf("%s:%d: in %s", e.Source, e.Line, e.Function)
	}
	if e.TailCalls > 0 {
		s += fmt.Sprintf(" (after %d tail calls)", e.TailCalls)
	}
	return s
}

// Error is an error raised by the language. Value is the error object,
// usually a string carrying a "source:line:" prefix.
type Error struct {
	Status    Status
	Value     Value
	Traceback []TraceEntry
}

func (e *Error) Error() string {
	if s, ok := e.Value.AsString(); ok {
		return s
	}
	if e.Value.t == TypeNumber {
		return formatNumber(e.Value.n)
	}
	return fmt.Sprintf("(error object is a %s value)", e.Value.t)
}

// FormatTraceback renders the error message followed by its traceback.
func (e *Error) FormatTraceback() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	if len(e.Traceback) > 0 {
		sb.WriteString("\nstack traceback:")
		for _, t := range e.Traceback {
			sb.WriteString("\n\t")
			sb.WriteString(t.String())
		}
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Raising errors
// ---------------------------------------------------------------------------

// boundary is a protected-call (or resume) frame on the Go stack. Raising
// an error panics with the innermost boundary; the matching recover in
// runProtected catches it and reads the status and value.
type boundary struct {
	status    Status
	value     Value
	traceback []TraceEntry
	prev      *boundary
}

// throw unwinds to the innermost boundary with the given status and error
// value. Without a boundary the panic hook runs and the host panics.
func (l *Thread) throw(status Status, v Value) {
	if b := l.errorJmp; b != nil {
		b.status = status
		b.value = v
		if status != StatusYield {
			b.traceback = l.traceback()
		}
		panic(b)
	}
	g := l.g
	l.status = status
	err := &Error{Status: status, Value: v, Traceback: l.traceback()}
	if g.panicHandler != nil {
		g.panicHandler(l, err)
	} else {
		vmLog.Critical("unprotected error", "state", g.id.String(), "status", status.String(), "error", err.Error())
	}
	panic(err)
}

// errorMsg raises v as a runtime error after passing it through the
// current message handler, if any.
func (l *Thread) errorMsg(v Value) {
	if l.errfunc != 0 {
		h := l.stack[l.errfunc]
		if h.t != TypeFunction || l.inHandler {
			l.throw(StatusErrErr, valueOf(l.g.errErrMsg))
		}
		l.inHandler = true
		l.ensureStack(2)
		l.stack[l.top] = h
		l.stack[l.top+1] = v
		l.top += 2
		l.call(l.top-2, 1, false)
		l.top--
		v = l.stack[l.top]
		l.inHandler = false
	}
	l.throw(StatusErrRun, v)
}

// where returns the "source:line:" prefix of the running Lua function.
func (l *Thread) where() string {
	ci := l.ci
	if !ci.isLua() {
		return ""
	}
	p := l.stack[ci.fn].o.(*LClosure).p.src
	if line := p.lineAt(ci.savedPC - 1); line > 0 {
		return fmt.Sprintf("%s:%d: ", p.Source, line)
	}
	return p.Source + ":?: "
}

// runError raises a formatted runtime error with position information.
func (l *Thread) runError(format string, args ...any) {
	msg := l.where() + fmt.Sprintf(format, args...)
	l.errorMsg(l.g.String(msg))
}

// traceback describes the active frames, innermost first.
func (l *Thread) traceback() []TraceEntry {
	var tb []TraceEntry
	for ci := l.ci; ci != nil && ci != &l.baseCI; ci = ci.prev {
		e := TraceEntry{TailCalls: ci.tailcalls}
		switch f := l.stack[ci.fn].o.(type) {
		case *LClosure:
			p := f.p.src
			e.Source = p.Source
			e.Line = p.lineAt(ci.savedPC - 1)
			if p.LineDefined == 0 {
				e.Function = "main chunk"
			} else {
				e.Function = fmt.Sprintf("function <%s:%d>", p.Source, p.LineDefined)
			}
		case *GoClosure:
			e.Native = true
			e.Function = f.name
		default:
			e.Native = true
			e.Function = "?"
		}
		tb = append(tb, e)
	}
	return tb
}

// ---------------------------------------------------------------------------
// Typed runtime errors
// ---------------------------------------------------------------------------

func (l *Thread) typeError(v Value, op string) {
	l.runError("attempt to %s a %s value", op, v.t)
}

func (l *Thread) concatError(a, b Value) {
	if a.t == TypeString || a.t == TypeNumber {
		a = b
	}
	l.typeError(a, "concatenate")
}

func (l *Thread) arithError(a, b Value) {
	if _, ok := toNumber(a); ok {
		a = b
	}
	l.typeError(a, "perform arithmetic on")
}

func (l *Thread) orderError(a, b Value) {
	t1, t2 := a.t.String(), b.t.String()
	if t1 == t2 {
		l.runError("attempt to compare two %s values", t1)
	}
	l.runError("attempt to compare %s with %s", t1, t2)
}
