package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Prototype: compiled function body handed to the core
// ---------------------------------------------------------------------------

// MaxRegisters is the largest register window a prototype may declare.
const MaxRegisters = 250

// ConstKind tags the payload of a Constant.
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstNumber
	ConstString
)

// Constant is one entry of a prototype's constant pool.
type Constant struct {
	Kind ConstKind `cbor:"1,keyasint"`
	Bool bool      `cbor:"2,keyasint,omitempty"`
	Num  float64   `cbor:"3,keyasint,omitempty"`
	Str  string    `cbor:"4,keyasint,omitempty"`
}

// NilConstant returns the nil constant.
func NilConstant() Constant { return Constant{Kind: ConstNil} }

// BoolConstant returns a boolean constant.
func BoolConstant(b bool) Constant { return Constant{Kind: ConstBool, Bool: b} }

// NumberConstant returns a number constant.
func NumberConstant(f float64) Constant { return Constant{Kind: ConstNumber, Num: f} }

// StringConstant returns a string constant.
func StringConstant(s string) Constant { return Constant{Kind: ConstString, Str: s} }

// String renders the constant the way the disassembler shows it.
func (c Constant) String() string {
	switch c.Kind {
	case ConstBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case ConstNumber:
		return formatNumber(c.Num)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	}
	return "nil"
}

// UpvalueDesc tells CLOSURE where to find an upvalue: a register of the
// enclosing frame (InStack) or an upvalue of the enclosing closure.
type UpvalueDesc struct {
	InStack bool   `cbor:"1,keyasint"`
	Index   int    `cbor:"2,keyasint"`
	Name    string `cbor:"3,keyasint,omitempty"`
}

// Prototype is the compiled, immutable description of one function body.
type Prototype struct {
	Source      string        `cbor:"1,keyasint"`
	LineDefined int           `cbor:"2,keyasint"`
	LastLine    int           `cbor:"3,keyasint"`
	NumParams   int           `cbor:"4,keyasint"`
	IsVararg    bool          `cbor:"5,keyasint"`
	MaxStack    int           `cbor:"6,keyasint"`
	Code        []Instruction `cbor:"7,keyasint"`
	Constants   []Constant    `cbor:"8,keyasint"`
	Protos      []*Prototype  `cbor:"9,keyasint"`
	Upvalues    []UpvalueDesc `cbor:"10,keyasint"`
	LineInfo    []int         `cbor:"11,keyasint,omitempty"`
}

func (p *Prototype) constantString(i int) string {
	if i < 0 || i >= len(p.Constants) {
		return "?"
	}
	return p.Constants[i].String()
}

// lineAt returns the source line of the instruction at pc, or 0.
func (p *Prototype) lineAt(pc int) int {
	if pc >= 0 && pc < len(p.LineInfo) {
		return p.LineInfo[pc]
	}
	return 0
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// ErrInvalidPrototype is returned when a prototype fails verification.
var ErrInvalidPrototype = errors.New("invalid prototype")

// Validate checks that every operand of every instruction stays within the
// prototype's register window, constant pool, nested prototypes and upvalue
// list, that jumps land inside the code, and that the code ends in RETURN.
// The dispatcher trusts prototypes that pass.
func (p *Prototype) Validate() error {
	return p.validate(nil)
}

func (p *Prototype) validate(parent *Prototype) error {
	fail := func(pc int, format string, args ...any) error {
		return fmt.Errorf("%w: %s:%d: pc %d: %s", ErrInvalidPrototype,
			p.Source, p.LineDefined, pc, fmt.Sprintf(format, args...))
	}
	if p.MaxStack < 2 || p.MaxStack > MaxRegisters {
		return fail(-1, "max stack %d out of range", p.MaxStack)
	}
	if p.NumParams < 0 || p.NumParams > p.MaxStack {
		return fail(-1, "%d parameters exceed %d registers", p.NumParams, p.MaxStack)
	}
	if len(p.LineInfo) != 0 && len(p.LineInfo) != len(p.Code) {
		return fail(-1, "line info covers %d of %d instructions", len(p.LineInfo), len(p.Code))
	}
	if len(p.Code) == 0 || p.Code[len(p.Code)-1].Opcode() != OpReturn {
		return fail(len(p.Code)-1, "code does not end in RETURN")
	}
	if parent != nil {
		for i, uv := range p.Upvalues {
			if uv.InStack && (uv.Index < 0 || uv.Index >= parent.MaxStack) {
				return fail(-1, "upvalue %d: register %d out of range", i, uv.Index)
			}
			if !uv.InStack && (uv.Index < 0 || uv.Index >= len(parent.Upvalues)) {
				return fail(-1, "upvalue %d: outer upvalue %d out of range", i, uv.Index)
			}
		}
	}

	reg := func(r int) bool { return r >= 0 && r < p.MaxStack }
	rk := func(x int) bool {
		if isK(x) {
			return indexK(x) < len(p.Constants)
		}
		return reg(x)
	}
	target := func(pc, sbx int) bool {
		t := pc + 1 + sbx
		return t >= 0 && t < len(p.Code)
	}

	for pc, i := range p.Code {
		op := i.Opcode()
		if op >= numOpcodes {
			return fail(pc, "unknown opcode %d", uint8(op))
		}
		info := op.Info()
		a, b, c := i.A(), i.B(), i.C()
		if info.Mode != ModeAx && op != OpSetTabUp && !reg(a) {
			return fail(pc, "%s: register A=%d out of range", info.Name, a)
		}
		if info.Test && (pc+1 >= len(p.Code) || p.Code[pc+1].Opcode() != OpJmp) {
			return fail(pc, "%s not followed by JMP", info.Name)
		}
		if info.Mode == ModeABC {
			if info.B == ArgR && op != OpConcat && !reg(b) {
				return fail(pc, "%s: register B=%d out of range", info.Name, b)
			}
			if info.B == ArgK && !rk(b) {
				return fail(pc, "%s: operand B=%d out of range", info.Name, b)
			}
			if info.C == ArgK && !rk(c) {
				return fail(pc, "%s: operand C=%d out of range", info.Name, c)
			}
		}

		switch op {
		case OpLoadK:
			if i.Bx() >= len(p.Constants) {
				return fail(pc, "LOADK: constant %d out of range", i.Bx())
			}
		case OpLoadKX:
			if pc+1 >= len(p.Code) || p.Code[pc+1].Opcode() != OpExtraArg {
				return fail(pc, "LOADKX not followed by EXTRAARG")
			}
			if p.Code[pc+1].Ax() >= len(p.Constants) {
				return fail(pc, "LOADKX: constant %d out of range", p.Code[pc+1].Ax())
			}
		case OpLoadBool:
			if c != 0 && pc+2 > len(p.Code)-1 {
				return fail(pc, "LOADBOOL skips past end of code")
			}
		case OpLoadNil:
			if !reg(a + b) {
				return fail(pc, "LOADNIL: register %d out of range", a+b)
			}
		case OpGetUpval, OpSetUpval, OpGetTabUp:
			if b >= len(p.Upvalues) {
				return fail(pc, "%s: upvalue %d out of range", info.Name, b)
			}
		case OpSetTabUp:
			if a >= len(p.Upvalues) {
				return fail(pc, "SETTABUP: upvalue %d out of range", a)
			}
		case OpSelf:
			if !reg(a + 1) {
				return fail(pc, "SELF: register %d out of range", a+1)
			}
		case OpConcat:
			if b >= c || !reg(c) {
				return fail(pc, "CONCAT: bad register range %d..%d", b, c)
			}
		case OpJmp, OpForLoop, OpForPrep, OpTForLoop:
			if !target(pc, i.SBx()) {
				return fail(pc, "%s: jump target %d out of range", info.Name, pc+1+i.SBx())
			}
			if op == OpForLoop || op == OpForPrep {
				if !reg(a + 3) {
					return fail(pc, "%s: loop registers out of range", info.Name)
				}
			}
			if op == OpJmp && a > 0 && !reg(a-1) {
				return fail(pc, "JMP: close register %d out of range", a-1)
			}
		case OpCall, OpTailCall:
			if b > 0 && !reg(a+b-1) {
				return fail(pc, "%s: argument registers out of range", info.Name)
			}
			if op == OpCall && c > 1 && !reg(a+c-2) {
				return fail(pc, "CALL: result registers out of range")
			}
		case OpReturn:
			if b > 1 && !reg(a+b-2) {
				return fail(pc, "RETURN: registers out of range")
			}
		case OpTForCall:
			if !reg(a+2+c) || !reg(a+5) || c < 1 {
				return fail(pc, "TFORCALL: registers out of range")
			}
			if pc+1 >= len(p.Code) || p.Code[pc+1].Opcode() != OpTForLoop {
				return fail(pc, "TFORCALL not followed by TFORLOOP")
			}
		case OpSetList:
			if b > 0 && !reg(a+b) {
				return fail(pc, "SETLIST: registers out of range")
			}
			if c == 0 && (pc+1 >= len(p.Code) || p.Code[pc+1].Opcode() != OpExtraArg) {
				return fail(pc, "SETLIST not followed by EXTRAARG")
			}
		case OpClosure:
			if i.Bx() >= len(p.Protos) {
				return fail(pc, "CLOSURE: prototype %d out of range", i.Bx())
			}
		case OpVararg:
			if !p.IsVararg {
				return fail(pc, "VARARG in a fixed-arity function")
			}
			if b > 1 && !reg(a+b-2) {
				return fail(pc, "VARARG: registers out of range")
			}
		case OpExtraArg:
			if pc == 0 {
				return fail(pc, "EXTRAARG without a preceding instruction")
			}
			if prev := p.Code[pc-1].Opcode(); prev != OpLoadKX && prev != OpSetList {
				return fail(pc, "EXTRAARG after %s", prev)
			}
		}
	}

	for i, child := range p.Protos {
		if child == nil {
			return fail(-1, "nested prototype %d is nil", i)
		}
		if err := child.validate(p); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// proto: the heap-resident form of a Prototype
// ---------------------------------------------------------------------------

// proto is a Prototype installed in a State: constants are converted to
// values (strings interned) and nested prototypes are installed too.
type proto struct {
	header
	src   *Prototype
	k     []Value
	p     []*proto
	cache *LClosure // last closure built from this proto; weak
}

func (f *proto) kind() Type { return typeProto }

func (f *proto) memSize() int {
	return sizeProto + len(f.k)*sizeSlot + len(f.p)*8 + len(f.src.Code)*4
}

// newProto installs p and its nested prototypes. The caller holds gcLock.
func (g *State) newProto(p *Prototype) *proto {
	f := &proto{src: p}
	g.link(f, sizeProto)
	f.k = make([]Value, len(p.Constants))
	for i, c := range p.Constants {
		switch c.Kind {
		case ConstBool:
			f.k[i] = Bool(c.Bool)
		case ConstNumber:
			f.k[i] = Number(c.Num)
		case ConstString:
			f.k[i] = g.String(c.Str)
		}
	}
	f.p = make([]*proto, len(p.Protos))
	for i, child := range p.Protos {
		f.p[i] = g.newProto(child)
	}
	g.charge(sizeProto, f.memSize())
	return f
}
