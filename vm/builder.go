package vm

import (
	"fmt"

	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// ProtoBuilder: helper for constructing prototypes by hand
// ---------------------------------------------------------------------------

// ProtoBuilder assembles a Prototype instruction by instruction. It is used
// by tests, the CLI's fixtures and any front end that does not want to
// encode instructions itself. Operands that do not fit their fields panic,
// since they indicate a bug in the caller.
type ProtoBuilder struct {
	proto  *Prototype
	consts map[Constant]int
	line   int
	fixed  bool // MaxStack set explicitly
}

// NewProtoBuilder creates a builder for a function with numParams fixed
// parameters.
func NewProtoBuilder(source string, numParams int) *ProtoBuilder {
	return &ProtoBuilder{
		proto: &Prototype{
			Source:    source,
			NumParams: numParams,
			MaxStack:  max(2, numParams),
			Code:      make([]Instruction, 0, 16),
		},
		consts: make(map[Constant]int),
	}
}

// SetVararg marks the function as accepting extra arguments.
func (b *ProtoBuilder) SetVararg() *ProtoBuilder {
	b.proto.IsVararg = true
	return b
}

// SetMaxStack fixes the register window size. Without it the builder uses
// the highest register the emitted code touches.
func (b *ProtoBuilder) SetMaxStack(n int) *ProtoBuilder {
	b.proto.MaxStack = n
	b.fixed = true
	return b
}

// SetLines records the definition range for debug output.
func (b *ProtoBuilder) SetLines(first, last int) *ProtoBuilder {
	b.proto.LineDefined = first
	b.proto.LastLine = last
	return b
}

// Line sets the source line attached to subsequently emitted instructions.
func (b *ProtoBuilder) Line(n int) {
	b.line = n
}

// PC returns the index the next instruction will occupy.
func (b *ProtoBuilder) PC() int {
	return len(b.proto.Code)
}

// Emit appends a raw instruction and returns its pc.
func (b *ProtoBuilder) Emit(i Instruction) int {
	pc := len(b.proto.Code)
	b.proto.Code = append(b.proto.Code, i)
	if b.line > 0 || len(b.proto.LineInfo) > 0 {
		for len(b.proto.LineInfo) < pc {
			b.proto.LineInfo = append(b.proto.LineInfo, 0)
		}
		b.proto.LineInfo = append(b.proto.LineInfo, b.line)
	}
	return pc
}

// ABC emits an iABC instruction.
func (b *ProtoBuilder) ABC(op Opcode, a, bArg, c int) int {
	if op != OpSetTabUp {
		b.touch(a)
	}
	info := op.Info()
	if info.B == ArgR && op != OpConcat {
		b.touch(bArg)
	}
	if info.B == ArgK && !isK(bArg) {
		b.touch(bArg)
	}
	if info.C == ArgK && !isK(c) {
		b.touch(c)
	}
	switch op {
	case OpLoadNil, OpSetList:
		b.touch(a + bArg)
	case OpSelf:
		b.touch(a + 1)
	case OpConcat:
		b.touch(c)
	case OpCall, OpTailCall:
		b.touch(a + bArg - 1)
		b.touch(a + c - 2)
	case OpReturn, OpVararg:
		b.touch(a + bArg - 2)
	case OpTForCall:
		// the generator, state and control are copied above the loop
		// registers for the call
		b.touch(a + 2 + c)
		b.touch(a + 5)
	}
	return b.Emit(CreateABC(op, operand[uint8](a), operand9(bArg), operand9(c)))
}

// ABx emits an iABx instruction.
func (b *ProtoBuilder) ABx(op Opcode, a, bx int) int {
	b.touch(a)
	if bx < 0 || bx > MaxArgBx {
		panic(fmt.Sprintf("operand Bx=%d out of range", bx))
	}
	return b.Emit(CreateABx(op, operand[uint8](a), bx))
}

// AsBx emits an iAsBx instruction.
func (b *ProtoBuilder) AsBx(op Opcode, a, sbx int) int {
	switch op {
	case OpForLoop, OpForPrep:
		b.touch(a + 3)
	case OpTForLoop:
		b.touch(a + 1)
	}
	if sbx < -MaxArgSBx || sbx > MaxArgBx-MaxArgSBx {
		panic(fmt.Sprintf("operand sBx=%d out of range", sbx))
	}
	return b.Emit(CreateAsBx(op, operand[uint8](a), sbx))
}

// Ax emits an iAx instruction.
func (b *ProtoBuilder) Ax(op Opcode, ax int) int {
	if ax < 0 || ax > MaxArgAx {
		panic(fmt.Sprintf("operand Ax=%d out of range", ax))
	}
	return b.Emit(CreateAx(op, ax))
}

// LoadK emits the cheapest instruction loading constant k into register a.
func (b *ProtoBuilder) LoadK(a int, k int) int {
	if k <= MaxArgBx {
		return b.ABx(OpLoadK, a, k)
	}
	pc := b.ABx(OpLoadKX, a, 0)
	b.Ax(OpExtraArg, k)
	return pc
}

// Return emits RETURN for n values starting at register a (n < 0: up to top).
func (b *ProtoBuilder) Return(a, n int) int {
	return b.ABC(OpReturn, a, n+1, 0)
}

func (b *ProtoBuilder) touch(r int) {
	if b.fixed || r < 0 {
		return
	}
	if r+1 > b.proto.MaxStack {
		b.proto.MaxStack = r + 1
	}
}

func operand[T uint8 | uint16](x int) int {
	v, err := safecast.Conv[T](x)
	if err != nil {
		panic(fmt.Sprintf("operand %d out of range: %v", x, err))
	}
	return int(v)
}

func operand9(x int) int {
	if x < 0 || x > MaxArgB {
		panic(fmt.Sprintf("operand %d out of range", x))
	}
	return x
}

// ---------------------------------------------------------------------------
// Constants, nested prototypes and upvalues
// ---------------------------------------------------------------------------

// Constant adds c to the pool (deduplicated) and returns its index.
func (b *ProtoBuilder) Constant(c Constant) int {
	if idx, ok := b.consts[c]; ok {
		return idx
	}
	idx := len(b.proto.Constants)
	b.proto.Constants = append(b.proto.Constants, c)
	b.consts[c] = idx
	return idx
}

// Num adds a number constant and returns its index.
func (b *ProtoBuilder) Num(f float64) int { return b.Constant(NumberConstant(f)) }

// Str adds a string constant and returns its index.
func (b *ProtoBuilder) Str(s string) int { return b.Constant(StringConstant(s)) }

// AddProto adds a nested prototype and returns its index for CLOSURE.
func (b *ProtoBuilder) AddProto(p *Prototype) int {
	idx := len(b.proto.Protos)
	b.proto.Protos = append(b.proto.Protos, p)
	return idx
}

// AddUpvalue declares an upvalue and returns its index.
func (b *ProtoBuilder) AddUpvalue(name string, inStack bool, index int) int {
	idx := len(b.proto.Upvalues)
	b.proto.Upvalues = append(b.proto.Upvalues, UpvalueDesc{InStack: inStack, Index: index, Name: name})
	return idx
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label is a jump target that may be referenced before it is placed.
type Label struct {
	resolved bool
	pc       int
	refs     []int
}

// NewLabel creates an unresolved label.
func (b *ProtoBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the next instruction and patches forward jumps.
func (b *ProtoBuilder) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.pc = len(b.proto.Code)
	for _, ref := range l.refs {
		b.proto.Code[ref].setSBx(l.pc - (ref + 1))
	}
	l.refs = nil
}

// Jump emits a jump-style instruction (JMP, FORPREP, FORLOOP, TFORLOOP)
// targeting l.
func (b *ProtoBuilder) Jump(op Opcode, a int, l *Label) int {
	if l.resolved {
		return b.AsBx(op, a, l.pc-(len(b.proto.Code)+1))
	}
	pc := b.AsBx(op, a, 0)
	l.refs = append(l.refs, pc)
	return pc
}

// Build finalizes and returns the prototype.
func (b *ProtoBuilder) Build() *Prototype {
	if len(b.proto.LineInfo) > 0 {
		for len(b.proto.LineInfo) < len(b.proto.Code) {
			b.proto.LineInfo = append(b.proto.LineInfo, b.line)
		}
	}
	return b.proto
}
