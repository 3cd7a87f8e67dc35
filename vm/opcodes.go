package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Instruction encoding
// ---------------------------------------------------------------------------

// Instruction is one 32-bit register-machine instruction.
//
// Layout (low bit first):
//
//	iABC:  op:6 A:8 C:9 B:9
//	iABx:  op:6 A:8 Bx:18
//	iAsBx: op:6 A:8 sBx:18 (excess-K signed)
//	iAx:   op:6 Ax:26
//
// B and C operands in RK form address a constant when bit 8 is set.
type Instruction uint32

const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC
	sizeAx = sizeBx + sizeA

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC
	posAx = posA

	MaxArgA   = 1<<sizeA - 1
	MaxArgB   = 1<<sizeB - 1
	MaxArgC   = 1<<sizeC - 1
	MaxArgBx  = 1<<sizeBx - 1
	MaxArgSBx = MaxArgBx >> 1
	MaxArgAx  = 1<<sizeAx - 1

	// bitRK marks a B/C operand as a constant index.
	bitRK = 1 << (sizeB - 1)
	// MaxIndexRK is the largest constant index usable in an RK operand.
	MaxIndexRK = bitRK - 1

	// fieldsPerFlush is the number of list items SETLIST stores per batch.
	fieldsPerFlush = 50
)

func mask1(n, p uint) Instruction { return (^(^Instruction(0) << n)) << p }

// Opcode returns the instruction's operation.
func (i Instruction) Opcode() Opcode { return Opcode(i >> posOp & (1<<sizeOp - 1)) }

// A returns operand A.
func (i Instruction) A() int { return int(i >> posA & (1<<sizeA - 1)) }

// B returns operand B.
func (i Instruction) B() int { return int(i >> posB & (1<<sizeB - 1)) }

// C returns operand C.
func (i Instruction) C() int { return int(i >> posC & (1<<sizeC - 1)) }

// Bx returns the unsigned wide operand.
func (i Instruction) Bx() int { return int(i >> posBx & (1<<sizeBx - 1)) }

// SBx returns the signed wide operand.
func (i Instruction) SBx() int { return i.Bx() - MaxArgSBx }

// Ax returns the extra-wide operand.
func (i Instruction) Ax() int { return int(i >> posAx & (1<<sizeAx - 1)) }

func (i *Instruction) setSBx(sbx int) {
	*i = *i&^mask1(sizeBx, posBx) | Instruction(sbx+MaxArgSBx)<<posBx&mask1(sizeBx, posBx)
}

// CreateABC encodes an iABC instruction.
func CreateABC(op Opcode, a, b, c int) Instruction {
	return Instruction(op)<<posOp | Instruction(a)<<posA | Instruction(b)<<posB | Instruction(c)<<posC
}

// CreateABx encodes an iABx instruction.
func CreateABx(op Opcode, a, bx int) Instruction {
	return Instruction(op)<<posOp | Instruction(a)<<posA | Instruction(bx)<<posBx
}

// CreateAsBx encodes an iAsBx instruction.
func CreateAsBx(op Opcode, a, sbx int) Instruction {
	return CreateABx(op, a, sbx+MaxArgSBx)
}

// CreateAx encodes an iAx instruction.
func CreateAx(op Opcode, ax int) Instruction {
	return Instruction(op)<<posOp | Instruction(ax)<<posAx
}

// RK returns the operand encoding of constant index k.
func RK(k int) int { return k | bitRK }

func isK(x int) bool { return x&bitRK != 0 }
func indexK(x int) int { return x &^ bitRK }

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents an instruction's operation.
type Opcode uint8

const (
	OpMove     Opcode = iota // A B     R(A) := R(B)
	OpLoadK                  // A Bx    R(A) := Kst(Bx)
	OpLoadKX                 // A       R(A) := Kst(extra arg)
	OpLoadBool               // A B C   R(A) := (Bool)B; if (C) pc++
	OpLoadNil                // A B     R(A), ..., R(A+B) := nil
	OpGetUpval               // A B     R(A) := UpValue[B]
	OpGetTabUp               // A B C   R(A) := UpValue[B][RK(C)]
	OpGetTable               // A B C   R(A) := R(B)[RK(C)]
	OpSetTabUp               // A B C   UpValue[A][RK(B)] := RK(C)
	OpSetUpval               // A B     UpValue[B] := R(A)
	OpSetTable               // A B C   R(A)[RK(B)] := RK(C)
	OpNewTable               // A B C   R(A) := {} (size = B,C)
	OpSelf                   // A B C   R(A+1) := R(B); R(A) := R(B)[RK(C)]
	OpAdd                    // A B C   R(A) := RK(B) + RK(C)
	OpSub                    // A B C   R(A) := RK(B) - RK(C)
	OpMul                    // A B C   R(A) := RK(B) * RK(C)
	OpDiv                    // A B C   R(A) := RK(B) / RK(C)
	OpMod                    // A B C   R(A) := RK(B) % RK(C)
	OpPow                    // A B C   R(A) := RK(B) ^ RK(C)
	OpUnm                    // A B     R(A) := -R(B)
	OpNot                    // A B     R(A) := not R(B)
	OpLen                    // A B     R(A) := length of R(B)
	OpConcat                 // A B C   R(A) := R(B).. ... ..R(C)
	OpJmp                    // A sBx   pc+=sBx; if (A) close all upvalues >= R(A-1)
	OpEq                     // A B C   if ((RK(B) == RK(C)) ~= A) then pc++
	OpLt                     // A B C   if ((RK(B) <  RK(C)) ~= A) then pc++
	OpLe                     // A B C   if ((RK(B) <= RK(C)) ~= A) then pc++
	OpTest                   // A C     if not (R(A) <=> C) then pc++
	OpTestSet                // A B C   if (R(B) <=> C) then R(A) := R(B) else pc++
	OpCall                   // A B C   R(A), ... ,R(A+C-2) := R(A)(R(A+1), ... ,R(A+B-1))
	OpTailCall               // A B C   return R(A)(R(A+1), ... ,R(A+B-1))
	OpReturn                 // A B     return R(A), ... ,R(A+B-2)
	OpForLoop                // A sBx   R(A)+=R(A+2); if R(A) <?= R(A+1) then { pc+=sBx; R(A+3)=R(A) }
	OpForPrep                // A sBx   R(A)-=R(A+2); pc+=sBx
	OpTForCall               // A C     R(A+3), ... ,R(A+2+C) := R(A)(R(A+1), R(A+2))
	OpTForLoop               // A sBx   if R(A+1) ~= nil then { R(A)=R(A+1); pc += sBx }
	OpSetList                // A B C   R(A)[(C-1)*FPF+i] := R(A+i), 1 <= i <= B
	OpClosure                // A Bx    R(A) := closure(KPROTO[Bx])
	OpVararg                 // A B     R(A), R(A+1), ..., R(A+B-2) = vararg
	OpExtraArg               // Ax      extra (larger) argument for previous opcode

	numOpcodes
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpMode is the operand layout of an opcode.
type OpMode uint8

const (
	ModeABC OpMode = iota
	ModeABx
	ModeAsBx
	ModeAx
)

// ArgMode describes how a B or C operand is used.
type ArgMode uint8

const (
	ArgN ArgMode = iota // unused
	ArgU                // used as a plain number
	ArgR                // register or jump offset
	ArgK                // constant or register (RK)
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name  string
	Test  bool // next instruction is a jump
	SetsA bool // instruction writes register A
	B     ArgMode
	C     ArgMode
	Mode  OpMode
}

var opcodeTable = [numOpcodes]OpcodeInfo{
	OpMove:     {"MOVE", false, true, ArgR, ArgN, ModeABC},
	OpLoadK:    {"LOADK", false, true, ArgK, ArgN, ModeABx},
	OpLoadKX:   {"LOADKX", false, true, ArgN, ArgN, ModeABx},
	OpLoadBool: {"LOADBOOL", false, true, ArgU, ArgU, ModeABC},
	OpLoadNil:  {"LOADNIL", false, true, ArgU, ArgN, ModeABC},
	OpGetUpval: {"GETUPVAL", false, true, ArgU, ArgN, ModeABC},
	OpGetTabUp: {"GETTABUP", false, true, ArgU, ArgK, ModeABC},
	OpGetTable: {"GETTABLE", false, true, ArgR, ArgK, ModeABC},
	OpSetTabUp: {"SETTABUP", false, false, ArgK, ArgK, ModeABC},
	OpSetUpval: {"SETUPVAL", false, false, ArgU, ArgN, ModeABC},
	OpSetTable: {"SETTABLE", false, false, ArgK, ArgK, ModeABC},
	OpNewTable: {"NEWTABLE", false, true, ArgU, ArgU, ModeABC},
	OpSelf:     {"SELF", false, true, ArgR, ArgK, ModeABC},
	OpAdd:      {"ADD", false, true, ArgK, ArgK, ModeABC},
	OpSub:      {"SUB", false, true, ArgK, ArgK, ModeABC},
	OpMul:      {"MUL", false, true, ArgK, ArgK, ModeABC},
	OpDiv:      {"DIV", false, true, ArgK, ArgK, ModeABC},
	OpMod:      {"MOD", false, true, ArgK, ArgK, ModeABC},
	OpPow:      {"POW", false, true, ArgK, ArgK, ModeABC},
	OpUnm:      {"UNM", false, true, ArgR, ArgN, ModeABC},
	OpNot:      {"NOT", false, true, ArgR, ArgN, ModeABC},
	OpLen:      {"LEN", false, true, ArgR, ArgN, ModeABC},
	OpConcat:   {"CONCAT", false, true, ArgR, ArgR, ModeABC},
	OpJmp:      {"JMP", false, false, ArgR, ArgN, ModeAsBx},
	OpEq:       {"EQ", true, false, ArgK, ArgK, ModeABC},
	OpLt:       {"LT", true, false, ArgK, ArgK, ModeABC},
	OpLe:       {"LE", true, false, ArgK, ArgK, ModeABC},
	OpTest:     {"TEST", true, false, ArgN, ArgU, ModeABC},
	OpTestSet:  {"TESTSET", true, true, ArgR, ArgU, ModeABC},
	OpCall:     {"CALL", false, true, ArgU, ArgU, ModeABC},
	OpTailCall: {"TAILCALL", false, true, ArgU, ArgU, ModeABC},
	OpReturn:   {"RETURN", false, false, ArgU, ArgN, ModeABC},
	OpForLoop:  {"FORLOOP", false, true, ArgR, ArgN, ModeAsBx},
	OpForPrep:  {"FORPREP", false, true, ArgR, ArgN, ModeAsBx},
	OpTForCall: {"TFORCALL", false, false, ArgN, ArgU, ModeABC},
	OpTForLoop: {"TFORLOOP", false, true, ArgR, ArgN, ModeAsBx},
	OpSetList:  {"SETLIST", false, false, ArgU, ArgU, ModeABC},
	OpClosure:  {"CLOSURE", false, true, ArgU, ArgN, ModeABx},
	OpVararg:   {"VARARG", false, true, ArgU, ArgN, ModeABC},
	OpExtraArg: {"EXTRAARG", false, false, ArgU, ArgU, ModeAx},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op < numOpcodes {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at pc of p.
func DisassembleInstruction(p *Prototype, pc int) string {
	i := p.Code[pc]
	op := i.Opcode()
	info := op.Info()
	line := ""
	if pc < len(p.LineInfo) {
		line = fmt.Sprintf("[%d]", p.LineInfo[pc])
	}
	prefix := fmt.Sprintf("%04d  %-6s %-9s", pc, line, info.Name)

	switch info.Mode {
	case ModeABx:
		s := fmt.Sprintf("%s %d %d", prefix, i.A(), i.Bx())
		if op == OpLoadK {
			s += "\t; " + p.constantString(i.Bx())
		}
		return s
	case ModeAsBx:
		return fmt.Sprintf("%s %d %d\t; to %04d", prefix, i.A(), i.SBx(), pc+1+i.SBx())
	case ModeAx:
		return fmt.Sprintf("%s %d", prefix, i.Ax())
	}

	s := fmt.Sprintf("%s %d", prefix, i.A())
	var notes []string
	if info.B != ArgN {
		s += " " + operandString(i.B(), info.B)
		if info.B == ArgK && isK(i.B()) {
			notes = append(notes, p.constantString(indexK(i.B())))
		}
	}
	if info.C != ArgN {
		s += " " + operandString(i.C(), info.C)
		if info.C == ArgK && isK(i.C()) {
			notes = append(notes, p.constantString(indexK(i.C())))
		}
	}
	if len(notes) > 0 {
		s += "\t; " + strings.Join(notes, " ")
	}
	return s
}

func operandString(x int, mode ArgMode) string {
	if mode == ArgK && isK(x) {
		return fmt.Sprintf("K%d", indexK(x))
	}
	return fmt.Sprintf("%d", x)
}

// Disassemble renders p and its nested prototypes.
func Disassemble(p *Prototype) string {
	var sb strings.Builder
	disassemble(&sb, p, "main")
	return sb.String()
}

func disassemble(sb *strings.Builder, p *Prototype, name string) {
	vararg := ""
	if p.IsVararg {
		vararg = "+"
	}
	fmt.Fprintf(sb, "function <%s:%d,%d> %s (%d instructions)\n",
		p.Source, p.LineDefined, p.LastLine, name, len(p.Code))
	fmt.Fprintf(sb, "%d%s params, %d slots, %d upvalues, %d constants, %d functions\n",
		p.NumParams, vararg, p.MaxStack, len(p.Upvalues), len(p.Constants), len(p.Protos))
	for pc := range p.Code {
		sb.WriteString(DisassembleInstruction(p, pc))
		sb.WriteByte('\n')
	}
	for i, child := range p.Protos {
		sb.WriteByte('\n')
		disassemble(sb, child, fmt.Sprintf("%s.%d", name, i))
	}
}
