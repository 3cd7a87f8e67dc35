package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Type tags
// ---------------------------------------------------------------------------

// Type identifies the dynamic type of a Value.
type Type uint8

const (
	TypeNil Type = iota
	TypeBoolean
	TypeNumber
	TypeString
	TypeTable
	TypeFunction
	TypeUserdata
	TypeThread

	numTypes
)

// Internal heap kinds that never appear inside a Value.
const (
	typeProto Type = numTypes + iota
	typeUpvalue
)

var typeNames = [...]string{
	TypeNil:      "nil",
	TypeBoolean:  "boolean",
	TypeNumber:   "number",
	TypeString:   "string",
	TypeTable:    "table",
	TypeFunction: "function",
	TypeUserdata: "userdata",
	TypeThread:   "thread",
	typeProto:    "proto",
	typeUpvalue:  "upvalue",
}

// String returns the language-level name of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ---------------------------------------------------------------------------
// Value: closed variant over scalars and heap handles
// ---------------------------------------------------------------------------

// Value is a tagged language value.
//
// Scalars (nil, boolean, number) are stored inline in n; every other type
// holds a handle to a heap object in o. Values are only built through the
// constructors below, so the tag always matches the payload. Value is
// comparable and is used directly as a table key.
type Value struct {
	t Type
	n float64
	o object
}

// Pre-defined scalar values.
var (
	Nil   = Value{}
	True  = Value{t: TypeBoolean, n: 1}
	False = Value{t: TypeBoolean}
)

// Number creates a number value.
func Number(f float64) Value {
	return Value{t: TypeNumber, n: f}
}

// Bool creates a boolean value.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// valueOf wraps a heap object in a Value of the object's kind.
func valueOf(o object) Value {
	return Value{t: o.kind(), o: o}
}

// Type returns the dynamic type of v.
func (v Value) Type() Type { return v.t }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.t == TypeNil }

// IsFalsy reports whether v is nil or false.
func (v Value) IsFalsy() bool {
	return v.t == TypeNil || (v.t == TypeBoolean && v.n == 0)
}

// IsNumber reports whether v is a number.
func (v Value) IsNumber() bool { return v.t == TypeNumber }

// IsString reports whether v is a string.
func (v Value) IsString() bool { return v.t == TypeString }

// IsFunction reports whether v is a Lua or Go closure.
func (v Value) IsFunction() bool { return v.t == TypeFunction }

// IsCollectable reports whether v references a heap object.
func (v Value) IsCollectable() bool { return v.o != nil }

// AsNumber returns the number stored in v.
func (v Value) AsNumber() (float64, bool) {
	if v.t != TypeNumber {
		return 0, false
	}
	return v.n, true
}

// AsBool returns the boolean stored in v.
func (v Value) AsBool() (bool, bool) {
	if v.t != TypeBoolean {
		return false, false
	}
	return v.n != 0, true
}

// AsString returns the Go string of a string value.
func (v Value) AsString() (string, bool) {
	if s, ok := v.o.(*String); ok {
		return s.s, true
	}
	return "", false
}

// AsTable returns the table referenced by v, or nil.
func (v Value) AsTable() *Table {
	t, _ := v.o.(*Table)
	return t
}

// AsThread returns the thread referenced by v, or nil.
func (v Value) AsThread() *Thread {
	t, _ := v.o.(*Thread)
	return t
}

// AsUserdata returns the userdata referenced by v, or nil.
func (v Value) AsUserdata() *Userdata {
	u, _ := v.o.(*Userdata)
	return u
}

// AsClosure returns the Lua closure referenced by v, or nil.
func (v Value) AsClosure() *LClosure {
	c, _ := v.o.(*LClosure)
	return c
}

// String formats v for diagnostics.
func (v Value) String() string {
	switch v.t {
	case TypeNil:
		return "nil"
	case TypeBoolean:
		if v.n != 0 {
			return "true"
		}
		return "false"
	case TypeNumber:
		return formatNumber(v.n)
	case TypeString:
		return v.o.(*String).s
	default:
		return fmt.Sprintf("%s: %p", v.t, v.o)
	}
}

// RawEqual compares two values without consulting metamethods.
func RawEqual(a, b Value) bool {
	if a.t != b.t {
		return false
	}
	switch a.t {
	case TypeNil:
		return true
	case TypeBoolean, TypeNumber:
		return a.n == b.n
	default:
		return a.o == b.o
	}
}

// ---------------------------------------------------------------------------
// Number <-> string coercions
// ---------------------------------------------------------------------------

// formatNumber renders a number the way the language prints it.
func formatNumber(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if f != f {
		return "nan"
	}
	return fmt.Sprintf("%.14g", f)
}

// parseNumber converts a numeric string; hex integers are accepted.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	body := s
	if body[0] == '-' || body[0] == '+' {
		neg = body[0] == '-'
		body = body[1:]
	}
	if len(body) > 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		u, err := strconv.ParseUint(body[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		f := float64(u)
		if neg {
			f = -f
		}
		return f, true
	}
	lower := strings.ToLower(body)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// toNumber applies the arithmetic coercion rules: numbers pass through,
// numeric strings are converted.
func toNumber(v Value) (float64, bool) {
	switch v.t {
	case TypeNumber:
		return v.n, true
	case TypeString:
		return parseNumber(v.o.(*String).s)
	}
	return 0, false
}

// toInteger converts v to an integral value if it has an exact one.
func toInteger(v Value) (int, bool) {
	f, ok := toNumber(v)
	if !ok {
		return 0, false
	}
	i := int(f)
	if float64(i) != f {
		return 0, false
	}
	return i, true
}
