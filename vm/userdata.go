package vm

// Userdata is a host-owned value with an optional metatable and an
// associated user value.
type Userdata struct {
	header
	meta      *Table
	uservalue Value
	size      int

	// Data is the host payload. The collector never looks inside it.
	Data any
}

func (u *Userdata) kind() Type { return TypeUserdata }

func (u *Userdata) memSize() int { return sizeUserdata + u.size }

// Metatable returns the userdata's metatable, or nil.
func (u *Userdata) Metatable() *Table { return u.meta }

// UserValue returns the value associated with the userdata.
func (u *Userdata) UserValue() Value { return u.uservalue }

// newUserdata allocates a userdata charged as size bytes.
func (g *State) newUserdata(data any, size int) *Userdata {
	u := &Userdata{Data: data, size: size}
	g.link(u, u.memSize())
	return u
}

// SetUserValue stores v as u's user value.
func (g *State) SetUserValue(u *Userdata, v Value) {
	u.uservalue = v
	if v.o != nil {
		g.barrierForward(u, v.o)
	}
}
