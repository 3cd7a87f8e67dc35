package vm

import (
	"errors"
	"math"
)

// ---------------------------------------------------------------------------
// Table: array part plus insertion-ordered hash part
// ---------------------------------------------------------------------------

// Table is the language's associative array.
//
// Integer keys 1..len(arr) live in the array part; every other key lives in
// nodes, indexed by the index map. Removing a key from the hash part leaves
// a tombstone (the key stays, the value becomes nil) so that an ongoing
// traversal with Next keeps working. Tombstones are compacted away only when
// a new key is inserted.
type Table struct {
	header
	flags   uint8 // bit e set: metatable has no handler for fast event e
	meta    *Table
	arr     []Value
	nodes   []node
	index   map[Value]int
	dead    int // tombstones in nodes
	charged int
}

type node struct {
	key Value
	val Value
}

func (t *Table) kind() Type { return TypeTable }

func (t *Table) memSize() int {
	return sizeTable + cap(t.arr)*sizeSlot + cap(t.nodes)*sizeNode
}

// Errors raised for invalid keys.
var (
	errNilIndex = errors.New("table index is nil")
	errNaNIndex = errors.New("table index is NaN")
	errNextKey  = errors.New("invalid key to 'next'")
)

// newTable creates an empty table with preallocated parts.
func (g *State) newTable(narr, nhash int) *Table {
	t := &Table{}
	if narr > 0 {
		t.arr = make([]Value, 0, narr)
	}
	if nhash > 0 {
		t.nodes = make([]node, 0, nhash)
		t.index = make(map[Value]int, nhash)
	}
	t.charged = t.memSize()
	g.link(t, t.charged)
	return t
}

// Metatable returns the table's metatable, or nil.
func (t *Table) Metatable() *Table { return t.meta }

// arrayIndex reports whether k addresses the array part (or the slot just
// past its end) and returns the 1-based index.
func arrayIndex(k Value) (int, bool) {
	if k.t != TypeNumber {
		return 0, false
	}
	i := int(k.n)
	if float64(i) != k.n || i < 1 {
		return 0, false
	}
	return i, true
}

// Get performs a raw lookup.
func (t *Table) Get(k Value) Value {
	if i, ok := arrayIndex(k); ok && i <= len(t.arr) {
		return t.arr[i-1]
	}
	if k.t == TypeNil {
		return Nil
	}
	if idx, ok := t.index[k]; ok {
		return t.nodes[idx].val
	}
	return Nil
}

// GetInt performs a raw lookup of an integer key.
func (t *Table) GetInt(i int) Value {
	if i >= 1 && i <= len(t.arr) {
		return t.arr[i-1]
	}
	return t.Get(Number(float64(i)))
}

// getStr performs a raw lookup of a string key.
func (t *Table) getStr(s *String) Value {
	if idx, ok := t.index[valueOf(s)]; ok {
		return t.nodes[idx].val
	}
	return Nil
}

// checkKey validates a key for insertion.
func checkKey(k Value) error {
	if k.t == TypeNil {
		return errNilIndex
	}
	if k.t == TypeNumber && math.IsNaN(k.n) {
		return errNaNIndex
	}
	return nil
}

// set stores v under k without consulting metamethods. The key must have
// passed checkKey. The table barrier is applied here so that every raw
// store, from the interpreter or the host, keeps the tri-color invariant.
func (t *Table) set(g *State, k, v Value) {
	t.flags = 0
	t.store(g, k, v)
	if v.o != nil || k.o != nil {
		g.barrierBack(t, k, v)
	}
}

func (t *Table) store(g *State, k, v Value) {
	if i, ok := arrayIndex(k); ok {
		if i <= len(t.arr) {
			t.arr[i-1] = v
			return
		}
		if i == len(t.arr)+1 && v.t != TypeNil {
			t.appendArray(g, v)
			return
		}
	}
	if idx, ok := t.index[k]; ok {
		n := &t.nodes[idx]
		if n.val.t == TypeNil && v.t != TypeNil {
			t.dead--
		} else if n.val.t != TypeNil && v.t == TypeNil {
			t.dead++
		}
		n.val = v
		return
	}
	if v.t == TypeNil {
		return
	}
	t.insertNode(g, k, v)
}

// appendArray grows the array part by one and pulls any following integer
// keys out of the hash part.
func (t *Table) appendArray(g *State, v Value) {
	t.growArray(g)
	t.arr = append(t.arr, v)
	for len(t.index) > 0 {
		k := Number(float64(len(t.arr) + 1))
		idx, ok := t.index[k]
		if !ok || t.nodes[idx].val.t == TypeNil {
			break
		}
		t.growArray(g)
		t.arr = append(t.arr, t.nodes[idx].val)
		t.nodes[idx].val = Nil
		t.dead++
	}
}

func (t *Table) growArray(g *State) {
	if len(t.arr) < cap(t.arr) {
		return
	}
	n := 2 * cap(t.arr)
	if n < 4 {
		n = 4
	}
	t.resize(g, n, cap(t.nodes))
}

// insertNode adds a brand new key to the hash part.
func (t *Table) insertNode(g *State, k, v Value) {
	if len(t.nodes) == cap(t.nodes) {
		if t.dead > 0 && t.dead >= len(t.nodes)/2 {
			t.compact()
		} else {
			n := 2 * cap(t.nodes)
			if n < 4 {
				n = 4
			}
			t.resize(g, cap(t.arr), n)
		}
	}
	if t.index == nil {
		t.index = make(map[Value]int)
	}
	t.index[k] = len(t.nodes)
	t.nodes = append(t.nodes, node{key: k, val: v})
}

// resize reallocates both parts to the given capacities. The accounting
// charge happens before any mutation so an emergency collection triggered
// by it sees a consistent table.
func (t *Table) resize(g *State, narr, nhash int) {
	size := sizeTable + narr*sizeSlot + nhash*sizeNode
	g.charge(t.charged, size)
	t.charged = size
	if narr != cap(t.arr) {
		arr := make([]Value, len(t.arr), narr)
		copy(arr, t.arr)
		t.arr = arr
	}
	if nhash != cap(t.nodes) {
		nodes := make([]node, len(t.nodes), nhash)
		copy(nodes, t.nodes)
		t.nodes = nodes
	}
}

// compact drops tombstones from the hash part, preserving insertion order.
func (t *Table) compact() {
	j := 0
	for _, n := range t.nodes {
		if n.val.t == TypeNil {
			delete(t.index, n.key)
			continue
		}
		t.nodes[j] = n
		t.index[n.key] = j
		j++
	}
	for i := j; i < len(t.nodes); i++ {
		t.nodes[i] = node{}
	}
	t.nodes = t.nodes[:j]
	t.dead = 0
}

// Next returns the entry following key in traversal order. A nil key starts
// the traversal; ok is false once it is exhausted.
func (t *Table) Next(key Value) (k, v Value, ok bool, err error) {
	i := 0
	if key.t != TypeNil {
		if ai, isArr := arrayIndex(key); isArr && ai <= len(t.arr) {
			i = ai
		} else if idx, found := t.index[key]; found {
			i = len(t.arr) + idx + 1
		} else {
			return Nil, Nil, false, errNextKey
		}
	}
	for ; i < len(t.arr); i++ {
		if t.arr[i].t != TypeNil {
			return Number(float64(i + 1)), t.arr[i], true, nil
		}
	}
	for i -= len(t.arr); i < len(t.nodes); i++ {
		if n := t.nodes[i]; n.val.t != TypeNil {
			return n.key, n.val, true, nil
		}
	}
	return Nil, Nil, false, nil
}

// Len returns a border of the table: an index n with t[n] non-nil and
// t[n+1] nil, or zero if t[1] is nil.
func (t *Table) Len() int {
	j := len(t.arr)
	if j > 0 && t.arr[j-1].t == TypeNil {
		// binary search for a border inside the array part
		i := 0
		for j-i > 1 {
			m := (i + j) / 2
			if t.arr[m-1].t == TypeNil {
				j = m
			} else {
				i = m
			}
		}
		return i
	}
	if len(t.index) == 0 {
		return j
	}
	return t.unboundSearch(j)
}

func (t *Table) unboundSearch(j int) int {
	i := j
	j++
	for t.GetInt(j).t != TypeNil {
		i = j
		if j > maxInt/2 {
			// pathological table: linear search
			k := 1
			for t.GetInt(k).t != TypeNil {
				k++
			}
			return k - 1
		}
		j *= 2
	}
	for j-i > 1 {
		m := (i + j) / 2
		if t.GetInt(m).t == TypeNil {
			j = m
		} else {
			i = m
		}
	}
	return i
}
