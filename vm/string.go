package vm

import "hash/maphash"

// ---------------------------------------------------------------------------
// Interned strings
// ---------------------------------------------------------------------------

// String is an immutable, interned byte string. Two String objects with the
// same contents never coexist in one State, so equality is pointer identity.
type String struct {
	header
	s    string
	hash uint64
}

func (s *String) kind() Type { return TypeString }
func (s *String) traverse(g *State) int { return 0 }
func (s *String) memSize() int { return sizeString + len(s.s) }

// Go returns the Go string.
func (s *String) Go() string { return s.s }

// stringTable interns strings by content. Buckets are singly linked through
// the object header so the sweeper can walk them like any other list.
type stringTable struct {
	seed    maphash.Seed
	buckets []object
	count   int
}

const minStrTabSize = 32

func newStringTable() stringTable {
	return stringTable{
		seed:    maphash.MakeSeed(),
		buckets: make([]object, minStrTabSize),
	}
}

// String interns s and returns it as a value.
func (g *State) String(s string) Value {
	return valueOf(g.intern(s))
}

// intern returns the unique String for s, creating it if needed.
func (g *State) intern(s string) *String {
	h := maphash.String(g.strt.seed, s)
	b := h % uint64(len(g.strt.buckets))
	for o := g.strt.buckets[b]; o != nil; o = o.hdr().next {
		ts := o.(*String)
		if ts.hash == h && ts.s == s {
			// dead but not yet collected: bring it back
			if g.isDead(ts) {
				changeWhite(ts)
			}
			return ts
		}
	}
	ts := &String{s: s, hash: h}
	g.charge(0, ts.memSize())
	if g.strt.count >= len(g.strt.buckets) && len(g.strt.buckets) <= maxInt/2 {
		g.resizeStrings(len(g.strt.buckets) * 2)
	}
	b = h % uint64(len(g.strt.buckets))
	ts.marked = g.newWhite()
	ts.next = g.strt.buckets[b]
	g.strt.buckets[b] = ts
	g.strt.count++
	return ts
}

// resizeStrings rehashes the string table into n buckets.
func (g *State) resizeStrings(n int) {
	if g.gcState == gcSweepString {
		// bucket walk in progress
		return
	}
	nb := make([]object, n)
	for _, o := range g.strt.buckets {
		for o != nil {
			next := o.hdr().next
			ts := o.(*String)
			b := ts.hash % uint64(n)
			ts.next = nb[b]
			nb[b] = ts
			o = next
		}
	}
	g.charge(len(g.strt.buckets)*8, n*8)
	g.strt.buckets = nb
}

// checkSizes shrinks the string table when it is mostly empty; called at
// the end of a sweep.
func (g *State) checkSizes() {
	if g.gcState == gcSweepString {
		return
	}
	n := len(g.strt.buckets)
	if g.strt.count < n/4 && n > minStrTabSize*2 {
		g.resizeStrings(n / 2)
	}
}

const maxInt = int(^uint(0) >> 1)
