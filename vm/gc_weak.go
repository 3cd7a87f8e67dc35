package vm

import "strings"

// ---------------------------------------------------------------------------
// Weak tables
// ---------------------------------------------------------------------------

// weakMode reads the __mode field of t's metatable.
func (g *State) weakMode(t *Table) (weakKeys, weakValues bool) {
	mode := g.fastTM(t.meta, tmMode)
	s, ok := mode.AsString()
	if !ok {
		return false, false
	}
	return strings.ContainsRune(s, 'k'), strings.ContainsRune(s, 'v')
}

// isCleared reports whether a weak reference to v must be removed. Strings
// are values, not objects, from the program's point of view, so they are
// marked instead of cleared.
func (g *State) isCleared(v Value) bool {
	if v.o == nil {
		return false
	}
	if s, ok := v.o.(*String); ok {
		g.markObject(s)
		return false
	}
	return v.o.hdr().isWhite()
}

func valIsWhite(v Value) bool {
	return v.o != nil && v.o.hdr().isWhite()
}

// traverseWeakValue marks the keys of a table with weak values. While
// propagating, the table waits on grayagain, since stores into it skip the
// barrier until it is black; in the atomic phase it is queued for clearing
// if any value may die.
func (g *State) traverseWeakValue(t *Table) {
	hasClears := len(t.arr) > 0
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.val.t == TypeNil {
			continue
		}
		g.markValue(n.key)
		if !hasClears && g.isCleared(n.val) {
			hasClears = true
		}
	}
	switch {
	case g.gcState == gcPropagate:
		g.grayagain = append(g.grayagain, t)
	case hasClears:
		g.weak = append(g.weak, t)
	}
}

// traverseEphemeron marks the values whose keys are already marked and
// reports whether it marked anything. Entries whose key is still white are
// left for a later pass, so the result does not depend on the order in
// which tables or entries are visited. Like weak-value tables, ephemerons
// found while propagating are retraversed in the atomic phase. There, a
// table with entries that may be cleared goes to the ephemeron list, whose
// entries are removed by key only.
func (g *State) traverseEphemeron(t *Table) bool {
	marked := false
	hasClears := false
	prop := false
	for _, v := range t.arr {
		if valIsWhite(v) {
			marked = true
			g.markObject(v.o)
		}
	}
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.val.t == TypeNil {
			continue
		}
		if g.isCleared(n.key) {
			hasClears = true
			if valIsWhite(n.val) {
				prop = true
			}
		} else if valIsWhite(n.val) {
			marked = true
			g.markObject(n.val.o)
		}
	}
	switch {
	case g.gcState == gcPropagate:
		g.grayagain = append(g.grayagain, t)
	case prop || hasClears:
		g.ephemeron = append(g.ephemeron, t)
	}
	return marked
}

// convergeEphemerons traverses ephemeron tables until a full pass marks
// nothing new.
func (g *State) convergeEphemerons() {
	for changed := true; changed; {
		list := g.ephemeron
		g.ephemeron = nil
		changed = false
		for _, t := range list {
			if g.traverseEphemeron(t) {
				g.propagateAll()
				changed = true
			}
		}
	}
}

// clearKeys removes entries with unmarked keys.
func (g *State) clearKeys(list []*Table) {
	for _, t := range list {
		for i := range t.nodes {
			n := &t.nodes[i]
			if n.val.t != TypeNil && g.isCleared(n.key) {
				n.val = Nil
				t.dead++
			}
		}
	}
}

// clearValues removes entries with unmarked values.
func (g *State) clearValues(list []*Table) {
	for _, t := range list {
		for i, v := range t.arr {
			if g.isCleared(v) {
				t.arr[i] = Nil
			}
		}
		for i := range t.nodes {
			n := &t.nodes[i]
			if n.val.t != TypeNil && g.isCleared(n.val) {
				n.val = Nil
				t.dead++
			}
		}
	}
}
