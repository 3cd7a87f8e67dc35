package vm

// ---------------------------------------------------------------------------
// Heap object header
// ---------------------------------------------------------------------------

// Mark bits stored in header.marked.
const (
	white0Bit    = 0 // object is white (type 0)
	white1Bit    = 1 // object is white (type 1)
	blackBit     = 2 // object is black
	finalizedBit = 3 // __gc already called for this object
	separatedBit = 4 // object is on the finalizer list
	fixedBit     = 5 // object is never collected
	freedBit     = 6 // object has been released by the sweeper
)

const (
	whiteBits = 1<<white0Bit | 1<<white1Bit
	maskMarks = ^uint8(whiteBits | 1<<blackBit)
)

// header is embedded in every collectable object. next links the object
// into exactly one of the collector's object lists (allgc, finobj, tobefnz)
// or, for strings, into a string table bucket.
type header struct {
	next   object
	marked uint8
}

func (h *header) hdr() *header { return h }

// object is implemented by every heap-allocated runtime entity.
type object interface {
	hdr() *header
	kind() Type

	// traverse marks everything the object references and returns an
	// estimate of the work done, used by the incremental pacer.
	traverse(g *State) int

	// memSize returns the number of bytes charged to the allocator for the
	// object in its current shape.
	memSize() int
}

func (h *header) isWhite() bool { return h.marked&whiteBits != 0 }
func (h *header) isBlack() bool { return h.marked&(1<<blackBit) != 0 }
func (h *header) isGray() bool { return !h.isBlack() && !h.isWhite() }
func (h *header) isFixed() bool { return h.marked&(1<<fixedBit) != 0 }
func (h *header) isFinalized() bool { return h.marked&(1<<finalizedBit) != 0 }
func (h *header) isSeparated() bool { return h.marked&(1<<separatedBit) != 0 }
func (h *header) isFreed() bool { return h.marked&(1<<freedBit) != 0 }

func (h *header) white2gray() { h.marked &^= whiteBits }
func (h *header) gray2black() { h.marked |= 1 << blackBit }
func (h *header) black2gray() { h.marked &^= 1 << blackBit }

// isDeadMark reports whether an object marked with m is dead given the
// current white. Objects of the other white survived no marking pass.
func isDeadMark(m uint8, otherWhite uint8) bool {
	return m&(otherWhite|1<<fixedBit) == otherWhite
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocator decides whether a change in heap accounting may proceed.
// oldSize is zero for fresh allocations and newSize is zero for frees.
// Returning false for a growth request reports an out-of-memory condition;
// the runtime then runs an emergency collection and retries once.
type Allocator func(oldSize, newSize int) bool

// LimitAllocator returns an Allocator that refuses to let the total heap
// exceed limit bytes. A limit of zero means no limit.
func LimitAllocator(limit int) Allocator {
	var used int
	return func(oldSize, newSize int) bool {
		next := used - oldSize + newSize
		if limit > 0 && newSize > oldSize && next > limit {
			return false
		}
		used = next
		return true
	}
}

// Approximate per-kind sizes charged for accounting.
const (
	sizeString   = 40
	sizeTable    = 64
	sizeNode     = 48
	sizeSlot     = 24
	sizeLClosure = 40
	sizeGClosure = 48
	sizeUpvalue  = 48
	sizeUserdata = 56
	sizeThread   = 200
	sizeCallInfo = 80
	sizeProto    = 120
)

// charge asks the allocator for delta bytes of growth or shrinkage,
// running an emergency collection before reporting an out-of-memory error.
func (g *State) charge(oldSize, newSize int) {
	if newSize <= oldSize {
		g.alloc(oldSize, newSize)
		g.account(newSize - oldSize)
		return
	}
	if !g.alloc(oldSize, newSize) {
		if g.gcRunning && !g.gcLock && !g.inGC {
			g.fullGC(true)
			if g.alloc(oldSize, newSize) {
				g.account(newSize - oldSize)
				return
			}
		}
		g.running.throw(StatusErrMem, valueOf(g.memErrMsg))
	}
	g.account(newSize - oldSize)
}

// account records delta bytes in the heap total and the collector debt.
func (g *State) account(delta int) {
	g.totalBytes += delta
	g.gcDebt += delta
}

// link registers a freshly built object with the collector. The object is
// created with the current white and placed on allgc.
func (g *State) link(o object, size int) {
	g.charge(0, size)
	h := o.hdr()
	h.marked = g.currentWhite & whiteBits
	h.next = g.allgc
	g.allgc = o
}

// newWhite returns the mark for a newly born object.
func (g *State) newWhite() uint8 { return g.currentWhite & whiteBits }

// otherWhite returns the white that denotes "dead" during a sweep.
func (g *State) otherWhite() uint8 { return g.currentWhite ^ whiteBits }

// makeWhite resets o to the current white, clearing black and gray.
func (g *State) makeWhite(o object) {
	h := o.hdr()
	h.marked = (h.marked & maskMarks) | g.newWhite()
}

// isDead reports whether o would be freed by the current sweep.
func (g *State) isDead(o object) bool {
	return isDeadMark(o.hdr().marked, g.otherWhite())
}

// changeWhite flips a dead-looking white object back to life; used when an
// object is resurrected (interned string hit during sweep).
func changeWhite(o object) {
	o.hdr().marked ^= whiteBits
}
