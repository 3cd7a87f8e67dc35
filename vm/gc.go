package vm

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Incremental collector: phases and pacing
// ---------------------------------------------------------------------------

// gcPhase is the collector's position in a cycle. The order matters: the
// tri-color invariant is kept up to and including gcAtomic, and the sweep
// phases are contiguous.
type gcPhase uint8

const (
	gcPropagate   gcPhase = iota // traversing gray objects
	gcAtomic                     // finishing the mark in one step
	gcSweepString                // sweeping string table buckets
	gcSweepFin                   // sweeping objects with finalizers
	gcSweep                      // sweeping everything else
	gcFinalize                   // calling pending __gc metamethods
	gcPause                      // waiting for the next cycle
)

var gcPhaseNames = [...]string{
	gcPropagate:   "propagate",
	gcAtomic:      "atomic",
	gcSweepString: "sweep-strings",
	gcSweepFin:    "sweep-finobj",
	gcSweep:       "sweep",
	gcFinalize:    "finalize",
	gcPause:       "pause",
}

func (p gcPhase) String() string {
	if int(p) < len(gcPhaseNames) {
		return gcPhaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Pacing constants.
const (
	gcStepSize     = 1024 // minimum debt, in bytes, between two steps
	gcSweepMax     = 40   // objects swept per step
	gcSweepCost    = 10   // work charged per swept object
	gcFinalizeCost = 100  // work charged per finalizer call
	stepMulAdj     = 200
	pauseAdj       = 100
)

// keepInvariant reports whether black objects may not point to white ones.
func (g *State) keepInvariant() bool { return g.gcState <= gcAtomic }

func (g *State) isSweepPhase() bool {
	return g.gcState >= gcSweepString && g.gcState <= gcSweep
}

// GCStats summarizes collector activity since the State was created.
type GCStats struct {
	Phase           string
	HeapBytes       int
	Estimate        int
	Threshold       int
	Cycles          int
	Steps           int
	FreedObjects    int
	FreedBytes      int
	FinalizersRun   int
	FinalizerErrors int
	LastCycle       time.Duration
}

// setThreshold schedules the next cycle once the heap grows to pause
// percent of estimate.
func (g *State) setThreshold(estimate int) {
	estimate /= pauseAdj
	threshold := maxInt
	if estimate == 0 || g.gcPause < maxInt/estimate {
		threshold = estimate * g.gcPause
	}
	g.threshold = threshold
	g.gcDebt = g.totalBytes - threshold
}

// singleStep performs one indivisible unit of collector work and returns
// the work done.
func (g *State) singleStep() int {
	switch g.gcState {
	case gcPause:
		g.cycleStart = time.Now()
		g.restartCollection()
		g.gcState = gcPropagate
		return len(g.strt.buckets) * 8

	case gcPropagate:
		if len(g.gray) > 0 {
			return g.propagateMark()
		}
		g.gcState = gcAtomic
		return 0

	case gcAtomic:
		g.propagateAll()
		work := g.atomic()
		g.enterSweep()
		g.estimate = g.totalBytes
		return work

	case gcSweepString:
		i := 0
		for ; i < gcSweepMax && g.sweepStr+i < len(g.strt.buckets); i++ {
			g.sweepStringBucket(g.sweepStr + i)
		}
		g.sweepStr += i
		if g.sweepStr >= len(g.strt.buckets) {
			g.gcState = gcSweepFin
			g.sweepgc = &g.finobj
		}
		return i * gcSweepCost

	case gcSweepFin:
		if g.sweepgc != nil {
			g.sweepgc = g.sweepList(g.sweepgc, gcSweepMax)
			return gcSweepMax * gcSweepCost
		}
		g.gcState = gcSweep
		g.sweepgc = &g.allgc
		return 0

	case gcSweep:
		if g.sweepgc != nil {
			g.sweepgc = g.sweepList(g.sweepgc, gcSweepMax)
			return gcSweepMax * gcSweepCost
		}
		main := g.mainThread
		g.sweepThread(main)
		g.makeWhite(main)
		g.checkSizes()
		g.estimate = g.totalBytes
		g.gcState = gcFinalize
		return gcSweepCost

	case gcFinalize:
		if g.tobefnz != nil && !g.emergency {
			g.callFinalizer()
			return gcFinalizeCost
		}
		g.endCycle()
		return 0
	}
	panic("vm: bad collector phase")
}

// endCycle closes a collection cycle and records its statistics.
func (g *State) endCycle() {
	g.gcState = gcPause
	g.stats.Cycles++
	g.stats.LastCycle = time.Since(g.cycleStart)
	gcLog.Debug("cycle finished",
		"state", g.id.String(),
		"heap", g.totalBytes,
		"duration", g.stats.LastCycle.String(),
		"freed", g.stats.FreedObjects)
}

// enterSweep starts the sweep phases.
func (g *State) enterSweep() {
	g.gcState = gcSweepString
	g.sweepStr = 0
	g.sweepgc = nil
}

// runUntil performs steps until the collector reaches phase p.
func (g *State) runUntil(p gcPhase) {
	for g.gcState != p {
		g.singleStep()
	}
}

// incStep performs work proportional to the current debt.
func (g *State) incStep() {
	g.inGC = true
	defer func() { g.inGC = false }()
	g.stats.Steps++
	stepMul := g.gcStepMul
	if stepMul < 40 {
		stepMul = 40
	}
	debt := g.gcDebt/stepMulAdj + 1
	if debt < maxInt/stepMul {
		debt *= stepMul
	} else {
		debt = maxInt
	}
	for {
		debt -= g.singleStep()
		if debt <= -gcStepSize || g.gcState == gcPause {
			break
		}
	}
	if g.gcState == gcPause {
		g.setThreshold(g.estimate)
	} else {
		g.gcDebt = debt / stepMul * stepMulAdj
	}
}

// step is the allocation-driven entry point.
func (g *State) step() {
	if !g.gcRunning || g.gcLock || g.inGC {
		g.gcDebt = -gcStepSize
		return
	}
	g.incStep()
}

// fullGC runs a complete cycle. An emergency collection, started because
// the allocator refused a request, runs no finalizers and leaves stacks at
// their current size.
func (g *State) fullGC(emergency bool) {
	g.inGC = true
	g.emergency = emergency
	defer func() {
		g.inGC = false
		g.emergency = false
	}()
	if emergency {
		gcLog.Warning("emergency collection", "state", g.id.String(), "heap", g.totalBytes)
	}
	if g.keepInvariant() {
		// there may be black objects: sweep them back to white
		g.enterSweep()
	}
	g.runUntil(gcPause)
	g.runUntil(gcPropagate)
	g.runUntil(gcPause)
	g.setThreshold(g.totalBytes)
	if !emergency {
		g.runPendingFinalizers()
	}
}

// runPendingFinalizers calls every finalizer waiting in tobefnz.
func (g *State) runPendingFinalizers() {
	for g.tobefnz != nil {
		g.callFinalizer()
	}
}

// ---------------------------------------------------------------------------
// Host control
// ---------------------------------------------------------------------------

// GCStop stops automatic collection steps.
func (g *State) GCStop() { g.gcRunning = false }

// GCRestart resumes automatic collection steps.
func (g *State) GCRestart() {
	g.gcDebt = 0
	g.gcRunning = true
}

// GCRunning reports whether automatic collection is enabled.
func (g *State) GCRunning() bool { return g.gcRunning }

// GCStep performs an explicit step of about kb kilobytes of work and
// reports whether it finished a cycle.
func (g *State) GCStep(kb int) bool {
	if g.gcLock || g.inGC {
		return false
	}
	debt := kb*1024 - gcStepSize
	if g.gcRunning {
		debt += g.gcDebt
	}
	g.gcDebt = debt
	g.incStep()
	if g.gcState == gcPause {
		g.runPendingFinalizers()
		return true
	}
	return false
}

// FullGC runs a complete collection cycle, including finalizers.
func (g *State) FullGC() {
	if g.gcLock || g.inGC {
		return
	}
	g.runPendingFinalizers()
	g.fullGC(false)
}

// SetGCPause sets the collector pause and returns the previous value.
func (g *State) SetGCPause(pause int) int {
	old := g.gcPause
	g.gcPause = pause
	return old
}

// SetGCStepMul sets the collector step multiplier and returns the previous
// value.
func (g *State) SetGCStepMul(mul int) int {
	old := g.gcStepMul
	g.gcStepMul = mul
	return old
}

// GCCount returns the number of bytes currently accounted to the heap.
func (g *State) GCCount() int { return g.totalBytes }

// GCStats returns a snapshot of the collector statistics.
func (g *State) GCStats() GCStats {
	s := g.stats
	s.Phase = g.gcState.String()
	s.HeapBytes = g.totalBytes
	s.Estimate = g.estimate
	s.Threshold = g.threshold
	return s
}
