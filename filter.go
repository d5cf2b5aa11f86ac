package timingbloom

import (
	"math"
	"sync"
	"time"
)

// Membership is the minimal surface both filter kinds satisfy, standing
// in for spec.md §6's "membership operator equivalent" — Go has no
// overloadable membership operator, so a one-method interface is the
// idiomatic substitute.
type Membership interface {
	Contains(key []byte) bool
}

// Config carries the construction parameters for a single Filter
// (spec.md §6). Error defaults to 0.005 and Scheduler to NewScheduler()
// when left zero/nil.
type Config struct {
	// Capacity is the expected number of unique items within one
	// DecayTime. Required, must be > 0.
	Capacity uint32
	// DecayTime is the freshness window. Required, must be > 0.
	DecayTime time.Duration
	// Error is the target false-positive rate at Capacity. Defaults to
	// 0.005 when zero.
	Error float64
	// Scheduler supplies the clock and periodic-callback registration.
	// Defaults to NewScheduler() (the real wall clock) when nil.
	Scheduler Scheduler

	hasher hasher // overridable in tests only; unexported
}

func (c *Config) withDefaults() Config {
	cp := *c
	if cp.Error == 0 {
		cp.Error = 0.005
	}
	if cp.Scheduler == nil {
		cp.Scheduler = NewScheduler()
	}
	if cp.hasher == nil {
		cp.hasher = defaultHasher
	}
	return cp
}

func (c *Config) validate() error {
	if c.Capacity == 0 {
		return paramErrorf("capacity must be greater than 0")
	}
	if c.DecayTime <= 0 {
		return paramErrorf("decay_time must be greater than 0")
	}
	if c.Error <= 0 || c.Error >= 1 {
		return paramErrorf("error rate %v must be in (0, 1)", c.Error)
	}
	return nil
}

// OptimalM computes the standard Bloom sizing M = ceil(-N*ln(p)/ln(2)^2).
func OptimalM(n uint32, p float64) (uint32, error) {
	if n == 0 {
		return 0, paramErrorf("capacity must be greater than 0")
	}
	if p <= 0.0 || p >= 1.0 {
		return 0, paramErrorf("error rate %v must be in (0, 1)", p)
	}
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	return uint32(math.Ceil(m)), nil
}

// OptimalK computes K = ceil((M/N)*ln(2)).
func OptimalK(m, n uint32) (uint32, error) {
	if n == 0 {
		return 0, paramErrorf("capacity must be greater than 0")
	}
	if m == 0 {
		return 0, paramErrorf("filter size must be greater than 0")
	}
	k := (float64(m) / float64(n)) * math.Ln2
	return uint32(math.Ceil(k)), nil
}

// Filter is a single time-decaying Bloom filter (spec.md §4.4): a packed
// cell array addressed through double hashing, where a cell's nonzero
// value names the tick it was last touched at rather than just "set".
type Filter struct {
	mu sync.Mutex

	cells     *packedCells
	m, k      uint32
	tickClock *tickClock
	decayTime time.Duration
	hasher    hasher

	nonzeroCells uint32

	// curTouched marks cells written during the half-cycle currently
	// accumulating; prevTouched holds the previous half-cycle's marks.
	// lastRotation is the wall-clock time curTouched started accumulating.
	// See decayLocked for why retirement needs these instead of a
	// tick-value comparison.
	curTouched, prevTouched *generation
	lastRotation            time.Time

	scheduler Scheduler
	handle    Handle
	started   bool
}

// New constructs a Filter sized for cfg.Capacity at cfg.Error, decaying
// entries after cfg.DecayTime.
func New(cfg Config) (*Filter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	m, err := OptimalM(cfg.Capacity, cfg.Error)
	if err != nil {
		return nil, err
	}
	k, err := OptimalK(m, cfg.Capacity)
	if err != nil {
		return nil, err
	}

	return &Filter{
		cells:       newPackedCells(m),
		m:           m,
		k:           k,
		tickClock:   newTickClock(cfg.DecayTime),
		decayTime:   cfg.DecayTime,
		hasher:      cfg.hasher,
		scheduler:   cfg.Scheduler,
		curTouched:  newGeneration(m),
		prevTouched: newGeneration(m),
	}, nil
}

// Add inserts key, setting the K cells its hashes select to the current
// tick. Returns nonzero_cells as it stands after the insert.
func (f *Filter) Add(key []byte) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(key, f.scheduler.Now())
}

func (f *Filter) addLocked(key []byte, now time.Time) uint32 {
	tick := f.tickClock.current(now)
	idx := make([]uint32, f.k)
	doubleHash(f.hasher, key, f.m, f.k, idx)
	for _, g := range idx {
		if prev := f.cells.set(g, tick); prev == 0 {
			f.nonzeroCells++
		}
		f.curTouched.mark(g)
	}
	return f.nonzeroCells
}

// Contains reports whether key's K cells are all set and all fresh —
// their stored tick lies in the current valid window.
func (f *Filter) Contains(key []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containsLocked(key, f.scheduler.Now())
}

func (f *Filter) containsLocked(key []byte, now time.Time) bool {
	tickMin, tickMax := f.tickClock.window(now)
	idx := make([]uint32, f.k)
	doubleHash(f.hasher, key, f.m, f.k, idx)
	for _, g := range idx {
		v := f.cells.get(g)
		if v == 0 || !inWindow(v, tickMin, tickMax) {
			return false
		}
	}
	return true
}

// Decay sweeps every cell once, clearing those that have gone stale, and
// recomputes nonzero_cells from the scan (spec.md's "Open question": the
// count returned reflects state at sweep end, including any Add the
// scheduler interleaves in).
//
// window(now) looks back exactly ticksPerCycle*Δ (decay_time, up to Δ's
// nanosecond truncation), which means tick(now-ticksPerCycle*Δ) vs
// tick(now) always lands on the same tick value: subtracting an exact multiple of the cycle length
// can never change a floor-division bucket modulo the cycle. Contains
// relies on that degeneracy (spec.md §4.4 explicitly permits treating
// tick_min == tick_max as "all nonzero valid"), but Decay cannot use the
// stored tick value as its retirement signal at all: the set of tick
// values written during the half-cycle that just closed is the exact
// same set written one full cycle earlier, so any rule that retires
// cells by matching tick values is equally likely to retire a cell
// stamped a moment ago as one stamped decay_time ago — there is no tick
// range that names "stale" without also naming "just written".
//
// So retirement doesn't look at tick values. curTouched/prevTouched
// record, independent of any tick value, which cells were written during
// the current and previous half-cycle (ticksPerCycle*Δ/2 = decay_time/2,
// the cadence Start registers). A nonzero cell untouched in both has
// gone at least one full decay_time without a write and is cleared; one
// touched in either survives. Because rotation only advances once
// decay_time/2 of wall-clock time has actually elapsed — not once per
// Decay call — calling Decay more often than the prescribed cadence
// (several tests do, to observe intermediate state) never retires a
// cell early.
func (f *Filter) Decay() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decayLocked(f.scheduler.Now())
}

func (f *Filter) decayLocked(now time.Time) {
	if f.lastRotation.IsZero() {
		f.lastRotation = now
	}

	for i := uint32(0); i < f.m; i++ {
		if f.cells.get(i) != 0 && !f.curTouched.touched(i) && !f.prevTouched.touched(i) {
			f.cells.clear(i)
		}
	}

	half := f.decayTime / 2
	for now.Sub(f.lastRotation) >= half {
		f.prevTouched, f.curTouched = f.curTouched, newGeneration(f.m)
		f.lastRotation = f.lastRotation.Add(half)
	}

	var nonzero uint32
	for i := uint32(0); i < f.m; i++ {
		if f.cells.get(i) != 0 {
			nonzero++
		}
	}
	f.nonzeroCells = nonzero
}

// SizeEstimate returns -(M/K)*ln(1 - nonzero_cells/M), the standard
// Bloom-filter population estimator, clamping the log argument away from
// 0 so an empty or saturated filter never produces NaN/Inf.
func (f *Filter) SizeEstimate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizeEstimateLocked()
}

func (f *Filter) sizeEstimateLocked() float64 {
	if f.nonzeroCells == 0 {
		return 0
	}
	fill := float64(f.nonzeroCells) / float64(f.m)
	const epsilon = 1e-12
	if fill > 1-epsilon {
		fill = 1 - epsilon
	}
	return -(float64(f.m) / float64(f.k)) * math.Log(1-fill)
}

// Start registers the decay sweep with the scheduler at decay_time/2,
// per spec.md §4.4. Returns StateError if already started.
func (f *Filter) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return stateErrorf("filter already started")
	}
	f.handle = f.scheduler.SchedulePeriodic(f.decayTime/2, f.Decay)
	f.started = true
	return nil
}

// Stop deregisters the decay sweep. Returns StateError if not started.
// The filter remains queryable and mutable after Stop; it simply no
// longer auto-decays.
func (f *Filter) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return stateErrorf("filter not started")
	}
	f.scheduler.Cancel(f.handle)
	f.handle = nil
	f.started = false
	return nil
}

// nonzeroCellsSnapshot exposes the cached counter for scaling-controller
// bookkeeping without forcing a full decay sweep.
func (f *Filter) nonzeroCellsSnapshot() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonzeroCells
}
