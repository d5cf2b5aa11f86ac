package timingbloom

import (
	"math"
	"sync"
	"time"
)

// defaultGrowthFactor is g = 2*sqrt(2), the spec.md §6 default for
// N_{i+1}/N_i.
var defaultGrowthFactor = 2 * math.Sqrt2

// ScalingConfig carries the construction parameters for a Scaling
// controller (spec.md §4.5, §6).
type ScalingConfig struct {
	// Capacity is N_0, the first tier's expected unique-item count.
	// Required, must be > 0.
	Capacity uint32
	// DecayTime is the freshness window shared by every tier. Required,
	// must be > 0.
	DecayTime time.Duration
	// ErrorRate is ε_target, the compound false-positive budget across
	// all tiers. Defaults to 0.005 when zero. The first tier's own
	// budget is derived as ε_0 = ErrorRate * (1 - ErrorTighteningRatio)
	// so that Σ ε_0·r^i telescopes to exactly ErrorRate.
	ErrorRate float64
	// Growth is g, the capacity ratio between successive tiers.
	// Defaults to 2*sqrt(2) when zero. Must be > 1.
	Growth float64
	// ErrorTighteningRatio is r, the per-tier error-budget ratio.
	// Defaults to 0.9 when zero. Must be in (0, 1).
	ErrorTighteningRatio float64
	// MaxFillFactor is the fill ratio above which a new tier is added.
	// Defaults to 0.9 when zero. Must be in (0, 1).
	MaxFillFactor float64
	// MinFillFactor is the fill ratio below which shrinkage is
	// considered. Defaults to 0.2 when zero. Must be in (0, 1).
	MinFillFactor float64
	// Scheduler supplies the clock and periodic-callback registration.
	// Defaults to NewScheduler() when nil.
	Scheduler Scheduler

	hasher hasher
}

func (c *ScalingConfig) withDefaults() ScalingConfig {
	cp := *c
	if cp.ErrorRate == 0 {
		cp.ErrorRate = 0.005
	}
	if cp.Growth == 0 {
		cp.Growth = defaultGrowthFactor
	}
	if cp.ErrorTighteningRatio == 0 {
		cp.ErrorTighteningRatio = 0.9
	}
	if cp.MaxFillFactor == 0 {
		cp.MaxFillFactor = 0.9
	}
	if cp.MinFillFactor == 0 {
		cp.MinFillFactor = 0.2
	}
	if cp.Scheduler == nil {
		cp.Scheduler = NewScheduler()
	}
	if cp.hasher == nil {
		cp.hasher = defaultHasher
	}
	return cp
}

func (c *ScalingConfig) validate() error {
	if c.Capacity == 0 {
		return paramErrorf("capacity must be greater than 0")
	}
	if c.DecayTime <= 0 {
		return paramErrorf("decay_time must be greater than 0")
	}
	if c.ErrorRate < 0 || c.ErrorRate >= 1 {
		return paramErrorf("error rate %v must be in (0, 1)", c.ErrorRate)
	}
	if c.Growth != 0 && c.Growth <= 1 {
		return paramErrorf("growth_factor %v must be greater than 1", c.Growth)
	}
	if c.ErrorTighteningRatio != 0 && (c.ErrorTighteningRatio <= 0 || c.ErrorTighteningRatio >= 1) {
		return paramErrorf("error_tightening_ratio %v must be in (0, 1)", c.ErrorTighteningRatio)
	}
	if c.MaxFillFactor != 0 && (c.MaxFillFactor <= 0 || c.MaxFillFactor >= 1) {
		return paramErrorf("max_fill_factor %v must be in (0, 1)", c.MaxFillFactor)
	}
	if c.MinFillFactor != 0 && (c.MinFillFactor <= 0 || c.MinFillFactor >= 1) {
		return paramErrorf("min_fill_factor %v must be in (0, 1)", c.MinFillFactor)
	}
	return nil
}

// tier pairs a Filter with the sizing parameters it was created from, so
// the controller can judge fill ratio and compute the next tier's
// parameters without asking the Filter to expose its internal m/k.
type tier struct {
	filter    *Filter
	capacity  uint32
	errorRate float64
}

// Scaling is the self-scaling composite of spec.md §4.5: an ordered
// collection of Filters with geometrically tightening error rates that
// adds, reclaims, and prefers tiers to bound the compound false-positive
// rate while tracking an unbounded stream.
//
// Unlike a Filter, Scaling does not register its own periodic decay on
// each tier — it registers exactly one combined callback (Start) that
// sweeps every current tier and then applies reclamation/shrink, which
// is the "single combined decay callback" spec.md §4.5 calls for.
type Scaling struct {
	mu  sync.Mutex
	cfg ScalingConfig

	tiers []*tier

	scheduler Scheduler
	handle    Handle
	started   bool
}

// NewScaling constructs a Scaling controller. No tier is allocated until
// the first Add; Contains on an empty controller always returns false.
func NewScaling(cfg ScalingConfig) (*Scaling, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.ErrorRate*(1-cfg.ErrorTighteningRatio) <= 0 {
		return nil, paramErrorf("error budget does not allow a positive first-tier error rate")
	}

	return &Scaling{
		cfg:       cfg,
		scheduler: cfg.Scheduler,
	}, nil
}

// newTier allocates the i-th tier: capacity N_0*g^i, error ε_0*r^i.
func (s *Scaling) newTier(i int) (*tier, error) {
	capacity := float64(s.cfg.Capacity) * math.Pow(s.cfg.Growth, float64(i))
	errorRate := s.cfg.ErrorRate * (1 - s.cfg.ErrorTighteningRatio) * math.Pow(s.cfg.ErrorTighteningRatio, float64(i))

	f, err := New(Config{
		Capacity:  uint32(math.Round(capacity)),
		DecayTime: s.cfg.DecayTime,
		Error:     errorRate,
		Scheduler: s.scheduler,
		hasher:    s.cfg.hasher,
	})
	if err != nil {
		return nil, err
	}
	return &tier{filter: f, capacity: uint32(math.Round(capacity)), errorRate: errorRate}, nil
}

// fillRatio estimates t's current population against its configured
// capacity, using the Filter's own size_estimate rather than a raw
// nonzero-cell count so tiers with different M/K are comparable.
func (t *tier) fillRatio() float64 {
	if t.capacity == 0 {
		return 1
	}
	return t.filter.SizeEstimate() / float64(t.capacity)
}

// Add writes key to the current insertion target — the last tier in the
// list — allocating a new tier first if there is none yet or the
// current target's fill has crossed MaxFillFactor.
func (s *Scaling) Add(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.target()
	if target == nil || target.fillRatio() >= s.cfg.MaxFillFactor {
		t, err := s.newTier(len(s.tiers))
		if err != nil {
			return err
		}
		s.tiers = append(s.tiers, t)
		target = t
	}
	target.filter.Add(key)
	return nil
}

// Contains reports whether any tier reports key present, short-circuiting
// on the first hit in insertion order.
func (s *Scaling) Contains(key []byte) bool {
	s.mu.Lock()
	tiers := append([]*tier(nil), s.tiers...)
	s.mu.Unlock()

	for _, t := range tiers {
		if t.filter.Contains(key) {
			return true
		}
	}
	return false
}

// SizeEstimate sums each tier's own estimate, giving the controller's
// total estimated population.
func (s *Scaling) SizeEstimate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, t := range s.tiers {
		total += t.filter.SizeEstimate()
	}
	return total
}

// Decay sweeps every tier, reclaims any tier whose cells are all empty
// and which is not the insertion target, and — as an optional heuristic,
// not required by any invariant — installs a smaller replacement tier
// when the target's fill has dropped below MinFillFactor and a second
// tier is already absorbing queries.
func (s *Scaling) Decay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tiers {
		t.filter.Decay()
	}

	s.reclaimLocked()
	s.maybeShrinkLocked()
}

func (s *Scaling) reclaimLocked() {
	if len(s.tiers) == 0 {
		return
	}
	targetIdx := len(s.tiers) - 1
	kept := s.tiers[:0:0]
	for i, t := range s.tiers {
		if i != targetIdx && t.filter.nonzeroCellsSnapshot() == 0 {
			continue
		}
		kept = append(kept, t)
	}
	s.tiers = kept
}

func (s *Scaling) maybeShrinkLocked() {
	if len(s.tiers) < 2 {
		return
	}
	target := s.tiers[len(s.tiers)-1]
	if target.fillRatio() >= s.cfg.MinFillFactor {
		return
	}
	if target.capacity <= s.cfg.Capacity {
		return
	}

	smaller := target.capacity / 2
	if smaller < s.cfg.Capacity {
		smaller = s.cfg.Capacity
	}

	// The replacement must draw the next geometric term, ε_0·r^L with
	// L = len(s.tiers), not reuse target.errorRate: copying the current
	// last tier's budget for a second tier would make Σ ε_i exceed
	// ε_target instead of telescoping to it.
	errorRate := s.cfg.ErrorRate * (1 - s.cfg.ErrorTighteningRatio) * math.Pow(s.cfg.ErrorTighteningRatio, float64(len(s.tiers)))

	f, err := New(Config{
		Capacity:  smaller,
		DecayTime: s.cfg.DecayTime,
		Error:     errorRate,
		Scheduler: s.scheduler,
		hasher:    s.cfg.hasher,
	})
	if err != nil {
		return
	}
	s.tiers = append(s.tiers, &tier{filter: f, capacity: smaller, errorRate: errorRate})
}

// target returns the current insertion target: the last tier, or nil if
// none has been allocated yet. Caller must hold s.mu.
func (s *Scaling) target() *tier {
	if len(s.tiers) == 0 {
		return nil
	}
	return s.tiers[len(s.tiers)-1]
}

// Tiers reports the current tier count, for observability and tests.
func (s *Scaling) Tiers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tiers)
}

// Start registers the controller's single combined decay callback at
// decay_time/2. Returns StateError if already started.
func (s *Scaling) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return stateErrorf("scaling filter already started")
	}
	s.handle = s.scheduler.SchedulePeriodic(s.cfg.DecayTime/2, s.Decay)
	s.started = true
	return nil
}

// Stop deregisters the combined decay callback. Returns StateError if not
// started.
func (s *Scaling) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return stateErrorf("scaling filter not started")
	}
	s.scheduler.Cancel(s.handle)
	s.handle = nil
	s.started = false
	return nil
}
