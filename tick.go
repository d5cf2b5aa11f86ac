package timingbloom

import "time"

// ticksPerCycle is T-1: the number of distinct nonzero tick values a
// 4-bit cell can hold (tick 0 is reserved for "empty").
const ticksPerCycle = 15

// tickClock maps wall-clock time to the small cyclic counter described in
// spec.md §4.2: current(t) = 1 + (floor(t/Δ) mod 15), Δ = decayTime/15.
type tickClock struct {
	decayTime time.Duration
	delta     time.Duration
}

func newTickClock(decayTime time.Duration) *tickClock {
	return &tickClock{
		decayTime: decayTime,
		delta:     decayTime / ticksPerCycle,
	}
}

// current returns the tick naming t's Δ-sized bucket, in [1, 15]. Uses
// floor division (not Go's truncating /) so buckets before the Unix
// epoch — routinely produced by window()'s look-back — number
// consistently with buckets after it.
func (tc *tickClock) current(t time.Time) uint8 {
	bucket := floorDiv(t.UnixNano(), int64(tc.delta))
	return uint8(1 + floorMod(bucket, ticksPerCycle))
}

// window returns (tick_min, tick_max): tick_min names the bucket
// ticksPerCycle*Δ (one decay time) before t, tick_max names t's own
// bucket. The interval (tick_min, tick_max] is cyclic; see inWindow.
func (tc *tickClock) window(t time.Time) (tickMin, tickMax uint8) {
	return tc.current(t.Add(-ticksPerCycle * tc.delta)), tc.current(t)
}

// inWindow reports whether tick v lies in the half-open cyclic interval
// (tickMin, tickMax], handling both the linear and wrapped cases, and the
// tickMin == tickMax edge case (spec.md §4.4: treated as "all nonzero
// valid", i.e. one full rotation minus one tick).
func inWindow(v, tickMin, tickMax uint8) bool {
	if tickMin < tickMax {
		return v > tickMin && v <= tickMax
	}
	if tickMin > tickMax {
		return v > tickMin || v <= tickMax
	}
	// tickMin == tickMax: the window spans a full rotation. Any nonzero
	// cell is considered fresh; callers only reach inWindow for v != 0.
	return true
}

// floorMod is (a mod n) with the mathematician's sign convention: always
// in [0, n), never negative, unlike Go's %.
func floorMod(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// floorDiv is floor(a/b), unlike Go's / which truncates toward zero.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
