package timingbloom

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T, capacity uint32, errorRate float64, decayTime time.Duration) (*Filter, *clock.Mock) {
	t.Helper()
	sched, mock := NewMockScheduler()
	f, err := New(Config{
		Capacity:  capacity,
		Error:     errorRate,
		DecayTime: decayTime,
		Scheduler: sched,
	})
	require.NoError(t, err)
	return f, mock
}

// TestAddThenImmediateContains is spec.md §8 invariant 1.
func TestAddThenImmediateContains(t *testing.T) {
	f, _ := newTestFilter(t, 1000, 0.01, time.Minute)
	key := []byte("alpha")
	assert.False(t, f.Contains(key))
	f.Add(key)
	assert.True(t, f.Contains(key))
}

// TestScenarioS1 follows spec.md §8 scenario S1 exactly.
func TestScenarioS1(t *testing.T) {
	f, mock := newTestFilter(t, 1000, 0.002, 60*time.Second)
	key := []byte("alpha")

	assert.False(t, f.Contains(key))

	f.Add(key)
	assert.True(t, f.Contains(key))

	mock.Add(15 * time.Second)
	f.Decay()
	mock.Add(15 * time.Second) // t=30
	f.Decay()
	assert.True(t, f.Contains(key))

	for total := 30; total < 90; total += 15 {
		mock.Add(15 * time.Second)
		f.Decay()
	}
	assert.False(t, f.Contains(key))
}

// TestDecayClearsStaleCells is spec.md §8 invariant 2.
func TestDecayClearsStaleCells(t *testing.T) {
	f, mock := newTestFilter(t, 1000, 0.01, 10*time.Second)
	key := []byte("beta")
	f.Add(key)
	require.True(t, f.Contains(key))

	// Advance well past decay_time + one tick delta, decaying at cadence.
	for i := 0; i < 4; i++ {
		mock.Add(5 * time.Second) // decay_time/2
		f.Decay()
	}
	assert.False(t, f.Contains(key))
}

// TestScenarioS3 is spec.md §8 scenario S3: tick wraparound across an add.
// delta = decayTime/15 = 1s when decayTime = 15s, so the tick cycles back
// to the value it held at Add after exactly one decay_time.
func TestScenarioS3(t *testing.T) {
	f, mock := newTestFilter(t, 1000, 0.01, 15*time.Second)
	key := []byte("gamma")

	f.Add(key)
	require.True(t, f.Contains(key))

	// Jump straight past a full 15-tick cycle with no intervening Decay.
	// Contains must not be corrupted by the wraparound: the cell's tick
	// still reads as "within window" (spec.md §4.4's degenerate
	// tick_min == tick_max case), so the key is still reported present.
	mock.Add(20 * time.Second)
	assert.True(t, f.Contains(key))

	// Sweeping at a cadence well inside decay_time (3s steps, decay_time
	// is 15s) lets Decay's cross-sweep retirement tracking actually
	// observe the key going stale.
	for i := 0; i < 8; i++ {
		mock.Add(3 * time.Second)
		f.Decay()
	}
	assert.False(t, f.Contains(key))
}

// TestDecaySurvivesKeyAddedJustBeforeSweep guards against a retirement
// bug where a sweep cleared the block of ticks most recently stamped
// (the freshest cells) instead of the stale ones. A key added moments
// before a scheduled sweep must not be wiped by that very next sweep —
// it should last close to decay_time, the same numbers that exposed the
// bug: decay_time=60s, delta=decay_time/15=4s, sweeps at decay_time/2=30s.
func TestDecaySurvivesKeyAddedJustBeforeSweep(t *testing.T) {
	f, mock := newTestFilter(t, 1000, 0.01, 60*time.Second)
	key := []byte("beta")

	mock.Add(30 * time.Second) // first sweep, establishes the baseline
	f.Decay()

	mock.Add(26 * time.Second) // t=56: 4s before the next sweep at t=60
	f.Add(key)

	mock.Add(4 * time.Second) // t=60
	f.Decay()
	assert.True(t, f.Contains(key), "key added 4s earlier must survive the very next sweep")

	mock.Add(30 * time.Second) // t=90
	f.Decay()
	assert.True(t, f.Contains(key), "key is only 34s old here, well under decay_time")

	mock.Add(30 * time.Second) // t=120, key is now 64s old
	f.Decay()
	assert.False(t, f.Contains(key))
}

// TestKeyAddedAtVariousTickPhasesExpires is spec.md §8 invariant 2,
// generalized beyond a single key added at t=0: most of the decay tests
// insert only at that one favorable alignment, which is exactly the case
// a tick-range retirement bug can hide behind. Keys added at a spread of
// phases across the tick cycle must all survive every sweep made before
// decay_time and all be gone well after it.
func TestKeyAddedAtVariousTickPhasesExpires(t *testing.T) {
	const decayTime = 60 * time.Second
	offsets := []time.Duration{
		0,
		7 * time.Second,
		13 * time.Second,
		22 * time.Second,
		29 * time.Second,
		41 * time.Second,
		53 * time.Second,
	}

	for _, offset := range offsets {
		offset := offset
		t.Run(offset.String(), func(t *testing.T) {
			f, mock := newTestFilter(t, 1000, 0.01, decayTime)
			key := []byte("phase-key")

			mock.Add(offset)
			f.Add(key)
			require.True(t, f.Contains(key))

			// Sweep at the prescribed cadence up to just under decay_time
			// since the add; the key must still be present throughout.
			elapsedSinceAdd := time.Duration(0)
			for elapsedSinceAdd+decayTime/2 < decayTime {
				mock.Add(decayTime / 2)
				elapsedSinceAdd += decayTime / 2
				f.Decay()
				assert.True(t, f.Contains(key), "offset %s: still within decay_time after %s", offset, elapsedSinceAdd)
			}

			// Continue sweeping well past decay_time; the key must
			// eventually be cleared.
			for i := 0; i < 4; i++ {
				mock.Add(decayTime / 2)
				f.Decay()
			}
			assert.False(t, f.Contains(key), "offset %s: should have expired well past decay_time", offset)
		})
	}
}

// TestNonzeroCellsMatchesScan is spec.md §8 invariant 4.
func TestNonzeroCellsMatchesScan(t *testing.T) {
	f, mock := newTestFilter(t, 200, 0.01, 30*time.Second)

	scan := func() uint32 {
		var n uint32
		for i := uint32(0); i < f.cells.len(); i++ {
			if f.cells.get(i) != 0 {
				n++
			}
		}
		return n
	}

	for i := 0; i < 50; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
		assert.Equal(t, scan(), f.nonzeroCellsSnapshot())
	}

	mock.Add(31 * time.Second)
	f.Decay()
	assert.Equal(t, scan(), f.nonzeroCellsSnapshot())
}

func TestSizeEstimateMonotoneAcrossAdds(t *testing.T) {
	f, _ := newTestFilter(t, 500, 0.01, time.Minute)
	var last float64
	for i := 0; i < 100; i++ {
		f.Add([]byte(fmt.Sprintf("k%d", i)))
		est := f.SizeEstimate()
		assert.GreaterOrEqual(t, est, last)
		last = est
	}
}

func TestSizeEstimateZeroWhenEmpty(t *testing.T) {
	f, _ := newTestFilter(t, 500, 0.01, time.Minute)
	assert.Equal(t, 0.0, f.SizeEstimate())
}

func TestStartStopStateErrors(t *testing.T) {
	f, _ := newTestFilter(t, 100, 0.01, time.Minute)

	require.NoError(t, f.Start())

	err := f.Start()
	require.Error(t, err)
	var stateErr *StateError
	assert.ErrorAs(t, err, &stateErr)

	require.NoError(t, f.Stop())

	err = f.Stop()
	require.Error(t, err)
	assert.ErrorAs(t, err, &stateErr)
}

func TestNewRejectsBadParameters(t *testing.T) {
	cases := []Config{
		{Capacity: 0, DecayTime: time.Minute, Error: 0.01},
		{Capacity: 100, DecayTime: 0, Error: 0.01},
		{Capacity: 100, DecayTime: time.Minute, Error: 0},
		{Capacity: 100, DecayTime: time.Minute, Error: 1},
		{Capacity: 100, DecayTime: time.Minute, Error: -0.1},
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		require.Error(t, err)
		var paramErr *ParameterError
		assert.ErrorAs(t, err, &paramErr)
	}
}

func TestEmpiricalFalsePositiveRate(t *testing.T) {
	f, _ := newTestFilter(t, 5000, 0.01, time.Hour)
	for i := 0; i < 5000; i++ {
		f.Add([]byte(fmt.Sprintf("member-%d", i)))
	}

	trials := 20000
	falsePositives := 0
	for i := 0; i < trials; i++ {
		if f.Contains([]byte(fmt.Sprintf("non-member-%d", i))) {
			falsePositives++
		}
	}
	observed := float64(falsePositives) / float64(trials)
	assert.Less(t, observed, 0.02) // <= 2*epsilon, spec.md §8 property 3
}
