package timingbloom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickClockCurrentNeverZero(t *testing.T) {
	tc := newTickClock(60 * time.Second)
	base := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		tick := tc.current(base.Add(time.Duration(i) * time.Second))
		require.NotZero(t, tick)
		assert.LessOrEqual(t, tick, uint8(ticksPerCycle))
	}
}

func TestTickClockAdvancesMonotonicallyModuloCycle(t *testing.T) {
	tc := newTickClock(15 * time.Second) // delta = 1s
	base := time.Unix(0, 0)

	var last uint8
	for i := 0; i < ticksPerCycle; i++ {
		tick := tc.current(base.Add(time.Duration(i) * time.Second))
		if i > 0 {
			assert.Equal(t, last%ticksPerCycle+1, tick)
		}
		last = tick
	}
}

func TestInWindowLinear(t *testing.T) {
	// tickMin=3, tickMax=7: fresh ticks are 4,5,6,7.
	for v := uint8(1); v <= ticksPerCycle; v++ {
		want := v > 3 && v <= 7
		assert.Equal(t, want, inWindow(v, 3, 7), "v=%d", v)
	}
}

func TestInWindowWrapped(t *testing.T) {
	// tickMin=13, tickMax=2: fresh ticks wrap through 15 back to 1,2.
	for v := uint8(1); v <= ticksPerCycle; v++ {
		want := v > 13 || v <= 2
		assert.Equal(t, want, inWindow(v, 13, 2), "v=%d", v)
	}
}

func TestInWindowFullRotation(t *testing.T) {
	// tickMin == tickMax: spec treats this as "all nonzero valid".
	for v := uint8(1); v <= ticksPerCycle; v++ {
		assert.True(t, inWindow(v, 5, 5), "v=%d", v)
	}
}

// TestTickWindowArithmeticExhaustive is spec.md §8 property 5: for every
// pair (tick_min, tick_max) in {1..15}^2, the membership predicate
// agrees with "t was produced within the last decay_time" — here checked
// via the symmetry the wrapped/linear branches must have.
func TestTickWindowArithmeticExhaustive(t *testing.T) {
	for tickMin := uint8(1); tickMin <= ticksPerCycle; tickMin++ {
		for tickMax := uint8(1); tickMax <= ticksPerCycle; tickMax++ {
			for v := uint8(1); v <= ticksPerCycle; v++ {
				var want bool
				switch {
				case tickMin < tickMax:
					want = v > tickMin && v <= tickMax
				case tickMin > tickMax:
					want = v > tickMin || v <= tickMax
				default:
					want = true
				}
				if got := inWindow(v, tickMin, tickMax); got != want {
					t.Fatalf("inWindow(%d, %d, %d) = %v, want %v", v, tickMin, tickMax, got, want)
				}
			}
		}
	}
}
