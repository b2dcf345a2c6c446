package timeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTick_Delta(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		require.EqualValues(t, 5, Delta(Tick(15), Tick(10)))
		require.EqualValues(t, -5, Delta(Tick(10), Tick(15)))
		require.EqualValues(t, 0, Delta(Tick(7), Tick(7)))
	})

	t.Run("Wraparound", func(t *testing.T) {
		a := Tick(math.MaxInt32)
		b := a.Add(3)
		require.EqualValues(t, 3, Delta(b, a))
		require.True(t, After(b, a))
		require.True(t, Before(a, b))
	})

	t.Run("Ordering", func(t *testing.T) {
		require.True(t, After(Tick(2), Tick(1)))
		require.False(t, After(Tick(1), Tick(1)))
		require.True(t, AtOrBefore(Tick(1), Tick(1)))
		require.True(t, AtOrBefore(Tick(0), Tick(1)))
	})
}

func TestFixedClock(t *testing.T) {
	t.Run("Accumulate And Advance", func(t *testing.T) {
		c := NewFixedClock(10 * time.Millisecond)
		require.Equal(t, Tick(0), c.Tick())

		due := c.Accumulate(25 * time.Millisecond)
		require.Equal(t, 2, due)

		c.AdvanceStep()
		c.AdvanceStep()
		require.Equal(t, Tick(2), c.Tick())
		require.Equal(t, 5*time.Millisecond, c.Overstep())
	})

	t.Run("Snapshot Restore", func(t *testing.T) {
		c := NewFixedClock(10 * time.Millisecond)
		c.Accumulate(34 * time.Millisecond)
		c.AdvanceStep()
		c.AdvanceStep()
		c.AdvanceStep()

		saved := c.Snapshot()
		require.Equal(t, Tick(3), saved.Tick)
		require.Equal(t, 4*time.Millisecond, saved.Overstep)

		c.Rewind(Tick(1))
		require.Equal(t, Tick(1), c.Tick())
		require.Zero(t, c.Overstep())

		c.AdvanceStep()
		c.AdvanceStep()
		c.Restore(saved)
		require.Equal(t, Tick(3), c.Tick())
		require.Equal(t, 4*time.Millisecond, c.Overstep())
	})

	t.Run("Default Step", func(t *testing.T) {
		c := NewFixedClock(0)
		require.Equal(t, time.Second/60, c.Step())
		require.InDelta(t, 1.0/60.0, c.StepSeconds(), 1e-9)
	})
}
