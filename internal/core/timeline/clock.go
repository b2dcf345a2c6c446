package timeline

import "time"

// FixedClock is the fixed-step simulation clock. It owns the current tick
// and the fractional overstep accumulated between fixed updates.
//
// The clock is not safe for concurrent use; it is exclusively owned by the
// forward simulation loop, and during a replay by the rollback executor.
type FixedClock struct {
	tick     Tick
	step     time.Duration
	overstep time.Duration
}

// ClockState is a snapshot of the mutable clock fields, used to save the
// real timeline around a replay and restore it afterwards.
type ClockState struct {
	Tick     Tick
	Overstep time.Duration
}

func NewFixedClock(step time.Duration) *FixedClock {
	if step <= 0 {
		step = time.Second / 60
	}
	return &FixedClock{step: step}
}

// Tick returns the current simulation tick.
func (c *FixedClock) Tick() Tick {
	return c.tick
}

// Step returns the fixed step duration.
func (c *FixedClock) Step() time.Duration {
	return c.step
}

// StepSeconds returns the fixed step as seconds, the form simulation
// systems consume.
func (c *FixedClock) StepSeconds() float64 {
	return c.step.Seconds()
}

// Overstep returns the accumulated fraction of a step not yet simulated.
func (c *FixedClock) Overstep() time.Duration {
	return c.overstep
}

// Accumulate adds frame time to the overstep accumulator and returns how
// many fixed steps are now due.
func (c *FixedClock) Accumulate(dt time.Duration) int {
	if dt < 0 {
		return 0
	}
	c.overstep += dt
	return int(c.overstep / c.step)
}

// AdvanceStep consumes one fixed step worth of overstep (if available) and
// increments the tick.
func (c *FixedClock) AdvanceStep() Tick {
	if c.overstep >= c.step {
		c.overstep -= c.step
	}
	c.tick = c.tick.Add(1)
	return c.tick
}

// Snapshot captures the clock state so it can be restored after a replay.
func (c *FixedClock) Snapshot() ClockState {
	return ClockState{Tick: c.tick, Overstep: c.overstep}
}

// Restore puts the clock back to a previously captured state.
func (c *FixedClock) Restore(s ClockState) {
	c.tick = s.Tick
	c.overstep = s.Overstep
}

// Rewind moves the clock to the state it held just after the given tick was
// simulated: tick set, overstep zeroed.
func (c *FixedClock) Rewind(to Tick) {
	c.tick = to
	c.overstep = 0
}
