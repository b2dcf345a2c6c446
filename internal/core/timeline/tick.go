// Package timeline provides the simulation tick type and the fixed-step
// clock the prediction engine runs on.
package timeline

// Tick is one discrete simulation step. Ticks are compared through Delta so
// ordering stays correct across wraparound of the underlying counter.
type Tick int32

// Delta returns a - b as a signed step count. The subtraction is performed
// in two's complement, so the result is correct as long as the real
// distance between the two ticks is below 2^31 steps.
func Delta(a, b Tick) int32 {
	return int32(a) - int32(b)
}

// After reports whether a is strictly later than b.
func After(a, b Tick) bool {
	return Delta(a, b) > 0
}

// Before reports whether a is strictly earlier than b.
func Before(a, b Tick) bool {
	return Delta(a, b) < 0
}

// AtOrBefore reports whether a is at or earlier than b.
func AtOrBefore(a, b Tick) bool {
	return Delta(a, b) <= 0
}

// Add advances the tick by n steps. n may be negative.
func (t Tick) Add(n int32) Tick {
	return Tick(int32(t) + n)
}
