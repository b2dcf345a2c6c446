// Package rollback implements the misprediction detection and correction
// passes: the coordinator holding the engine-wide rollback target, the
// mismatch detector, the preparer that restores known-good state, and the
// executor that replays the fixed-step schedule.
package rollback

import (
	"math"
	"sync/atomic"

	"github.com/zeusync/prediction/internal/core/timeline"
)

const notRolling = int64(math.MaxInt64)

// State is the engine-wide rollback decision latch. At any time there is at
// most one rollback target: the first tick that must be re-simulated.
//
// Write protocol: within one detection pass, any number of workers may call
// RequestAtOrEarlier concurrently; the latch performs a min-reduction, so
// the earliest requested tick wins regardless of arrival order. Clear is
// called only by the executor at the end of a rollback pass, when no
// detection workers are running. Reads are safe from anywhere.
type State struct {
	target atomic.Int64
}

func NewState() *State {
	s := &State{}
	s.target.Store(notRolling)
	return s
}

// RequestAtOrEarlier latches the given tick as the rollback target unless an
// earlier target is already latched. Reports whether the latch changed.
func (s *State) RequestAtOrEarlier(tick timeline.Tick) bool {
	for {
		cur := s.target.Load()
		if cur != notRolling && !timeline.Before(tick, timeline.Tick(cur)) {
			return false
		}
		if s.target.CompareAndSwap(cur, int64(tick)) {
			return true
		}
	}
}

// Target returns the latched target tick, if any.
func (s *State) Target() (timeline.Tick, bool) {
	v := s.target.Load()
	if v == notRolling {
		return 0, false
	}
	return timeline.Tick(v), true
}

// Rolling reports whether a rollback target is latched.
func (s *State) Rolling() bool {
	return s.target.Load() != notRolling
}

// Clear resets the latch to the idle state.
func (s *State) Clear() {
	s.target.Store(notRolling)
}
