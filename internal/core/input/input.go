// Package input receives the disagreement signal from the input replication
// layer: the earliest tick at which a remote peer's replayed input differed
// from what this client assumed when predicting that peer.
package input

import (
	"math"
	"sync/atomic"

	"github.com/zeusync/prediction/internal/core/timeline"
)

const noDisagreement = int64(math.MaxInt64)

// Disagreement is a single-slot min-latch. The input layer reports
// disagreement ticks as remote inputs arrive (possibly from its own
// goroutine); the detection pass consumes and resets the latch once per
// frame. Concurrent reports keep the earliest tick.
type Disagreement struct {
	earliest atomic.Int64
}

func NewDisagreement() *Disagreement {
	d := &Disagreement{}
	d.earliest.Store(noDisagreement)
	return d
}

// Report latches the given tick if it is earlier than the currently latched
// one. Safe for concurrent use.
func (d *Disagreement) Report(tick timeline.Tick) {
	for {
		cur := d.earliest.Load()
		if cur != noDisagreement && !timeline.Before(tick, timeline.Tick(cur)) {
			return
		}
		if d.earliest.CompareAndSwap(cur, int64(tick)) {
			return
		}
	}
}

// Consume returns the earliest reported tick and resets the latch to
// "no disagreement". Called at the start of each detection pass.
func (d *Disagreement) Consume() (timeline.Tick, bool) {
	v := d.earliest.Swap(noDisagreement)
	if v == noDisagreement {
		return 0, false
	}
	return timeline.Tick(v), true
}

// Pending reports whether a disagreement is latched without consuming it.
func (d *Disagreement) Pending() bool {
	return d.earliest.Load() != noDisagreement
}
