package rollback

import (
	"sync/atomic"

	"github.com/zeusync/prediction/internal/core/events/bus"
	"github.com/zeusync/prediction/internal/core/observability/log"
	"github.com/zeusync/prediction/internal/core/timeline"
	"github.com/zeusync/prediction/internal/core/world"
)

// StepFunc re-runs one fixed simulation step during replay. The engine
// wires it to the rollback-aware schedule plus history capture.
type StepFunc func(dt float64)

// Executor rewinds the fixed-step clock and deterministically re-runs the
// simulation up to the present tick. It runs strictly sequentially; the
// simulation work within one replayed tick may still use intra-tick
// parallelism.
type Executor struct {
	w     *world.World
	clock *timeline.FixedClock
	coord *Coordinator
	opts  Options
	log   log.Log
	stats *Stats
	bus   bus.EventBus
	step  StepFunc

	replaying atomic.Bool
	hidden    []world.EntityID
	replayed  int32
	target    timeline.Tick
}

func NewExecutor(w *world.World, clock *timeline.FixedClock, coord *Coordinator, opts Options, logger log.Log, stats *Stats, events bus.EventBus, step StepFunc) *Executor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Executor{
		w:     w,
		clock: clock,
		coord: coord,
		opts:  opts,
		log:   logger,
		stats: stats,
		bus:   events,
		step:  step,
	}
}

// InReplay reports whether a replay is running right now. External systems
// use it to change behavior during replay, e.g. suppressing sound effects.
func (x *Executor) InReplay() bool {
	return x.replaying.Load()
}

// Replay re-simulates from the latched target through the present tick.
// The real clock state, including fractional overstep, is restored before
// returning. A target outside the replay window aborts via the coordinator
// and returns ErrWindowExceeded.
func (x *Executor) Replay() error {
	saved := x.clock.Snapshot()
	now := saved.Tick

	if err := x.coord.ValidateWindow(now); err != nil {
		return err
	}
	target, ok := x.coord.CurrentTarget()
	if !ok {
		return ErrNotRolling
	}

	steps := timeline.Delta(now, target) + 1
	if x.bus != nil {
		_ = x.bus.Publish(bus.NewEvent(EventRollbackStarted, "rollback", Info{Target: target, Current: now}))
	}
	x.log.Debug("replaying",
		log.Int32("target", int32(target)),
		log.Int32("current", int32(now)),
		log.Int32("steps", steps))

	x.hideExempt()
	x.replaying.Store(true)
	x.clock.Rewind(target.Add(-1))

	dt := x.clock.StepSeconds()
	for i := int32(0); i < steps; i++ {
		x.clock.AdvanceStep()
		x.step(dt)
	}

	x.replaying.Store(false)
	x.clock.Restore(saved)

	x.target = target
	x.replayed = steps
	return nil
}

// EndRollback restores hidden entities, publishes completion, updates
// statistics and returns the coordinator to idle. Safe to call when the
// replay was aborted; it then only restores hidden entities.
func (x *Executor) EndRollback() {
	x.unhideExempt()

	if _, ok := x.coord.CurrentTarget(); !ok {
		// Aborted or already finished.
		x.replayed = 0
		return
	}

	if x.stats != nil {
		x.stats.addRollback(x.replayed)
	}
	now := x.clock.Tick()
	if x.bus != nil {
		_ = x.bus.Publish(bus.NewEvent(EventRollbackCompleted, "rollback",
			Info{Target: x.target, Current: now, Replayed: x.replayed}))
	}
	x.replayed = 0
	x.coord.Clear()
}

// hideExempt disables rollback-exempt entities for the duration of the
// replay so they are neither corrupted nor duplicated by it.
func (x *Executor) hideExempt() {
	x.hidden = x.hidden[:0]
	x.w.EachEntity(func(e *world.Entity) {
		if e.IsRollbackExempt() && !e.IsDisabled() {
			e.SetDisabled(true)
			x.hidden = append(x.hidden, e.ID())
		}
	})
}

func (x *Executor) unhideExempt() {
	for _, id := range x.hidden {
		if e, ok := x.w.Get(id); ok {
			e.SetDisabled(false)
		}
	}
	x.hidden = x.hidden[:0]
}
