package rollback

import (
	"github.com/zeusync/prediction/internal/core/events/bus"
	"github.com/zeusync/prediction/internal/core/observability/log"
	"github.com/zeusync/prediction/internal/core/timeline"
)

// Event types published on the engine bus.
const (
	EventRollbackStarted   = "rollback.started"
	EventRollbackCompleted = "rollback.completed"
	EventRollbackAborted   = "rollback.aborted"
)

// Info is the payload carried by rollback lifecycle events.
type Info struct {
	Target   timeline.Tick
	Current  timeline.Tick
	Replayed int32
}

// Options configures the rollback passes.
type Options struct {
	// MaxRollbackTicks caps how many ticks one rollback may replay. A
	// target further back is aborted instead of replayed. <= 0 selects the
	// default.
	MaxRollbackTicks int32
	// CorrectionWindowTicks is the length of the visual blend after a
	// correction. <= 0 disables smoothing (values snap).
	CorrectionWindowTicks int32
	// PreSpawnGraceTicks exempts speculative entities spawned within this
	// many ticks of the present from rollback despawn.
	PreSpawnGraceTicks int32
	// StatePolicy governs state-based mismatch handling.
	StatePolicy Policy
	// InputPolicy governs input-based mismatch handling.
	InputPolicy Policy
	// Workers caps parallel detection goroutines. 0 or 1 keeps detection
	// sequential.
	Workers int
}

const DefaultMaxRollbackTicks = 100

func (o Options) maxWindow() int32 {
	if o.MaxRollbackTicks <= 0 {
		return DefaultMaxRollbackTicks
	}
	return o.MaxRollbackTicks
}

// Coordinator is the single source of truth for "are we correcting, and to
// which tick". The target tick is the first tick to re-simulate; the value
// restored by the preparer is the known-good state one tick earlier.
type Coordinator struct {
	state *State
	opts  Options
	log   log.Log
	stats *Stats
	bus   bus.EventBus
}

func NewCoordinator(state *State, opts Options, logger log.Log, stats *Stats, events bus.EventBus) *Coordinator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{state: state, opts: opts, log: logger, stats: stats, bus: events}
}

// SetRollback latches the given tick unless an earlier target already won.
func (c *Coordinator) SetRollback(tick timeline.Tick) bool {
	return c.state.RequestAtOrEarlier(tick)
}

// CurrentTarget returns the latched rollback target, if any.
func (c *Coordinator) CurrentTarget() (timeline.Tick, bool) {
	return c.state.Target()
}

// Idle reports whether no rollback is pending.
func (c *Coordinator) Idle() bool {
	return !c.state.Rolling()
}

// Clear resets the coordinator to idle.
func (c *Coordinator) Clear() {
	c.state.Clear()
}

// ValidateWindow checks the latched target against the replay window bound.
// A target requiring more than MaxRollbackTicks of replay aborts the
// rollback: the latch is cleared, the abort is counted and published, and
// ErrWindowExceeded is returned. A single bad packet must not buy unbounded
// CPU.
func (c *Coordinator) ValidateWindow(now timeline.Tick) error {
	target, ok := c.state.Target()
	if !ok {
		return ErrNotRolling
	}
	replay := timeline.Delta(now, target) + 1
	if replay <= c.opts.maxWindow() {
		return nil
	}

	c.log.Error("rollback target outside replay window, aborting",
		log.Int32("target", int32(target)),
		log.Int32("current", int32(now)),
		log.Int32("max_ticks", c.opts.maxWindow()))
	if c.stats != nil {
		c.stats.aborted.Add(1)
	}
	c.state.Clear()
	if c.bus != nil {
		_ = c.bus.Publish(bus.NewEvent(EventRollbackAborted, "rollback", Info{Target: target, Current: now}))
	}
	return ErrWindowExceeded
}
