// Package prediction implements client-side prediction with rollback for
// tick-stepped networked simulations. The host drives a fixed-step schedule
// through an Engine, feeds it authoritative snapshots and input
// disagreements, and the engine detects mispredictions, rewinds predicted
// state to the authoritative timeline and re-simulates forward, smoothing
// the visible discontinuity over a configurable window.
package prediction

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/prediction/internal/core/correction"
	"github.com/zeusync/prediction/internal/core/events/bus"
	"github.com/zeusync/prediction/internal/core/input"
	"github.com/zeusync/prediction/internal/core/observability/log"
	"github.com/zeusync/prediction/internal/core/rollback"
	"github.com/zeusync/prediction/internal/core/schema/registry"
	"github.com/zeusync/prediction/internal/core/scheduler"
	"github.com/zeusync/prediction/internal/core/timeline"
	"github.com/zeusync/prediction/internal/core/world"
)

// EventCorrectionFinished is published on the engine bus when a visual
// correction finishes its blend window. Data carries a CorrectionFinished.
const EventCorrectionFinished = "correction.finished"

// CorrectionFinished is the payload of EventCorrectionFinished.
type CorrectionFinished struct {
	Entity world.EntityID
	Kind   registry.KindID
}

// Engine owns the predicted world, its fixed clock, the simulation schedule
// and the rollback machinery. It is driven from a single simulation
// goroutine; authoritative snapshots and input disagreements may arrive from
// other goroutines through ApplyConfirmed, ApplyConfirmedAbsent and
// ReportInputDisagreement.
type Engine struct {
	id  uuid.UUID
	cfg Config
	log log.Log

	registry *registry.KindRegistry
	world    *world.World
	clock    *timeline.FixedClock
	schedule *scheduler.Schedule
	events   bus.EventBus

	in       *input.Disagreement
	state    *rollback.State
	stats    *rollback.Stats
	coord    *rollback.Coordinator
	detector *rollback.Detector
	preparer *rollback.Preparer
	executor *rollback.Executor

	ease correction.EaseFunc
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithLogger replaces the logger built from Config.LogLevel.
func WithLogger(l log.Log) Option {
	return func(e *Engine) { e.log = l }
}

// WithEventBus replaces the default in-memory event bus.
func WithEventBus(b bus.EventBus) Option {
	return func(e *Engine) { e.events = b }
}

// New builds an Engine from cfg. Component kinds must be registered through
// RegisterComponent before entities carrying them are spawned.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ease, err := easingByName(cfg.Easing)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		id:   uuid.New(),
		cfg:  cfg,
		ease: ease,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		if cfg.LogLevel == "silent" {
			e.log = log.Nop()
		} else {
			e.log = log.New(log.ParseLevel(cfg.LogLevel))
		}
	}
	e.log = e.log.With(log.String("engine", e.id.String()))
	if e.events == nil {
		e.events = bus.New()
	}

	ropts := cfg.rollbackOptions()
	e.registry = registry.NewKindRegistry()
	e.world = world.NewWorld(e.registry, e.log, cfg.HistoryCapacity)
	e.clock = timeline.NewFixedClock(cfg.Step())
	e.schedule = scheduler.NewSchedule(e.log)
	e.in = input.NewDisagreement()
	e.state = rollback.NewState()
	e.stats = rollback.NewStats()
	e.coord = rollback.NewCoordinator(e.state, ropts, e.log, e.stats, e.events)
	e.detector = rollback.NewDetector(e.world, e.state, e.in, ropts, e.log, e.stats)
	e.preparer = rollback.NewPreparer(e.world, e.state, ropts, e.log, e.stats)
	e.executor = rollback.NewExecutor(e.world, e.clock, e.coord, ropts, e.log, e.stats, e.events, e.replayStep)

	e.log.Info("prediction engine ready",
		log.Int("tick_rate", cfg.TickRate),
		log.Int32("max_rollback_ticks", cfg.MaxRollbackTicks),
		log.Int32("correction_window_ticks", cfg.CorrectionWindowTicks),
	)
	return e, nil
}

// ID identifies this engine instance in logs and events.
func (e *Engine) ID() uuid.UUID { return e.id }

// World exposes the predicted world for spawning and inspection.
func (e *Engine) World() *world.World { return e.world }

// Registry exposes the component kind registry.
func (e *Engine) Registry() *registry.KindRegistry { return e.registry }

// Schedule exposes the fixed-step system schedule.
func (e *Engine) Schedule() *scheduler.Schedule { return e.schedule }

// Events exposes the engine event bus.
func (e *Engine) Events() bus.EventBus { return e.events }

// Tick returns the current simulation tick.
func (e *Engine) Tick() timeline.Tick { return e.clock.Tick() }

// Stats returns a snapshot of rollback counters.
func (e *Engine) Stats() rollback.StatsSnapshot { return e.stats.Snapshot() }

// InRollback reports whether the engine is currently re-simulating rolled
// back ticks. Systems use this to suppress one-shot side effects such as
// sounds or particles during replay.
func (e *Engine) InRollback() bool { return e.executor.InReplay() }

// ApplyConfirmed stages an authoritative component value for a confirmed
// mirror entity. Safe to call from the network goroutine; the value takes
// effect at the start of the next detection pass. Updates naming an entity
// that despawned in the meantime are dropped with a warning at that point.
func (e *Engine) ApplyConfirmed(confirmedID world.EntityID, kind registry.KindID, value any, tick timeline.Tick) {
	e.world.StageConfirmed(confirmedID, kind, value, tick)
}

// ApplyConfirmedAbsent stages an authoritative "component no longer exists"
// assertion for the mirrored entity. Safe to call from the network
// goroutine.
func (e *Engine) ApplyConfirmedAbsent(confirmedID world.EntityID, kind registry.KindID, tick timeline.Tick) {
	e.world.StageConfirmedAbsent(confirmedID, kind, tick)
}

// ReportInputDisagreement records that a remote player's actual input for
// tick differed from what was locally predicted. Earliest tick wins when
// several reports race.
func (e *Engine) ReportInputDisagreement(tick timeline.Tick) {
	e.in.Report(tick)
}

// Advance accumulates frame time and runs every fixed step that came due.
// Returns the number of ticks simulated.
func (e *Engine) Advance(frameDt time.Duration) int {
	steps := e.clock.Accumulate(frameDt)
	for i := 0; i < steps; i++ {
		e.stepOnce()
	}
	return steps
}

// StepOnce forces exactly one fixed simulation step regardless of
// accumulated time. Intended for tests and offline drivers.
func (e *Engine) StepOnce() {
	e.stepOnce()
}

func (e *Engine) stepOnce() {
	tick := e.clock.AdvanceStep()
	dt := e.clock.StepSeconds()
	e.schedule.RunForward(dt, e.world)
	e.world.Commands().Flush(e.world)
	e.world.CaptureHistories(tick)
}

// replayStep is the executor's per-tick callback. Only rollback-aware
// systems run, and histories are re-captured so the replayed timeline
// replaces the mispredicted one.
func (e *Engine) replayStep(dt float64) {
	tick := e.clock.Tick()
	e.schedule.RunReplay(dt, e.world)
	e.world.Commands().Flush(e.world)
	e.world.CaptureHistories(tick)
}

// Check drains staged authoritative snapshots onto the mirrors, then runs
// misprediction detection against all fresh mirrors and any pending input
// disagreement. Detection is skipped while a rollback is already latched;
// drained values stay fresh and are checked on the next idle pass.
func (e *Engine) Check() {
	e.world.DrainConfirmed()
	if !e.coord.Idle() {
		return
	}
	e.detector.Check(e.clock.Tick())
}

// Prepare restores predicted state to the latched rollback target's
// restore point and creates visual corrections. No-op when idle. The window
// bound is checked first so an out-of-range target aborts before any state
// is mutated.
func (e *Engine) Prepare() {
	if e.coord.Idle() {
		return
	}
	if err := e.coord.ValidateWindow(e.clock.Tick()); err != nil {
		return
	}
	e.preparer.Prepare(e.clock.Tick())
}

// Replay re-simulates from the latched target through the current tick.
// No-op when idle. Returns rollback.ErrWindowExceeded when the target is
// too far in the past, in which case the rollback is aborted.
func (e *Engine) Replay() error {
	if e.coord.Idle() {
		return nil
	}
	return e.executor.Replay()
}

// EndRollback finalizes the pass: exempt entities are re-enabled, counters
// and completion events are published, and the latch clears.
func (e *Engine) EndRollback() {
	e.executor.EndRollback()
}

// RollbackPass runs the four rollback phases in order. Call once per frame
// after Advance and before rendering. Returns rollback.ErrWindowExceeded
// when a latched target was too old to replay; the simulation itself is
// left untouched in that case.
func (e *Engine) RollbackPass() error {
	e.Check()
	if e.coord.Idle() {
		return nil
	}
	if err := e.coord.ValidateWindow(e.clock.Tick()); err != nil {
		return err
	}
	e.Prepare()
	err := e.Replay()
	e.EndRollback()
	return err
}

// SmoothCorrections advances every live visual correction one render pass
// and publishes EventCorrectionFinished for blends that completed. Call
// from the render loop with the current tick's visuals in mind; read
// per-component visuals with VisualOf.
func (e *Engine) SmoothCorrections() {
	now := e.clock.Tick()
	type finished struct {
		entity world.EntityID
		kind   registry.KindID
	}
	var done []finished
	e.world.EachPredicted(func(ent *world.Entity) {
		ent.EachCorrection(func(kindID registry.KindID, c *correction.Correction) {
			kind, ok := e.registry.Kind(kindID)
			if !ok {
				done = append(done, finished{ent.ID(), kindID})
				return
			}
			// The simulation keeps moving while the blend runs, so the
			// correction converges toward the live value, not the value
			// the replay produced when the correction was created.
			if v, ok := ent.Get(kindID); ok {
				c.CurrentCorrection = v
			} else {
				done = append(done, finished{ent.ID(), kindID})
				return
			}
			if c.Advance(now, kind.Blend, e.ease) {
				done = append(done, finished{ent.ID(), kindID})
			}
		})
	})
	for _, f := range done {
		if ent, ok := e.world.Get(f.entity); ok {
			ent.RemoveCorrection(f.kind)
		}
		if err := e.events.Publish(bus.NewEvent(EventCorrectionFinished, "prediction.engine", CorrectionFinished{Entity: f.entity, Kind: f.kind})); err != nil {
			e.log.Warn("correction finished event dropped", log.Error(err))
		}
	}
}

// Component describes a predicted component kind for RegisterComponent.
// Compare decides whether a predicted value matches the authoritative one;
// nil means the kind never triggers rollbacks. Blend interpolates visuals
// during correction smoothing; nil means corrections snap and no smoothing
// window is created. Clone deep-copies values into history records; nil is
// fine for value types without reference fields.
type Component[T any] struct {
	Name    string
	Compare func(predicted, confirmed T) bool
	Blend   func(from, to T, t float64) T
	Clone   func(v T) T
}

// RegisterComponent registers a component kind with the engine. Panics if
// the Go type is already registered, matching registry semantics.
func RegisterComponent[T any](e *Engine, c Component[T]) registry.KindID {
	return registry.Register(e.registry, registry.Options[T]{
		Name:    c.Name,
		Compare: c.Compare,
		Blend:   c.Blend,
		Clone:   c.Clone,
	})
}

// SetComponent writes a component value on an entity, resolving the kind
// from the Go type.
func SetComponent[T any](e *Engine, id world.EntityID, v T) error {
	kind, ok := registry.KindOf[T](e.registry)
	if !ok {
		return fmt.Errorf("prediction: component type %T not registered", v)
	}
	ent, ok := e.world.Get(id)
	if !ok {
		return world.ErrEntityNotFound
	}
	ent.Set(kind.ID(), v)
	return nil
}

// GetComponent reads a component's simulation value from an entity.
func GetComponent[T any](e *Engine, id world.EntityID) (T, bool) {
	var zero T
	kind, ok := registry.KindOf[T](e.registry)
	if !ok {
		return zero, false
	}
	ent, ok := e.world.Get(id)
	if !ok {
		return zero, false
	}
	v, ok := ent.Get(kind.ID())
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// VisualOf reads the value that should be rendered for a component: the
// smoothed correction visual while a blend is live, otherwise the
// simulation value.
func VisualOf[T any](e *Engine, id world.EntityID) (T, bool) {
	var zero T
	kind, ok := registry.KindOf[T](e.registry)
	if !ok {
		return zero, false
	}
	ent, ok := e.world.Get(id)
	if !ok {
		return zero, false
	}
	if c, ok := ent.Correction(kind.ID()); ok && c.CurrentVisual != nil {
		return c.CurrentVisual.(T), true
	}
	v, ok := ent.Get(kind.ID())
	if !ok {
		return zero, false
	}
	return v.(T), true
}
