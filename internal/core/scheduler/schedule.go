// Package scheduler holds the fixed-update schedule: the ordered set of
// simulation systems run once per tick, forward and again during rollback
// replay. The host inserts the engine's rollback hooks ahead of this
// schedule in its frame pipeline.
package scheduler

import (
	"github.com/zeusync/prediction/internal/core/observability/log"
	"github.com/zeusync/prediction/internal/core/world"
)

// System is one fixed-step simulation stage.
type System interface {
	Name() string
	FixedUpdate(dt float64, w *world.World) error
}

type funcSystem struct {
	name string
	fn   func(dt float64, w *world.World) error
}

func (s *funcSystem) Name() string { return s.name }

func (s *funcSystem) FixedUpdate(dt float64, w *world.World) error {
	return s.fn(dt, w)
}

// NewSystem wraps a function as a System.
func NewSystem(name string, fn func(dt float64, w *world.World) error) System {
	return &funcSystem{name: name, fn: fn}
}

type entry struct {
	sys           System
	rollbackAware bool
}

// Schedule is the ordered fixed-update pipeline. Systems run in registration
// order. It is driven from the simulation goroutine only.
type Schedule struct {
	log     log.Log
	entries []entry
}

func NewSchedule(logger log.Log) *Schedule {
	if logger == nil {
		logger = log.Nop()
	}
	return &Schedule{log: logger}
}

// Add registers a system that runs during forward simulation only.
func (s *Schedule) Add(sys System) *Schedule {
	s.entries = append(s.entries, entry{sys: sys})
	return s
}

// AddRollbackAware registers a system that runs during forward simulation
// and again during replay. Only deterministic systems belong here.
func (s *Schedule) AddRollbackAware(sys System) *Schedule {
	s.entries = append(s.entries, entry{sys: sys, rollbackAware: true})
	return s
}

// Len returns the number of registered systems.
func (s *Schedule) Len() int { return len(s.entries) }

// RunForward executes every system once. A failing system is logged and
// skipped; it never aborts the tick for the others.
func (s *Schedule) RunForward(dt float64, w *world.World) {
	for _, e := range s.entries {
		s.runOne(e.sys, dt, w)
	}
}

// RunReplay executes only the rollback-aware systems, in the same relative
// order as forward simulation.
func (s *Schedule) RunReplay(dt float64, w *world.World) {
	for _, e := range s.entries {
		if e.rollbackAware {
			s.runOne(e.sys, dt, w)
		}
	}
}

func (s *Schedule) runOne(sys System, dt float64, w *world.World) {
	if err := sys.FixedUpdate(dt, w); err != nil {
		s.log.Error("system update failed",
			log.String("system", sys.Name()),
			log.Error(err))
	}
}
