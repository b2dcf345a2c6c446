package rollback

import "sync/atomic"

// Stats collects rollback observability counters. All fields are atomic so
// parallel detection workers can bump them without coordination.
type Stats struct {
	rollbacks        atomic.Uint64
	replayedTicks    atomic.Uint64
	aborted          atomic.Uint64
	stateMismatches  atomic.Uint64
	inputMismatches  atomic.Uint64
	preSpawnDespawns atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) addRollback(replayed int32) {
	s.rollbacks.Add(1)
	s.replayedTicks.Add(uint64(replayed))
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Rollbacks        uint64 // Completed rollback passes
	ReplayedTicks    uint64 // Total ticks re-simulated across all passes
	Aborted          uint64 // Rollbacks rejected by the replay window bound
	StateMismatches  uint64 // Rollbacks triggered by authoritative state
	InputMismatches  uint64 // Rollbacks triggered by remote input disagreement
	PreSpawnDespawns uint64 // Speculative entities despawned before replay
}

// Snapshot returns a consistent-enough copy for logs and dashboards.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Rollbacks:        s.rollbacks.Load(),
		ReplayedTicks:    s.replayedTicks.Load(),
		Aborted:          s.aborted.Load(),
		StateMismatches:  s.stateMismatches.Load(),
		InputMismatches:  s.inputMismatches.Load(),
		PreSpawnDespawns: s.preSpawnDespawns.Load(),
	}
}
