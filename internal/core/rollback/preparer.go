package rollback

import (
	"github.com/zeusync/prediction/internal/core/correction"
	"github.com/zeusync/prediction/internal/core/history"
	"github.com/zeusync/prediction/internal/core/observability/log"
	"github.com/zeusync/prediction/internal/core/schema/registry"
	"github.com/zeusync/prediction/internal/core/timeline"
	"github.com/zeusync/prediction/internal/core/world"
)

// Preparer resets every predicted entity to the known-good state one tick
// before the rollback target, despawns speculative entities the replay will
// re-create, truncates stale history and starts visual corrections. It runs
// once per rollback, after the window bound has been validated and before
// the replay.
type Preparer struct {
	w     *world.World
	state *State
	opts  Options
	log   log.Log
	stats *Stats
}

func NewPreparer(w *world.World, state *State, opts Options, logger log.Log, stats *Stats) *Preparer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Preparer{w: w, state: state, opts: opts, log: logger, stats: stats}
}

// Prepare restores rollback state for all predicted entities. The restore
// point is the tick before the first replayed tick.
func (p *Preparer) Prepare(now timeline.Tick) {
	target, ok := p.state.Target()
	if !ok {
		return
	}
	restoreTick := target.Add(-1)

	p.cleanupSpeculative(target, now)
	p.w.Commands().Flush(p.w)

	p.w.EachPredicted(func(e *world.Entity) {
		if e.IsRollbackExempt() {
			return
		}
		p.prepareEntity(e, restoreTick, now)
	})
	p.w.Commands().Flush(p.w)
}

// cleanupSpeculative despawns pre-spawned and deterministic entities created
// at or after the rollback target; replay re-creates them deterministically.
// Entities still inside their protection window survive. This runs only for
// a validated rollback; an aborted rollback must leave them untouched.
func (p *Preparer) cleanupSpeculative(target, now timeline.Tick) {
	p.w.EachEntity(func(e *world.Entity) {
		det := e.Deterministic()
		if e.PreSpawned() == nil && det == nil {
			return
		}
		if timeline.Before(e.SpawnedAt(), target) {
			return
		}
		if det != nil && timeline.AtOrBefore(now, det.SkipDespawnUntil) {
			return
		}
		if p.opts.PreSpawnGraceTicks > 0 &&
			timeline.Delta(now, e.SpawnedAt()) <= p.opts.PreSpawnGraceTicks {
			return
		}
		p.w.Commands().PushDespawn(e.ID())
		if p.stats != nil {
			p.stats.preSpawnDespawns.Add(1)
		}
		p.log.Debug("speculative entity despawned for replay",
			log.Uint64("entity", uint64(e.ID())),
			log.Int32("spawned_at", int32(e.SpawnedAt())),
			log.Int32("target", int32(target)))
	})
}

func (p *Preparer) prepareEntity(e *world.Entity, restoreTick, now timeline.Tick) {
	var mirror *world.Entity
	if id, linked := e.Link(); linked {
		if m, ok := p.w.Get(id); ok && m.IsConfirmed() {
			mirror = m
		} else {
			p.log.Debug("predicted entity lost its confirmed mirror",
				log.Uint64("predicted", uint64(e.ID())),
				log.Uint64("mirror", uint64(id)))
		}
	}

	for kindID := range world.UnionKinds(e, mirror) {
		kind, ok := p.w.Registry().Kind(kindID)
		if !ok {
			continue
		}
		p.prepareKind(e, mirror, kind, restoreTick, now)
	}
}

func (p *Preparer) prepareKind(e *world.Entity, mirror *world.Entity, kind *registry.Kind, restoreTick, now timeline.Tick) {
	kindID := kind.ID()
	buf := e.History(kindID)

	// Future history is stale regardless of where the correct value comes
	// from; replay regenerates it.
	histState, histOK := buf.SeekAndClearAfter(restoreTick)

	var correct any
	present := false
	usedConfirmed := false
	if mirror != nil {
		if cv, ok := mirror.Confirmed(kindID); ok {
			switch {
			case cv.Tick == restoreTick:
				usedConfirmed = true
				present = cv.Present
				if present {
					correct = kind.Clone(cv.Value)
				}
			case timeline.After(cv.Tick, restoreTick):
				// The confirmed value is newer than this rollback's restore
				// point, so this pass cannot repair the kind. Re-queue the
				// mirror so the next detection pass latches its own target.
				mirror.MarkFresh()
			default:
				// Older than the restore point: an earlier reconciliation
				// already folded it into history, which replay kept current.
			}
		}
	}
	if !usedConfirmed {
		// No authoritative value at the restore point (input-triggered
		// rollback or lagging mirror): trust our own last record instead.
		if histOK && histState.Kind == history.KindUpdated {
			correct = histState.Value
			present = true
		}
	}

	previous, hadValue := e.Get(kindID)

	if present {
		e.Set(kindID, correct)
		if usedConfirmed {
			// Re-seed history with the authoritative value so an identical
			// confirmation later is recognized as matching.
			buf.RecordUpdated(restoreTick, kind.Clone(correct))
		}
	} else {
		e.Remove(kindID)
		if usedConfirmed {
			buf.RecordRemoved(restoreTick)
		}
		e.RemoveCorrection(kindID)
		return
	}

	if !kind.CanBlend() || !hadValue || p.opts.CorrectionWindowTicks <= 0 {
		return
	}
	// Keep the blend continuous across back-to-back rollbacks: the new
	// correction takes over from whatever was on screen, not from the
	// original misprediction.
	previousVisual := previous
	if existing, ok := e.Correction(kindID); ok && existing.CurrentVisual != nil {
		previousVisual = existing.CurrentVisual
	}
	e.SetCorrection(kindID, correction.New(previousVisual, correct, now, p.opts.CorrectionWindowTicks))
}
