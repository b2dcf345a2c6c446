package rollback

import (
	"github.com/zeusync/prediction/internal/core/history"
	"github.com/zeusync/prediction/internal/core/input"
	"github.com/zeusync/prediction/internal/core/observability/log"
	"github.com/zeusync/prediction/internal/core/schema/registry"
	"github.com/zeusync/prediction/internal/core/timeline"
	"github.com/zeusync/prediction/internal/core/world"
	"github.com/zeusync/prediction/pkg/concurrent"
	"github.com/zeusync/prediction/pkg/generic"
	"github.com/zeusync/prediction/pkg/sequence"
)

// Detector runs once per frame while the coordinator is idle. It compares
// every freshly confirmed mirror against the predicted history, consumes
// the remote-input disagreement signal, and latches the earliest tick that
// needs re-simulation.
//
// State mismatches take precedence: when one is found, the input signal for
// this frame is discarded. Within the state scan, mirrors may be checked in
// parallel; the latch min-reduction keeps the earliest tick regardless of
// which worker reports first.
type Detector struct {
	w     *world.World
	state *State
	in    *input.Disagreement
	opts  Options
	log   log.Log
	stats *Stats

	scratch *generic.Pool[[]*world.Entity]
}

func NewDetector(w *world.World, state *State, in *input.Disagreement, opts Options, logger log.Log, stats *Stats) *Detector {
	if logger == nil {
		logger = log.Nop()
	}
	return &Detector{
		w:     w,
		state: state,
		in:    in,
		opts:  opts,
		log:   logger,
		stats: stats,
		scratch: generic.NewResetPool(
			func() []*world.Entity { return make([]*world.Entity, 0, 64) },
			func(s []*world.Entity) []*world.Entity { return s[:0] },
		),
	}
}

// Check performs one detection pass at the given current tick. The caller
// (the engine's Check hook) only invokes it while the coordinator is idle.
func (d *Detector) Check(now timeline.Tick) {
	// The input signal is consumed up front so it resets every pass even
	// when state precedence discards it.
	inputTick, inputPending := d.in.Consume()

	stateTriggered := false
	if d.opts.StatePolicy != PolicyDisabled {
		stateTriggered = d.checkState(now)
	}

	if !stateTriggered && inputPending && d.opts.InputPolicy != PolicyDisabled {
		d.checkInput(inputTick, now)
	}
}

// checkState scans fresh mirrors and reports whether any latched a rollback.
func (d *Detector) checkState(now timeline.Tick) bool {
	fresh := d.scratch.Get()
	defer func() { d.scratch.Put(fresh) }()
	d.w.EachConfirmed(func(e *world.Entity) {
		if e.Fresh() {
			fresh = append(fresh, e)
		}
	})
	if len(fresh) == 0 {
		return false
	}

	before := d.state.Rolling()
	if d.opts.Workers > 1 && len(fresh) > 1 {
		// Mirrors are independent; comparisons are read-only apart from the
		// per-mirror fresh flag and the shared latch.
		_ = concurrent.Bounded(sequence.From(fresh), d.opts.Workers, func(m *world.Entity) error {
			d.checkMirror(m, now)
			return nil
		})
	} else {
		for _, m := range fresh {
			d.checkMirror(m, now)
			// A latched decision stops scanning further entities; the
			// sequential path can take the shortcut.
			if d.state.Rolling() {
				break
			}
		}
	}
	return !before && d.state.Rolling()
}

// checkMirror compares one confirmed mirror against its predicted entity.
func (d *Detector) checkMirror(m *world.Entity, now timeline.Tick) {
	linkID, linked := m.Link()
	if !linked {
		m.ClearFresh()
		return
	}
	predicted, ok := d.w.Get(linkID)
	if !ok || !predicted.IsPredicted() {
		d.log.Debug("confirmed mirror lost its predicted entity",
			log.Uint64("mirror", uint64(m.ID())),
			log.Uint64("predicted", uint64(linkID)))
		m.ClearFresh()
		return
	}

	confirmedTick := m.ConfirmedTick()
	if timeline.After(confirmedTick, now) {
		// Authority is ahead of the local clock. Nothing to compare yet;
		// keep the mirror fresh so the check happens once we catch up.
		d.log.Warn("confirmed tick ahead of simulation",
			log.Uint64("mirror", uint64(m.ID())),
			log.Int32("confirmed_tick", int32(confirmedTick)),
			log.Int32("current_tick", int32(now)))
		return
	}
	m.ClearFresh()

	if d.opts.StatePolicy == PolicyAlways {
		d.latchState(predicted, confirmedTick, now)
		return
	}

	earliest := timeline.Tick(0)
	found := false
	for kindID := range world.UnionKinds(predicted, m) {
		kind, ok := d.w.Registry().Kind(kindID)
		if !ok || !kind.CanCompare() {
			// A kind that cannot be compared never triggers a rollback.
			continue
		}
		mismatchTick, mismatch := d.checkKind(predicted, m, kind, confirmedTick)
		if !mismatch {
			continue
		}
		if !found || timeline.Before(mismatchTick, earliest) {
			earliest = mismatchTick
			found = true
		}
	}
	if found {
		d.latchState(predicted, earliest, now)
	}
}

// checkKind applies the decision table for a single component kind and
// returns the mismatched tick if predicted history and confirmed state
// disagree.
func (d *Detector) checkKind(predicted, mirror *world.Entity, kind *registry.Kind, mirrorTick timeline.Tick) (timeline.Tick, bool) {
	cv, hasConfirmed := mirror.Confirmed(kind.ID())
	confirmedPresent := hasConfirmed && cv.Present
	at := mirrorTick
	if hasConfirmed {
		at = cv.Tick
	}

	var st history.State[any]
	hasRecord := false
	if buf, ok := predicted.HistoryIfAny(kind.ID()); ok {
		st, hasRecord = buf.At(at)
	}

	switch {
	case !confirmedPresent && !hasRecord:
		return 0, false
	case !confirmedPresent && st.Kind == history.KindUpdated:
		// Predicted something the authority says should not exist.
		return at, true
	case !confirmedPresent:
		return 0, false
	case !hasRecord:
		return at, true
	case st.Kind == history.KindRemoved:
		return at, true
	default:
		if kind.Matches(st.Value, cv.Value) {
			return 0, false
		}
		return at, true
	}
}

// latchState records a state-triggered rollback. The first tick to
// re-simulate is the one after the mismatched tick.
func (d *Detector) latchState(predicted *world.Entity, mismatchTick, now timeline.Tick) {
	target := mismatchTick.Add(1)
	if d.state.RequestAtOrEarlier(target) {
		if d.stats != nil {
			d.stats.stateMismatches.Add(1)
		}
		d.log.Debug("state mismatch latched",
			log.Uint64("entity", uint64(predicted.ID())),
			log.Int32("mismatch_tick", int32(mismatchTick)),
			log.Int32("target", int32(target)),
			log.Int32("current", int32(now)))
	}
}

// checkInput latches an input-triggered rollback: the disagreed tick itself
// must be re-simulated with the corrected remote input.
func (d *Detector) checkInput(disagreedTick, now timeline.Tick) {
	if timeline.After(disagreedTick, now) {
		d.log.Warn("input disagreement ahead of simulation",
			log.Int32("disagreed_tick", int32(disagreedTick)),
			log.Int32("current_tick", int32(now)))
		return
	}
	if d.state.RequestAtOrEarlier(disagreedTick) {
		if d.stats != nil {
			d.stats.inputMismatches.Add(1)
		}
		d.log.Debug("input mismatch latched",
			log.Int32("target", int32(disagreedTick)),
			log.Int32("current", int32(now)))
	}
}
