package rollback

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/prediction/internal/core/correction"
	"github.com/zeusync/prediction/internal/core/history"
	"github.com/zeusync/prediction/internal/core/timeline"
	"github.com/zeusync/prediction/internal/core/world"
)

func TestPreparer_StateRestore(t *testing.T) {
	t.Run("Confirmed Value Overwrites Prediction", func(t *testing.T) {
		f := newFixture(t, Options{})
		p, c := f.pair(t)
		p.Set(f.posID, pos{5})
		f.w.CaptureHistories(10)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{9}, 10))

		f.detector.Check(10)
		f.preparer.Prepare(10)

		v, ok := p.Get(f.posID)
		require.True(t, ok)
		require.Equal(t, pos{9}, v)
	})

	t.Run("History Truncated And Reseeded", func(t *testing.T) {
		f := newFixture(t, Options{})
		p, c := f.pair(t)
		p.Set(f.posID, pos{1})
		f.w.CaptureHistories(8)
		p.Set(f.posID, pos{2})
		f.w.CaptureHistories(9)
		p.Set(f.posID, pos{3})
		f.w.CaptureHistories(10)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{7}, 9))

		f.detector.Check(10)
		target, _ := f.state.Target()
		require.Equal(t, timeline.Tick(10), target)

		f.preparer.Prepare(10)

		buf, ok := p.HistoryIfAny(f.posID)
		require.True(t, ok)
		// Only the reseeded authoritative record remains.
		require.Equal(t, 1, buf.Len())
		st, found := buf.At(9)
		require.True(t, found)
		require.Equal(t, history.KindUpdated, st.Kind)
		require.Equal(t, pos{7}, st.Value)

		// An identical confirmation later must now be recognized as a
		// match.
		c.ClearFresh()
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{7}, 9))
		f.state.Clear()
		f.detector.Check(10)
		require.False(t, f.state.Rolling())
	})

	t.Run("Removal Reinserted", func(t *testing.T) {
		// Component removed locally while the authority still has it: the
		// preparer puts it back.
		f := newFixture(t, Options{})
		p, c := f.pair(t)
		p.Set(f.ammoID, ammo{3})
		f.w.CaptureHistories(7)
		p.Remove(f.ammoID)
		f.w.CaptureHistories(8)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.ammoID, ammo{3}, 8))

		f.detector.Check(10)
		f.preparer.Prepare(10)

		v, ok := p.Get(f.ammoID)
		require.True(t, ok)
		require.Equal(t, ammo{3}, v)
	})

	t.Run("Authoritative Absence Removes", func(t *testing.T) {
		f := newFixture(t, Options{})
		p, c := f.pair(t)
		p.Set(f.ammoID, ammo{3})
		f.w.CaptureHistories(5)
		require.NoError(t, f.w.ApplyConfirmedAbsent(c.ID(), f.ammoID, 5))

		f.detector.Check(10)
		f.preparer.Prepare(10)

		require.False(t, p.Has(f.ammoID))
		buf, _ := p.HistoryIfAny(f.ammoID)
		st, found := buf.At(5)
		require.True(t, found)
		require.Equal(t, history.KindRemoved, st.Kind)
	})

	t.Run("Exempt Entities Untouched", func(t *testing.T) {
		f := newFixture(t, Options{})
		p, c := f.pair(t)
		p.Set(f.posID, pos{5})
		f.w.CaptureHistories(10)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{9}, 10))

		exempt := f.w.SpawnPredicted(0)
		exempt.MarkRollbackExempt()
		exempt.Set(f.posID, pos{1})
		f.w.CaptureHistories(10)

		f.detector.Check(10)
		f.preparer.Prepare(10)

		v, _ := exempt.Get(f.posID)
		require.Equal(t, pos{1}, v)
	})
}

func TestPreparer_InputRestore(t *testing.T) {
	// An input-triggered rollback with no confirmed mirror falls back to
	// the entity's own history at the restore point.
	f := newFixture(t, Options{})
	e := f.w.SpawnPredicted(0)
	e.Set(f.posID, pos{1})
	f.w.CaptureHistories(5)
	e.Set(f.posID, pos{2})
	f.w.CaptureHistories(6)
	e.Set(f.posID, pos{3})
	f.w.CaptureHistories(7)

	f.in.Report(6)
	f.detector.Check(10)
	target, ok := f.state.Target()
	require.True(t, ok)
	require.Equal(t, timeline.Tick(6), target)

	f.preparer.Prepare(10)

	// Restore point is tick 5, the last agreed state before re-simulating
	// tick 6.
	v, ok := e.Get(f.posID)
	require.True(t, ok)
	require.Equal(t, pos{1}, v)

	buf, _ := e.HistoryIfAny(f.posID)
	require.Equal(t, 1, buf.Len())
}

func TestPreparer_Corrections(t *testing.T) {
	t.Run("Created For Blendable Kind", func(t *testing.T) {
		f := newFixture(t, Options{CorrectionWindowTicks: 10})
		p, c := f.pair(t)
		p.Set(f.posID, pos{5})
		f.w.CaptureHistories(10)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{9}, 10))

		f.detector.Check(10)
		f.preparer.Prepare(10)

		corr, ok := p.Correction(f.posID)
		require.True(t, ok)
		require.Equal(t, pos{5}, corr.OriginalPrediction)
		require.Equal(t, pos{9}, corr.CurrentCorrection)
		require.Equal(t, timeline.Tick(10), corr.OriginalTick)
		require.Equal(t, timeline.Tick(20), corr.FinalTick)
		require.True(t, timeline.After(corr.FinalTick, corr.OriginalTick))
	})

	t.Run("Not Created Without Blend Hook", func(t *testing.T) {
		f := newFixture(t, Options{CorrectionWindowTicks: 10})
		p, c := f.pair(t)
		p.Set(f.ammoID, ammo{3})
		f.w.CaptureHistories(10)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.ammoID, ammo{8}, 10))

		f.detector.Check(10)
		f.preparer.Prepare(10)

		_, ok := p.Correction(f.ammoID)
		require.False(t, ok)
	})

	t.Run("Not Created Without Prior Value", func(t *testing.T) {
		f := newFixture(t, Options{CorrectionWindowTicks: 10})
		p, c := f.pair(t)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{9}, 10))

		f.detector.Check(10)
		f.preparer.Prepare(10)

		v, ok := p.Get(f.posID)
		require.True(t, ok)
		require.Equal(t, pos{9}, v)
		_, ok = p.Correction(f.posID)
		require.False(t, ok)
	})

	t.Run("Back To Back Starts From Current Visual", func(t *testing.T) {
		f := newFixture(t, Options{CorrectionWindowTicks: 10})
		p, c := f.pair(t)
		p.Set(f.posID, pos{0})
		f.w.CaptureHistories(30)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{10}, 30))

		f.detector.Check(30)
		f.preparer.Prepare(30)

		corr, _ := p.Correction(f.posID)
		// Halfway through the first blend.
		kind, _ := f.w.Registry().Kind(f.posID)
		corr.Advance(35, kind.Blend, correction.Linear)
		require.InDelta(t, 5.0, corr.CurrentVisual.(pos).X, 1e-9)

		// Second rollback before the first window elapses.
		f.state.Clear()
		p.Set(f.posID, pos{10})
		f.w.CaptureHistories(32)
		c.ClearFresh()
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{20}, 32))
		f.detector.Check(35)
		f.preparer.Prepare(35)

		second, ok := p.Correction(f.posID)
		require.True(t, ok)
		require.Equal(t, pos{5}, second.OriginalPrediction)
		require.Equal(t, pos{20}, second.CurrentCorrection)
		require.Equal(t, timeline.Tick(35), second.OriginalTick)
	})
}

func TestPreparer_SpeculativeCleanup(t *testing.T) {
	trigger := func(f *fixture, mismatchTick, now timeline.Tick) {
		p, c := f.pair(t)
		p.Set(f.posID, pos{5})
		f.w.CaptureHistories(mismatchTick)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{9}, mismatchTick))
		f.detector.Check(now)
		f.preparer.Prepare(now)
	}

	t.Run("PreSpawned After Target Despawned", func(t *testing.T) {
		f := newFixture(t, Options{})
		sp := f.w.SpawnPreSpawned(20, world.PreSpawnHash([]byte("rocket")))

		trigger(f, 14, 30)
		target, ok := f.state.Target()
		require.True(t, ok)
		require.Equal(t, timeline.Tick(15), target)

		_, alive := f.w.Get(sp.ID())
		require.False(t, alive)
		require.EqualValues(t, 1, f.stats.Snapshot().PreSpawnDespawns)
	})

	t.Run("PreSpawned Before Target Survives", func(t *testing.T) {
		f := newFixture(t, Options{})
		sp := f.w.SpawnPreSpawned(10, world.PreSpawnHash([]byte("rocket")))

		trigger(f, 14, 30)
		_, alive := f.w.Get(sp.ID())
		require.True(t, alive)
	})

	t.Run("Grace Window Exempts", func(t *testing.T) {
		f := newFixture(t, Options{PreSpawnGraceTicks: 15})
		sp := f.w.SpawnPreSpawned(20, world.PreSpawnHash([]byte("rocket")))

		trigger(f, 14, 30)
		_, alive := f.w.Get(sp.ID())
		require.True(t, alive)
	})

	t.Run("Deterministic Skip Window Exempts", func(t *testing.T) {
		f := newFixture(t, Options{})
		protected := f.w.SpawnDeterministic(20, 35)
		expired := f.w.SpawnDeterministic(20, 25)

		trigger(f, 14, 30)
		_, alive := f.w.Get(protected.ID())
		require.True(t, alive)
		_, alive = f.w.Get(expired.ID())
		require.False(t, alive)
	})

	t.Run("Detection Alone Despawns Nothing", func(t *testing.T) {
		f := newFixture(t, Options{})
		sp := f.w.SpawnPreSpawned(20, world.PreSpawnHash([]byte("rocket")))

		p, c := f.pair(t)
		p.Set(f.posID, pos{5})
		f.w.CaptureHistories(14)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{9}, 14))
		f.detector.Check(30)
		require.True(t, f.state.Rolling())

		// Latching the rollback must not touch speculative entities; only
		// a validated Prepare may despawn them.
		_, alive := f.w.Get(sp.ID())
		require.True(t, alive)
		require.Zero(t, f.stats.Snapshot().PreSpawnDespawns)
	})
}

func TestPreparer_NewerConfirmedRequeued(t *testing.T) {
	t.Run("Second Mirror Stays Fresh", func(t *testing.T) {
		// Parallel scan: every fresh mirror is checked even after the first
		// latch, so both mismatches land in one pass.
		f := newFixture(t, Options{Workers: 4})
		p1, c1 := f.pair(t)
		p2, c2 := f.pair(t)
		p1.Set(f.posID, pos{1})
		p2.Set(f.posID, pos{2})
		f.w.CaptureHistories(5)
		f.w.CaptureHistories(10)

		require.NoError(t, f.w.ApplyConfirmed(c1.ID(), f.posID, pos{100}, 5))
		require.NoError(t, f.w.ApplyConfirmed(c2.ID(), f.posID, pos{200}, 10))

		f.detector.Check(12)
		target, ok := f.state.Target()
		require.True(t, ok)
		require.Equal(t, timeline.Tick(6), target)

		f.preparer.Prepare(12)

		// The earliest mismatch was repaired; the one confirmed at tick 10
		// could not be applied at restore point 5 and must be re-queued for
		// the next pass.
		v, _ := p1.Get(f.posID)
		require.Equal(t, pos{100}, v)
		v, _ = p2.Get(f.posID)
		require.Equal(t, pos{2}, v)
		require.False(t, c1.Fresh())
		require.True(t, c2.Fresh())
	})

	t.Run("Two Kinds On One Mirror", func(t *testing.T) {
		f := newFixture(t, Options{})
		p, c := f.pair(t)
		p.Set(f.posID, pos{1})
		p.Set(f.ammoID, ammo{1})
		f.w.CaptureHistories(5)
		f.w.CaptureHistories(10)

		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{50}, 5))
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.ammoID, ammo{7}, 10))

		f.detector.Check(12)
		target, ok := f.state.Target()
		require.True(t, ok)
		require.Equal(t, timeline.Tick(6), target)

		f.preparer.Prepare(12)

		v, _ := p.Get(f.posID)
		require.Equal(t, pos{50}, v)
		a, _ := p.Get(f.ammoID)
		require.Equal(t, ammo{1}, a)
		require.True(t, c.Fresh())
	})

	t.Run("Older Confirmed Falls Back To History", func(t *testing.T) {
		f := newFixture(t, Options{})
		p, c := f.pair(t)
		p.Set(f.posID, pos{1})
		f.w.CaptureHistories(5)
		require.NoError(t, f.w.ApplyConfirmed(c.ID(), f.posID, pos{1}, 5))
		f.detector.Check(6)
		_, latched := f.state.Target()
		require.False(t, latched)

		// The mirror keeps its reconciled snapshot while prediction moves
		// on. A later input rollback must restore from history, not rewind
		// to the old snapshot.
		p.Set(f.posID, pos{2})
		f.w.CaptureHistories(10)
		f.in.Report(11)
		f.detector.Check(12)
		f.preparer.Prepare(12)

		v, _ := p.Get(f.posID)
		require.Equal(t, pos{2}, v)
		require.False(t, c.Fresh())
	})
}
