package rollback

import (
	"testing"

	"github.com/zeusync/prediction/internal/core/input"
	"github.com/zeusync/prediction/internal/core/schema/registry"
	"github.com/zeusync/prediction/internal/core/world"
)

// pos is the float component used across rollback tests; it exercises the
// epsilon comparator and the blend hook.
type pos struct{ X float64 }

// ammo is a discrete component compared exactly, with no blend hook.
type ammo struct{ Rounds int }

// cosmetic has no comparator: it can never trigger a rollback.
type cosmetic struct{ Hue float64 }

type fixture struct {
	w        *world.World
	state    *State
	in       *input.Disagreement
	stats    *Stats
	detector *Detector
	preparer *Preparer

	posID      registry.KindID
	ammoID     registry.KindID
	cosmeticID registry.KindID
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	reg := registry.NewKindRegistry()
	posID := registry.Register(reg, registry.Options[pos]{
		Compare: func(p, c pos) bool {
			d := p.X - c.X
			return d < 1e-6 && d > -1e-6
		},
		Blend: func(from, to pos, t float64) pos {
			return pos{X: from.X + (to.X-from.X)*t}
		},
	})
	ammoID := registry.Register(reg, registry.Options[ammo]{
		Compare: func(p, c ammo) bool { return p == c },
	})
	cosmeticID := registry.Register(reg, registry.Options[cosmetic]{})

	f := &fixture{
		w:          world.NewWorld(reg, nil, 0),
		state:      NewState(),
		in:         input.NewDisagreement(),
		stats:      NewStats(),
		posID:      posID,
		ammoID:     ammoID,
		cosmeticID: cosmeticID,
	}
	f.detector = NewDetector(f.w, f.state, f.in, opts, nil, f.stats)
	f.preparer = NewPreparer(f.w, f.state, opts, nil, f.stats)
	return f
}

// pair spawns a linked predicted/confirmed pair.
func (f *fixture) pair(t *testing.T) (*world.Entity, *world.Entity) {
	t.Helper()
	p := f.w.SpawnPredicted(0)
	c := f.w.SpawnConfirmed(0)
	if err := f.w.Link(p.ID(), c.ID()); err != nil {
		t.Fatalf("link: %v", err)
	}
	return p, c
}
