package world

import (
	"github.com/zeusync/prediction/internal/core/correction"
	"github.com/zeusync/prediction/internal/core/history"
	"github.com/zeusync/prediction/internal/core/schema/registry"
	"github.com/zeusync/prediction/internal/core/timeline"
)

// EntityID identifies an entity within one World.
type EntityID uint64

// Role distinguishes locally simulated entities from authority mirrors.
type Role uint8

const (
	// RolePredicted marks a locally simulated entity whose state is
	// tentative until confirmed.
	RolePredicted Role = iota
	// RoleConfirmed marks the authoritative snapshot entity linked to a
	// predicted counterpart.
	RoleConfirmed
)

// PreSpawned marks an entity speculatively created by the client before the
// authority confirmed it. Hash is a content hash matched against a later
// authoritative spawn carrying the same hash.
type PreSpawned struct {
	Hash uint64
}

// DeterministicPredicted marks an entity spawned by deterministic local
// simulation. SkipDespawnUntil protects it from rollbacks that predate its
// creation: while the current tick is at or before it, rollback cleanup
// leaves the entity alone.
type DeterministicPredicted struct {
	SkipDespawnUntil timeline.Tick
}

// ConfirmedValue is one component's authoritative state on a mirror entity:
// the value (when present), and the tick the authority asserted it at.
type ConfirmedValue struct {
	Value   any
	Tick    timeline.Tick
	Present bool
}

// Entity is a container for components, prediction histories and in-flight
// corrections. Predicted entities carry components/histories/corrections;
// confirmed mirrors carry ConfirmedValues. An entity is exclusively owned
// by its world and must not be mutated concurrently within one tick.
type Entity struct {
	id        EntityID
	role      Role
	spawnedAt timeline.Tick
	w         *World

	// Predicted side.
	components  map[registry.KindID]any
	tracked     map[registry.KindID]struct{}
	histories   map[registry.KindID]*history.Buffer[any]
	corrections map[registry.KindID]*correction.Correction

	preSpawned     *PreSpawned
	deterministic  *DeterministicPredicted
	rollbackExempt bool
	disabled       bool

	// Confirmed side.
	confirmed     map[registry.KindID]ConfirmedValue
	confirmedTick timeline.Tick
	fresh         bool

	// Mirror link; zero means unlinked.
	link EntityID
}

func (e *Entity) ID() EntityID              { return e.id }
func (e *Entity) Role() Role                { return e.role }
func (e *Entity) SpawnedAt() timeline.Tick  { return e.spawnedAt }
func (e *Entity) IsPredicted() bool         { return e.role == RolePredicted }
func (e *Entity) IsConfirmed() bool         { return e.role == RoleConfirmed }
func (e *Entity) Link() (EntityID, bool)    { return e.link, e.link != 0 }
func (e *Entity) PreSpawned() *PreSpawned   { return e.preSpawned }
func (e *Entity) IsRollbackExempt() bool    { return e.rollbackExempt }
func (e *Entity) IsDisabled() bool          { return e.disabled }
func (e *Entity) ConfirmedTick() timeline.Tick { return e.confirmedTick }

func (e *Entity) Deterministic() *DeterministicPredicted { return e.deterministic }

// MarkRollbackExempt excludes the entity from replay simulation; the
// executor hides it for the duration of a replay instead.
func (e *Entity) MarkRollbackExempt() { e.rollbackExempt = true }

// SetDisabled hides or restores the entity. Disabled entities are skipped
// by simulation iteration and history capture.
func (e *Entity) SetDisabled(disabled bool) { e.disabled = disabled }

// Set stores a component value on a predicted entity.
func (e *Entity) Set(kind registry.KindID, value any) {
	e.components[kind] = value
	e.tracked[kind] = struct{}{}
}

// Get returns the current simulated value for a kind.
func (e *Entity) Get(kind registry.KindID) (any, bool) {
	v, ok := e.components[kind]
	return v, ok
}

// Has reports whether the component currently exists.
func (e *Entity) Has(kind registry.KindID) bool {
	_, ok := e.components[kind]
	return ok
}

// Remove deletes the component. Its history keeps recording the removal
// until truncated or re-added.
func (e *Entity) Remove(kind registry.KindID) {
	delete(e.components, kind)
}

// History returns the entity's history buffer for a kind, creating it on
// first use.
func (e *Entity) History(kind registry.KindID) *history.Buffer[any] {
	b, ok := e.histories[kind]
	if !ok {
		b = history.NewBuffer[any](e.w.historyCap)
		e.histories[kind] = b
	}
	return b
}

// HistoryIfAny returns the history buffer for a kind if one was created.
func (e *Entity) HistoryIfAny(kind registry.KindID) (*history.Buffer[any], bool) {
	b, ok := e.histories[kind]
	return b, ok
}

// Correction returns the in-flight correction for a kind, if any.
func (e *Entity) Correction(kind registry.KindID) (*correction.Correction, bool) {
	c, ok := e.corrections[kind]
	return c, ok
}

// SetCorrection installs or replaces the correction for a kind.
func (e *Entity) SetCorrection(kind registry.KindID, c *correction.Correction) {
	e.corrections[kind] = c
}

// RemoveCorrection drops the correction for a kind.
func (e *Entity) RemoveCorrection(kind registry.KindID) {
	delete(e.corrections, kind)
}

// EachCorrection visits every live correction. The visitor may not add or
// remove corrections; use the world command buffer for that.
func (e *Entity) EachCorrection(visit func(kind registry.KindID, c *correction.Correction)) {
	for kind, c := range e.corrections {
		visit(kind, c)
	}
}

// Confirmed returns the authoritative state for a kind on a mirror entity.
func (e *Entity) Confirmed(kind registry.KindID) (ConfirmedValue, bool) {
	cv, ok := e.confirmed[kind]
	return cv, ok
}

// EachConfirmed visits every confirmed component on a mirror entity.
func (e *Entity) EachConfirmed(visit func(kind registry.KindID, cv ConfirmedValue)) {
	for kind, cv := range e.confirmed {
		visit(kind, cv)
	}
}

// Fresh reports whether the mirror received an authoritative update since
// the last detection pass.
func (e *Entity) Fresh() bool { return e.fresh }

// ClearFresh is called by the detector once the mirror has been checked.
func (e *Entity) ClearFresh() { e.fresh = false }

// MarkFresh re-queues the mirror for the next detection pass. The preparer
// uses it when a confirmed value is newer than the restore point and a
// later rollback must repair it.
func (e *Entity) MarkFresh() { e.fresh = true }

// UnionKinds returns every kind either side has an opinion about: the
// mirror's confirmed kinds plus the predicted entity's tracked components
// and histories. The mirror may be nil.
func UnionKinds(predicted, mirror *Entity) map[registry.KindID]struct{} {
	size := len(predicted.tracked) + len(predicted.histories)
	if mirror != nil {
		size += len(mirror.confirmed)
	}
	kinds := make(map[registry.KindID]struct{}, size)
	if mirror != nil {
		for k := range mirror.confirmed {
			kinds[k] = struct{}{}
		}
	}
	for k := range predicted.tracked {
		kinds[k] = struct{}{}
	}
	for k := range predicted.histories {
		kinds[k] = struct{}{}
	}
	return kinds
}
