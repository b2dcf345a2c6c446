// Package world owns the entity/component store the prediction engine
// operates on. Replication bookkeeping (which components replicate, interest
// management) lives outside; this package only models what rollback needs:
// predicted entities with histories and corrections, confirmed mirror
// entities, the links between them, and deferred mutation via a command
// buffer.
package world

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/prediction/internal/core/correction"
	"github.com/zeusync/prediction/internal/core/history"
	"github.com/zeusync/prediction/internal/core/observability/log"
	"github.com/zeusync/prediction/internal/core/schema/registry"
	"github.com/zeusync/prediction/internal/core/timeline"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrNotPredicted   = errors.New("entity is not predicted")
	ErrNotConfirmed   = errors.New("entity is not a confirmed mirror")
	ErrAlreadyLinked  = errors.New("entity is already linked")
)

// World is the entity store for one simulation instance. It is mutated only
// from the simulation goroutine; parallel detection reads it and defers all
// mutations through the command buffer. The only cross-goroutine entry
// point is the staged confirmed-value inbox.
type World struct {
	log        log.Log
	registry   *registry.KindRegistry
	historyCap int

	nextID   EntityID
	entities map[EntityID]*Entity
	commands *CommandBuffer

	inboxMu sync.Mutex
	inbox   []stagedConfirmed
}

// stagedConfirmed is one authoritative update waiting to be applied on the
// simulation goroutine.
type stagedConfirmed struct {
	id   EntityID
	kind registry.KindID
	cv   ConfirmedValue
}

func NewWorld(reg *registry.KindRegistry, logger log.Log, historyCap int) *World {
	if logger == nil {
		logger = log.Nop()
	}
	return &World{
		log:        logger,
		registry:   reg,
		historyCap: historyCap,
		entities:   make(map[EntityID]*Entity),
		commands:   NewCommandBuffer(),
	}
}

// Registry returns the component kind registry the world was built with.
func (w *World) Registry() *registry.KindRegistry { return w.registry }

// Commands returns the world's deferred mutation buffer.
func (w *World) Commands() *CommandBuffer { return w.commands }

func (w *World) spawn(role Role, at timeline.Tick) *Entity {
	w.nextID++
	e := &Entity{
		id:        w.nextID,
		role:      role,
		spawnedAt: at,
		w:         w,
	}
	if role == RolePredicted {
		e.components = make(map[registry.KindID]any)
		e.tracked = make(map[registry.KindID]struct{})
		e.histories = make(map[registry.KindID]*history.Buffer[any])
		e.corrections = make(map[registry.KindID]*correction.Correction)
	}
	w.entities[e.id] = e
	return e
}

// SpawnPredicted creates a locally simulated entity.
func (w *World) SpawnPredicted(at timeline.Tick) *Entity {
	return w.spawn(RolePredicted, at)
}

// SpawnConfirmed creates an authority mirror entity.
func (w *World) SpawnConfirmed(at timeline.Tick) *Entity {
	return w.spawn(RoleConfirmed, at)
}

// SpawnPreSpawned creates a predicted entity speculatively, tagged with a
// content hash for later reconciliation with the authoritative spawn.
func (w *World) SpawnPreSpawned(at timeline.Tick, hash uint64) *Entity {
	e := w.spawn(RolePredicted, at)
	e.preSpawned = &PreSpawned{Hash: hash}
	return e
}

// SpawnDeterministic creates a predicted entity produced by deterministic
// local simulation, protected from rollback despawn until the given tick.
func (w *World) SpawnDeterministic(at, skipDespawnUntil timeline.Tick) *Entity {
	e := w.spawn(RolePredicted, at)
	e.deterministic = &DeterministicPredicted{SkipDespawnUntil: skipDespawnUntil}
	return e
}

// Despawn removes an entity. If it is linked, the counterpart's link is
// cleared; the counterpart itself stays alive.
func (w *World) Despawn(id EntityID) {
	e, ok := w.entities[id]
	if !ok {
		return
	}
	if other, linked := w.entities[e.link]; linked && other.link == id {
		other.link = 0
		w.log.Debug("mirror link severed by despawn",
			log.Uint64("entity", uint64(id)),
			log.Uint64("counterpart", uint64(other.id)))
	}
	delete(w.entities, id)
}

// Get returns the entity with the given ID.
func (w *World) Get(id EntityID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Len returns the number of live entities.
func (w *World) Len() int { return len(w.entities) }

// Link ties a predicted entity and its confirmed mirror to each other.
func (w *World) Link(predictedID, confirmedID EntityID) error {
	p, ok := w.entities[predictedID]
	if !ok {
		return ErrEntityNotFound
	}
	c, ok := w.entities[confirmedID]
	if !ok {
		return ErrEntityNotFound
	}
	if !p.IsPredicted() {
		return ErrNotPredicted
	}
	if !c.IsConfirmed() {
		return ErrNotConfirmed
	}
	if p.link != 0 || c.link != 0 {
		return ErrAlreadyLinked
	}
	p.link = confirmedID
	c.link = predictedID
	return nil
}

// EachPredicted visits every enabled predicted entity.
func (w *World) EachPredicted(visit func(*Entity)) {
	for _, e := range w.entities {
		if e.IsPredicted() && !e.disabled {
			visit(e)
		}
	}
}

// EachConfirmed visits every confirmed mirror entity.
func (w *World) EachConfirmed(visit func(*Entity)) {
	for _, e := range w.entities {
		if e.IsConfirmed() {
			visit(e)
		}
	}
}

// EachEntity visits every entity, including disabled ones.
func (w *World) EachEntity(visit func(*Entity)) {
	for _, e := range w.entities {
		visit(e)
	}
}

// StageConfirmed queues an authoritative component value for a mirror
// entity. Safe from any goroutine; the update takes effect when
// DrainConfirmed runs on the simulation goroutine.
func (w *World) StageConfirmed(confirmedID EntityID, kind registry.KindID, value any, tick timeline.Tick) {
	w.stage(stagedConfirmed{id: confirmedID, kind: kind, cv: ConfirmedValue{Value: value, Tick: tick, Present: true}})
}

// StageConfirmedAbsent queues an authoritative "component does not exist"
// assertion. Safe from any goroutine.
func (w *World) StageConfirmedAbsent(confirmedID EntityID, kind registry.KindID, tick timeline.Tick) {
	w.stage(stagedConfirmed{id: confirmedID, kind: kind, cv: ConfirmedValue{Tick: tick, Present: false}})
}

func (w *World) stage(s stagedConfirmed) {
	w.inboxMu.Lock()
	w.inbox = append(w.inbox, s)
	w.inboxMu.Unlock()
}

// DrainConfirmed applies every staged confirmed update in arrival order.
// Simulation goroutine only. Updates for entities that despawned in the
// meantime are dropped with a warning.
func (w *World) DrainConfirmed() {
	w.inboxMu.Lock()
	batch := w.inbox
	w.inbox = nil
	w.inboxMu.Unlock()

	for _, s := range batch {
		if err := w.applyConfirmed(s.id, s.kind, s.cv); err != nil {
			w.log.Warn("staged confirmed update dropped",
				log.Uint64("entity", uint64(s.id)),
				log.Int32("tick", int32(s.cv.Tick)),
				log.Error(err))
		}
	}
}

// ApplyConfirmed records an authoritative component value on a mirror
// entity, immediately. Simulation goroutine only; use StageConfirmed from
// other goroutines. The replication layer delivers at most one update per
// kind per tick.
func (w *World) ApplyConfirmed(confirmedID EntityID, kind registry.KindID, value any, tick timeline.Tick) error {
	return w.applyConfirmed(confirmedID, kind, ConfirmedValue{Value: value, Tick: tick, Present: true})
}

// ApplyConfirmedAbsent records that the authority asserts the component does
// not exist at the given tick. Simulation goroutine only.
func (w *World) ApplyConfirmedAbsent(confirmedID EntityID, kind registry.KindID, tick timeline.Tick) error {
	return w.applyConfirmed(confirmedID, kind, ConfirmedValue{Tick: tick, Present: false})
}

func (w *World) applyConfirmed(confirmedID EntityID, kind registry.KindID, cv ConfirmedValue) error {
	e, ok := w.entities[confirmedID]
	if !ok {
		return ErrEntityNotFound
	}
	if !e.IsConfirmed() {
		return ErrNotConfirmed
	}
	if e.confirmed == nil {
		e.confirmed = make(map[registry.KindID]ConfirmedValue)
	}
	e.confirmed[kind] = cv
	if timeline.After(cv.Tick, e.confirmedTick) {
		e.confirmedTick = cv.Tick
	}
	e.fresh = true
	return nil
}

// MatchPreSpawned finds the earliest-spawned live pre-spawned entity whose
// content hash equals the given one. The replication layer calls this when
// the authority reports a spawn, to adopt the speculative entity instead of
// creating a duplicate.
func (w *World) MatchPreSpawned(hash uint64) (*Entity, bool) {
	var best *Entity
	for _, e := range w.entities {
		if e.preSpawned == nil || e.preSpawned.Hash != hash {
			continue
		}
		if best == nil || timeline.Before(e.spawnedAt, best.spawnedAt) {
			best = e
		}
	}
	return best, best != nil
}

// CaptureHistories records the current value of every tracked component on
// every enabled predicted entity at the given tick. Called once per
// simulated tick, forward and during replay.
func (w *World) CaptureHistories(tick timeline.Tick) {
	for _, e := range w.entities {
		if !e.IsPredicted() || e.disabled {
			continue
		}
		for kindID := range e.tracked {
			buf := e.History(kindID)
			if value, present := e.components[kindID]; present {
				kind, ok := w.registry.Kind(kindID)
				if ok {
					value = kind.Clone(value)
				}
				buf.RecordUpdated(tick, value)
			} else {
				buf.RecordRemoved(tick)
				// One removal record is enough until the component
				// reappears.
				delete(e.tracked, kindID)
			}
		}
	}
}

// PreSpawnHash derives a content hash for pre-spawned entity matching. The
// same byte parts on client and authority yield the same hash.
func PreSpawnHash(parts ...[]byte) uint64 {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum64()
}
