// Package history implements the per-component prediction history: a sparse,
// tick-ordered log of the values an entity's component held during forward
// simulation. The rollback detector reads it to compare a past prediction
// against an authoritative value, and the preparer truncates it when stale.
package history

import (
	"sort"

	"github.com/zeusync/prediction/internal/core/timeline"
)

// Kind tags a State as holding a value or recording a removal.
type Kind uint8

const (
	// KindUpdated marks a tick at which the component existed with a value.
	KindUpdated Kind = iota
	// KindRemoved marks a tick at which the component was removed.
	KindRemoved
)

// State is the tagged union stored per recorded tick: either the component's
// value at that tick, or a marker that it was removed. Absence of any State
// for a tick means "no record", which is distinct from KindRemoved.
type State[T any] struct {
	Kind  Kind
	Value T
}

// Updated builds a State holding a live value.
func Updated[T any](v T) State[T] {
	return State[T]{Kind: KindUpdated, Value: v}
}

// Removed builds a State recording the component's removal.
func Removed[T any]() State[T] {
	return State[T]{Kind: KindRemoved}
}

type entry[T any] struct {
	tick  timeline.Tick
	state State[T]
}

// Buffer is a sparse mapping from Tick to State, ordered by insertion.
// Records must arrive with monotonically non-decreasing ticks; a record at
// the same tick as the latest overwrites it, and records older than the
// latest are dropped.
//
// A Buffer is exclusively owned by its entity and never shared across
// goroutines within a tick.
type Buffer[T any] struct {
	entries []entry[T]
	maxLen  int
}

// NewBuffer creates a Buffer retaining at most capacity records. A
// capacity <= 0 means unbounded.
func NewBuffer[T any](capacity int) *Buffer[T] {
	return &Buffer[T]{maxLen: capacity}
}

// Record appends the state observed at the given tick.
func (b *Buffer[T]) Record(tick timeline.Tick, state State[T]) {
	if n := len(b.entries); n > 0 {
		last := b.entries[n-1].tick
		if tick == last {
			b.entries[n-1].state = state
			return
		}
		if timeline.Before(tick, last) {
			// Out-of-order record; forward simulation never produces these.
			return
		}
	}
	b.entries = append(b.entries, entry[T]{tick: tick, state: state})
	if b.maxLen > 0 && len(b.entries) > b.maxLen {
		b.entries = b.entries[len(b.entries)-b.maxLen:]
	}
}

// RecordUpdated appends an Updated state at the given tick.
func (b *Buffer[T]) RecordUpdated(tick timeline.Tick, v T) {
	b.Record(tick, Updated(v))
}

// RecordRemoved appends a Removed state at the given tick.
func (b *Buffer[T]) RecordRemoved(tick timeline.Tick) {
	b.Record(tick, Removed[T]())
}

// At returns the state recorded at or most recently before the given tick
// without modifying the buffer.
func (b *Buffer[T]) At(tick timeline.Tick) (State[T], bool) {
	idx := b.searchAtOrBefore(tick)
	if idx < 0 {
		var zero State[T]
		return zero, false
	}
	return b.entries[idx].state, true
}

// SeekAndClearAfter returns the state recorded at or most recently before
// the given tick, then prunes the buffer down to that single record: every
// later record is stale (it will be regenerated by replay) and every earlier
// record is no longer reachable by any future seek at a later tick.
func (b *Buffer[T]) SeekAndClearAfter(tick timeline.Tick) (State[T], bool) {
	idx := b.searchAtOrBefore(tick)
	if idx < 0 {
		b.entries = b.entries[:0]
		var zero State[T]
		return zero, false
	}
	found := b.entries[idx]
	b.entries = append(b.entries[:0], found)
	return found.state, true
}

// Clear drops every record.
func (b *Buffer[T]) Clear() {
	b.entries = b.entries[:0]
}

// Len returns the number of records currently retained.
func (b *Buffer[T]) Len() int {
	return len(b.entries)
}

// Latest returns the most recent record.
func (b *Buffer[T]) Latest() (timeline.Tick, State[T], bool) {
	if len(b.entries) == 0 {
		var zero State[T]
		return 0, zero, false
	}
	last := b.entries[len(b.entries)-1]
	return last.tick, last.state, true
}

// searchAtOrBefore returns the index of the last entry whose tick is at or
// before the given tick, or -1 if no such entry exists.
func (b *Buffer[T]) searchAtOrBefore(tick timeline.Tick) int {
	n := len(b.entries)
	// First entry strictly after tick; everything before it qualifies.
	i := sort.Search(n, func(i int) bool {
		return timeline.After(b.entries[i].tick, tick)
	})
	return i - 1
}
