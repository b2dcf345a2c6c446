// Package registry holds the component kind registry: the type-erased
// dispatch table the rollback passes use to compare, restore and blend
// component values without knowing their concrete types.
//
// Each replicated component type is registered once at startup with its
// optional hooks. A kind without a comparator never triggers a rollback; a
// kind without a blend function snaps to corrected values instantly.
package registry

import (
	"fmt"
	"reflect"
	"sync"
)

// KindID identifies a registered component kind within one registry.
type KindID uint32

// CompareFunc reports whether a predicted value and a confirmed value are
// close enough to be considered in agreement.
type CompareFunc func(predicted, confirmed any) bool

// BlendFunc interpolates between two component values with t in [0, 1].
type BlendFunc func(from, to any, t float64) any

// CloneFunc deep-copies a component value before it is stored in history.
type CloneFunc func(v any) any

// Kind is the registered metadata and hook set for one component type.
type Kind struct {
	id      KindID
	name    string
	typ     reflect.Type
	compare CompareFunc
	blend   BlendFunc
	clone   CloneFunc
}

func (k *Kind) ID() KindID         { return k.id }
func (k *Kind) Name() string       { return k.name }
func (k *Kind) Type() reflect.Type { return k.typ }

// CanCompare reports whether the kind has an injected comparator.
func (k *Kind) CanCompare() bool { return k.compare != nil }

// CanBlend reports whether the kind supports visual correction smoothing.
func (k *Kind) CanBlend() bool { return k.blend != nil }

// Matches compares a predicted value against a confirmed one. Kinds without
// a comparator are treated as always matching.
func (k *Kind) Matches(predicted, confirmed any) bool {
	if k.compare == nil {
		return true
	}
	return k.compare(predicted, confirmed)
}

// Blend interpolates from one value to another. Kinds without a blend
// function snap straight to the target.
func (k *Kind) Blend(from, to any, t float64) any {
	if k.blend == nil {
		return to
	}
	return k.blend(from, to, t)
}

// Clone copies a value for history storage. Kinds without a clone hook
// store values as-is, which is correct for value-type components.
func (k *Kind) Clone(v any) any {
	if k.clone == nil {
		return v
	}
	return k.clone(v)
}

// KindRegistry maps component types to their Kind entries. Registration
// happens at startup; lookups afterwards are read-only and lock-free on the
// hot path via the read lock.
type KindRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Kind
	byID   []*Kind
}

func NewKindRegistry() *KindRegistry {
	return &KindRegistry{byType: make(map[reflect.Type]*Kind)}
}

// Options carries the typed hooks supplied when registering a component
// kind. All hooks are optional.
type Options[T any] struct {
	// Name overrides the reflected type name in logs and events.
	Name string
	// Compare reports whether two values agree; nil means never mismatch.
	Compare func(predicted, confirmed T) bool
	// Blend interpolates for visual correction; nil means snap.
	Blend func(from, to T, t float64) T
	// Clone deep-copies values into history; nil stores values as-is.
	Clone func(T) T
}

// Register adds a component kind for type T and returns its ID. Registering
// the same type twice is a programming error and panics.
func Register[T any](r *KindRegistry, opts Options[T]) KindID {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byType[typ]; dup {
		panic(fmt.Sprintf("registry: component kind %s registered twice", typ))
	}

	name := opts.Name
	if name == "" {
		name = typ.String()
	}

	k := &Kind{
		id:   KindID(len(r.byID)),
		name: name,
		typ:  typ,
	}
	if opts.Compare != nil {
		cmp := opts.Compare
		k.compare = func(predicted, confirmed any) bool {
			p, pok := predicted.(T)
			c, cok := confirmed.(T)
			if !pok || !cok {
				return false
			}
			return cmp(p, c)
		}
	}
	if opts.Blend != nil {
		blend := opts.Blend
		k.blend = func(from, to any, t float64) any {
			f, fok := from.(T)
			g, gok := to.(T)
			if !fok || !gok {
				return to
			}
			return blend(f, g, t)
		}
	}
	if opts.Clone != nil {
		clone := opts.Clone
		k.clone = func(v any) any {
			value, ok := v.(T)
			if !ok {
				return v
			}
			return clone(value)
		}
	}

	r.byType[typ] = k
	r.byID = append(r.byID, k)
	return k.id
}

// KindOf returns the Kind registered for type T.
func KindOf[T any](r *KindRegistry) (*Kind, bool) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byType[typ]
	return k, ok
}

// Kind returns the Kind with the given ID.
func (r *KindRegistry) Kind(id KindID) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

// Each visits every registered kind in registration order.
func (r *KindRegistry) Each(visit func(*Kind)) {
	r.mu.RLock()
	kinds := make([]*Kind, len(r.byID))
	copy(kinds, r.byID)
	r.mu.RUnlock()
	for _, k := range kinds {
		visit(k)
	}
}

// Len returns the number of registered kinds.
func (r *KindRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
