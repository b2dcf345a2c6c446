package generic

import "sync"

// Pool is a typed wrapper around sync.Pool with an optional reset step
// applied when values are returned.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
	}
}

// NewResetPool creates a Pool whose values are passed through reset before
// being stored for reuse. Useful for recycling slices without carrying
// stale contents.
func NewResetPool[T any](generate func() T, reset func(T) T) *Pool[T] {
	p := NewPool[T](generate)
	p.reset = reset
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		value = p.reset(value)
	}
	p.pool.Put(value)
}
