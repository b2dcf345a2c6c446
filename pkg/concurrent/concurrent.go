package concurrent

import (
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/prediction/pkg/sequence"
)

// Bounded runs the action for each element of the iterator in its own
// goroutine, capping the number running at once, and waits for all of them.
// The first non-nil error is returned. limit <= 0 means unbounded.
func Bounded[T any](i *sequence.Iterator[T], limit int, action func(T) error) error {
	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}
		group.Go(func() error {
			return action(value)
		})
	}

	return group.Wait()
}
