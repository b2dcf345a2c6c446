package rollback

import "errors"

// Rollback-specific errors.
var (
	// ErrWindowExceeded reports a rollback target further in the past than
	// the configured replay window. The rollback is aborted, not retried.
	ErrWindowExceeded = errors.New("rollback window exceeded")
	// ErrNotRolling reports a replay request with no latched target.
	ErrNotRolling = errors.New("no rollback target latched")
)
