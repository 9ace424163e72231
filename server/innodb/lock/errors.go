package lock

import "errors"

// Lock manager errors
var (
	ErrLockTimeout = errors.New("lock wait timeout exceeded")
	ErrDeadlock    = errors.New("deadlock found when trying to get lock")
	ErrLockAborted = errors.New("lock wait aborted")
	ErrLockClosed  = errors.New("lock manager closed")
)
