package cond

import "errors"

// Error kinds returned by TimedWait. OwnerDied is not redefined here: it
// propagates straight from mutex.ErrOwnerDied, since the mutex is the
// collaborator that actually detects it. There is no "interrupted" kind:
// the emulated futex wait never reports an interruption, so none can
// surface.
var (
	// ErrPermissionDenied is returned when the calling goroutine does not
	// hold the mutex it is about to wait on, for an error-checking mutex.
	ErrPermissionDenied = errors.New("cond: calling goroutine does not hold the mutex")

	// ErrInvalidArgument is returned for a malformed deadline (the zero
	// time.Time, which cannot denote a real point to wait until).
	ErrInvalidArgument = errors.New("cond: malformed deadline")

	// ErrTimedOut is returned when a deadline elapses before a signal
	// arrives.
	ErrTimedOut = errors.New("cond: timed out waiting for signal")
)
