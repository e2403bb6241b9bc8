// Package cancel adapts context.Context, Go's idiom for cooperative
// deadlines and cancellation, to the condvar core's "pending interrupt"
// collaborator: something that can notice a blocked waiter should give up
// and nudge it awake.
//
// Grounded on the watch-a-context-in-a-goroutine pattern used throughout
// the corpus's networked and pooled code (nothing in twmb-dash itself uses
// context, since it predates that idiom being load-bearing here; this
// follows the shape context.Context's own WithCancel machinery uses
// internally: a done channel plus a goroutine that reacts to it).
package cancel

import (
	"context"
	"sync"
)

// Armed starts watching ctx and calls wake, at most once, the first time
// ctx is done (also when ctx is already done by the time disarm is
// called). It returns disarm, which must be called once the blocking
// operation wake exists to interrupt has finished, whether or not ctx ever
// fired. disarm guarantees that after it returns, wake will never be
// called again, and that any call to wake already in flight has completed
// - giving the caller a clean point past which it can safely inspect
// whatever state wake mutated.
func Armed(ctx context.Context, wake func()) (disarm func()) {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}

	var mu sync.Mutex
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			mu.Lock()
			wake()
			mu.Unlock()
		case <-stop:
			// ctx may have been done before disarm closed stop; select
			// picks between ready cases at random, so check it here too.
			if ctx.Err() != nil {
				mu.Lock()
				wake()
				mu.Unlock()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-done
		// Synchronise with a wake() that was already in flight when stop
		// closed; once this returns, no call to wake is still running or
		// yet to start.
		mu.Lock()
		mu.Unlock()
	}
}

// Pending reports whether ctx has already been cancelled.
func Pending(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
