// Package mutex provides the external mutex collaborator the condvar core
// consumes: lock/unlock, owner tracking, a waiter counter, a futex-ready
// lock word, and a process-shared bit. The condvar core treats all of this
// as somebody else's interface (spec: "external collaborators whose
// interfaces we consume, not redesign"); this package exists so the core is
// actually runnable and testable rather than built against a mock.
//
// Grounded on the unlocked/locked/sleeping three-state scheme of the Go
// runtime's futex-based mutex (runtime.lock_futex), adapted to track an
// owner token and an explicit waiter counter.
package mutex

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/twmb/dash/futex"
	"github.com/twmb/dash/primitive"
)

const (
	unlocked uint32 = 0
	locked   uint32 = 1
	sleeping uint32 = 2
)

// ErrOwnerDied is returned exactly once by Lock after Abandon was called on
// the holding owner, mirroring a robust pthread mutex's EOWNERDEAD.
var ErrOwnerDied = errors.New("mutex: owner died")

// Token identifies a lock holder. The mutex has no notion of an OS thread in
// Go; callers mint and carry their own Token (e.g. a per-goroutine counter)
// the way the condvar core's caller would carry a pthread_t.
type Token uint64

// Mutex is a futex-backed mutex with ownership tracking, suitable for
// error-checking condvar use. Recursive acquisition is not supported: the
// condvar protocol this module exists to serve never recurses into its own
// mutex.
type Mutex struct {
	word uint32 // unlocked / locked / sleeping; also the futex word

	owner      uint64 // Token of the current holder, 0 when unlocked
	errorCheck bool
	shared     bool
	abandoned  uint32 // set by Abandon; consumed once by the next Lock

	waiters int32 // waiters the condvar core requeued onto word; lockSlow's own sleepers are not counted here
}

// New returns an unlocked Mutex. errorCheck enables the ownership check
// TimedWait's precondition relies on; shared marks the mutex process-shared,
// which the condvar core uses to decide whether a futex requeue targeting
// this mutex's word is even legal.
func New(errorCheck, shared bool) *Mutex {
	return &Mutex{errorCheck: errorCheck, shared: shared}
}

// ErrorChecked reports whether this mutex tracks ownership.
func (m *Mutex) ErrorChecked() bool { return m.errorCheck }

// Shared reports whether this mutex is process-shared.
func (m *Mutex) Shared() bool { return m.shared }

// FutexWord exposes the lock word as a requeue destination for the condvar
// core's unwait path.
func (m *Mutex) FutexWord() *uint32 { return &m.word }

// Waiters returns the current waiter-count estimate.
func (m *Mutex) Waiters() int32 { return atomic.LoadInt32(&m.waiters) }

// AddWaiters adjusts the waiter counter by delta, returning the new value.
// The condvar core calls this both when accounting for a freshly requeued
// waiter and when undoing a redundant increment.
func (m *Mutex) AddWaiters(delta int32) int32 {
	return atomic.AddInt32(&m.waiters, delta)
}

// IsOwner reports whether tok currently holds the lock. Only meaningful
// when ErrorChecked is true; non-error-checking mutexes in the real world
// don't track this at all, so always answer true for them (ownership
// preconditions are simply not enforced).
func (m *Mutex) IsOwner(tok Token) bool {
	if !m.errorCheck {
		return true
	}
	return atomic.LoadUint64(&m.owner) == uint64(tok)
}

// Abandon marks the mutex as abandoned by its current owner; the next
// successful Lock returns ErrOwnerDied exactly once.
func (m *Mutex) Abandon() {
	atomic.StoreUint32(&m.abandoned, 1)
}

// Lock acquires the mutex for tok, blocking until available. It returns
// ErrOwnerDied the first time it succeeds after Abandon was called.
func (m *Mutex) Lock(tok Token) error {
	m.lockSlow(nil)
	atomic.StoreUint64(&m.owner, uint64(tok))
	if atomic.CompareAndSwapUint32(&m.abandoned, 1, 0) {
		return ErrOwnerDied
	}
	return nil
}

// LockTimed is Lock with a deadline; it returns context.DeadlineExceeded's
// sibling, futex.TimedOut's caller-facing form, via a bool: ok is false if
// the deadline elapsed first.
func (m *Mutex) LockTimed(tok Token, deadline *time.Time) (err error, ok bool) {
	if !m.lockSlow(deadline) {
		return nil, false
	}
	atomic.StoreUint64(&m.owner, uint64(tok))
	if atomic.CompareAndSwapUint32(&m.abandoned, 1, 0) {
		return ErrOwnerDied, true
	}
	return nil, true
}

// lockSlow runs the futex-backed acquisition loop, mirroring
// runtime.lock_futex's unlocked/locked/sleeping dance. Returns false only
// if deadline elapsed without acquiring.
func (m *Mutex) lockSlow(deadline *time.Time) bool {
	v := atomic.SwapUint32(&m.word, locked)
	if v == unlocked {
		return true
	}
	wait := v
	for {
		for i := 0; i < 4; i++ {
			for atomic.LoadUint32(&m.word) == unlocked {
				if _, swapped := primitive.CompareAndSwapUint32(&m.word, unlocked, wait); swapped {
					return true
				}
			}
			primitive.Pause()
		}

		v = atomic.SwapUint32(&m.word, sleeping)
		if v == unlocked {
			return true
		}
		wait = sleeping

		if deadline != nil && !deadline.After(timeNow()) {
			return false
		}
		futex.Wait(&m.word, sleeping, deadline)
	}
}

// Unlock releases the mutex. It is the caller's responsibility to hold the
// lock, matching the external mutex contract this core consumes rather than
// redesigns.
//
// A wake is owed not only when word itself says sleeping, but whenever
// waiters is positive: the condvar core's requeue path (AddWaiters,
// FutexWord) can hand a waiter a futex registration directly on word
// without ever running it through lockSlow's own sleeping transition, so
// word alone is not a complete picture of who is parked on it. waiters is
// the word-external half of that bookkeeping, the way a real futex mutex
// packs a waiter count into the lock word itself; this mutex keeps the
// count alongside word instead, and Unlock has to consult both.
func (m *Mutex) Unlock() {
	atomic.StoreUint64(&m.owner, 0)
	v := atomic.SwapUint32(&m.word, unlocked)
	if v == sleeping || atomic.LoadInt32(&m.waiters) > 0 {
		futex.Wake(&m.word, 1)
	}
}

// timeNow is a seam so tests can't accidentally depend on wall-clock
// granularity mattering; production code just wants "now".
var timeNow = time.Now
