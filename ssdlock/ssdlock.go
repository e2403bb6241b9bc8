// Package ssdlock implements the self-synchronised-destruction lock used
// internally by the condvar core: a two-bit spin/futex lock whose last
// unlocker never re-touches the lock word after releasing it.
//
// That property matters because a Lock can live inside an object (the
// condvar itself, or a waiter's barrier) that is destroyed the instant the
// last holder lets go of it. Grounded on the 0/1/2 unlocked/locked/sleeping
// scheme from the Go runtime's futex-based mutex (runtime.lock_futex) and
// on the teacher's own spinning try-lock in block.lock.
package ssdlock

import (
	"sync/atomic"

	"github.com/twmb/dash/futex"
	"github.com/twmb/dash/primitive"
)

const (
	free      uint32 = 0
	held      uint32 = 1
	contended uint32 = 2
)

// Lock is a two-state lock extended to a third, contended state once
// somebody has to block on it.
type Lock struct {
	word uint32
}

// Locked returns a Lock already held, used to initialise a waiter's barrier
// per the condvar's "barrier is initialised locked" invariant.
func Locked() Lock {
	return Lock{word: held}
}

// Acquire blocks until the lock is held by the caller.
func (l *Lock) Acquire() {
	if _, swapped := primitive.CompareAndSwapUint32(&l.word, free, held); swapped {
		return
	}
	for {
		// Force the contended bit so whoever is holding the lock
		// knows to wake us, even if they already raced us to
		// release it back to free in between our failed fast-path
		// CAS and this one.
		primitive.CompareAndSwapUint32(&l.word, held, contended)
		futex.Wait(&l.word, contended, nil)
		if _, swapped := primitive.CompareAndSwapUint32(&l.word, free, contended); swapped {
			return
		}
	}
}

// Release relinquishes the lock. The last unlocker must not touch l.word
// again after this call returns: l may be destroyed concurrently the
// instant another goroutine observes the lock free, and only the wake
// below (targeting an address captured before the swap) is still safe to
// issue.
func (l *Lock) Release() {
	prev := atomic.SwapUint32(&l.word, free)
	if prev == contended {
		futex.Wake(&l.word, 1)
	}
}
