// Package cond implements the condition variable core: TimedWait, Signal,
// and Broadcast, atop the futex, ssdlock, mutex, cancel, and waiter
// packages. The private variant runs the full signalled-batch /
// distributed-requeue algorithm; the process-shared variant, which cannot
// rely on in-process pointers for its waiter list, falls back to a plain
// generation counter broadcast on a shared futex word.
//
// Grounded on the signal/broadcast handoff described for this core, built
// the way the teacher's block.Block layers a CAS state machine under a
// small, heavily-commented public surface.
package cond

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/twmb/dash/cancel"
	"github.com/twmb/dash/futex"
	"github.com/twmb/dash/mutex"
	"github.com/twmb/dash/waiter"
)

// broadcastAll is passed internally to request every waiter in one pass,
// mirroring futex.WakeAll.
const broadcastAll = math.MaxInt32

// Cond is a single condition variable. The zero value is not usable; use
// New.
type Cond struct {
	shared bool

	list waiter.List // private case only

	seq uint32 // process-shared case only: generation / futex word
}

// New returns a ready Cond. shared marks it process-shared, selecting the
// generation-counter algorithm over the private list-and-requeue one.
func New(shared bool) *Cond {
	return &Cond{shared: shared}
}

// Shared reports whether c is process-shared.
func (c *Cond) Shared() bool { return c.shared }

// TimedWait atomically unlocks m and blocks the calling goroutine until
// Signal or Broadcast wakes it, ctx is cancelled, or deadline elapses (if
// non-nil), then reacquires m before returning. The caller must hold m,
// via tok, on entry; TimedWait always returns with m held again, even on
// error, including when reacquisition reports mutex.ErrOwnerDied (the
// lock is still acquired in that case).
//
// Errors, most authoritative first: a mutex reacquisition failure
// (mutex.ErrOwnerDied) always takes priority over the wait's own outcome;
// otherwise ErrTimedOut or ctx.Err() is returned, or nil on a genuine
// signal.
func (c *Cond) TimedWait(ctx context.Context, m *mutex.Mutex, tok mutex.Token, deadline *time.Time) error {
	if !m.IsOwner(tok) {
		return ErrPermissionDenied
	}
	if deadline != nil && deadline.IsZero() {
		return ErrInvalidArgument
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if c.shared {
		return c.timedWaitShared(ctx, m, tok, deadline)
	}
	return c.timedWaitPrivate(ctx, m, tok, deadline)
}

// Signal wakes at most one waiter, the one that has been waiting longest,
// and reports how many it woke (0 or 1).
func (c *Cond) Signal() int { return c.signal(1) }

// Broadcast wakes every current waiter and reports how many it woke.
func (c *Cond) Broadcast() int { return c.signal(broadcastAll) }

func (c *Cond) signal(want int) int {
	if c.shared {
		return c.signalShared(want)
	}
	return c.signalPrivate(want)
}

// timedWaitPrivate runs the full per-node protocol: park on the list,
// release the mutex, block on the node's own futex word, then clean up
// via unwait once woken for any reason.
func (c *Cond) timedWaitPrivate(ctx context.Context, m *mutex.Mutex, tok mutex.Token, deadline *time.Time) error {
	n := waiter.New(m)

	var watcherErr error
	disarm := cancel.Armed(ctx, func() {
		if n.TryMarkLeaving() {
			watcherErr = ctx.Err()
			futex.Wake(n.StateAddr(), 1)
		}
	})

	c.list.Lock()
	c.list.PushFront(n)
	c.list.Unlock()

	m.Unlock()

	res := futex.Wait(n.StateAddr(), uint32(waiter.Waiting), deadline)

	var leaveErr error
	if res == futex.TimedOut && n.TryMarkLeaving() {
		leaveErr = ErrTimedOut
	}
	disarm()
	if leaveErr == nil {
		leaveErr = watcherErr
	}

	if mutexErr := c.unwait(n, tok); mutexErr != nil {
		return mutexErr
	}
	return leaveErr
}

// unwait runs the cleanup path common to every way a private wait can end.
// By the time it is called, n.State() is guaranteed to be Signaled or
// Leaving: every path that can make futex.Wait return first makes sure of
// that (a signaler always marks Signaled before waking; a timeout or
// cancellation always attempts TryMarkLeaving before this point). It
// always reacquires the mutex, whose error takes priority over any other
// result.
func (c *Cond) unwait(n *waiter.Node, tok mutex.Token) error {
	if n.State() == waiter.Leaving {
		c.list.Lock()
		c.list.Remove(n)
		ref := n.Notify()
		c.list.Unlock()

		if ref != nil {
			if atomic.AddUint32(ref, ^uint32(0)) == 0 {
				futex.Wake(ref, 1)
			}
		}
	} else {
		// Signaled: n sits on a batch a signaler detached from the list,
		// now protected by the mutex rather than the list lock. The
		// barrier was released by the signaler (directly, or via the
		// requeue chain waking us through the mutex); acquiring and
		// immediately releasing it here just waits for that release to
		// have happened, the way the node's own stack frame would block
		// on it in the original algorithm.
		n.Barrier().Acquire()
		n.Barrier().Release()
	}

	mutexErr := n.Mutex.Lock(tok)

	if n.State() == waiter.Signaled {
		// The increment this undoes only ever happened when the mutex is
		// not process-shared (see requeueNext); the two checks must stay
		// in lockstep, since Requeued() alone no longer tells us whether
		// AddWaiters(1) actually ran.
		if n.Requeued() && !n.Mutex.Shared() {
			n.Mutex.AddWaiters(-1)
		}
		requeueNext(n)
		n.UnlinkFromBatch()
	}

	return mutexErr
}

// requeueNext hands the baton to the next not-yet-requeued waiter in n's
// batch, if any, moving it from its own futex word onto the mutex's so a
// later Unlock reaches it without a second kernel wake from this signal
// call. The walk moves head-ward (toward the newer end of the batch): the
// oldest waiter is woken directly, so the chain must fan out toward newer
// waiters to preserve FIFO wake order.
//
// A per-waiter futex word is always process-private; when the mutex is
// process-shared, moving the waiter's registration onto the mutex's word
// would cross that boundary, which Requeue refuses (ErrCrossDomainRequeue),
// the same way real futex(2) refuses FUTEX_REQUEUE between a private and a
// shared futex. In that case p is woken directly on its own word instead,
// and re-enters the mutex's ordinary Lock contention like a fresh caller;
// Mutex.AddWaiters is only bumped on the path that actually hands p's
// registration over to the mutex's word, so Unlock's waiters-based wake
// (mutex.go) and unwait's undo above stay balanced.
func requeueNext(n *waiter.Node) {
	for p := n.Prev(); p != nil; p = p.Prev() {
		if !p.MarkRequeued() {
			continue
		}
		_, _, err := futex.Requeue(p.StateAddr(), p.Mutex.FutexWord(), 0, 1, p.Mutex.Shared())
		if err != nil {
			futex.Wake(p.StateAddr(), 1)
			return
		}
		p.Mutex.AddWaiters(1)
		return
	}
}

// signalPrivate implements Signal/Broadcast's list-walk, split, and batch
// release.
func (c *Cond) signalPrivate(want int) int {
	c.list.Lock()

	if c.list.Tail() == nil {
		c.list.Unlock()
		return 0
	}

	var ref uint32
	var stopAt, first *waiter.Node
	signalled := 0
	for p := c.list.Tail(); p != nil && signalled < want; p = p.Prev() {
		if p.TryMarkSignaled() {
			if first == nil {
				first = p
			}
			signalled++
		} else {
			// p raced us into Leaving; note it so we don't touch the
			// detached batch until it has unlinked itself.
			atomic.AddUint32(&ref, 1)
			p.SetNotify(&ref)
		}
		stopAt = p
	}

	if signalled == 0 {
		c.list.Unlock()
		return 0
	}

	c.list.Split(stopAt)
	c.list.Unlock()

	for {
		v := atomic.LoadUint32(&ref)
		if v == 0 {
			break
		}
		futex.Wait(&ref, v, nil)
	}

	// first is the oldest signalled waiter in the batch (the batch's own
	// tail can be a Leaving node, which by now has unlinked itself); waking
	// it directly and having each woken node's own unwait requeue its
	// head-ward (newer) neighbour next preserves FIFO wake order along the
	// chain.
	//
	// Capture each node's neighbour before releasing its barrier: once
	// released, that node's own unwait is free to unlink itself (mutating
	// its own next/prev), which must not happen until after we have
	// already read the pointer we need to keep walking.
	for p := first; p != nil; {
		prev := p.Prev()
		if p == first {
			futex.Wake(p.StateAddr(), 1)
		}
		p.Barrier().Release()
		p = prev
	}

	return signalled
}

// timedWaitShared is the process-shared fallback: a single generation
// counter, bumped and woken on every signal. It cannot target an
// individual waiter (no in-process pointers survive across the process
// boundary this variant is meant for), so a cancellation wakes every
// current waiter, who each re-check their own reason for waking.
func (c *Cond) timedWaitShared(ctx context.Context, m *mutex.Mutex, tok mutex.Token, deadline *time.Time) error {
	seen := atomic.LoadUint32(&c.seq)

	var watcherErr error
	var cancelled uint32
	disarm := cancel.Armed(ctx, func() {
		if atomic.CompareAndSwapUint32(&cancelled, 0, 1) {
			watcherErr = ctx.Err()
			futex.Wake(&c.seq, futex.WakeAll)
		}
	})

	m.Unlock()
	res := futex.Wait(&c.seq, seen, deadline)
	disarm()

	mutexErr := m.Lock(tok)
	if mutexErr != nil {
		return mutexErr
	}
	if atomic.LoadUint32(&cancelled) == 1 {
		return watcherErr
	}
	if res == futex.TimedOut {
		return ErrTimedOut
	}
	return nil
}

func (c *Cond) signalShared(want int) int {
	atomic.AddUint32(&c.seq, 1)
	if want == 1 {
		return futex.Wake(&c.seq, 1)
	}
	return futex.Wake(&c.seq, futex.WakeAll)
}
