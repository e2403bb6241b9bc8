// This transliterates, and extends, Facebook's folly's Futex source
// (Apache License, Version 2.0), generalising it from a single embedded
// state word to arbitrary 32-bit addresses the way the real futex(2)
// syscall operates, since the condvar core needs to wait on both a
// per-waiter word and the condvar's own shared sequence word.
//
// Unfortunately, since we cannot control Go allocation, waiting must heap
// allocate. As in the original, only an emulated futex is provided; no
// system futex is used even if available.
package futex

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// WakeAll requests that every matching waiter be woken or requeued.
const WakeAll = math.MaxInt32

// Result reports why Wait returned.
type Result int

const (
	// Awoken means a matching Wake or Requeue call targeted this waiter.
	Awoken Result = iota
	// ValueChanged means *addr no longer held the expected value by the
	// time Wait went to register itself; the caller never slept.
	ValueChanged
	// TimedOut means the deadline elapsed before a wake arrived.
	TimedOut
)

// ErrCrossDomainRequeue is returned by Requeue when the caller marks src and
// dst as belonging to different sharing domains (private vs process-shared).
// Real futex(2) refuses FUTEX_REQUEUE across a private/shared boundary;
// callers are expected to fall back to a plain Wake in that case.
var ErrCrossDomainRequeue = errors.New("futex: requeue refused across private/shared boundary")

// waitNode is the emulated kernel-side wait-queue entry: one per blocked
// Wait call, linked into the bucket its address currently hashes to.
type waitNode struct {
	prev, next *waitNode

	addr *uint32

	mu     sync.Mutex
	cond   *sync.Cond
	done   bool
	result Result
	linked bool

	timer *time.Timer
}

type bucket struct {
	mu    sync.Mutex
	nodes *waitNode // sentinel; nodes.next/.prev form a circular list
}

// NumBuckets is the count of hash buckets the emulated futex distributes
// waiters across, same order of magnitude as folly's own table.
const NumBuckets = 4096

var buckets [NumBuckets]bucket

func init() {
	for i := range buckets {
		sentinel := new(waitNode)
		sentinel.next, sentinel.prev = sentinel, sentinel
		buckets[i].nodes = sentinel
	}
}

// twhash is Thomas Wang's 64-bit integer hash, same mixing function the
// donor futex used to spread addresses across buckets.
func twhash(addr uint64) uint64 {
	addr = (^addr) + (addr << 21)
	addr = addr ^ (addr >> 24)
	addr = addr + (addr << 3) + (addr << 8)
	addr = addr ^ (addr >> 14)
	addr = addr + (addr << 2) + (addr << 4)
	addr = addr ^ (addr >> 28)
	addr = addr + (addr << 31)
	return addr
}

func bucketFor(addr *uint32) *bucket {
	return &buckets[twhash(uint64(uintptr(unsafe.Pointer(addr))))%NumBuckets]
}

func (b *bucket) link(n *waitNode) {
	n.prev = b.nodes.prev
	b.nodes.prev.next = n
	b.nodes.prev = n
	n.next = b.nodes
	n.linked = true
}

// unlinkLocked requires b.mu held; it is a no-op if n was already unlinked
// by a concurrent Wake/Requeue, making the timeout path idempotent.
func (b *bucket) unlinkLocked(n *waitNode) {
	if !n.linked {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.linked = false
}

func (b *bucket) unlink(n *waitNode) {
	b.mu.Lock()
	b.unlinkLocked(n)
	b.mu.Unlock()
}

// Wait blocks until *addr no longer equals expect (checked once, under the
// bucket lock, to close the classic wait/wake race), a Wake or Requeue call
// targets addr, or deadline elapses. A nil deadline blocks indefinitely.
func Wait(addr *uint32, expect uint32, deadline *time.Time) Result {
	b := bucketFor(addr)
	n := &waitNode{addr: addr}
	n.cond = sync.NewCond(&n.mu)

	b.mu.Lock()
	if atomic.LoadUint32(addr) != expect {
		b.mu.Unlock()
		return ValueChanged
	}
	b.link(n)
	b.mu.Unlock()

	if deadline != nil {
		if until := time.Until(*deadline); until <= 0 {
			b.unlink(n)
			n.mu.Lock()
			if !n.done {
				n.done, n.result = true, TimedOut
			}
			res := n.result
			n.mu.Unlock()
			return res
		} else {
			n.timer = time.AfterFunc(until, func() {
				n.mu.Lock()
				if !n.done {
					n.done, n.result = true, TimedOut
					n.cond.Signal()
				}
				n.mu.Unlock()
				b.unlink(n)
			})
		}
	}

	n.mu.Lock()
	for !n.done {
		n.cond.Wait()
	}
	result := n.result
	n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
	}
	return result
}

// wakeNode marks n done with Awoken and signals its condvar; n.mu must not
// be held by the caller. Returns whether n actually transitioned (false if
// it had already been woken or timed out).
func wakeNode(n *waitNode) bool {
	n.mu.Lock()
	woke := !n.done
	if woke {
		n.done, n.result = true, Awoken
		n.cond.Signal()
	}
	n.mu.Unlock()
	return woke
}

// Wake wakes up to count waiters blocked on addr, returning how many were
// actually woken.
func Wake(addr *uint32, count int) int {
	b := bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()

	woken := 0
	var next *waitNode
	for n := b.nodes.next; n != b.nodes && woken < count; n = next {
		next = n.next
		if n.addr != addr {
			continue
		}
		b.unlinkLocked(n)
		if wakeNode(n) {
			woken++
		}
	}
	return woken
}

// Requeue wakes up to wakeCount waiters on src directly and moves up to
// requeueCount further src waiters over to dst without waking them, so a
// later Wake(dst, ...) reaches them. crossDomain mirrors the kernel's
// refusal to requeue between a process-private and a process-shared futex;
// callers that pass true get ErrCrossDomainRequeue and must fall back to a
// plain Wake themselves.
func Requeue(src, dst *uint32, wakeCount, requeueCount int, crossDomain bool) (woken, requeued int, err error) {
	if crossDomain {
		return 0, 0, ErrCrossDomainRequeue
	}
	if src == dst {
		return Wake(src, wakeCount), 0, nil
	}

	bs, bd := bucketFor(src), bucketFor(dst)
	first, second := bs, bd
	if uintptr(unsafe.Pointer(bs)) > uintptr(unsafe.Pointer(bd)) {
		first, second = bd, bs
	}
	first.mu.Lock()
	if second != first {
		second.mu.Lock()
	}
	defer func() {
		if second != first {
			second.mu.Unlock()
		}
		first.mu.Unlock()
	}()

	var next *waitNode
	for n := bs.nodes.next; n != bs.nodes && (woken < wakeCount || requeued < requeueCount); n = next {
		next = n.next
		if n.addr != src {
			continue
		}
		if woken < wakeCount {
			bs.unlinkLocked(n)
			if wakeNode(n) {
				woken++
			}
			continue
		}
		bs.unlinkLocked(n)
		n.addr = dst
		bd.link(n)
		requeued++
	}
	return woken, requeued, nil
}
