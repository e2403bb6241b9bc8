// Package waiter implements the per-call waiter node and its list, the
// stack-allocated (here: heap-allocated, since Go gives no other option for
// an object referenced across goroutines) state that the condvar core
// threads through signal, broadcast, and cancellation.
//
// Grounded on the teacher's queue/*/dvq_struct.go style of small structs
// with explicit fields for lock-free bookkeeping, and on block.Block's
// CAS-protected counter for the state-machine shape.
package waiter

import (
	"github.com/twmb/dash/mutex"
	"github.com/twmb/dash/primitive"
	"github.com/twmb/dash/ssdlock"
)

// State is one of the three states a Node passes through during its life
// on a condvar's list.
type State uint32

const (
	// Waiting is the initial state: on the list, blocked on state as a
	// futex word. Only the private algorithm uses Nodes; the process-shared
	// one waits on the Cond's own sequence word instead.
	Waiting State = iota
	// Signaled means a signaler's CAS claimed this node; it has been (or
	// is about to be) detached from the list and will be woken.
	Signaled
	// Leaving means the waiter itself claimed the node to depart, on
	// the timeout or cancellation path.
	Leaving
)

// Node is registered on a Cond's list for the lifetime of one TimedWait
// call. It must not be accessed by any other goroutine after that call
// returns.
type Node struct {
	// state doubles as the futex word the owning goroutine blocks on in
	// the private case.
	state uint32

	// barrier delays a signalled waiter's forward progress until the
	// signaler has finished mutating the list; initialised locked.
	barrier ssdlock.Lock

	// requeued is set once some other waiter's unwait has claimed this
	// node for delivery: either moved from the condvar's futex word onto
	// the mutex's (the ordinary case), or, when the mutex turns out to be
	// process-shared, woken directly in place instead (see requeueNext).
	// Only the former bumps the mutex's waiter count, so this node's own
	// unwait must also check Mutex.Shared before undoing that bump.
	requeued uint32

	// notify, when non-nil, is a signaler's pending-departure counter;
	// set under the list lock when a signal's CAS loses the race
	// against this node entering Leaving.
	notify *uint32

	// Mutex is the back-pointer a waiter needs to reacquire, and to
	// requeue onto; its own Shared method decides process-shared vs
	// private handling for that requeue.
	Mutex *mutex.Mutex

	// prev/next link this node into its condvar's list while attached,
	// and into the detached sublist a signaler split off once it has
	// been claimed. prev points toward the list's head (newer); next
	// points toward its tail (older).
	prev, next *Node
}

// New returns a Node ready to be enqueued: Waiting, with a locked barrier.
func New(m *mutex.Mutex) *Node {
	return &Node{
		state:   uint32(Waiting),
		barrier: ssdlock.Locked(),
		Mutex:   m,
	}
}

// StateAddr exposes the state word as a futex address.
func (n *Node) StateAddr() *uint32 { return &n.state }

// State returns the node's current state.
func (n *Node) State() State { return State(loadState(n)) }

// Barrier returns the node's barrier lock.
func (n *Node) Barrier() *ssdlock.Lock { return &n.barrier }

// TryMarkSignaled attempts the Waiting->Signaled transition; only a
// signaler calls this, under the list lock.
func (n *Node) TryMarkSignaled() bool {
	_, swapped := primitive.CompareAndSwapUint32(&n.state, uint32(Waiting), uint32(Signaled))
	return swapped
}

// TryMarkLeaving attempts the Waiting->Leaving transition; only the
// departing waiter itself calls this, outside the list lock.
func (n *Node) TryMarkLeaving() bool {
	_, swapped := primitive.CompareAndSwapUint32(&n.state, uint32(Waiting), uint32(Leaving))
	return swapped
}

func loadState(n *Node) uint32 {
	fresh, _ := primitive.CompareAndSwapUint32(&n.state, ^uint32(0), ^uint32(0))
	return fresh
}

// SetNotify installs ref as this node's departure counter. Caller must hold
// the owning list's lock.
func (n *Node) SetNotify(ref *uint32) { n.notify = ref }

// Notify returns the departure counter installed by a signaler, or nil.
// Caller must hold the owning list's lock when calling this as part of the
// same critical section that unlinked the node, matching the only place
// this is read in the core.
func (n *Node) Notify() *uint32 { return n.notify }

// MarkRequeued records that some other node's unwait has claimed this node
// for delivery (moved onto the mutex's futex word, or woken in place when
// the mutex is process-shared). Returns false if it was already marked (so
// the caller knows not to requeue it twice).
func (n *Node) MarkRequeued() bool {
	_, swapped := primitive.CompareAndSwapUint32(&n.requeued, 0, 1)
	return swapped
}

// Requeued reports whether MarkRequeued previously succeeded for this node.
func (n *Node) Requeued() bool {
	fresh, _ := primitive.CompareAndSwapUint32(&n.requeued, ^uint32(0), ^uint32(0))
	return fresh == 1
}

// Next returns the node's tail-ward (older) neighbour within whatever list
// or detached batch it currently belongs to.
func (n *Node) Next() *Node { return n.next }

// Prev returns the node's head-ward (newer) neighbour within whatever list
// or detached batch it currently belongs to. Split only ever severs the
// link at the batch's own head-ward boundary (that node's prev becomes
// nil), so Prev remains valid for walking a detached batch toward its
// newer end, the direction both the wake loop and requeueNext walk in.
func (n *Node) Prev() *Node { return n.prev }

// UnlinkFromBatch splices n out of a detached batch's local chain. The
// caller must hold the mutex the batch is protected by.
func (n *Node) UnlinkFromBatch() {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
}
