package waiter

import "github.com/twmb/dash/ssdlock"

// List is a condvar's private-case waiter list: a doubly-linked queue
// ordered oldest (tail) to newest (head), guarded by an SSD lock since a
// waiter can legitimately unlink itself out from under the condvar the
// instant the list lock releases it.
type List struct {
	lock ssdlock.Lock
	head *Node // newest; nil iff empty
	tail *Node // oldest; nil iff empty
}

// Lock acquires the list's lock.
func (l *List) Lock() { l.lock.Acquire() }

// Unlock releases the list's lock.
func (l *List) Unlock() { l.lock.Release() }

// Head returns the newest node, or nil if the list is empty.
func (l *List) Head() *Node { return l.head }

// Tail returns the oldest node, or nil if the list is empty.
func (l *List) Tail() *Node { return l.tail }

// PushFront enqueues n as the newest waiter. Caller must hold the list lock.
func (l *List) PushFront(n *Node) {
	n.next = l.head
	n.prev = nil
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
}

// Remove splices n out of the list. It is safe to call whether n is still
// attached to l or has already been detached into a batch Split handed out
// (in the latter case this only patches n's local neighbours, leaving l's
// own head/tail untouched, since they no longer reference n or its batch).
// Caller must hold the list lock for an attached n; a detached batch node
// is instead protected by the mutex its batch belongs to.
func (l *List) Remove(n *Node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if l.head == n {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if l.tail == n {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// Split detaches the contiguous run from the list's current tail through
// stopAt (inclusive) as a batch, leaving whatever remains (stopAt's
// head-ward neighbour through the original head) attached to l. Caller
// must hold the list lock. stopAt must currently be on l.
func (l *List) Split(stopAt *Node) (batchHead, batchTail *Node) {
	batchTail = l.tail
	batchHead = stopAt

	// stopAt.prev is stopAt's head-ward (newer) neighbour: the node that
	// becomes the remaining list's new, older-end boundary once
	// everything from stopAt through the old tail is carved off.
	newTail := stopAt.prev
	stopAt.prev = nil
	if newTail != nil {
		newTail.next = nil
		l.tail = newTail
	} else {
		l.head = nil
		l.tail = nil
	}
	return batchHead, batchTail
}
