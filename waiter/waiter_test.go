package waiter

import "testing"

func newTestNode() *Node { return New(nil) }

func TestStateTransitions(t *testing.T) {
	n := newTestNode()
	if n.State() != Waiting {
		t.Fatalf("expected Waiting, got %v", n.State())
	}
	if !n.TryMarkSignaled() {
		t.Fatal("expected TryMarkSignaled to succeed from Waiting")
	}
	if n.State() != Signaled {
		t.Fatalf("expected Signaled, got %v", n.State())
	}
	if n.TryMarkLeaving() {
		t.Fatal("TryMarkLeaving should not succeed once Signaled")
	}
}

func TestStateTransitionsExclusive(t *testing.T) {
	n := newTestNode()
	if !n.TryMarkLeaving() {
		t.Fatal("expected TryMarkLeaving to succeed from Waiting")
	}
	if n.TryMarkSignaled() {
		t.Fatal("TryMarkSignaled should not succeed once Leaving")
	}
}

func TestMarkRequeuedOnce(t *testing.T) {
	n := newTestNode()
	if !n.MarkRequeued() {
		t.Fatal("expected first MarkRequeued to succeed")
	}
	if n.MarkRequeued() {
		t.Fatal("expected second MarkRequeued to fail")
	}
	if !n.Requeued() {
		t.Fatal("expected Requeued to report true")
	}
}

func TestListPushFrontOrder(t *testing.T) {
	var l List
	a, b, c := newTestNode(), newTestNode(), newTestNode()
	l.PushFront(a)
	l.PushFront(b)
	l.PushFront(c)

	// newest (c) at head, oldest (a) at tail.
	if l.Head() != c {
		t.Error("expected c at head")
	}
	if l.Tail() != a {
		t.Error("expected a at tail")
	}
	if c.Next() != b || b.Next() != a || a.Next() != nil {
		t.Error("unexpected next chain")
	}
	if a.Prev() != b || b.Prev() != c || c.Prev() != nil {
		t.Error("unexpected prev chain")
	}
}

func TestListRemoveMiddle(t *testing.T) {
	var l List
	a, b, c := newTestNode(), newTestNode(), newTestNode()
	l.PushFront(a)
	l.PushFront(b)
	l.PushFront(c)

	l.Remove(b)
	if c.Next() != a || a.Prev() != c {
		t.Error("expected c and a to be linked after removing b")
	}
	if l.Head() != c || l.Tail() != a {
		t.Error("head/tail should be unaffected by removing a middle node")
	}
}

func TestListRemoveOnlyNode(t *testing.T) {
	var l List
	a := newTestNode()
	l.PushFront(a)
	l.Remove(a)
	if l.Head() != nil || l.Tail() != nil {
		t.Error("expected empty list after removing its only node")
	}
}

func TestListSplitPartial(t *testing.T) {
	// tail(oldest) W1 -> W2 -> W3(newest, head); split stopping at W2
	// detaches {W2,W1}, leaving {W3}.
	var l List
	w1, w2, w3 := newTestNode(), newTestNode(), newTestNode()
	l.PushFront(w1)
	l.PushFront(w2)
	l.PushFront(w3)

	batchHead, batchTail := l.Split(w2)
	if batchHead != w2 || batchTail != w1 {
		t.Fatalf("expected batch (head=w2,tail=w1), got (head=%p,tail=%p)", batchHead, batchTail)
	}
	if l.Head() != w3 || l.Tail() != w3 {
		t.Fatalf("expected remaining list to be just w3")
	}
	if w2.Next() != w1 {
		t.Error("expected batch chain w2->w1 to survive the split")
	}
	if w2.Prev() != nil {
		t.Error("expected the split boundary severed on w2's head-ward side")
	}
}

func TestListSplitWholeList(t *testing.T) {
	var l List
	w1, w2 := newTestNode(), newTestNode()
	l.PushFront(w1)
	l.PushFront(w2)

	batchHead, batchTail := l.Split(w2)
	if batchHead != w2 || batchTail != w1 {
		t.Fatalf("expected whole list as batch, got (head=%p,tail=%p)", batchHead, batchTail)
	}
	if l.Head() != nil || l.Tail() != nil {
		t.Error("expected list to be empty after splitting off everything")
	}
}

func TestUnlinkFromBatch(t *testing.T) {
	var l List
	w1, w2, w3 := newTestNode(), newTestNode(), newTestNode()
	l.PushFront(w1)
	l.PushFront(w2)
	l.PushFront(w3)
	batchHead, _ := l.Split(w2)

	batchHead.UnlinkFromBatch()
	if w1.Prev() != nil {
		t.Error("expected w1 to become the batch head after unlinking w2")
	}
}
