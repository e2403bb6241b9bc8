package cond

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/twmb/dash/mutex"
)

// waitInGoroutine locks m with tok, calls TimedWait, then unlocks, reporting
// the TimedWait error on done. started fires once m has actually been
// acquired, just before TimedWait is called, so callers can sequence
// multiple waiters deterministically: wait for started, then sleep briefly
// so this goroutine reaches TimedWait's internal unlock and parks, before
// starting the next one.
func waitInGoroutine(c *Cond, m *mutex.Mutex, tok mutex.Token, ctx context.Context, deadline *time.Time, started chan<- struct{}, done chan<- error) {
	m.Lock(tok)
	started <- struct{}{}
	err := c.TimedWait(ctx, m, tok, deadline)
	m.Unlock()
	done <- err
}

func park(started chan struct{}) {
	<-started
	time.Sleep(10 * time.Millisecond)
}

func TestSignalWakesOneWaiter(t *testing.T) {
	m := mutex.New(false, false)
	c := New(false)

	started := make(chan struct{}, 1)
	done := make(chan error, 1)
	go waitInGoroutine(c, m, 1, context.Background(), nil, started, done)
	park(started)

	m.Lock(2)
	if n := c.Signal(); n != 1 {
		t.Errorf("expected Signal to report 1 waiter woken, got %d", n)
	}
	m.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestSignalOnEmptyCondReportsZero(t *testing.T) {
	c := New(false)
	if n := c.Signal(); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestBroadcastWakesAllInFIFOOrder(t *testing.T) {
	m := mutex.New(false, false)
	c := New(false)

	const n = 3
	started := make([]chan struct{}, n)
	done := make([]chan error, n)
	for i := 0; i < n; i++ {
		started[i] = make(chan struct{}, 1)
		done[i] = make(chan error, 1)
	}

	var mu sync.Mutex
	var order []int
	wrap := func(id int) {
		m.Lock(mutex.Token(id))
		started[id] <- struct{}{}
		err := c.TimedWait(context.Background(), m, mutex.Token(id), nil)
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		m.Unlock()
		done[id] <- err
	}

	// Enqueue strictly in order: each goroutine only starts trying to
	// lock m once the previous one has already parked and released it.
	for i := 0; i < n; i++ {
		go wrap(i)
		park(started[i])
	}

	m.Lock(100)
	woke := c.Broadcast()
	m.Unlock()
	if woke != n {
		t.Errorf("expected Broadcast to report %d, got %d", n, woke)
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-done[i]:
			if err != nil {
				t.Errorf("waiter %d: unexpected error %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never woke", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("expected %d completions, got %d", n, len(order))
	}
	for i, id := range order {
		if id != i {
			t.Errorf("expected FIFO completion order [0 1 2], got %v", order)
			break
		}
	}
}

func TestSignalNWakesOldestOnly(t *testing.T) {
	m := mutex.New(false, false)
	c := New(false)

	const n = 3
	started := make([]chan struct{}, n)
	done := make([]chan error, n)
	for i := 0; i < n; i++ {
		started[i] = make(chan struct{}, 1)
		done[i] = make(chan error, 1)
	}

	for i := 0; i < n; i++ {
		go waitInGoroutine(c, m, mutex.Token(i), context.Background(), nil, started[i], done[i])
		park(started[i])
	}

	m.Lock(100)
	woke := c.Signal()
	m.Unlock()
	if woke != 1 {
		t.Errorf("expected Signal to report 1, got %d", woke)
	}

	select {
	case err := <-done[0]:
		if err != nil {
			t.Errorf("oldest waiter: unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("oldest waiter never woke")
	}

	select {
	case <-done[1]:
		t.Fatal("second-oldest waiter woke on a single Signal")
	case <-time.After(30 * time.Millisecond):
	}
	select {
	case <-done[2]:
		t.Fatal("newest waiter woke on a single Signal")
	case <-time.After(10 * time.Millisecond):
	}

	m.Lock(101)
	c.Broadcast()
	m.Unlock()
	for i := 1; i < n; i++ {
		select {
		case err := <-done[i]:
			if err != nil {
				t.Errorf("waiter %d: unexpected error %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never woke after broadcast", i)
		}
	}
}

func TestTimedWaitExpiresAndReacquiresMutex(t *testing.T) {
	m := mutex.New(false, false)
	c := New(false)

	m.Lock(1)
	deadline := time.Now().Add(20 * time.Millisecond)
	start := time.Now()
	err := c.TimedWait(context.Background(), m, 1, &deadline)
	if err != ErrTimedOut {
		t.Errorf("expected ErrTimedOut, got %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("returned suspiciously early for a 20ms deadline")
	}

	// The mutex must be held again: Unlock should succeed without
	// panicking, and a fresh Lock should then succeed too.
	m.Unlock()
	if err := m.Lock(2); err != nil {
		t.Errorf("unexpected error relocking after a timed-out wait: %v", err)
	}
	m.Unlock()
}

func TestTimedWaitTimeoutDoesNotDisturbOtherWaiters(t *testing.T) {
	m := mutex.New(false, false)
	c := New(false)

	started := make(chan struct{}, 1)
	done := make(chan error, 1)
	go waitInGoroutine(c, m, 1, context.Background(), nil, started, done)
	park(started)

	m.Lock(2)
	deadline := time.Now().Add(20 * time.Millisecond)
	err := c.TimedWait(context.Background(), m, 2, &deadline)
	m.Unlock()
	if err != ErrTimedOut {
		t.Errorf("expected ErrTimedOut, got %v", err)
	}

	select {
	case <-done:
		t.Fatal("other waiter should not have woken from an unrelated timeout")
	case <-time.After(20 * time.Millisecond):
	}

	m.Lock(3)
	c.Signal()
	m.Unlock()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke on signal after the unrelated timeout")
	}
}

func TestCancelWakesWaiterAndReacquiresMutex(t *testing.T) {
	m := mutex.New(false, false)
	c := New(false)
	ctx, cancelFn := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	done := make(chan error, 1)
	go waitInGoroutine(c, m, 1, ctx, nil, started, done)
	park(started)

	cancelFn()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never woke")
	}

	if err := m.Lock(2); err != nil {
		t.Errorf("unexpected error relocking after cancellation: %v", err)
	}
	m.Unlock()
}

// The process-shared variant cannot target an individual waiter (see
// timedWaitShared), so every test below checks only that the right number
// of waiters wake and that each reports the expected error, not FIFO order.

func TestSharedSignalWakesOneWaiter(t *testing.T) {
	m := mutex.New(false, true)
	c := New(true)

	started := make(chan struct{}, 1)
	done := make(chan error, 1)
	go waitInGoroutine(c, m, 1, context.Background(), nil, started, done)
	park(started)

	m.Lock(2)
	if n := c.Signal(); n != 1 {
		t.Errorf("expected Signal to report 1 waiter woken, got %d", n)
	}
	m.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestSharedBroadcastWakesAll(t *testing.T) {
	m := mutex.New(false, true)
	c := New(true)

	const n = 3
	started := make([]chan struct{}, n)
	done := make([]chan error, n)
	for i := 0; i < n; i++ {
		started[i] = make(chan struct{}, 1)
		done[i] = make(chan error, 1)
		go waitInGoroutine(c, m, mutex.Token(i), context.Background(), nil, started[i], done[i])
		park(started[i])
	}

	m.Lock(100)
	woke := c.Broadcast()
	m.Unlock()
	if woke != n {
		t.Errorf("expected Broadcast to report %d, got %d", n, woke)
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-done[i]:
			if err != nil {
				t.Errorf("waiter %d: unexpected error %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never woke", i)
		}
	}
}

func TestSharedCancelWakesAllWaiters(t *testing.T) {
	// A process-shared cancellation cannot single out its own waiter (no
	// in-process node pointer survives the process boundary this variant
	// targets), so it wakes every current waiter on the shared seq word;
	// each re-checks its own reason for waking (see timedWaitShared), so
	// only the cancelled one reports ctx.Err(), the others wake early too
	// but with a nil error rather than staying parked.
	m := mutex.New(false, true)
	c := New(true)

	const n = 3
	ctx, cancelFn := context.WithCancel(context.Background())
	started := make([]chan struct{}, n)
	done := make([]chan error, n)
	ctxs := []context.Context{ctx, context.Background(), context.Background()}
	for i := 0; i < n; i++ {
		started[i] = make(chan struct{}, 1)
		done[i] = make(chan error, 1)
		go waitInGoroutine(c, m, mutex.Token(i), ctxs[i], nil, started[i], done[i])
		park(started[i])
	}

	cancelFn()
	for i := 0; i < n; i++ {
		select {
		case err := <-done[i]:
			if i == 0 {
				if err != context.Canceled {
					t.Errorf("cancelled waiter: expected context.Canceled, got %v", err)
				}
			} else if err != nil {
				t.Errorf("waiter %d: expected a spurious nil wake, got %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never woke on the shared cancellation", i)
		}
	}
}

func TestCancelRaceWithSignalNeverLosesWakeup(t *testing.T) {
	// Whichever of cancel or signal wins the race to mark the node, the
	// waiter must still return exactly once, with the mutex left usable.
	m := mutex.New(false, false)
	c := New(false)

	for i := 0; i < 200; i++ {
		ctx, cancelFn := context.WithCancel(context.Background())
		started := make(chan struct{}, 1)
		done := make(chan error, 1)
		go waitInGoroutine(c, m, 1, ctx, nil, started, done)
		park(started)

		go cancelFn()
		go c.Signal()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: waiter never returned (lost wakeup)", i)
		}
		// Drain whatever lock state this iteration left behind.
		m.Lock(2)
		m.Unlock()
	}
}
