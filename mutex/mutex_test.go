package mutex

import (
	"sync"
	"testing"
	"time"
)

func TestLockUnlock(t *testing.T) {
	m := New(false, false)
	if err := m.Lock(1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	m.Unlock()
}

func TestIsOwnerNonErrorChecking(t *testing.T) {
	m := New(false, false)
	if !m.IsOwner(42) {
		t.Error("non-error-checking mutex should report every token as owner")
	}
}

func TestIsOwnerErrorChecking(t *testing.T) {
	m := New(true, false)
	if m.IsOwner(1) {
		t.Error("unlocked error-checking mutex should not claim token 1 as owner")
	}
	m.Lock(1)
	if !m.IsOwner(1) {
		t.Error("expected token 1 to own the mutex after Lock(1)")
	}
	if m.IsOwner(2) {
		t.Error("token 2 should not own a mutex locked by token 1")
	}
}

func TestMutualExclusion(t *testing.T) {
	m := New(false, false)
	var counter int
	var wg sync.WaitGroup
	const goroutines = 16
	const iterations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(tok Token) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.Lock(tok)
				counter++
				m.Unlock()
			}
		}(Token(i + 1))
	}
	wg.Wait()

	if counter != goroutines*iterations {
		t.Errorf("expected %d, got %d", goroutines*iterations, counter)
	}
}

func TestAbandonDeliversOwnerDiedOnce(t *testing.T) {
	m := New(true, false)
	m.Lock(1)
	m.Abandon()
	m.Unlock()

	if err := m.Lock(2); err != ErrOwnerDied {
		t.Errorf("expected ErrOwnerDied on first lock after abandon, got %v", err)
	}
	m.Unlock()

	if err := m.Lock(3); err != nil {
		t.Errorf("expected nil on second lock after abandon already consumed, got %v", err)
	}
	m.Unlock()
}

func TestLockTimedExpires(t *testing.T) {
	m := New(false, false)
	m.Lock(1)

	deadline := time.Now().Add(20 * time.Millisecond)
	err, ok := m.LockTimed(2, &deadline)
	if ok {
		t.Error("expected LockTimed to fail against a held mutex")
	}
	if err != nil {
		t.Errorf("expected nil error on timeout, got %v", err)
	}
}

func TestLockTimedSucceedsWhenFreed(t *testing.T) {
	m := New(false, false)
	m.Lock(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Unlock()
	}()

	deadline := time.Now().Add(time.Second)
	err, ok := m.LockTimed(2, &deadline)
	if !ok {
		t.Error("expected LockTimed to succeed once the holder unlocked")
	}
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWaitersAccounting(t *testing.T) {
	m := New(false, false)
	if got := m.AddWaiters(2); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := m.Waiters(); got != 2 {
		t.Errorf("expected Waiters()==2, got %d", got)
	}
	m.AddWaiters(-2)
	if got := m.Waiters(); got != 0 {
		t.Errorf("expected Waiters()==0 after undo, got %d", got)
	}
}
