package cancel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestArmedFiresOnCancel(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var woke uint32
	disarm := Armed(ctx, func() { atomic.StoreUint32(&woke, 1) })
	stop()

	// disarm must block until an in-flight wake has completed.
	disarm()
	if atomic.LoadUint32(&woke) != 1 {
		t.Error("expected wake to have run before disarm returned")
	}
}

func TestArmedNeverFiresIfDisarmedFirst(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var woke uint32
	disarm := Armed(ctx, func() { atomic.StoreUint32(&woke, 1) })
	disarm()
	stop()
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadUint32(&woke) != 0 {
		t.Error("wake must never run after disarm returned")
	}
}

func TestArmedNilContext(t *testing.T) {
	disarm := Armed(nil, func() { t.Fatal("wake should never be called for a nil context") })
	disarm()
}

func TestPending(t *testing.T) {
	if Pending(nil) {
		t.Error("a nil context should never report pending cancellation")
	}
	ctx, stop := context.WithCancel(context.Background())
	if Pending(ctx) {
		t.Error("expected not pending before cancel")
	}
	stop()
	if !Pending(ctx) {
		t.Error("expected pending after cancel")
	}
}
