// Package condbench benchmarks cond.Cond wake latency and throughput under
// many concurrent waiters, in the same etime-timed, goroutine-fan-out
// harness qbench uses for queue throughput, repointed at the condvar core
// instead of a queue.
package condbench

import (
	"context"
	"runtime"
	"sync"

	"github.com/twmb/dash/bench/etime"
	"github.com/twmb/dash/cond"
	"github.com/twmb/dash/mutex"
)

var nowOverhead int64

func init() {
	iters := int64(1000000)
	start := etime.Now()
	for i := int64(0); i < iters; i++ {
		_ = etime.Now()
	}
	end := etime.Now()
	nowOverhead = (end - start) / iters
}

// Cfg configures one benchmark run. Waiters goroutines each wake once for
// every one of Rounds broadcasts the driving goroutine issues.
type Cfg struct {
	// Waiters is the count of goroutines blocking on the condvar.
	Waiters int
	// Rounds is how many Broadcast calls to issue; each wakes every
	// waiter once, who then immediately re-waits for the next round.
	Rounds int
	// Shared selects the process-shared generation-counter algorithm
	// instead of the private waiter-list one.
	Shared bool
}

// Results holds one Cfg's timings.
type Results struct {
	// GOMAXPROCS is the GOMAXPROCS setting used for this run.
	GOMAXPROCS int
	// Waiters is how many waiter goroutines were used.
	Waiters int
	// Rounds is how many broadcast rounds ran.
	Rounds int
	// WakeTimings holds, per waiter, the etime delta from the start of
	// each wait to that waiter's return from TimedWait.
	WakeTimings [][]int64
	// TotalTiming is the etime delta from just before the waiter
	// goroutines are started to just after the last waiter finishes its
	// last round.
	TotalTiming int64
}

type benchWaiter struct {
	tok     mutex.Token
	timings []int64
}

// run waits for Rounds generations of gen to advance, each time timing how
// long TimedWait took to return. ready is signalled once per round, after
// the waiter has observed the current generation but before it parks, so
// the driver knows every waiter has registered before it broadcasts.
func (bw *benchWaiter) run(m *mutex.Mutex, c *cond.Cond, gen *int, rounds int, ready *sync.WaitGroup, wg *sync.WaitGroup) {
	for i := 0; i < rounds; i++ {
		m.Lock(bw.tok)
		seen := *gen
		ready.Done()
		start := etime.Now()
		for *gen == seen {
			c.TimedWait(context.Background(), m, bw.tok, nil)
		}
		bw.timings = append(bw.timings, etime.Now()-start-nowOverhead)
		m.Unlock()
	}
	wg.Done()
}

// Bench drives cfg.Waiters goroutines through cfg.Rounds broadcast rounds of
// a Cond (a fresh cond.New(cfg.Shared) and mutex.New are constructed each
// call), returning per-waiter wake timings.
func Bench(cfg Cfg) Results {
	m := mutex.New(false, cfg.Shared)
	c := cond.New(cfg.Shared)

	gen := 0
	var wg sync.WaitGroup
	benchers := make([]*benchWaiter, cfg.Waiters)
	for i := 0; i < cfg.Waiters; i++ {
		bw := &benchWaiter{
			tok:     mutex.Token(i + 1),
			timings: make([]int64, 0, cfg.Rounds),
		}
		benchers[i] = bw
	}

	// ready is reused across rounds: each benchWaiter.run holds the same
	// pointer for all of its internal rounds, calling Done() once per
	// round; Add/Wait here must line up with that same round cadence, so
	// the WaitGroup is created once, outside the loop, rather than fresh
	// per round. Each next round's Add runs while m is held, before the
	// Broadcast: no waiter can reach its next Done until it has relocked m.
	var ready sync.WaitGroup
	ready.Add(cfg.Waiters)
	start := etime.Now()
	for round := 0; round < cfg.Rounds; round++ {
		if round == 0 {
			wg.Add(cfg.Waiters)
			for _, bw := range benchers {
				go bw.run(m, c, &gen, cfg.Rounds, &ready, &wg)
			}
		}
		ready.Wait()

		m.Lock(mutex.Token(cfg.Waiters + 1))
		gen++
		if round+1 < cfg.Rounds {
			ready.Add(cfg.Waiters)
		}
		c.Broadcast()
		m.Unlock()
	}
	wg.Wait()
	end := etime.Now()

	r := Results{
		GOMAXPROCS:  runtime.GOMAXPROCS(0),
		Waiters:     cfg.Waiters,
		Rounds:      cfg.Rounds,
		WakeTimings: make([][]int64, 0, cfg.Waiters),
		TotalTiming: end - start - nowOverhead,
	}
	for _, bw := range benchers {
		r.WakeTimings = append(r.WakeTimings, bw.timings)
	}
	return r
}
