// Package eventloop models the single-threaded turn-based execution a page runs
// on: every callback the embed loader reacts to (visibility changes, timers,
// content load signals) is serialized onto one loop.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loop runs callbacks one at a time, in order.
type Loop interface {
	// Post schedules fn for a later turn. It never runs fn synchronously.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Timer is a cancellable loop timer. Once Stop returns, the callback never runs,
// even if its deadline has already passed and its turn is queued.
type Timer interface {
	Stop() bool
}

// Runner is the production Loop: one goroutine draining an unbounded FIFO.
type Runner struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

func NewRunner() *Runner {
	return &Runner{wake: make(chan struct{}, 1)}
}

// Run processes turns until ctx is done. Turns still queued at that point are
// discarded and later posts are dropped.
func (r *Runner) Run(ctx context.Context) error {
	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				break
			}
			fn()
		}

		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.stopped = true
			r.queue = nil
			r.mu.Unlock()
			return ctx.Err()
		case <-r.wake:
		}
	}
}

func (r *Runner) Post(fn func()) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) AfterFunc(d time.Duration, fn func()) Timer {
	t := &runnerTimer{}
	t.t = time.AfterFunc(d, func() {
		r.Post(func() {
			if !t.fired.CompareAndSwap(false, true) {
				return
			}
			fn()
		})
	})
	return t
}

func (r *Runner) Now() time.Time { return time.Now() }

type runnerTimer struct {
	t *time.Timer
	// fired doubles as the cancellation flag: Stop claims it first.
	fired atomic.Bool
}

func (t *runnerTimer) Stop() bool {
	t.t.Stop()
	return t.fired.CompareAndSwap(false, true)
}
