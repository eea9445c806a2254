// Package jobs runs batches of work in bounded time slices so a caller can
// interleave them with its own tick and poll for completion.
package jobs

import (
	"context"
	"runtime"
	"sync"
	"time"

	"questingbots.ai/internal/sim/simclock"
)

// Runner applies fn to each item, at most Budget of wall time per Step.
// Every Step processes at least one item so progress is guaranteed.
type Runner[T any] struct {
	clock  simclock.Clock
	budget time.Duration
	fn     func(T)

	mu    sync.Mutex
	items []T
	next  int
}

func NewRunner[T any](items []T, fn func(T), clock simclock.Clock, budget time.Duration) *Runner[T] {
	if clock == nil {
		clock = simclock.Real{}
	}
	return &Runner[T]{
		clock:  clock,
		budget: budget,
		fn:     fn,
		items:  append([]T(nil), items...),
	}
}

// Step processes items until the budget is spent or the batch is done and
// reports whether the batch is done.
func (r *Runner[T]) Step() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.clock.Now()
	for r.next < len(r.items) {
		item := r.items[r.next]
		r.next++
		r.fn(item)
		if r.clock.Now().Sub(start) >= r.budget {
			break
		}
	}
	return r.next >= len(r.items)
}

func (r *Runner[T]) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next >= len(r.items)
}

func (r *Runner[T]) Progress() (processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next, len(r.items)
}

// Run steps until done, yielding between slices. It stops early when ctx is done.
func (r *Runner[T]) Run(ctx context.Context) error {
	for !r.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}
