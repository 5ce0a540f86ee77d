// Package scheduler implements the abstract scheduler interface of
// spec.md §6 ("start(thunk) — asynchronously invoke the parameterless thunk
// at most once... must isolate thunk failures so one failure cannot poison
// the scheduler") and the one default bounded-concurrency implementation
// spec.md §2 component H asks for.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/vk/dataflow/internal/ctxlog"
)

// Scheduler asynchronously runs a thunk at most once. Implementations must
// not block the caller beyond acquiring whatever capacity they need.
type Scheduler interface {
	Start(thunk func())
}

// DefaultScheduler bounds concurrency with a weighted semaphore, grounded on
// ahrav-go-gavel's use of golang.org/x/sync/semaphore for a bounded worker
// pool.
// Its zero value is not usable; construct with New.
type DefaultScheduler struct {
	sem *semaphore.Weighted
	ctx context.Context
}

// New returns a DefaultScheduler capped at concurrency concurrently running
// thunks. A concurrency of 0 or less defaults to runtime.NumCPU(), matching
// spec.md §5's "default: number of CPU cores".
func New(ctx context.Context, concurrency int) *DefaultScheduler {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &DefaultScheduler{sem: semaphore.NewWeighted(int64(concurrency)), ctx: ctx}
}

// Start launches thunk on its own goroutine once a concurrency slot is free,
// blocking the caller until one is. A panicking thunk is recovered and
// logged, never propagated — so one failing method can never take down the
// scheduler or any other in-flight thunk.
func (s *DefaultScheduler) Start(thunk func()) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		// Context cancelled while waiting for capacity; drop the thunk.
		return
	}
	go func() {
		defer s.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				ctxlog.FromContext(s.ctx).Error("scheduler: thunk panicked", slog.Any("panic", r))
			}
		}()
		thunk()
	}()
}
