// Package parallel provides the bounded worker-pool fan-out used by the
// three CPU-bound PVSS operations: verifying N candidate signatures during
// Enroll, evaluating N polynomial shares during Distribute, and
// interpolating N opened shares during Reconstruct. It replaces BigBang's
// ParallelComputer (an atomic work-stealing counter over
// hardware_concurrency() threads) with Go's structured concurrency.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds how many fn calls run concurrently.
type Pool struct {
	workers int64
}

// NewPool builds a pool sized to workers goroutines, or GOMAXPROCS if
// workers <= 0.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: int64(workers)}
}

var errStopped = errors.New("parallel: stopped early")

// Transform maps fn over items concurrently, preserving order, the
// equivalent of ParallelComputer::Transform.
func Transform[T, R any](p *Pool, items []T, fn func(T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	sem := semaphore.NewWeighted(p.workers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range items {
		i := i
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			out[i] = fn(items[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Execute runs fn over every item concurrently for side effects only.
func Execute[T any](p *Pool, items []T, fn func(T)) {
	if len(items) == 0 {
		return
	}
	sem := semaphore.NewWeighted(p.workers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range items {
		item := items[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			fn(item)
			return nil
		})
	}
	_ = g.Wait()
}

// ExecuteUntil runs fn over every item concurrently and reports whether fn
// held true for all of them, aborting remaining work as soon as one item
// fails — the equivalent of ParallelComputer::ExecuteUntil.
func ExecuteUntil[T any](p *Pool, items []T, fn func(T) bool) bool {
	if len(items) == 0 {
		return true
	}
	ok := int32(1)
	sem := semaphore.NewWeighted(p.workers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range items {
		item := items[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if !fn(item) {
				atomic.StoreInt32(&ok, 0)
				return errStopped
			}
			return nil
		})
	}
	_ = g.Wait()
	return atomic.LoadInt32(&ok) == 1
}
