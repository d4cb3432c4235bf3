package propagation

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs index-addressed work on a fixed number of goroutines.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
// Zero or negative selects runtime.NumCPU().
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int { return wp.workers }

// Sample calls fn(i) for every i in [0,n). fn stores its own result by index,
// so output order never depends on scheduling. If any call fails, Sample
// returns the error with the lowest index; indices are fed in order and every
// fed index runs, so that error is the same one a sequential loop would hit.
func (wp *WorkerPool) Sample(ctx context.Context, n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}

	workers := min(wp.workers, n)
	jobs := make(chan int, workers*2)
	errs := make([]error, n)
	var failed atomic.Bool

	// Start workers.
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := fn(i); err != nil {
					errs[i] = err
					failed.Store(true)
				}
			}
		}()
	}

	// Feed jobs in order; stop early on failure or cancellation.
	var cancelled error
feed:
	for i := 0; i < n; i++ {
		if failed.Load() {
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return cancelled
	}
	for i, err := range errs {
		if err != nil {
			wp.logger.Debug("sample failed", "index", i, "of", n, "error", err)
			return err
		}
	}
	return nil
}
