package runner

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"
)

// Scheduler runs a callback for every unit of work with at most Workers
// callbacks in flight. Capacity is a weighted semaphore used as a permit
// pool: a permit is taken before a unit starts and always given back when it
// finishes, including when the callback panics.
type Scheduler struct {
	workers int
	log     log.Logger
}

// NewScheduler creates a scheduler. A worker count of 0 is auto-determined
// from the number of CPUs when Run is called.
func NewScheduler(workers int, logger log.Logger) (*Scheduler, error) {
	if workers < 0 {
		return nil, fmt.Errorf("worker count cannot be negative: %d", workers)
	}
	if logger == nil {
		logger = log.New()
	}
	if workers > MaxReasonableConcurrency {
		logger.Warn("Very high concurrency requested", "workers", workers,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	return &Scheduler{
		workers: workers,
		log:     logger.New("component", "scheduler"),
	}, nil
}

// Run calls fn once for every index in [0, n) and returns only after every
// call has completed. The returned slice holds each unit's error at its own
// index. A unit that could not acquire a permit because ctx was cancelled
// completes with the context error instead of being skipped.
func (s *Scheduler) Run(ctx context.Context, n int, fn func(ctx context.Context, index int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}

	workers := determineWorkers(s.workers, n)
	s.log.Info("Starting scheduled execution", "units", n, "workers", workers)

	permits := semaphore.NewWeighted(int64(workers))
	var wg conc.WaitGroup

	for i := 0; i < n; i++ {
		if err := permits.Acquire(ctx, 1); err != nil {
			errs[i] = fmt.Errorf("unit %d not started: %w", i, err)
			continue
		}

		index := i
		wg.Go(func() {
			defer permits.Release(1)
			errs[index] = runUnit(ctx, index, fn)
		})
	}

	wg.Wait()
	return errs
}

// runUnit invokes fn and converts a panic into that unit's error.
func runUnit(ctx context.Context, index int, fn func(ctx context.Context, index int) error) (err error) {
	recovered := panics.Try(func() {
		err = fn(ctx, index)
	})
	if recovered != nil {
		return fmt.Errorf("unit %d panicked: %w", index, recovered.AsError())
	}
	return err
}

// determineWorkers picks the number of concurrent workers. An explicit value
// wins; otherwise the count scales with the CPUs available, since workers
// mostly wait on subprocesses. The result never exceeds the number of units.
func determineWorkers(requested int, units int) int {
	workers := requested
	if workers <= 0 {
		numCPU := runtime.NumCPU()
		switch {
		case numCPU <= 2:
			workers = numCPU
		case numCPU <= 4:
			workers = int(float64(numCPU) * 1.25)
		default:
			workers = int(float64(numCPU) * 1.5)
		}
		if workers > MaxReasonableConcurrency {
			workers = MaxReasonableConcurrency
		}
	}
	if workers > units {
		workers = units
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
