// Package detach runs fire-and-forget side effects (cache write-back, lease
// cleanup, usage counters, snapshots) off the request path.
package detach

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Task is a detached unit of work. Its error is logged, never returned to
// the request that spawned it.
type Task func(ctx context.Context) error

// Runner spawns Tasks on their own goroutines with independent deadlines.
type Runner struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// New returns a Runner. timeout bounds every task; zero uses 10s.
func New(logger *zap.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{logger: logger.Named("detach"), timeout: timeout}
}

// Go runs task in the background. parent only contributes values; its
// cancellation does not reach the task.
func (r *Runner) Go(parent context.Context, name string, task Task) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("detached task panicked", zap.String("task", name), zap.Any("panic", rec))
			}
		}()
		if err := task(ctx); err != nil {
			r.logger.Warn("detached task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every spawned task returns or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("detached tasks drain: %w", ctx.Err())
	}
}
