package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// pool runs one cycle's tasks with bounded concurrency. Tasks are detached
// from the caller's cancellation: an abandoned task finishes in the
// background and its result is dropped.
type pool struct {
	sem     *semaphore.Weighted
	ctx     context.Context
	timeout time.Duration
	logger  *zap.Logger
}

func newPool(ctx context.Context, workers int, timeout time.Duration, logger *zap.Logger) *pool {
	return &pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     context.WithoutCancel(ctx),
		timeout: timeout,
		logger:  logger,
	}
}

// future is the pending result of one task.
type future[T any] struct {
	name     string
	done     chan struct{}
	deadline time.Time
	val      T
	ok       bool
}

// submit starts fn on the pool. The task's deadline is fixed at submission,
// so time spent queued for a worker counts against it.
func submit[T any](p *pool, name string, fn func(ctx context.Context) (T, bool)) *future[T] {
	f := &future[T]{
		name:     name,
		done:     make(chan struct{}),
		deadline: time.Now().Add(p.timeout),
	}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", zap.String("task", name), zap.String("panic", fmt.Sprint(r)))
				f.ok = false
			}
		}()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		f.val, f.ok = fn(p.ctx)
	}()
	return f
}

// await returns the task result, or absent when the deadline passes first.
func (f *future[T]) await(ctx context.Context, logger *zap.Logger) (T, bool) {
	var zero T
	if f == nil {
		return zero, false
	}
	timer := time.NewTimer(time.Until(f.deadline))
	defer timer.Stop()
	select {
	case <-f.done:
		if !f.ok {
			return zero, false
		}
		return f.val, true
	case <-timer.C:
		logger.Debug("task timed out", zap.String("task", f.name))
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}
