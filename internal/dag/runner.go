package dag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Observer is notified of task lifecycle transitions. Attempts start at 1.
type Observer interface {
	TaskStarted(ctx context.Context, task string, attempt int)
	TaskRetrying(ctx context.Context, task string, attempt int, err error, delay time.Duration)
	TaskSucceeded(ctx context.Context, task string, attempt int, elapsed time.Duration)
	TaskFailed(ctx context.Context, task string, attempt int, err error)
}

// TaskError reports the task that exhausted its retries.
type TaskError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Runner executes a graph's tasks sequentially in topological order,
// retrying a failed task Args.Retries times after Args.RetryDelay. Earlier
// tasks are never re-run.
type Runner struct {
	sleep    SleepFunc
	observer Observer
	logger   *zap.Logger
}

// NewRunner builds a Runner. A nil observer or logger is allowed.
func NewRunner(observer Observer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sleep:    Sleep,
		observer: observer,
		logger:   logger,
	}
}

// WithSleep overrides the retry wait (tests use an instant sleeper).
func (r *Runner) WithSleep(fn SleepFunc) *Runner {
	if fn != nil {
		r.sleep = fn
	}
	return r
}

// Run executes every task once its upstream tasks have succeeded.
func (r *Runner) Run(ctx context.Context, g *Graph) error {
	order, err := g.Order()
	if err != nil {
		return err
	}
	maxAttempts := 1 + max(g.Args.Retries, 0)
	for _, id := range order {
		task, _ := g.Task(id)
		if err := r.runTask(ctx, task, maxAttempts, g.Args.RetryDelay); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runTask(ctx context.Context, task Task, maxAttempts int, delay time.Duration) error {
	logger := r.logger.With(zap.String("task", task.ID))
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return &TaskError{Task: task.ID, Attempts: attempt - 1, Err: err}
		}
		r.started(ctx, task.ID, attempt)
		logger.Info("task started", zap.Int("attempt", attempt))

		start := time.Now()
		err := task.Fn(ctx)
		if err == nil {
			elapsed := time.Since(start)
			r.succeeded(ctx, task.ID, attempt, elapsed)
			logger.Info("task succeeded", zap.Int("attempt", attempt), zap.Duration("elapsed", elapsed))
			return nil
		}

		if attempt >= maxAttempts || ctx.Err() != nil {
			r.failed(ctx, task.ID, attempt, err)
			logger.Error("task failed", zap.Int("attempt", attempt), zap.Error(err))
			return &TaskError{Task: task.ID, Attempts: attempt, Err: err}
		}

		r.retrying(ctx, task.ID, attempt, err, delay)
		logger.Warn("task failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)
		if serr := r.sleep(ctx, delay); serr != nil {
			r.failed(ctx, task.ID, attempt, err)
			return &TaskError{Task: task.ID, Attempts: attempt, Err: fmt.Errorf("%w (retry wait: %v)", err, serr)}
		}
	}
}

func (r *Runner) started(ctx context.Context, task string, attempt int) {
	if r.observer != nil {
		r.observer.TaskStarted(ctx, task, attempt)
	}
}

func (r *Runner) retrying(ctx context.Context, task string, attempt int, err error, delay time.Duration) {
	if r.observer != nil {
		r.observer.TaskRetrying(ctx, task, attempt, err, delay)
	}
}

func (r *Runner) succeeded(ctx context.Context, task string, attempt int, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.TaskSucceeded(ctx, task, attempt, elapsed)
	}
}

func (r *Runner) failed(ctx context.Context, task string, attempt int, err error) {
	if r.observer != nil {
		r.observer.TaskFailed(ctx, task, attempt, err)
	}
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
