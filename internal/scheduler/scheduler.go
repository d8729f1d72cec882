// Package scheduler triggers one pipeline run per schedule interval.
//
// A run covers the interval [logical, logical+interval) and becomes due once
// that interval has ended. Only the most recent due interval is run at
// startup; older missed intervals are not backfilled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/dag"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// ErrRunInProgress is returned when a trigger arrives while a run is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Executor runs the pipeline once for a logical date.
type Executor interface {
	Execute(ctx context.Context, logicalDate time.Time) (pipeline.Run, error)
	DAGID() string
}

// Config holds the scheduling arguments of the DAG.
type Config struct {
	StartDate     time.Time
	Interval      time.Duration
	DependsOnPast bool
}

// Scheduler owns the non-overlap guard shared by scheduled and manual runs.
type Scheduler struct {
	exec   Executor
	runs   pipeline.RunStore
	cfg    Config
	clock  pipeline.Clock
	logger *zap.Logger
	sleep  dag.SleepFunc

	mu          sync.Mutex
	running     bool
	started     bool
	base        context.Context
	lastLogical time.Time
	wg          sync.WaitGroup
}

// New validates cfg and returns a Scheduler. runs may be nil when
// DependsOnPast is off.
func New(exec Executor, runs pipeline.RunStore, cfg Config, clock pipeline.Clock, logger *zap.Logger) (*Scheduler, error) {
	if exec == nil || clock == nil {
		return nil, errors.New("executor and clock are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("schedule interval must be positive, got %v", cfg.Interval)
	}
	if cfg.DependsOnPast && runs == nil {
		return nil, errors.New("depends_on_past requires a run store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		exec:   exec,
		runs:   runs,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		sleep:  dag.Sleep,
		base:   context.Background(),
	}, nil
}

// WithSleep overrides how the loop waits between checks.
func (s *Scheduler) WithSleep(fn dag.SleepFunc) *Scheduler {
	if fn != nil {
		s.sleep = fn
	}
	return s
}

// Due returns the logical date of the latest interval that has ended by now
// and has not been scheduled yet.
func (s *Scheduler) Due(now time.Time) (time.Time, bool) {
	end := s.cfg.StartDate.Add(s.cfg.Interval)
	if now.Before(end) {
		return time.Time{}, false
	}
	n := int64(now.Sub(s.cfg.StartDate) / s.cfg.Interval)
	logical := s.cfg.StartDate.Add(time.Duration(n-1) * s.cfg.Interval)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastLogical.IsZero() && !logical.After(s.lastLogical) {
		return time.Time{}, false
	}
	return logical, true
}

// NextWake returns the end of the interval containing now.
func (s *Scheduler) NextWake(now time.Time) time.Time {
	if now.Before(s.cfg.StartDate) {
		return s.cfg.StartDate.Add(s.cfg.Interval)
	}
	n := int64(now.Sub(s.cfg.StartDate) / s.cfg.Interval)
	return s.cfg.StartDate.Add(time.Duration(n+1) * s.cfg.Interval)
}

// Run loops until ctx is canceled, then waits for any active run to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.started = true
	s.mu.Unlock()
	defer s.wg.Wait()

	s.logger.Info("scheduler started",
		zap.String("dag_id", s.exec.DAGID()),
		zap.Time("start_date", s.cfg.StartDate),
		zap.Duration("interval", s.cfg.Interval),
	)
	for {
		now := s.clock.Now()
		if logical, ok := s.Due(now); ok {
			s.mu.Lock()
			s.lastLogical = logical
			s.mu.Unlock()
			s.scheduled(ctx, logical)
		}
		next := s.NextWake(now)
		s.logger.Debug("scheduler sleeping", zap.Time("next", next))
		if err := s.sleep(ctx, next.Sub(s.clock.Now())); err != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) scheduled(ctx context.Context, logical time.Time) {
	logger := s.logger.With(zap.Time("logical_date", logical))
	if s.cfg.DependsOnPast {
		failed, err := s.previousFailed(ctx)
		if err != nil {
			logger.Warn("could not check previous run, skipping", zap.Error(err))
			return
		}
		if failed {
			logger.Warn("previous run failed and depends_on_past is set, skipping")
			return
		}
	}
	_, err := s.Trigger(ctx, logical)
	switch {
	case errors.Is(err, ErrRunInProgress):
		logger.Warn("scheduled run skipped, another run is active")
	case err != nil:
		logger.Error("scheduled run failed", zap.Error(err))
	}
}

func (s *Scheduler) previousFailed(ctx context.Context) (bool, error) {
	runs, err := s.runs.ListRuns(ctx, 20)
	if err != nil {
		return false, err
	}
	for _, run := range runs {
		if run.DAGID != s.exec.DAGID() || !run.State.Terminal() {
			continue
		}
		return run.State == pipeline.StateFailed, nil
	}
	return false, nil
}

// Trigger runs the pipeline synchronously unless a run is already active.
func (s *Scheduler) Trigger(ctx context.Context, logical time.Time) (pipeline.Run, error) {
	if !s.acquire() {
		return pipeline.Run{}, ErrRunInProgress
	}
	defer s.release()
	return s.exec.Execute(ctx, logical)
}

// TriggerAsync starts a run in the background with the logical date set to
// now. The run is bound to the context passed to Run, not to the caller's.
func (s *Scheduler) TriggerAsync() error {
	if !s.acquire() {
		return ErrRunInProgress
	}
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()

	logical := s.clock.Now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		if _, err := s.exec.Execute(ctx, logical); err != nil {
			s.logger.Error("manual run failed", zap.Time("logical_date", logical), zap.Error(err))
		}
	}()
	return nil
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Started reports whether Run has been entered.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Wait blocks until background runs have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
