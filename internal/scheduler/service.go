// Package scheduler drives periodic work, most importantly the outbox tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/nextmed-labs/trustledger/pkg/logger"
	"github.com/nextmed-labs/trustledger/pkg/metrics"
)

const (
	defaultInterval  = time.Second
	defaultLockRetry = 100 * time.Millisecond
)

const (
	skipOverlap  = "overlap"
	skipLockHeld = "lock_held"
)

// ErrCycleSkipped is returned by a loop cycle when another cycle already owns the scheduler.
var ErrCycleSkipped = errors.New("scheduler cycle skipped")

// ServiceParams configure the scheduler. Lock is optional; nil means single-process mode.
// LockRetry is how often RunOnce re-tries a lock held by another process.
type ServiceParams struct {
	Logger    *logger.Logger
	Registry  *Registry
	Lock      Lock
	Metrics   *metrics.SchedulerMetrics
	Interval  time.Duration
	LockRetry time.Duration
}

// Service runs registered jobs on a fixed cadence and never lets cycles overlap.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.SchedulerMetrics
	interval time.Duration
	retry    time.Duration

	// running holds a token while a cycle owns the scheduler.
	running chan struct{}
}

// NewService builds a scheduler service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	retry := params.LockRetry
	if retry <= 0 {
		retry = defaultLockRetry
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		retry:    retry,
		running:  make(chan struct{}, 1),
	}, nil
}

// Interval reports the cadence of the loop.
func (s *Service) Interval() time.Duration {
	return s.interval
}

// Run starts the loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithField(ctx, "interval_ms", s.interval.Milliseconds())
	s.logg.Info(ctx, "scheduler.started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler.stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil && !errors.Is(err, ErrCycleSkipped) {
				s.logg.Error(ctx, "scheduler.cycle_failed", err)
			}
		}
	}
}

// RunOnce runs a single cycle synchronously. Unlike loop cycles it never skips: it waits
// for a cycle already in progress and for the distributed lock, then runs every job.
// It backs the ops force-tick endpoint.
func (s *Service) RunOnce(ctx context.Context) error {
	select {
	case s.running <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.running }()

	for s.lock != nil {
		locked, err := s.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("lock acquire: %w", err)
		}
		if locked {
			defer s.releaseLock(ctx)
			break
		}
		select {
		case <-time.After(s.retry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.runJobs(ctx)
}

// runCycle is one loop iteration. It skips when a cycle is running or the lock is held.
func (s *Service) runCycle(ctx context.Context) error {
	select {
	case s.running <- struct{}{}:
	default:
		s.skip(ctx, skipOverlap)
		return ErrCycleSkipped
	}
	defer func() { <-s.running }()

	if s.lock != nil {
		locked, err := s.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("lock acquire: %w", err)
		}
		if !locked {
			s.skip(ctx, skipLockHeld)
			return ErrCycleSkipped
		}
		defer s.releaseLock(ctx)
	}
	return s.runJobs(ctx)
}

func (s *Service) runJobs(ctx context.Context) error {
	var errs error
	for _, job := range s.registry.Jobs() {
		errs = multierr.Append(errs, s.runJob(ctx, job))
	}
	return errs
}

func (s *Service) releaseLock(ctx context.Context) {
	if err := s.lock.Release(ctx); err != nil {
		s.logg.Error(ctx, "scheduler.lock_release_failed", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	if err != nil {
		jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
		s.logg.Error(jobCtx, "scheduler.job_failed", err)
		s.metrics.IncFailure(job.Name())
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.metrics.IncSuccess(job.Name())
	return nil
}

func (s *Service) skip(ctx context.Context, reason string) {
	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "scheduler.cycle_skipped")
	s.metrics.IncSkipped(reason)
}
