package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

const defaultTick = 5 * time.Minute

type runRecorder interface {
	ObserveRun(job string, err error, duration time.Duration)
}

// ServiceParams configure the cron service. Tick is how often it checks for
// due jobs.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  runRecorder
	Tick     time.Duration
}

// Service wakes every tick and runs the jobs whose cadence has elapsed while
// holding the cluster lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  runRecorder
	tick     time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		tick:     tick,
		now:      time.Now,
	}, nil
}

// Run checks for due jobs immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		if err := s.cycle(ctx, s.registry.due(s.now())); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every registered job regardless of cadence.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.cycle(ctx, s.registry.entries)
}

// cycle runs jobs in order under the lock, renewing it between jobs. A
// failing job does not stop the ones after it; losing the lock does.
func (s *Service) cycle(ctx context.Context, jobs []*scheduledJob) error {
	if len(jobs) == 0 {
		return nil
	}
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance holds the lock; skipping cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for i, entry := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		if i > 0 {
			if err := s.lock.Extend(ctx); err != nil {
				return fmt.Errorf("before %s: %w", entry.job.Name(), err)
			}
		}
		s.runJob(ctx, entry)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, entry *scheduledJob) {
	name := entry.job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)

	start := s.now()
	err := entry.job.Run(jobCtx)
	elapsed := s.now().Sub(start)
	entry.lastRun = start

	if s.metrics != nil {
		s.metrics.ObserveRun(name, err, elapsed)
	}
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
