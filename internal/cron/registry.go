package cron

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Job is one sweep the cron worker runs on a cadence.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduledJob struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

func (s *scheduledJob) due(now time.Time) bool {
	return s.lastRun.IsZero() || now.Sub(s.lastRun) >= s.every
}

// Registry holds jobs with their cadence. Cadence is tracked per worker
// instance; the cluster lock keeps two instances from sweeping at once.
type Registry struct {
	entries []*scheduledJob
	names   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Add schedules job every interval. A zero interval runs it on every tick.
func (r *Registry) Add(job Job, every time.Duration) error {
	if job == nil {
		return errors.New("job is required")
	}
	if every < 0 {
		return fmt.Errorf("job %s: negative interval", job.Name())
	}
	if _, dup := r.names[job.Name()]; dup {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	r.names[job.Name()] = struct{}{}
	r.entries = append(r.entries, &scheduledJob{job: job, every: every})
	return nil
}

// Jobs lists jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

func (r *Registry) due(now time.Time) []*scheduledJob {
	var out []*scheduledJob
	for _, e := range r.entries {
		if e.due(now) {
			out = append(out, e)
		}
	}
	return out
}
