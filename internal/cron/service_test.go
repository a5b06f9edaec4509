package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

type fakeLock struct {
	acquired  bool
	err       error
	extendErr error
	extends   int
	releases  int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Extend(context.Context) error {
	f.extends++
	return f.extendErr
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type recordedRun struct {
	job string
	err error
}

type fakeRecorder struct {
	runs []recordedRun
}

func (f *fakeRecorder) ObserveRun(job string, err error, _ time.Duration) {
	f.runs = append(f.runs, recordedRun{job: job, err: err})
}

func registryOf(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, job := range jobs {
		if err := registry.Add(job, time.Hour); err != nil {
			t.Fatalf("register %s: %v", job.Name(), err)
		}
	}
	return registry
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	recorder := &fakeRecorder{}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registryOf(t, success, failure),
		Lock:     lock,
		Metrics:  recorder,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job to run once, got %d and %d", success.runs, failure.runs)
	}
	if len(recorder.runs) != 2 || recorder.runs[1].err == nil {
		t.Fatalf("unexpected recorded runs %+v", recorder.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}

func TestRunOnceStopsWhenLockLost(t *testing.T) {
	first := &testJob{name: "first"}
	second := &testJob{name: "second"}
	lock := &fakeLock{extendErr: ErrLockLost}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registryOf(t, first, second),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := service.RunOnce(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected lock lost, got %v", err)
	}
	if first.runs != 1 || second.runs != 0 {
		t.Fatalf("expected only the first job to run, got %d and %d", first.runs, second.runs)
	}
	if lock.extends != 1 {
		t.Fatalf("expected one renewal attempt, got %d", lock.extends)
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "sweep"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registryOf(t, job),
		Lock:     &fakeLock{acquired: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped while another instance holds the lock")
	}
}

func TestRunOnceSurfacesLockError(t *testing.T) {
	job := &testJob{name: "stall_report"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: registryOf(t, job),
		Lock:     &fakeLock{err: errors.New("redis down")},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
	if job.runs != 0 {
		t.Fatalf("expected no job to run without the lock")
	}
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestRunOnlyRunsDueJobs(t *testing.T) {
	hourly := &testJob{name: "hourly"}
	every := &testJob{name: "every-tick"}
	registry := NewRegistry()
	if err := registry.Add(hourly, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := registry.Add(every, 0); err != nil {
		t.Fatal(err)
	}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registry, Lock: lock, Tick: time.Millisecond})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return clock }

	ctx := context.Background()
	if err := service.cycle(ctx, registry.due(service.now())); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	clock = clock.Add(10 * time.Minute)
	if err := service.cycle(ctx, registry.due(service.now())); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if hourly.runs != 1 || every.runs != 2 {
		t.Fatalf("expected hourly=1 every=2, got %d and %d", hourly.runs, every.runs)
	}

	// nothing due means the lock is never touched
	releases := lock.releases
	if err := service.cycle(ctx, nil); err != nil {
		t.Fatalf("empty cycle: %v", err)
	}
	if lock.releases != releases {
		t.Fatalf("expected no lock activity for an empty cycle")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "sweep"}
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: registryOf(t, job), Lock: &fakeLock{}, Tick: time.Hour})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
