package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingJob struct {
	calls atomic.Int32
	err   error
}

func (j *countingJob) Run(ctx context.Context) error {
	j.calls.Add(1)
	return j.err
}

func TestScheduler_RunOnceExecutesJob(t *testing.T) {
	job := &countingJob{}
	s := New("test-task", job)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", job.calls.Load())
	}
}

func TestScheduler_RunOnceRejectsOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	job := blockingJob{started: started, release: release}
	s := New("test-task", job)

	go s.RunOnce(context.Background())
	<-started
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected the second concurrent RunOnce to be rejected")
	}
	close(release)
}

type blockingJob struct {
	started chan struct{}
	release chan struct{}
}

func (j blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-j.release
	return nil
}

func TestScheduler_RunOnceReturnsJobError(t *testing.T) {
	wantErr := errors.New("job failed")
	job := &countingJob{err: wantErr}
	s := New("test-task", job)
	err := s.RunOnce(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestScheduler_ScheduleCronRejectsInvalidExpression(t *testing.T) {
	s := New("test-task", &countingJob{})
	if err := s.ScheduleCron("not a cron expression"); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestScheduler_ScheduleCronFiresJob(t *testing.T) {
	job := &countingJob{}
	s := New("test-task", job)
	if err := s.ScheduleCron("@every 10ms"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for job.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if job.calls.Load() == 0 {
		t.Fatal("expected the cron schedule to have fired at least once")
	}
}
