// Package schedule runs the defragmentation coordinator either once, as a
// maintenance task triggered on restart, or periodically on a cron
// schedule for hosts that want to re-arm it. In-flight executions are
// tracked by job name, each with its own context.CancelFunc.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is anything the scheduler can run. The coordinator's method is named
// RunOnce, so cmd/defragctl wraps it in an adapter that satisfies this.
type Job interface {
	Run(ctx context.Context) error
}

// execution tracks one in-flight run.
type execution struct {
	startTime time.Time
	cancelFn  context.CancelFunc
}

// Scheduler runs a single named Job either once or on a recurring cron
// schedule, tracking whether it is currently running so a second trigger
// while one is in flight can be rejected rather than silently overlapping
// (the defragmentation engine has no concurrency story for two coordinator
// passes at once).
type Scheduler struct {
	name string
	job  Job
	cron *cron.Cron

	mu      sync.Mutex
	running *execution
}

// New returns a Scheduler for job, registered under name (typically the
// maintenance task name, "defragmentationMaintenanceTask").
func New(name string, job Job) *Scheduler {
	return &Scheduler{
		name: name,
		job:  job,
		cron: cron.New(cron.WithSeconds()),
	}
}

// RunOnce triggers the job immediately and blocks until it finishes,
// for hosts that trigger the engine once at restart rather than on a cron
// expression.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.execute(ctx)
}

// ScheduleCron re-arms the job on the given cron expression, for hosts that
// want defragmentation to run periodically rather than only once at
// restart. Returns an error if expr is invalid.
func (s *Scheduler) ScheduleCron(expr string) error {
	_, err := s.cron.AddFunc(expr, func() {
		if err := s.execute(context.Background()); err != nil {
			log.Printf("scheduled job %q failed: %v", s.name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: invalid cron expression %q: %w", s.name, expr, err)
	}
	return nil
}

// Start begins the cron loop (a no-op if ScheduleCron was never called).
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron loop and cancels any in-flight execution.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != nil {
		log.Printf("canceling running job %q", s.name)
		s.running.cancelFn()
	}
}

func (s *Scheduler) execute(parent context.Context) error {
	s.mu.Lock()
	if s.running != nil {
		s.mu.Unlock()
		return fmt.Errorf("job %q already running", s.name)
	}
	ctx, cancel := context.WithCancel(parent)
	exec := &execution{startTime: time.Now(), cancelFn: cancel}
	s.running = exec
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = nil
		s.mu.Unlock()
	}()

	log.Printf("executing job %q", s.name)
	if err := s.job.Run(ctx); err != nil {
		log.Printf("job %q failed: %v", s.name, err)
		return err
	}
	log.Printf("job %q completed successfully in %s", s.name, time.Since(exec.startTime))
	return nil
}
