// Package scheduler runs named jobs on cron schedules with at most one
// in-flight run per job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tgcesports/notifier/internal/metrics"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job is already running")
	ErrClosed      = errors.New("scheduler is shut down")
)

// Task is the work performed by a job. The result is returned to manual callers.
type Task func(ctx context.Context) (any, error)

// Job is a named task with a cron schedule
type Job struct {
	Name string
	Spec string
	Task Task
}

// JobStatus is a snapshot of one job
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Scheduled bool      `json:"scheduled"`
	Running   bool      `json:"running"`
	NextRun   time.Time `json:"nextRun,omitzero"`
	LastRun   time.Time `json:"lastRun,omitzero"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
}

type jobState struct {
	job       Job
	schedule  cron.Schedule
	entryID   cron.EntryID
	scheduled bool
	running   bool
	lastRun   time.Time
	lastErr   string
	runs      int
}

// Scheduler owns the cron engine and the job registry
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*jobState
	closed bool

	// ctx is the parent of scheduled runs; cancelled on a forced shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler evaluating cron expressions in loc
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: logger,
		jobs:   make(map[string]*jobState),
		ctx:    ctx,
		cancel: cancel,
	}
	s.cron.Start()
	return s
}

// Register adds a job without scheduling it
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Task == nil {
		return fmt.Errorf("job %s has no task", job.Name)
	}
	schedule, err := cron.ParseStandard(job.Spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = &jobState{job: job, schedule: schedule}
	return nil
}

// Start schedules a job. Starting a scheduled job only honours runImmediately.
func (s *Scheduler) Start(name string, runImmediately bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	st, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !st.scheduled {
		st.entryID = s.cron.Schedule(st.schedule, cron.FuncJob(func() {
			s.runScheduled(name, "schedule")
		}))
		st.scheduled = true
		s.logger.Info("job scheduled", "job", name, "spec", st.job.Spec)
	}
	if runImmediately {
		// Added under mu so Shutdown never waits on a growing group
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if runImmediately {
		go func() {
			defer s.wg.Done()
			s.runScheduled(name, "start")
		}()
	}
	return nil
}

// Stop removes a job from the schedule. An in-flight run is not interrupted.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if st.scheduled {
		s.cron.Remove(st.entryID)
		st.scheduled = false
		st.entryID = 0
		s.logger.Info("job unscheduled", "job", name)
	}
	return nil
}

// StartAll schedules every registered job
func (s *Scheduler) StartAll(runImmediately bool) {
	for _, name := range s.names() {
		s.Start(name, runImmediately)
	}
}

// StopAll unschedules every registered job
func (s *Scheduler) StopAll() {
	for _, name := range s.names() {
		s.Stop(name)
	}
}

// RunNow runs a job synchronously and returns its result. It fails with
// ErrJobRunning when a run of the same job is in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	return s.execute(ctx, name, "manual")
}

// Status returns a snapshot of every job ordered by name
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, st := range s.jobs {
		js := JobStatus{
			Name:      name,
			Spec:      st.job.Spec,
			Scheduled: st.scheduled,
			Running:   st.running,
			LastRun:   st.lastRun,
			LastError: st.lastErr,
			Runs:      st.runs,
		}
		if st.scheduled {
			js.NextRun = s.cron.Entry(st.entryID).Next
		}
		out = append(out, js)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown stops the cron engine and waits for in-flight runs. When ctx
// expires first the runs are cancelled and ctx's error is returned.
// Start and RunNow fail with ErrClosed afterwards.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("scheduler shutdown timed out, cancelling running jobs")
		return ctx.Err()
	}
}

func (s *Scheduler) runScheduled(name, trigger string) {
	if _, err := s.execute(s.ctx, name, trigger); errors.Is(err, ErrJobRunning) {
		s.logger.Warn("skipping run, previous run still in progress", "job", name, "trigger", trigger)
	}
}

func (s *Scheduler) execute(ctx context.Context, name, trigger string) (any, error) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if st.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	st.running = true
	task := st.job.Task
	s.mu.Unlock()

	metrics.SetJobRunning(name, true)
	logger := s.logger.With("job", name, "trigger", trigger)
	logger.Info("job started")
	start := time.Now()

	result, err := runTask(ctx, task)

	elapsed := time.Since(start)
	outcome := "success"
	if err != nil {
		outcome = "error"
		logger.Error("job failed", "error", err, "duration", elapsed)
	} else {
		logger.Info("job finished", "duration", elapsed)
	}
	metrics.ObserveJobRun(name, outcome, elapsed.Seconds())
	metrics.SetJobRunning(name, false)

	s.mu.Lock()
	st.running = false
	st.lastRun = start
	st.runs++
	st.lastErr = ""
	if err != nil {
		st.lastErr = err.Error()
	}
	s.mu.Unlock()

	return result, err
}

// runTask converts a panic in a task into an error so the in-flight flag is always released
func runTask(ctx context.Context, task Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (s *Scheduler) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
