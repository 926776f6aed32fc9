// Package scheduler turns schedule trigger nodes of active workflows into
// recurring or one-shot executions.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/infra/metrics"
	"github.com/cordum/flowline/core/workflow"
)

const (
	logComponent        = "scheduler"
	defaultTickInterval = time.Minute
	sourceScheduler     = "scheduler"
)

// Scheduler owns the registry of scheduled jobs. Each instance is isolated;
// nothing is shared between schedulers.
type Scheduler struct {
	store    WorkflowSource
	executor Executor
	clock    clockwork.Clock
	tick     time.Duration
	metrics  metrics.SchedulerMetrics

	mu       sync.Mutex
	jobs     map[string]*job
	rejected map[string]string
	running  bool
	closing  bool
	cancel   context.CancelFunc
	execCtx  context.Context
	execStop context.CancelFunc

	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// New builds a scheduler reading workflows from store and running them
// through executor.
func New(store WorkflowSource, executor Executor) *Scheduler {
	return &Scheduler{
		store:    store,
		executor: executor,
		clock:    clockwork.NewRealClock(),
		tick:     defaultTickInterval,
		metrics:  metrics.Noop{},
		jobs:     map[string]*job{},
		rejected: map[string]string{},
	}
}

// WithClock replaces the time source used for ticks and job timers.
func (s *Scheduler) WithClock(c clockwork.Clock) *Scheduler {
	if c != nil {
		s.clock = c
	}
	return s
}

// WithTickInterval sets how often workflows are rescanned.
func (s *Scheduler) WithTickInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.tick = d
	}
	return s
}

func (s *Scheduler) WithMetrics(m metrics.SchedulerMetrics) *Scheduler {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Init syncs once and starts the background tick. Executions started by the
// scheduler keep running after ctx is cancelled until Shutdown gives up on
// them.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.closing = false
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.execCtx, s.execStop = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	if err := s.Sync(loopCtx); err != nil {
		logging.Error(logComponent, "initial sync failed", "error", err)
	}
	ticker := s.clock.NewTicker(s.tick)
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.Chan():
				if err := s.Sync(loopCtx); err != nil && loopCtx.Err() == nil {
					logging.Error(logComponent, "sync failed", "error", err)
				}
			}
		}
	}()
	logging.Info(logComponent, "scheduler started", "tick", s.tick)
	return nil
}

// Shutdown stops the tick and every job, then waits for in-flight
// executions until ctx expires. Executions still running at that point are
// cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.closing = true
	s.cancel()
	jobs := s.jobs
	s.jobs = map[string]*job{}
	s.mu.Unlock()

	for _, j := range jobs {
		j.halt()
	}
	s.loops.Wait()
	s.metrics.SetScheduledJobs(0)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	defer s.execStop()
	select {
	case <-done:
		logging.Info(logComponent, "scheduler stopped")
		return nil
	case <-ctx.Done():
		logging.Warn(logComponent, "shutdown deadline reached with executions in flight", "error", ctx.Err())
		return ctx.Err()
	}
}

// Stop halts and forgets the job with id. It returns false for unknown ids.
func (s *Scheduler) Stop(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	n := len(s.jobs)
	s.mu.Unlock()
	if !ok {
		return false
	}
	j.halt()
	s.metrics.SetScheduledJobs(n)
	logging.Info(logComponent, "job stopped", "job_id", id)
	return true
}

// Jobs lists the registered jobs ordered by key.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}

// start registers j and launches its timer loop. The caller holds s.mu.
func (s *Scheduler) start(j *job) {
	s.jobs[j.key] = j
	j.transition(triggerArm)
	s.loops.Add(1)
	go s.runJob(j)
}

func (s *Scheduler) runJob(j *job) {
	defer s.loops.Done()
	for {
		now := s.clock.Now()
		next := j.plan.schedule.Next(now)
		if next.IsZero() {
			s.forget(j)
			return
		}
		j.setNext(next)
		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-j.stop:
			timer.Stop()
			return
		case firedAt := <-timer.Chan():
			if !j.transition(triggerFire) {
				return
			}
			s.fire(j, firedAt)
			if j.plan.kind == KindFixed {
				s.forget(j)
				return
			}
			j.transition(triggerRearm)
		}
	}
}

// forget removes j if it is still the registered job for its key.
func (s *Scheduler) forget(j *job) {
	s.mu.Lock()
	if cur, ok := s.jobs[j.key]; ok && cur == j {
		delete(s.jobs, j.key)
	}
	n := len(s.jobs)
	s.mu.Unlock()
	j.halt()
	s.metrics.SetScheduledJobs(n)
	logging.Debug(logComponent, "job finished", "job_id", j.key)
}

func (s *Scheduler) fire(j *job, at time.Time) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	ctx := s.execCtx
	s.inflight.Add(1)
	s.mu.Unlock()

	s.metrics.IncScheduleFired(j.plan.kind)
	go func() {
		defer s.inflight.Done()
		s.execute(ctx, j, at)
	}()
}

func (s *Scheduler) execute(ctx context.Context, j *job, at time.Time) {
	wf, err := s.store.GetWorkflow(ctx, j.workflowID)
	if errors.Is(err, workflow.ErrNotFound) {
		logging.Warn(logComponent, "scheduled workflow no longer exists", "job_id", j.key, "workflow_id", j.workflowID)
		return
	}
	if err != nil {
		s.metrics.IncScheduleError(j.plan.kind)
		logging.Error(logComponent, "load scheduled workflow", "job_id", j.key, "error", err)
		return
	}
	if wf.Status != workflow.WorkflowActive {
		logging.Info(logComponent, "skipping inactive workflow", "job_id", j.key, "status", wf.Status)
		return
	}
	seed := map[string]any{
		"_source":    sourceScheduler,
		"_timestamp": at.UTC().Format(time.RFC3339),
	}
	exec, err := s.executor.Execute(ctx, wf, seed)
	if err != nil {
		logging.Warn(logComponent, "scheduled execution failed", "job_id", j.key, "error", err)
		return
	}
	logging.Info(logComponent, "scheduled execution finished", "job_id", j.key, "execution_id", exec.ID, "status", exec.Status)
}
