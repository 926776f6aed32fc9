package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
)

type job struct {
	key         string
	workflowID  string
	nodeID      string
	fingerprint string
	plan        plan

	mu   sync.Mutex
	fsm  *stateless.StateMachine
	next time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func newJob(key, workflowID, nodeID, fingerprint string, p plan) *job {
	fsm := stateless.NewStateMachine(JobUnscheduled)
	fsm.Configure(JobUnscheduled).
		Permit(triggerArm, JobScheduled).
		Permit(triggerStop, JobStopped)
	fsm.Configure(JobScheduled).
		Permit(triggerFire, JobFiring).
		Permit(triggerStop, JobStopped)
	fsm.Configure(JobFiring).
		Permit(triggerRearm, JobScheduled).
		Permit(triggerStop, JobStopped)
	fsm.Configure(JobStopped).
		Ignore(triggerStop).
		Ignore(triggerRearm)
	return &job{
		key:         key,
		workflowID:  workflowID,
		nodeID:      nodeID,
		fingerprint: fingerprint,
		plan:        p,
		fsm:         fsm,
		stop:        make(chan struct{}),
	}
}

// transition fires t and reports whether the job moved.
func (j *job) transition(t jobTrigger) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fsm.FireCtx(context.Background(), t) == nil
}

func (j *job) state() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fsm.MustState().(JobState)
}

func (j *job) setNext(t time.Time) {
	j.mu.Lock()
	j.next = t
	j.mu.Unlock()
}

func (j *job) halt() {
	j.stopOnce.Do(func() {
		j.transition(triggerStop)
		close(j.stop)
	})
}

func (j *job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{
		Key:        j.key,
		WorkflowID: j.workflowID,
		NodeID:     j.nodeID,
		Kind:       j.plan.kind,
		Expression: j.plan.expression,
		NextRun:    j.next,
		State:      j.fsm.MustState().(JobState),
	}
}
