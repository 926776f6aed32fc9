package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cordum/flowline/core/workflow"
)

// Schedule kinds accepted in a schedule trigger's scheduleType.
const (
	KindInterval = "interval"
	KindCron     = "cron"
	KindFixed    = "fixed"
)

// JobState is the lifecycle state of one scheduled trigger.
type JobState string

const (
	JobUnscheduled JobState = "unscheduled"
	JobScheduled   JobState = "scheduled"
	JobFiring      JobState = "firing"
	JobStopped     JobState = "stopped"
)

type jobTrigger string

const (
	triggerArm   jobTrigger = "arm"
	triggerFire  jobTrigger = "fire"
	triggerRearm jobTrigger = "rearm"
	triggerStop  jobTrigger = "stop"
)

// WorkflowSource is the read side of the workflow store.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error)
}

// Executor creates an execution for wf and runs it to completion.
// *workflow.Service implements it.
type Executor interface {
	Execute(ctx context.Context, wf *workflow.Workflow, initialData map[string]any) (*workflow.WorkflowExecution, error)
}

// JobInfo describes a registered job.
type JobInfo struct {
	Key        string    `json:"key"`
	WorkflowID string    `json:"workflowId"`
	NodeID     string    `json:"nodeId"`
	Kind       string    `json:"kind"`
	Expression string    `json:"expression"`
	NextRun    time.Time `json:"nextRun"`
	State      JobState  `json:"state"`
}

// JobKey names the job of one schedule trigger node.
func JobKey(workflowID, nodeID string) string {
	return fmt.Sprintf("workflow_%s_node_%s", workflowID, nodeID)
}
