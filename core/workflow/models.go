package workflow

import "time"

// WorkflowStatus captures the lifecycle of a workflow definition.
type WorkflowStatus string

const (
	WorkflowDraft  WorkflowStatus = "draft"
	WorkflowActive WorkflowStatus = "active"
	WorkflowError  WorkflowStatus = "error"
)

// NodeType is the category of a node.
type NodeType string

const (
	NodeTrigger NodeType = "trigger"
	NodeLogic   NodeType = "logic"
	NodeAction  NodeType = "action"
)

// Built-in and bundled node subtypes.
const (
	SubtypeCondition = "condition"
	SubtypeLoop      = "loop"
	SubtypeSchedule  = "schedule"
	SubtypeWebhook   = "webhook"
	SubtypeManual    = "manual"
	SubtypeEmail     = "email"
	SubtypeDatabase  = "database"
	SubtypeSlack     = "slack"
)

// ErrorPolicy selects what happens when a node fails.
type ErrorPolicy string

const (
	PolicyAbort    ErrorPolicy = "abort"
	PolicyContinue ErrorPolicy = "continue"
	PolicyRetry    ErrorPolicy = "retry"
)

// ExecutionStatus is the status of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// NodeStatus is the status of a single node invocation.
type NodeStatus string

const (
	NodePending        NodeStatus = "pending"
	NodeRunning        NodeStatus = "running"
	NodeCompleted      NodeStatus = "completed"
	NodeFailed         NodeStatus = "failed"
	NodeRetryExhausted NodeStatus = "retry_exhausted"
)

// Reserved data-context keys.
const (
	KeyRetryCount = "_retryCount"
	KeySource     = "_source"
	KeyTimestamp  = "_timestamp"
)

// Position is editor layout state; ignored by the engine.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is one unit of work in a workflow graph.
type Node struct {
	ID       string         `json:"id" yaml:"id"`
	Type     NodeType       `json:"type" yaml:"type"`
	Subtype  string         `json:"subtype" yaml:"subtype"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Position *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// Name returns the label, falling back to the id.
func (n Node) Name() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Edge connects two nodes; Label gates condition branches.
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Workflow is the stored definition aggregate.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Status      WorkflowStatus `json:"status" yaml:"status"`
	Nodes       []Node         `json:"nodes" yaml:"nodes"`
	Edges       []Edge         `json:"edges" yaml:"edges"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt" yaml:"updatedAt"`
}

// Node looks up a node by id.
func (w *Workflow) Node(id string) (Node, bool) {
	if w == nil {
		return Node{}, false
	}
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// WorkflowExecution is one run of a workflow.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflowId"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	// Duration is whole seconds.
	Duration *int64         `json:"duration,omitempty"`
	Error    string         `json:"error,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// NodeExecution is the record of one node invocation.
type NodeExecution struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"executionId"`
	NodeID      string     `json:"nodeId"`
	NodeName    string     `json:"nodeName"`
	Status      NodeStatus `json:"status"`
	Attempt     int        `json:"attempt"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// Duration is milliseconds.
	Duration *int64         `json:"duration,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// WorkflowPatch is a partial workflow update; nil fields are left untouched.
type WorkflowPatch struct {
	Name        *string
	Description *string
	Status      *WorkflowStatus
	Nodes       []Node
	Edges       []Edge
}

// ExecutionPatch is a partial execution update.
type ExecutionPatch struct {
	Status      *ExecutionStatus
	CompletedAt *time.Time
	Duration    *int64
	Error       *string
	Data        map[string]any
}

// NodeExecutionPatch is a partial node execution update.
type NodeExecutionPatch struct {
	Status      *NodeStatus
	CompletedAt *time.Time
	Duration    *int64
	Output      map[string]any
	Error       *string
}
