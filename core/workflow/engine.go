package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/infra/metrics"
	"github.com/cordum/flowline/core/infra/secrets"
)

const (
	logComponent = "workflow-engine"

	defaultMaxRetries    = 3
	defaultRetryBackoff  = time.Second
	defaultMaxIterations = 100
	defaultLoopCount     = 5
)

// Engine executes workflow graphs and records their trace.
type Engine struct {
	store   TraceStore
	invoker Invoker
	eval    *Evaluator
	clock   clockwork.Clock
	sleep   func(ctx context.Context, d time.Duration) error
	events  EventSink
	metrics metrics.WorkflowMetrics
	secrets secrets.Lookup

	maxRetries      int
	retryBackoff    time.Duration
	maxIterations   int
	defaultCount    int
	enforceTimeouts bool
}

// NewEngine creates an engine that records into store and dispatches
// integration subtypes through invoker. A nil invoker treats every
// integration subtype as unknown.
func NewEngine(store TraceStore, invoker Invoker) *Engine {
	e := &Engine{
		store:         store,
		invoker:       invoker,
		eval:          NewEvaluator(),
		clock:         clockwork.NewRealClock(),
		metrics:       metrics.Noop{},
		maxRetries:    defaultMaxRetries,
		retryBackoff:  defaultRetryBackoff,
		maxIterations: defaultMaxIterations,
		defaultCount:  defaultLoopCount,
	}
	e.sleep = e.clockSleep
	return e
}

// WithClock sets the time source for timestamps and retry backoff.
func (e *Engine) WithClock(c clockwork.Clock) *Engine {
	if c != nil {
		e.clock = c
	}
	return e
}

// WithSleep overrides how retry backoff waits.
func (e *Engine) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Engine {
	if fn != nil {
		e.sleep = fn
	}
	return e
}

// WithEvents sets an optional lifecycle event sink.
func (e *Engine) WithEvents(sink EventSink) *Engine {
	e.events = sink
	return e
}

// WithMetrics sets the metrics recorder.
func (e *Engine) WithMetrics(m metrics.WorkflowMetrics) *Engine {
	if m != nil {
		e.metrics = m
	}
	return e
}

// WithSecrets resolves secret:// references in interpolated node configs.
// An unresolved reference fails the node.
func (e *Engine) WithSecrets(lookup secrets.Lookup) *Engine {
	e.secrets = lookup
	return e
}

// WithRetry overrides the retry budget and the linear backoff step.
func (e *Engine) WithRetry(maxRetries int, backoff time.Duration) *Engine {
	if maxRetries > 0 {
		e.maxRetries = maxRetries
	}
	if backoff > 0 {
		e.retryBackoff = backoff
	}
	return e
}

// WithLoopLimits overrides the default iteration cap and count-loop size.
func (e *Engine) WithLoopLimits(maxIterations, defaultCount int) *Engine {
	if maxIterations > 0 {
		e.maxIterations = maxIterations
	}
	if defaultCount > 0 {
		e.defaultCount = defaultCount
	}
	return e
}

// WithTimeoutEnforcement makes a node's timeout config bound its integration call.
func (e *Engine) WithTimeoutEnforcement(enabled bool) *Engine {
	e.enforceTimeouts = enabled
	return e
}

// ExecuteWorkflow runs wf against exec, which must already be stored with
// status running, and finalizes exec as completed or failed. The returned
// error is the failure recorded on the execution, if any.
func (e *Engine) ExecuteWorkflow(ctx context.Context, wf *Workflow, exec *WorkflowExecution, initialData map[string]any) error {
	if wf == nil || exec == nil {
		return fmt.Errorf("workflow and execution required")
	}
	r := &run{
		engine: e,
		wf:     snapshotWorkflow(wf),
		exec:   exec,
	}
	data := merge(initialData, nil)

	e.metrics.IncWorkflowStarted(wf.ID)
	e.emit(ctx, Event{Type: EventExecutionStarted, WorkflowID: wf.ID, ExecutionID: exec.ID, Status: string(ExecutionRunning)})

	final, runErr := r.execute(ctx, data)
	if err := e.finalize(ctx, wf.ID, exec, final, runErr); err != nil {
		return err
	}
	return runErr
}

func (e *Engine) finalize(ctx context.Context, workflowID string, exec *WorkflowExecution, final map[string]any, runErr error) error {
	now := e.clock.Now().UTC()
	elapsed := now.Sub(exec.StartedAt)
	duration := int64(math.Round(elapsed.Seconds()))
	status := ExecutionCompleted
	patch := ExecutionPatch{CompletedAt: &now, Duration: &duration}
	evt := Event{Type: EventExecutionCompleted, WorkflowID: workflowID, ExecutionID: exec.ID}
	if runErr != nil {
		status = ExecutionFailed
		msg := runErr.Error()
		patch.Error = &msg
		evt.Type = EventExecutionFailed
		evt.Error = msg
		logging.Error(logComponent, "execution failed", "execution_id", exec.ID, "workflow_id", workflowID, "error", msg)
	} else {
		patch.Data = final
	}
	patch.Status = &status
	evt.Status = string(status)

	// A cancelled run still records its failure.
	updated, err := e.store.UpdateExecution(context.WithoutCancel(ctx), exec.ID, patch)
	if err != nil {
		logging.Error(logComponent, "finalize execution", "execution_id", exec.ID, "error", err)
		return fmt.Errorf("finalize execution: %w", err)
	}
	*exec = *updated

	e.metrics.IncWorkflowCompleted(workflowID, string(status))
	e.metrics.ObserveWorkflowDuration(workflowID, elapsed.Seconds())
	e.emit(ctx, evt)
	return nil
}

func (e *Engine) emit(ctx context.Context, evt Event) {
	if e.events == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = e.clock.Now().UTC()
	}
	e.events.Emit(ctx, evt)
}

func (e *Engine) clockSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(d):
		return nil
	}
}

// linearBackoff yields step, 2*step, 3*step... for at most maxRetries retries.
func (e *Engine) linearBackoff() retry.Backoff {
	var attempt int64
	step := e.retryBackoff
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * step, false
	})
	return retry.WithMaxRetries(uint64(e.maxRetries), next)
}

// run is the state of one workflow execution.
type run struct {
	engine *Engine
	wf     *Workflow
	exec   *WorkflowExecution
}

// ancestry is the chain of nodes above a frame, used for cycle detection.
type ancestry struct {
	id     string
	parent *ancestry
}

func (a *ancestry) contains(id string) bool {
	for cur := a; cur != nil; cur = cur.parent {
		if cur.id == id {
			return true
		}
	}
	return false
}

type frame struct {
	node Node
	data map[string]any
	path *ancestry
}

// nodeResult is the outcome of one node visit.
type nodeResult struct {
	data    map[string]any
	output  map[string]any
	descend bool
}

func (r *run) execute(ctx context.Context, data map[string]any) (map[string]any, error) {
	starts := FindStartNodes(r.wf.Nodes, r.wf.Edges)
	if len(starts) == 0 {
		return data, ErrNoStartNodes
	}
	for _, start := range starts {
		next, err := r.walk(ctx, start, data, nil)
		if err != nil {
			return data, err
		}
		data = next
	}
	return data, nil
}

// walk executes root and its descendants depth-first using an explicit
// stack. Children are pushed in reverse so siblings run in edge order, each
// subtree finishing before the next sibling starts. It returns the data
// produced by root itself.
func (r *run) walk(ctx context.Context, root Node, data map[string]any, path *ancestry) (map[string]any, error) {
	var rootData map[string]any
	stack := []frame{{node: root, data: data, path: path}}
	isRoot := true
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.path.contains(f.node.ID) {
			return nil, &StructuralError{NodeID: f.node.ID, Reason: "cycle detected"}
		}
		res, err := r.visit(ctx, f.node, f.data, f.path)
		if err != nil {
			return nil, err
		}
		if isRoot {
			rootData = res.data
			isRoot = false
		}
		if !res.descend {
			continue
		}
		self := &ancestry{id: f.node.ID, parent: f.path}
		children := FindChildNodes(r.wf.Nodes, r.wf.Edges, f.node.ID)
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			edge, _ := EdgeBetween(r.wf.Edges, f.node.ID, child.ID)
			if !BranchAllowed(edge, res.output) {
				continue
			}
			stack = append(stack, frame{node: child, data: res.data, path: self})
		}
	}
	return rootData, nil
}

// visit runs one node under its error policy.
func (r *run) visit(ctx context.Context, node Node, data map[string]any, path *ancestry) (nodeResult, error) {
	policy := PolicyOf(node.Config)
	if policy.SkipExecution {
		return nodeResult{data: data}, nil
	}

	input := data
	var backoff retry.Backoff
	for attempt := 0; ; attempt++ {
		rec, err := r.startRecord(ctx, node, input, attempt)
		if err != nil {
			return nodeResult{}, err
		}
		started := r.engine.clock.Now()
		output, err := r.dispatch(ctx, node, policy, input, path)
		if err == nil {
			r.finishRecord(ctx, node, rec, started, NodeCompleted, output, "")
			return nodeResult{
				data:    with(input, node.ID, output),
				output:  output,
				descend: node.Subtype != SubtypeLoop,
			}, nil
		}
		msg := err.Error()

		var abort *abortError
		var structural *StructuralError
		if errors.As(err, &abort) || errors.As(err, &structural) || ctx.Err() != nil {
			r.finishRecord(ctx, node, rec, started, NodeFailed, nil, msg)
			return nodeResult{}, err
		}

		switch policy.ErrorHandling {
		case PolicyContinue:
			r.finishRecord(ctx, node, rec, started, NodeFailed, nil, msg)
			logging.Warn(logComponent, "node failed, continuing", "execution_id", r.exec.ID, "node_id", node.ID, "error", msg)
			return nodeResult{data: data}, nil
		case PolicyRetry:
			if backoff == nil {
				backoff = r.engine.linearBackoff()
			}
			delay, stop := backoff.Next()
			if stop {
				r.finishRecord(ctx, node, rec, started, NodeRetryExhausted, nil, msg)
				logging.Warn(logComponent, "retries exhausted, continuing", "execution_id", r.exec.ID, "node_id", node.ID, "attempts", attempt+1, "error", msg)
				return nodeResult{data: data}, nil
			}
			r.finishRecord(ctx, node, rec, started, NodeFailed, nil, msg)
			r.engine.metrics.IncNodeRetry(node.Subtype)
			r.engine.emit(ctx, Event{Type: EventNodeRetry, WorkflowID: r.wf.ID, ExecutionID: r.exec.ID, NodeID: node.ID, Attempt: attempt + 1, Error: msg})
			logging.Info(logComponent, "retrying node", "execution_id", r.exec.ID, "node_id", node.ID, "attempt", attempt+1, "delay", delay)
			if err := r.engine.sleep(ctx, delay); err != nil {
				return nodeResult{}, err
			}
			input = withRetryCount(input, node.ID, attempt+1)
		default:
			r.finishRecord(ctx, node, rec, started, NodeFailed, nil, msg)
			return nodeResult{}, &abortError{nodeID: node.ID, err: err}
		}
	}
}

func (r *run) dispatch(ctx context.Context, node Node, policy Policy, data map[string]any, path *ancestry) (map[string]any, error) {
	switch node.Subtype {
	case SubtypeCondition:
		return r.condition(node, data), nil
	case SubtypeLoop:
		return r.loop(ctx, node, data, path)
	}
	if r.engine.invoker == nil {
		return r.passthrough(node, data), nil
	}
	cfg, err := secrets.Resolve(InterpolateConfig(node.Config, data), r.engine.secrets)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}
	if r.engine.enforceTimeouts && policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(policy.Timeout)*time.Second)
		defer cancel()
	}
	out, err := r.engine.invoker.Invoke(ctx, node.Subtype, cfg, data)
	if errors.Is(err, ErrUnknownSubtype) {
		return r.passthrough(node, data), nil
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (r *run) passthrough(node Node, data map[string]any) map[string]any {
	logging.Warn(logComponent, "unknown node subtype, passing data through", "execution_id", r.exec.ID, "node_id", node.ID, "subtype", node.Subtype)
	return merge(data, nil)
}

func (r *run) condition(node Node, data map[string]any) map[string]any {
	var cfg ConditionConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		logging.Warn(logComponent, "invalid condition config", "execution_id", r.exec.ID, "node_id", node.ID, "error", err)
		return map[string]any{"conditionResult": false, "error": fmt.Sprintf("Invalid condition config: %v", err)}
	}
	if cfg.Condition == "" {
		return map[string]any{"conditionResult": false, "error": "No condition specified"}
	}
	ok, err := r.engine.eval.Eval(cfg.Condition, data)
	if err != nil {
		logging.Debug(logComponent, "condition evaluated to false", "node_id", node.ID, "error", err)
	}
	return map[string]any{"conditionResult": ok}
}

func (r *run) startRecord(ctx context.Context, node Node, input map[string]any, attempt int) (*NodeExecution, error) {
	rec := &NodeExecution{
		ID:          ulid.Make().String(),
		ExecutionID: r.exec.ID,
		NodeID:      node.ID,
		NodeName:    node.Name(),
		Status:      NodeRunning,
		Attempt:     attempt,
		StartedAt:   r.engine.clock.Now().UTC(),
		Input:       input,
	}
	if err := r.engine.store.CreateNodeExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("record node %s: %w", node.ID, err)
	}
	r.engine.emit(ctx, Event{Type: EventNodeStarted, WorkflowID: r.wf.ID, ExecutionID: r.exec.ID, NodeID: node.ID, NodeExecutionID: rec.ID, Status: string(NodeRunning), Attempt: attempt})
	return rec, nil
}

func (r *run) finishRecord(ctx context.Context, node Node, rec *NodeExecution, started time.Time, status NodeStatus, output map[string]any, errMsg string) {
	now := r.engine.clock.Now().UTC()
	elapsed := now.Sub(started)
	ms := elapsed.Milliseconds()
	patch := NodeExecutionPatch{Status: &status, CompletedAt: &now, Duration: &ms, Output: output}
	if errMsg != "" {
		patch.Error = &errMsg
	}
	if _, err := r.engine.store.UpdateNodeExecution(context.WithoutCancel(ctx), rec.ID, patch); err != nil {
		logging.Error(logComponent, "update node execution", "node_execution_id", rec.ID, "error", err)
	}
	r.engine.metrics.ObserveNodeDuration(node.Subtype, string(status), elapsed.Seconds())

	evt := Event{WorkflowID: r.wf.ID, ExecutionID: r.exec.ID, NodeID: node.ID, NodeExecutionID: rec.ID, Status: string(status), Attempt: rec.Attempt, Error: errMsg}
	switch status {
	case NodeCompleted:
		evt.Type = EventNodeCompleted
	case NodeRetryExhausted:
		evt.Type = EventNodeRetryExhausted
	default:
		evt.Type = EventNodeFailed
	}
	r.engine.emit(ctx, evt)
}

func withRetryCount(data map[string]any, nodeID string, count int) map[string]any {
	counts := map[string]any{}
	if prev, ok := data[KeyRetryCount].(map[string]any); ok {
		for k, v := range prev {
			counts[k] = v
		}
	}
	counts[nodeID] = count
	return with(data, KeyRetryCount, counts)
}

// snapshotWorkflow copies the graph so edits during a run are not observed.
func snapshotWorkflow(wf *Workflow) *Workflow {
	snap := *wf
	snap.Nodes = make([]Node, len(wf.Nodes))
	for i, n := range wf.Nodes {
		n.Config = copyConfig(n.Config)
		snap.Nodes[i] = n
	}
	snap.Edges = append([]Edge(nil), wf.Edges...)
	return &snap
}

func copyConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		switch t := v.(type) {
		case map[string]any:
			out[k] = copyConfig(t)
		case []any:
			out[k] = append([]any(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}
