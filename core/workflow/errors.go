package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExecutionFinalized rejects updates to a completed or failed execution.
	ErrExecutionFinalized = errors.New("execution already finalized")
	// ErrUnknownSubtype is returned by the registry for unregistered subtypes.
	ErrUnknownSubtype = errors.New("unknown node subtype")
	// ErrNoStartNodes fails a run whose graph has no zero in-degree node.
	ErrNoStartNodes = errors.New("No start nodes found")
)

// StructuralError reports a malformed graph discovered while running it.
type StructuralError struct {
	NodeID string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.NodeID == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s at node %s", e.Reason, e.NodeID)
}

// ValidationError lists every problem found when validating a workflow.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid workflow: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid workflow: %d problems (first: %s)", len(e.Problems), e.Problems[0])
}

// abortError carries an abort-policy failure up through loop bodies.
type abortError struct {
	nodeID string
	err    error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }
