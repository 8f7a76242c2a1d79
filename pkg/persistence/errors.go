// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrNodeTypeNotFound indicates a node type was not found in the catalog.
	ErrNodeTypeNotFound = errors.New("node type not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNodeExecutionNotFound indicates no ledger row exists for the (execution, node) pair.
	ErrNodeExecutionNotFound = errors.New("node execution not found")

	// ErrNodeExecutionNotClaimable indicates a claim found the node row in an
	// unexpected status (another branch already visited it, or the run moved on).
	ErrNodeExecutionNotClaimable = errors.New("node execution not claimable")

	// ErrExecutionNotClaimable indicates a conditional execution update found
	// the run in an unexpected status (a concurrent writer settled it first).
	ErrExecutionNotClaimable = errors.New("execution not claimable")

	// ErrTemplateNotFound indicates a workflow template was not found.
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrDuplicateEdge indicates a second edge with the same
	// (workflow, source, target, condition) tuple.
	ErrDuplicateEdge = errors.New("duplicate workflow edge")
)

// WorkflowError wraps workflow-related errors with operation context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g. "GetByID", "Save")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// ExecutionError wraps execution-ledger errors with operation context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	NodeID      string // Empty for run-level operations
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for node %s of execution %s: %v", e.Op, e.NodeID, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// NewNodeExecutionError creates a new execution error scoped to one node row.
func NewNodeExecutionError(op, executionID, nodeID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, NodeID: nodeID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsNodeExecutionNotFound checks if an error indicates a node ledger row was not found.
func IsNodeExecutionNotFound(err error) bool {
	return errors.Is(err, ErrNodeExecutionNotFound)
}

// IsNotClaimable checks if an error indicates a node claim lost the race.
func IsNotClaimable(err error) bool {
	return errors.Is(err, ErrNodeExecutionNotClaimable)
}

// IsExecutionNotClaimable checks if an error indicates a conditional
// execution update lost the race.
func IsExecutionNotClaimable(err error) bool {
	return errors.Is(err, ErrExecutionNotClaimable)
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsDuplicateEdge checks if an error indicates an edge uniqueness violation.
func IsDuplicateEdge(err error) bool {
	return errors.Is(err, ErrDuplicateEdge)
}
