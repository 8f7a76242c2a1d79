package engine

import "errors"

var (
	// ErrWorkflowNotActive is returned when creating an execution for a
	// workflow outside active status.
	ErrWorkflowNotActive = errors.New("workflow is not active")

	// ErrNoStartNode is returned when a run's snapshot has no start node.
	ErrNoStartNode = errors.New("workflow has no start node")

	// ErrExecutionTerminal is returned when acting on an execution that
	// already reached a terminal status.
	ErrExecutionTerminal = errors.New("execution already reached a terminal status")

	// ErrNodeNotWaitingApproval is returned when resolving an approval on a
	// node that is not suspended.
	ErrNodeNotWaitingApproval = errors.New("node is not waiting for approval")

	// ErrApprovalDenied marks a run failed by a denied approval with no
	// denial route.
	ErrApprovalDenied = errors.New("approval denied with no denial route")
)
