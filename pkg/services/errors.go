// Package services implements the business operations above persistence:
// workflow authoring and lifecycle, dashboard statistics, and template
// instantiation.
package services

import "errors"

// Validation errors (400 responses).
var (
	ErrInvalidWorkflow      = errors.New("invalid workflow")
	ErrUnknownNodeType      = errors.New("unknown node type")
	ErrUnknownNodeRef       = errors.New("edge references unknown node")
	ErrDuplicateEdge        = errors.New("duplicate edge")
	ErrInvalidEdgeCondition = errors.New("invalid edge condition")
	ErrInvalidNodeConfig    = errors.New("invalid node configuration")
	ErrNoStartNode          = errors.New("workflow has no start node")
	ErrNoEndNode            = errors.New("workflow has no end node")
	ErrFanOutNotAllowed     = errors.New("node type does not allow multiple outgoing paths")
	ErrTemplateInactive     = errors.New("template is not active")
)

// Lifecycle conflicts (409 responses).
var (
	ErrWorkflowNotEditable = errors.New("workflow is not editable")
	ErrInvalidTransition   = errors.New("invalid workflow status transition")
)

// IsValidationError checks if an error should surface as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow) ||
		errors.Is(err, ErrUnknownNodeType) ||
		errors.Is(err, ErrUnknownNodeRef) ||
		errors.Is(err, ErrDuplicateEdge) ||
		errors.Is(err, ErrInvalidEdgeCondition) ||
		errors.Is(err, ErrInvalidNodeConfig) ||
		errors.Is(err, ErrNoStartNode) ||
		errors.Is(err, ErrNoEndNode) ||
		errors.Is(err, ErrFanOutNotAllowed) ||
		errors.Is(err, ErrTemplateInactive)
}

// IsConflictError checks if an error should surface as HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowNotEditable) ||
		errors.Is(err, ErrInvalidTransition)
}
