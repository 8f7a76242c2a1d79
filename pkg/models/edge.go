package models

import "time"

// EdgeCondition decides whether a directed edge is traversed after its
// source node resolves.
type EdgeCondition string

const (
	EdgeConditionAlways          EdgeCondition = "always"
	EdgeConditionOnSuccess       EdgeCondition = "on_success"
	EdgeConditionOnFailure       EdgeCondition = "on_failure"
	EdgeConditionConditional     EdgeCondition = "conditional"
	EdgeConditionApprovalGranted EdgeCondition = "approval_granted"
	EdgeConditionApprovalDenied  EdgeCondition = "approval_denied"
)

// ValidEdgeCondition reports whether s names a known condition kind.
func ValidEdgeCondition(s EdgeCondition) bool {
	switch s {
	case EdgeConditionAlways, EdgeConditionOnSuccess, EdgeConditionOnFailure,
		EdgeConditionConditional, EdgeConditionApprovalGranted, EdgeConditionApprovalDenied:
		return true
	}

	return false
}

// WorkflowEdge is a directed transition between two nodes of one workflow.
// Source and target reference WorkflowNode.NodeID. At most one edge may
// exist per (workflow, source, target, condition) tuple.
type WorkflowEdge struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`

	SourceNode string `json:"source_node" validate:"required"`
	TargetNode string `json:"target_node" validate:"required"`

	Condition EdgeCondition `json:"condition" validate:"required"`

	// ConditionConfig carries the field/operator/value triple for
	// conditional edges. Empty for every other kind.
	ConditionConfig map[string]any `json:"condition_config,omitempty"`

	Label string `json:"label,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Key identifies the edge up to its uniqueness constraint.
func (e *WorkflowEdge) Key() string {
	return e.SourceNode + "|" + e.TargetNode + "|" + string(e.Condition)
}
