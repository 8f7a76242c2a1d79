package models

import "time"

// ExecutionStatus represents the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused" // Waiting on an approval
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}

	return false
}

// WorkflowExecution is one run of a workflow. The engine owns the record
// exclusively from creation to its terminal state; afterwards it is
// read-only.
type WorkflowExecution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Status     ExecutionStatus `json:"status"`

	TriggeredBy    string         `json:"triggered_by"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`

	// ContextData is scratch space nodes may read and write. Branch writes
	// are merged at node completion, never shared mid-flight.
	ContextData map[string]any `json:"context_data,omitempty"`

	// CurrentNode is the node the run last entered; nil once terminal.
	// With fan-out in flight it records the most recently started branch
	// and is informational only.
	CurrentNode *string `json:"current_node,omitempty"`

	// Snapshot is the immutable graph definition captured at creation time.
	// Traversal resolves nodes and edges from here, never from the live
	// workflow, so concurrent graph edits cannot corrupt the run.
	Snapshot *GraphSnapshot `json:"snapshot,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`

	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// NodeExecutionStatus represents the state of a single node within a run.
type NodeExecutionStatus string

const (
	NodeExecutionStatusPending         NodeExecutionStatus = "pending"
	NodeExecutionStatusRunning         NodeExecutionStatus = "running"
	NodeExecutionStatusCompleted       NodeExecutionStatus = "completed"
	NodeExecutionStatusFailed          NodeExecutionStatus = "failed"
	NodeExecutionStatusSkipped         NodeExecutionStatus = "skipped"
	NodeExecutionStatusWaitingApproval NodeExecutionStatus = "waiting_approval"
	NodeExecutionStatusCancelled       NodeExecutionStatus = "cancelled"
)

// WorkflowNodeExecution is the per-node ledger row of a run, unique per
// (execution, node). All rows are seeded in pending state when the execution
// is created, so the full planned step set is visible before traversal
// reaches it.
type WorkflowNodeExecution struct {
	ID          string              `json:"id"`
	ExecutionID string              `json:"execution_id"`
	NodeID      string              `json:"node_id"`
	Status      NodeExecutionStatus `json:"status"`

	InputData  map[string]any `json:"input_data,omitempty"`
	OutputData map[string]any `json:"output_data,omitempty"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`

	// Approval fields, set only on approval nodes. ApprovalExpiresAt is
	// stamped when the node enters waiting_approval and drives the
	// auto-deny sweep; nil means the approval never expires.
	ApprovedBy        *string    `json:"approved_by,omitempty"`
	ApprovalNotes     string     `json:"approval_notes,omitempty"`
	ApprovalExpiresAt *time.Time `json:"approval_expires_at,omitempty"`
}
