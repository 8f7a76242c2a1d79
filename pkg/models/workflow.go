package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Executable
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Temporarily not executable
	WorkflowStatusInactive WorkflowStatus = "inactive" // Deactivated
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, read-only
)

// TriggerType describes how runs of a workflow are initiated.
type TriggerType string

const (
	TriggerTypeManual         TriggerType = "manual"
	TriggerTypeSchedule       TriggerType = "schedule"
	TriggerTypeEvent          TriggerType = "event"
	TriggerTypeWebhook        TriggerType = "webhook"
	TriggerTypeDocumentUpload TriggerType = "document_upload"
)

// Workflow is a named process graph owned by its author. Nodes and Edges are
// loaded alongside the base record; the execution engine never reads them
// directly, it works from a snapshot taken at execution-creation time.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"      validate:"required"`
	TriggerType TriggerType    `json:"trigger_type"`

	Nodes []*WorkflowNode `json:"nodes"`
	Edges []*WorkflowEdge `json:"edges"`

	// ScheduleConfig holds the cron expression for schedule-triggered
	// workflows. Ignored for every other trigger type.
	ScheduleConfig map[string]any `json:"schedule_config,omitempty"`

	// TemplateID links back to the template this workflow was created from.
	TemplateID *string `json:"template_id,omitempty"`

	Owner         string   `json:"owner" validate:"required"`
	AssignedUsers []string `json:"assigned_users,omitempty"`

	// Rolling aggregates, maintained incrementally at each terminal
	// execution transition.
	TotalRuns          int64   `json:"total_runs"`
	SuccessfulRuns     int64   `json:"successful_runs"`
	FailedRuns         int64   `json:"failed_runs"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// SuccessRate returns the percentage of successful runs, 0 when the workflow
// has never run.
func (w *Workflow) SuccessRate() float64 {
	if w.TotalRuns == 0 {
		return 0
	}

	return float64(w.SuccessfulRuns) / float64(w.TotalRuns) * 100
}

// IsExecutable reports whether new executions may be created.
func (w *Workflow) IsExecutable() bool {
	return w.Status == WorkflowStatusActive
}

// NodeByID returns the node with the given caller-assigned node ID.
func (w *Workflow) NodeByID(nodeID string) (*WorkflowNode, bool) {
	for _, n := range w.Nodes {
		if n.NodeID == nodeID {
			return n, true
		}
	}

	return nil, false
}

// StatsDelta is applied to a workflow's rolling aggregates when one of its
// executions reaches a terminal state. Applied transactionally with the
// terminal transition so concurrent completions never lose updates.
type StatsDelta struct {
	Succeeded       bool
	Failed          bool
	DurationSeconds float64
	FinishedAt      time.Time
}
