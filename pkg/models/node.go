package models

import "time"

// WorkflowNode is a vertex in a workflow graph. NodeID is caller-assigned
// (e.g. "start_1", "approve_invoice") and unique within the workflow;
// ID is the storage identity.
type WorkflowNode struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	NodeTypeID string `json:"node_type_id" validate:"required"`
	NodeID     string `json:"node_id"      validate:"required"`

	Name        string `json:"name" validate:"required,min=1"`
	Description string `json:"description"`

	// Canvas position. Presentation only, irrelevant to execution.
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`

	Config map[string]any `json:"config"`

	IsRequired     bool `json:"is_required"`
	TimeoutSeconds int  `json:"timeout_seconds"`

	// MaxRetries distinguishes unset (nil, falls back to the default) from
	// an explicit zero that disables transient retries.
	MaxRetries *int `json:"max_retries,omitempty"`

	// AssignedUser handles manual steps (approval nodes).
	AssignedUser *string `json:"assigned_user,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	DefaultNodeTimeoutSeconds = 300
	DefaultNodeMaxRetries     = 3
)

// Timeout returns the node's step deadline, falling back to the default when
// unset. Approval waits are not bounded by this value.
func (n *WorkflowNode) Timeout() time.Duration {
	seconds := n.TimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultNodeTimeoutSeconds
	}

	return time.Duration(seconds) * time.Second
}

// RetryBudget returns how many transient retries the node allows, falling
// back to the default when unset.
func (n *WorkflowNode) RetryBudget() int {
	if n.MaxRetries == nil {
		return DefaultNodeMaxRetries
	}

	if *n.MaxRetries < 0 {
		return 0
	}

	return *n.MaxRetries
}

// RetryDelay returns the fixed delay between transient retry attempts,
// read from config key "retry_delay_seconds" (default 1s).
func (n *WorkflowNode) RetryDelay() time.Duration {
	if v, ok := n.Config["retry_delay_seconds"].(float64); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}

	return time.Second
}

// RunnerType resolves which step runner executes this node: config key
// "runner" when set, otherwise a default per node type kind. Approval nodes
// never reach a runner.
func (n *WorkflowNode) RunnerType(t *NodeType) string {
	if runnerType, ok := n.Config["runner"].(string); ok && runnerType != "" {
		return runnerType
	}

	switch t.Kind {
	case NodeKindIntegration:
		return "httpcall"
	case NodeKindNotification:
		return "notify"
	default:
		return "passthrough"
	}
}

// ApprovalTimeout returns how long an approval node may wait for a human
// decision before being auto-denied, read from config key "timeout_hours".
// Zero means wait forever.
func (n *WorkflowNode) ApprovalTimeout() time.Duration {
	if v, ok := n.Config["timeout_hours"].(float64); ok && v > 0 {
		return time.Duration(v * float64(time.Hour))
	}

	return 0
}
