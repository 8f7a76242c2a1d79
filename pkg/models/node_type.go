// Package models defines the core domain models for graph-based business
// process workflows.
package models

import "time"

// NodeKind classifies what a node does during traversal.
type NodeKind string

const (
	NodeKindStart        NodeKind = "start"
	NodeKindEnd          NodeKind = "end"
	NodeKindProcess      NodeKind = "process"
	NodeKindDecision     NodeKind = "decision"
	NodeKindApproval     NodeKind = "approval"
	NodeKindDocument     NodeKind = "document"     // Document extraction step
	NodeKindIntegration  NodeKind = "integration"  // External system call
	NodeKindNotification NodeKind = "notification" // Notification send
)

// NodeType is a reusable step archetype. Node types are reference data:
// created administratively, never mutated by execution.
type NodeType struct {
	ID          string   `json:"id"          validate:"required"`
	Name        string   `json:"name"        validate:"required"`
	Kind        NodeKind `json:"kind"        validate:"required"`
	Icon        string   `json:"icon"`
	Color       string   `json:"color"`
	Description string   `json:"description"`

	// ConfigSchema validates the per-node config payload at save time.
	ConfigSchema *JSONSchema `json:"config_schema,omitempty"`

	// RequiresUserAction marks node types whose execution suspends the run
	// until a human resolves it (approval gates).
	RequiresUserAction bool `json:"requires_user_action"`

	// AllowsMultipleOutputs permits fan-out: more than one outgoing edge of
	// the same condition kind.
	AllowsMultipleOutputs bool `json:"allows_multiple_outputs"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultNodeTypes returns the built-in catalog seeded into new stores.
func DefaultNodeTypes() []*NodeType {
	now := time.Now().UTC()

	types := []*NodeType{
		{ID: "start", Name: "Start", Kind: NodeKindStart, Icon: "play", Color: "#198754", AllowsMultipleOutputs: true},
		{ID: "end", Name: "End", Kind: NodeKindEnd, Icon: "stop", Color: "#dc3545"},
		{ID: "process", Name: "Process", Kind: NodeKindProcess, Icon: "gear", Color: "#0d6efd"},
		{ID: "decision", Name: "Decision", Kind: NodeKindDecision, Icon: "signpost", Color: "#fd7e14", AllowsMultipleOutputs: true},
		{ID: "approval", Name: "Approval", Kind: NodeKindApproval, Icon: "person-check", Color: "#6f42c1", RequiresUserAction: true},
		{ID: "document", Name: "Document Processing", Kind: NodeKindDocument, Icon: "file-text", Color: "#20c997"},
		{ID: "integration", Name: "Integration", Kind: NodeKindIntegration, Icon: "plug", Color: "#0dcaf0"},
		{ID: "notification", Name: "Notification", Kind: NodeKindNotification, Icon: "bell", Color: "#ffc107"},
	}

	for _, t := range types {
		t.CreatedAt = now
		t.UpdatedAt = now
	}

	return types
}
