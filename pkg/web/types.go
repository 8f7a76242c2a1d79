// Package web provides the HTTP handlers and request types for the workflow
// API.
package web

import "github.com/mbarbosa/gantry/pkg/models"

// NodeRequest is one node of a workflow definition payload.
type NodeRequest struct {
	NodeTypeID     string         `json:"node_type_id" validate:"required"`
	NodeID         string         `json:"node_id"      validate:"required"`
	Name           string         `json:"name"         validate:"required,min=1"`
	Description    string         `json:"description"`
	PositionX      float64        `json:"position_x"`
	PositionY      float64        `json:"position_y"`
	Config         map[string]any `json:"config"`
	IsRequired     bool           `json:"is_required"`
	TimeoutSeconds int            `json:"timeout_seconds" validate:"omitempty,min=1"`
	MaxRetries     *int           `json:"max_retries"     validate:"omitempty,min=0,max=10"`
	AssignedUser   *string        `json:"assigned_user,omitempty"`
}

// EdgeRequest is one edge of a workflow definition payload.
type EdgeRequest struct {
	SourceNode      string               `json:"source_node" validate:"required"`
	TargetNode      string               `json:"target_node" validate:"required"`
	Condition       models.EdgeCondition `json:"condition"   validate:"required"`
	ConditionConfig map[string]any       `json:"condition_config,omitempty"`
	Label           string               `json:"label,omitempty"`
}

// SaveWorkflowRequest is the request body for creating or updating a
// workflow definition.
type SaveWorkflowRequest struct {
	Name           string             `json:"name"  validate:"required,min=3"`
	Description    string             `json:"description"`
	TriggerType    models.TriggerType `json:"trigger_type,omitempty"`
	ScheduleConfig map[string]any     `json:"schedule_config,omitempty"`
	Owner          string             `json:"owner" validate:"required"`
	AssignedUsers  []string           `json:"assigned_users,omitempty"`
	Nodes          []NodeRequest      `json:"nodes"`
	Edges          []EdgeRequest      `json:"edges"`
}

// ToModel builds the workflow model saved by the service. id is empty on
// creation.
func (r *SaveWorkflowRequest) ToModel(id string) *models.Workflow {
	workflow := &models.Workflow{
		ID:             id,
		Name:           r.Name,
		Description:    r.Description,
		TriggerType:    r.TriggerType,
		ScheduleConfig: r.ScheduleConfig,
		Owner:          r.Owner,
		AssignedUsers:  r.AssignedUsers,
		Nodes:          make([]*models.WorkflowNode, 0, len(r.Nodes)),
		Edges:          make([]*models.WorkflowEdge, 0, len(r.Edges)),
	}

	for _, n := range r.Nodes {
		workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{
			NodeTypeID:     n.NodeTypeID,
			NodeID:         n.NodeID,
			Name:           n.Name,
			Description:    n.Description,
			PositionX:      n.PositionX,
			PositionY:      n.PositionY,
			Config:         n.Config,
			IsRequired:     n.IsRequired,
			TimeoutSeconds: n.TimeoutSeconds,
			MaxRetries:     n.MaxRetries,
			AssignedUser:   n.AssignedUser,
		})
	}

	for _, e := range r.Edges {
		workflow.Edges = append(workflow.Edges, &models.WorkflowEdge{
			SourceNode:      e.SourceNode,
			TargetNode:      e.TargetNode,
			Condition:       e.Condition,
			ConditionConfig: e.ConditionConfig,
			Label:           e.Label,
		})
	}

	return workflow
}

// ActorRequest carries the acting user for lifecycle operations.
type ActorRequest struct {
	Actor string `json:"actor"`
}

// ActorOrDefault returns the actor, falling back to "api".
func (r ActorRequest) ActorOrDefault() string {
	if r.Actor == "" {
		return "api"
	}

	return r.Actor
}

// CreateExecutionRequest is the request body for starting a workflow run.
type CreateExecutionRequest struct {
	TriggeredBy string         `json:"triggered_by" validate:"required"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ResolveApprovalRequest is the request body for deciding an approval gate.
type ResolveApprovalRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Actor    string `json:"actor"    validate:"required"`
	Notes    string `json:"notes,omitempty"`
}

// InstantiateTemplateRequest is the request body for stamping a template out
// as a draft workflow.
type InstantiateTemplateRequest struct {
	Name  string `json:"name,omitempty"`
	Owner string `json:"owner" validate:"required"`
}

// ExecutionResponse bundles an execution with its node ledger.
type ExecutionResponse struct {
	Execution *models.WorkflowExecution      `json:"execution"`
	Nodes     []*models.WorkflowNodeExecution `json:"nodes"`
}
