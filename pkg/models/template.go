package models

import "time"

// TemplateCategory groups workflow templates in the catalog.
type TemplateCategory string

const (
	TemplateCategoryDocumentProcessing TemplateCategory = "document_processing"
	TemplateCategoryApproval           TemplateCategory = "approval"
	TemplateCategoryCustomerService    TemplateCategory = "customer_service"
	TemplateCategoryIntegration        TemplateCategory = "integration"
	TemplateCategoryCompliance         TemplateCategory = "compliance"
)

// WorkflowTemplate is a pre-built process definition users instantiate into
// draft workflows.
type WorkflowTemplate struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Category    TemplateCategory `json:"category"    validate:"required"`

	Definition TemplateDefinition `json:"definition"`

	SetupTimeMinutes int      `json:"setup_time_minutes"`
	ComplexityLevel  int      `json:"complexity_level" validate:"omitempty,min=1,max=5"`
	Tags             []string `json:"tags,omitempty"`

	UsageCount int64 `json:"usage_count"`
	IsActive   bool  `json:"is_active"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TemplateDefinition is the serialized graph a template stamps out.
type TemplateDefinition struct {
	Nodes []TemplateNode `json:"nodes"`
	Edges []TemplateEdge `json:"edges"`
}

// TemplateNode describes one node of a template definition.
type TemplateNode struct {
	NodeID         string         `json:"node_id"`
	Type           string         `json:"type"` // NodeType ID
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	PositionX      float64        `json:"position_x"`
	PositionY      float64        `json:"position_y"`
	Config         map[string]any `json:"config,omitempty"`
	IsRequired     *bool          `json:"is_required,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty"`
}

// TemplateEdge describes one edge of a template definition.
type TemplateEdge struct {
	Source          string         `json:"source"`
	Target          string         `json:"target"`
	Condition       EdgeCondition  `json:"condition,omitempty"`
	ConditionConfig map[string]any `json:"condition_config,omitempty"`
	Label           string         `json:"label,omitempty"`
}
