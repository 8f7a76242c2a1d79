package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

// Template implements the workflow template catalog and instantiation.
type Template struct {
	logger   *slog.Logger
	store    persistence.Persistence
	workflow *Workflow
}

// NewTemplate creates a new template service. Instantiated workflows are
// saved through the workflow service so they get full graph validation.
func NewTemplate(logger *slog.Logger, store persistence.Persistence, workflow *Workflow) *Template {
	return &Template{
		logger:   logger.With("module", "template_service"),
		store:    store,
		workflow: workflow,
	}
}

// List returns all active templates, most used first.
func (t *Template) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	return t.store.TemplateRepository().GetAll(ctx)
}

// Get returns one template.
func (t *Template) Get(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return t.store.TemplateRepository().GetByID(ctx, id)
}

// CreateWorkflow stamps a template's definition out as a new draft workflow
// owned by the actor and increments the template's usage counter.
func (t *Template) CreateWorkflow(ctx context.Context, templateID, name, owner string) (*models.Workflow, error) {
	template, err := t.store.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	if !template.IsActive {
		return nil, fmt.Errorf("template %s: %w", templateID, ErrTemplateInactive)
	}

	if name == "" {
		name = template.Name
	}

	workflow := &models.Workflow{
		Name:        name,
		Description: template.Description,
		Status:      models.WorkflowStatusDraft,
		TriggerType: models.TriggerTypeManual,
		TemplateID:  &templateID,
		Owner:       owner,
		Nodes:       make([]*models.WorkflowNode, 0, len(template.Definition.Nodes)),
		Edges:       make([]*models.WorkflowEdge, 0, len(template.Definition.Edges)),
	}

	for _, tn := range template.Definition.Nodes {
		node := &models.WorkflowNode{
			NodeTypeID:     tn.Type,
			NodeID:         tn.NodeID,
			Name:           tn.Name,
			Description:    tn.Description,
			PositionX:      tn.PositionX,
			PositionY:      tn.PositionY,
			Config:         tn.Config,
			TimeoutSeconds: tn.TimeoutSeconds,
			MaxRetries:     tn.MaxRetries,
		}

		if tn.IsRequired != nil {
			node.IsRequired = *tn.IsRequired
		}

		workflow.Nodes = append(workflow.Nodes, node)
	}

	for _, te := range template.Definition.Edges {
		condition := te.Condition
		if condition == "" {
			condition = models.EdgeConditionAlways
		}

		workflow.Edges = append(workflow.Edges, &models.WorkflowEdge{
			SourceNode:      te.Source,
			TargetNode:      te.Target,
			Condition:       condition,
			ConditionConfig: te.ConditionConfig,
			Label:           te.Label,
		})
	}

	workflow, err = t.workflow.Save(ctx, workflow, owner)
	if err != nil {
		return nil, err
	}

	err = t.store.TemplateRepository().IncrementUsage(ctx, templateID)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to increment template usage", "error", err, "template_id", templateID)
	}

	t.logger.InfoContext(ctx, "Workflow created from template",
		"template_id", templateID, "workflow_id", workflow.ID, "owner", owner)

	return workflow, nil
}
