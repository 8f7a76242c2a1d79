package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/mbarbosa/gantry/pkg/eventbus"
	"github.com/mbarbosa/gantry/pkg/events"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/registry"
)

// Workflow implements workflow authoring and lifecycle operations. Graph
// validation happens at save and activation time, never during a run.
type Workflow struct {
	logger   *slog.Logger
	store    persistence.Persistence
	registry *registry.Registry
	bus      eventbus.EventBus
	validate *validator.Validate
}

// NewWorkflow creates a new workflow service. bus may be nil in contexts
// that do not publish lifecycle events.
func NewWorkflow(logger *slog.Logger, store persistence.Persistence, reg *registry.Registry, bus eventbus.EventBus) *Workflow {
	return &Workflow{
		logger:   logger.With("module", "workflow_service"),
		store:    store,
		registry: reg,
		bus:      bus,
		validate: validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.store == nil {
		return "Persistence layer not initialized", false
	}

	err := w.store.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns all workflows with their nodes and edges.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	return w.store.WorkflowRepository().GetAll(ctx)
}

// Get returns one workflow with its nodes and edges.
func (w *Workflow) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return w.store.WorkflowRepository().GetByID(ctx, id)
}

// AuditTrail returns the most recent audit entries for a workflow, newest
// first. limit <= 0 means no limit.
func (w *Workflow) AuditTrail(ctx context.Context, id string, limit int) ([]*models.AuditLogEntry, error) {
	_, err := w.store.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return w.store.AuditLogRepository().ListByWorkflow(ctx, id, limit)
}

// ListNodeTypes returns the step archetype catalog.
func (w *Workflow) ListNodeTypes(ctx context.Context) ([]*models.NodeType, error) {
	return w.store.NodeTypeRepository().GetAll(ctx)
}

// Save validates and persists a workflow definition. New workflows start in
// draft status; archived workflows are read-only.
func (w *Workflow) Save(ctx context.Context, workflow *models.Workflow, actor string) (*models.Workflow, error) {
	created := workflow.ID == ""

	if !created {
		existing, err := w.store.WorkflowRepository().GetByID(ctx, workflow.ID)
		if err != nil {
			return nil, err
		}

		if existing.Status == models.WorkflowStatusArchived {
			return nil, fmt.Errorf("workflow %s is archived: %w", workflow.ID, ErrWorkflowNotEditable)
		}

		workflow.Status = existing.Status
		workflow.CreatedAt = existing.CreatedAt
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if workflow.TriggerType == "" {
		workflow.TriggerType = models.TriggerTypeManual
	}

	applyNodeDefaults(workflow)

	err := w.validateWorkflow(ctx, workflow)
	if err != nil {
		return nil, err
	}

	err = w.store.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		if persistence.IsDuplicateEdge(err) {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateEdge, err)
		}

		return nil, err
	}

	action := models.AuditWorkflowUpdated
	description := "workflow updated"

	if created {
		action = models.AuditWorkflowCreated
		description = "workflow created"
	}

	w.audit(ctx, actor, action, description, workflow.ID)
	w.logger.InfoContext(ctx, "Workflow saved", "workflow_id", workflow.ID, "actor", actor, "created", created)

	return workflow, nil
}

// Activate transitions a workflow to active after validating its graph:
// a start and an end node must exist and fan-out is only allowed on node
// types that permit multiple outgoing paths. Activating an active workflow
// is a no-op.
func (w *Workflow) Activate(ctx context.Context, id, actor string) (*models.Workflow, error) {
	workflow, err := w.store.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch workflow.Status {
	case models.WorkflowStatusActive:
		return workflow, nil
	case models.WorkflowStatusArchived:
		return nil, fmt.Errorf("cannot activate archived workflow %s: %w", id, ErrInvalidTransition)
	}

	err = w.validateForActivation(ctx, workflow)
	if err != nil {
		return nil, err
	}

	err = w.store.WorkflowRepository().UpdateStatus(ctx, id, models.WorkflowStatusActive)
	if err != nil {
		return nil, err
	}

	workflow.Status = models.WorkflowStatusActive

	w.audit(ctx, actor, models.AuditWorkflowActivated, "workflow activated", id)
	w.publish(ctx, id, events.WorkflowActivated{
		BaseEvent: events.NewBaseEvent(events.WorkflowActivatedEvent, id),
		Actor:     actor,
	})

	w.logger.InfoContext(ctx, "Workflow activated", "workflow_id", id, "actor", actor)

	return workflow, nil
}

// Pause transitions an active workflow to paused. New executions cannot be
// created while paused; in-flight runs are unaffected.
func (w *Workflow) Pause(ctx context.Context, id, actor string) (*models.Workflow, error) {
	return w.transition(ctx, id, actor, models.WorkflowStatusPaused,
		[]models.WorkflowStatus{models.WorkflowStatusActive},
		models.AuditWorkflowUpdated, "workflow paused")
}

// Resume transitions a paused workflow back to active, re-running the
// activation guards in case the graph was edited while paused.
func (w *Workflow) Resume(ctx context.Context, id, actor string) (*models.Workflow, error) {
	workflow, err := w.store.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusPaused {
		return nil, fmt.Errorf("workflow %s is %s: %w", id, workflow.Status, ErrInvalidTransition)
	}

	return w.Activate(ctx, id, actor)
}

// Deactivate transitions an active or paused workflow to inactive.
func (w *Workflow) Deactivate(ctx context.Context, id, actor string) (*models.Workflow, error) {
	workflow, err := w.transition(ctx, id, actor, models.WorkflowStatusInactive,
		[]models.WorkflowStatus{models.WorkflowStatusActive, models.WorkflowStatusPaused},
		models.AuditWorkflowDeactivated, "workflow deactivated")
	if err != nil {
		return nil, err
	}

	w.publish(ctx, id, events.WorkflowDeactivated{
		BaseEvent: events.NewBaseEvent(events.WorkflowDeactivatedEvent, id),
		Actor:     actor,
	})

	return workflow, nil
}

// Archive makes a workflow read-only. Any non-archived status may be
// archived.
func (w *Workflow) Archive(ctx context.Context, id, actor string) (*models.Workflow, error) {
	return w.transition(ctx, id, actor, models.WorkflowStatusArchived,
		[]models.WorkflowStatus{
			models.WorkflowStatusDraft, models.WorkflowStatusActive,
			models.WorkflowStatusPaused, models.WorkflowStatusInactive,
		},
		models.AuditWorkflowUpdated, "workflow archived")
}

// Delete soft-deletes a workflow. Execution history and audit entries are
// retained.
func (w *Workflow) Delete(ctx context.Context, id, actor string) error {
	err := w.store.WorkflowRepository().Delete(ctx, id)
	if err != nil {
		return err
	}

	w.audit(ctx, actor, models.AuditWorkflowUpdated, "workflow deleted", id)
	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id, "actor", actor)

	return nil
}

func (w *Workflow) transition(ctx context.Context, id, actor string, to models.WorkflowStatus, from []models.WorkflowStatus, action models.AuditAction, description string) (*models.Workflow, error) {
	workflow, err := w.store.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false

	for _, status := range from {
		if workflow.Status == status {
			allowed = true

			break
		}
	}

	if !allowed {
		return nil, fmt.Errorf("workflow %s is %s, cannot transition to %s: %w",
			id, workflow.Status, to, ErrInvalidTransition)
	}

	err = w.store.WorkflowRepository().UpdateStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}

	workflow.Status = to

	w.audit(ctx, actor, action, description, id)
	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", id, "status", to, "actor", actor)

	return workflow, nil
}

// validateWorkflow checks struct tags and graph consistency: known node
// types, unique node IDs, edges referencing existing nodes, no duplicate
// edges, parseable conditions, and runner configs matching their schema.
func (w *Workflow) validateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	err := w.validate.Struct(workflow)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	nodeTypes, err := w.store.NodeTypeRepository().GetAll(ctx)
	if err != nil {
		return err
	}

	typesByID := make(map[string]*models.NodeType, len(nodeTypes))
	for _, t := range nodeTypes {
		typesByID[t.ID] = t
	}

	nodeIDs := make(map[string]bool, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		err = w.validate.Struct(node)
		if err != nil {
			return fmt.Errorf("%w: node %s: %w", ErrInvalidWorkflow, node.NodeID, err)
		}

		if nodeIDs[node.NodeID] {
			return fmt.Errorf("%w: duplicate node ID %s", ErrInvalidWorkflow, node.NodeID)
		}

		nodeIDs[node.NodeID] = true

		nodeType, ok := typesByID[node.NodeTypeID]
		if !ok {
			return fmt.Errorf("%w: node %s references type %s", ErrUnknownNodeType, node.NodeID, node.NodeTypeID)
		}

		err = w.validateNodeConfig(node, nodeType)
		if err != nil {
			return err
		}
	}

	edgeKeys := make(map[string]bool, len(workflow.Edges))

	for _, edge := range workflow.Edges {
		err = w.validate.Struct(edge)
		if err != nil {
			return fmt.Errorf("%w: edge %s: %w", ErrInvalidWorkflow, edge.Key(), err)
		}

		if !models.ValidEdgeCondition(edge.Condition) {
			return fmt.Errorf("%w: edge %s condition %s", ErrInvalidEdgeCondition, edge.Key(), edge.Condition)
		}

		if !nodeIDs[edge.SourceNode] {
			return fmt.Errorf("%w: edge source %s", ErrUnknownNodeRef, edge.SourceNode)
		}

		if !nodeIDs[edge.TargetNode] {
			return fmt.Errorf("%w: edge target %s", ErrUnknownNodeRef, edge.TargetNode)
		}

		if edgeKeys[edge.Key()] {
			return fmt.Errorf("%w: %s", ErrDuplicateEdge, edge.Key())
		}

		edgeKeys[edge.Key()] = true

		if edge.Condition == models.EdgeConditionConditional {
			_, err = models.ParseConditionExpr(edge.ConditionConfig)
			if err != nil {
				return fmt.Errorf("%w: edge %s: %w", ErrInvalidEdgeCondition, edge.Key(), err)
			}
		}
	}

	return nil
}

// validateNodeConfig checks the node's config payload against its runner's
// JSON schema. Approval nodes never dispatch to a runner, so only their
// engine-read keys matter and no schema applies.
func (w *Workflow) validateNodeConfig(node *models.WorkflowNode, nodeType *models.NodeType) error {
	if nodeType.RequiresUserAction || w.registry == nil {
		return nil
	}

	runnerType := node.RunnerType(nodeType)
	if !w.registry.IsRunnerRegistered(runnerType) {
		return fmt.Errorf("%w: node %s references unregistered runner %s",
			ErrInvalidNodeConfig, node.NodeID, runnerType)
	}

	err := w.registry.ValidateConfig(runnerType, node.Config)
	if err != nil {
		return fmt.Errorf("%w: node %s: %w", ErrInvalidNodeConfig, node.NodeID, err)
	}

	return nil
}

func (w *Workflow) validateForActivation(ctx context.Context, workflow *models.Workflow) error {
	nodeTypes, err := w.store.NodeTypeRepository().GetAll(ctx)
	if err != nil {
		return err
	}

	typesByID := make(map[string]*models.NodeType, len(nodeTypes))
	for _, t := range nodeTypes {
		typesByID[t.ID] = t
	}

	hasStart := false
	hasEnd := false

	for _, node := range workflow.Nodes {
		t, ok := typesByID[node.NodeTypeID]
		if !ok {
			return fmt.Errorf("%w: node %s references type %s", ErrUnknownNodeType, node.NodeID, node.NodeTypeID)
		}

		switch t.Kind {
		case models.NodeKindStart:
			hasStart = true
		case models.NodeKindEnd:
			hasEnd = true
		}
	}

	if !hasStart {
		return fmt.Errorf("workflow %s: %w", workflow.ID, ErrNoStartNode)
	}

	if !hasEnd {
		return fmt.Errorf("workflow %s: %w", workflow.ID, ErrNoEndNode)
	}

	return w.validateFanOut(workflow, typesByID)
}

// validateFanOut rejects nodes whose outgoing edges may be traversed
// simultaneously when their type does not allow multiple outputs. Edges
// gated on opposite outcomes (on_success vs on_failure, granted vs denied)
// are mutually exclusive and do not count as fan-out together.
func (w *Workflow) validateFanOut(workflow *models.Workflow, typesByID map[string]*models.NodeType) error {
	type edgeCounts struct {
		unconditional int // always + conditional
		success       int // on_success + approval_granted
		failure       int // on_failure + approval_denied
	}

	counts := make(map[string]*edgeCounts)

	for _, edge := range workflow.Edges {
		c, ok := counts[edge.SourceNode]
		if !ok {
			c = &edgeCounts{}
			counts[edge.SourceNode] = c
		}

		switch edge.Condition {
		case models.EdgeConditionAlways, models.EdgeConditionConditional:
			c.unconditional++
		case models.EdgeConditionOnSuccess, models.EdgeConditionApprovalGranted:
			c.success++
		default:
			c.failure++
		}
	}

	for _, node := range workflow.Nodes {
		c, ok := counts[node.NodeID]
		if !ok {
			continue
		}

		t := typesByID[node.NodeTypeID]
		if t == nil || t.AllowsMultipleOutputs {
			continue
		}

		worst := c.unconditional + c.success
		if failure := c.unconditional + c.failure; failure > worst {
			worst = failure
		}

		if worst > 1 {
			return fmt.Errorf("%w: node %s has %d concurrent outgoing edges", ErrFanOutNotAllowed, node.NodeID, worst)
		}
	}

	return nil
}

func applyNodeDefaults(workflow *models.Workflow) {
	for _, node := range workflow.Nodes {
		if node.TimeoutSeconds <= 0 {
			node.TimeoutSeconds = models.DefaultNodeTimeoutSeconds
		}

		// An explicit zero stays zero; only unset falls back to the default.
		if node.MaxRetries == nil {
			retries := models.DefaultNodeMaxRetries
			node.MaxRetries = &retries
		} else if *node.MaxRetries < 0 {
			retries := 0
			node.MaxRetries = &retries
		}
	}
}

func (w *Workflow) audit(ctx context.Context, actor string, action models.AuditAction, description, workflowID string) {
	entry := models.NewAuditLogEntry(actor, action, description)
	entry.WorkflowID = &workflowID

	err := w.store.AuditLogRepository().Append(ctx, entry)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to append audit entry", "error", err, "action", action)
	}
}

func (w *Workflow) publish(ctx context.Context, key string, event eventbus.Event) {
	if w.bus == nil {
		return
	}

	err := w.bus.Publish(ctx, key, event)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to publish event", "error", err, "event_type", event.GetType())
	}
}
