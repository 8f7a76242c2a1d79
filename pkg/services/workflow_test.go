package services_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/persistence/memory"
	"github.com/mbarbosa/gantry/pkg/registry"
	"github.com/mbarbosa/gantry/pkg/runners/httpcall"
	"github.com/mbarbosa/gantry/pkg/runners/notify"
	"github.com/mbarbosa/gantry/pkg/runners/passthrough"
	"github.com/mbarbosa/gantry/pkg/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkflowService(store *memory.Persistence) *services.Workflow {
	logger := testLogger()

	reg := registry.NewRegistry(logger)
	reg.RegisterRunner(passthrough.NewFactory())
	reg.RegisterRunner(httpcall.NewFactory())
	reg.RegisterRunner(notify.NewFactory())

	return services.NewWorkflow(logger, store, reg, nil)
}

func draftWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:  "Invoice Approval",
		Owner: "finance",
		Nodes: []*models.WorkflowNode{
			{NodeTypeID: "start", NodeID: "start_1", Name: "Start"},
			{NodeTypeID: "process", NodeID: "review", Name: "Review"},
			{NodeTypeID: "end", NodeID: "end_1", Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceNode: "start_1", TargetNode: "review", Condition: models.EdgeConditionAlways},
			{SourceNode: "review", TargetNode: "end_1", Condition: models.EdgeConditionOnSuccess},
		},
	}
}

func TestSaveCreatesDraftWithDefaults(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	saved, err := svc.Save(t.Context(), draftWorkflow(), "finance")
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, models.WorkflowStatusDraft, saved.Status)
	assert.Equal(t, models.TriggerTypeManual, saved.TriggerType)

	for _, node := range saved.Nodes {
		assert.Equal(t, models.DefaultNodeTimeoutSeconds, node.TimeoutSeconds, node.NodeID)
		assert.Equal(t, models.DefaultNodeMaxRetries, node.RetryBudget(), node.NodeID)
	}

	entries, err := store.AuditLogRepository().ListByWorkflow(t.Context(), saved.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditWorkflowCreated, entries[0].Action)
	assert.Equal(t, "finance", entries[0].Actor)
}

func TestSaveKeepsExplicitZeroRetries(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	workflow := draftWorkflow()
	zero := 0
	workflow.Nodes[1].MaxRetries = &zero

	saved, err := svc.Save(t.Context(), workflow, "finance")
	require.NoError(t, err)

	for _, node := range saved.Nodes {
		if node.NodeID != "review" {
			continue
		}

		require.NotNil(t, node.MaxRetries)
		assert.Equal(t, 0, *node.MaxRetries)
		assert.Equal(t, 0, node.RetryBudget())
	}
}

func TestSaveValidationFailures(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	t.Run("name too short", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Name = "ab"

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrInvalidWorkflow)
	})

	t.Run("unknown node type", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes[1].NodeTypeID = "mainframe"

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrUnknownNodeType)
	})

	t.Run("duplicate node ID", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes[1].NodeID = "start_1"

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrInvalidWorkflow)
	})

	t.Run("edge references unknown node", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Edges[1].TargetNode = "ghost"

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrUnknownNodeRef)
	})

	t.Run("duplicate edge", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Edges = append(workflow.Edges, &models.WorkflowEdge{
			SourceNode: "start_1", TargetNode: "review", Condition: models.EdgeConditionAlways,
		})

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrDuplicateEdge)
	})

	t.Run("conditional edge without field", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Edges[1].Condition = models.EdgeConditionConditional
		workflow.Edges[1].ConditionConfig = map[string]any{"operator": "eq"}

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrInvalidEdgeCondition)
	})

	t.Run("integration node missing url", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes[1] = &models.WorkflowNode{
			NodeTypeID: "integration", NodeID: "review", Name: "Call ERP",
			Config: map[string]any{"method": "POST"},
		}

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrInvalidNodeConfig)
	})

	t.Run("unregistered runner", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes[1].Config = map[string]any{"runner": "cobol_bridge"}

		_, err := svc.Save(t.Context(), workflow, "finance")
		require.ErrorIs(t, err, services.ErrInvalidNodeConfig)
	})
}

func TestSaveRejectsArchivedWorkflow(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	saved, err := svc.Save(t.Context(), draftWorkflow(), "finance")
	require.NoError(t, err)

	_, err = svc.Archive(t.Context(), saved.ID, "finance")
	require.NoError(t, err)

	saved.Description = "post-archive edit"
	_, err = svc.Save(t.Context(), saved, "finance")
	require.ErrorIs(t, err, services.ErrWorkflowNotEditable)
}

func TestActivateGuards(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	t.Run("no end node", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes = workflow.Nodes[:2]
		workflow.Edges = workflow.Edges[:1]

		saved, err := svc.Save(t.Context(), workflow, "finance")
		require.NoError(t, err)

		_, err = svc.Activate(t.Context(), saved.ID, "finance")
		require.ErrorIs(t, err, services.ErrNoEndNode)

		unchanged, err := store.WorkflowRepository().GetByID(t.Context(), saved.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusDraft, unchanged.Status)
	})

	t.Run("no start node", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes = workflow.Nodes[1:]
		workflow.Edges = workflow.Edges[1:]

		saved, err := svc.Save(t.Context(), workflow, "finance")
		require.NoError(t, err)

		_, err = svc.Activate(t.Context(), saved.ID, "finance")
		require.ErrorIs(t, err, services.ErrNoStartNode)
	})

	t.Run("fan-out on process node", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{
			NodeTypeID: "process", NodeID: "notify_row", Name: "Notify",
		})
		workflow.Edges = append(workflow.Edges, &models.WorkflowEdge{
			SourceNode: "review", TargetNode: "notify_row", Condition: models.EdgeConditionAlways,
		})

		saved, err := svc.Save(t.Context(), workflow, "finance")
		require.NoError(t, err)

		_, err = svc.Activate(t.Context(), saved.ID, "finance")
		require.ErrorIs(t, err, services.ErrFanOutNotAllowed)
	})

	t.Run("opposite outcomes are not fan-out", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{
			NodeTypeID: "process", NodeID: "escalate", Name: "Escalate",
		})
		workflow.Edges = append(workflow.Edges, &models.WorkflowEdge{
			SourceNode: "review", TargetNode: "escalate", Condition: models.EdgeConditionOnFailure,
		})

		saved, err := svc.Save(t.Context(), workflow, "finance")
		require.NoError(t, err)

		activated, err := svc.Activate(t.Context(), saved.ID, "finance")
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusActive, activated.Status)
	})

	t.Run("fan-out allowed on start node", func(t *testing.T) {
		workflow := draftWorkflow()
		workflow.Nodes = append(workflow.Nodes,
			&models.WorkflowNode{NodeTypeID: "process", NodeID: "parallel", Name: "Parallel"},
			&models.WorkflowNode{NodeTypeID: "end", NodeID: "end_2", Name: "End 2"})
		workflow.Edges = append(workflow.Edges,
			&models.WorkflowEdge{SourceNode: "start_1", TargetNode: "parallel", Condition: models.EdgeConditionAlways},
			&models.WorkflowEdge{SourceNode: "parallel", TargetNode: "end_2", Condition: models.EdgeConditionOnSuccess})

		saved, err := svc.Save(t.Context(), workflow, "finance")
		require.NoError(t, err)

		_, err = svc.Activate(t.Context(), saved.ID, "finance")
		require.NoError(t, err)
	})
}

func TestLifecycleTransitions(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	saved, err := svc.Save(t.Context(), draftWorkflow(), "finance")
	require.NoError(t, err)

	// Pause requires active.
	_, err = svc.Pause(t.Context(), saved.ID, "finance")
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	activated, err := svc.Activate(t.Context(), saved.ID, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	// Activating an active workflow is a no-op.
	_, err = svc.Activate(t.Context(), saved.ID, "finance")
	require.NoError(t, err)

	paused, err := svc.Pause(t.Context(), saved.ID, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, paused.Status)

	resumed, err := svc.Resume(t.Context(), saved.ID, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, resumed.Status)

	deactivated, err := svc.Deactivate(t.Context(), saved.ID, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInactive, deactivated.Status)

	// Resume only applies to paused workflows.
	_, err = svc.Resume(t.Context(), saved.ID, "finance")
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	archived, err := svc.Archive(t.Context(), saved.ID, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusArchived, archived.Status)

	_, err = svc.Activate(t.Context(), saved.ID, "finance")
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	entries, err := store.AuditLogRepository().ListByWorkflow(t.Context(), saved.ID, 0)
	require.NoError(t, err)

	actions := make([]models.AuditAction, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}

	assert.Contains(t, actions, models.AuditWorkflowActivated)
	assert.Contains(t, actions, models.AuditWorkflowDeactivated)
}

func TestDeleteSoftDeletes(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	saved, err := svc.Save(t.Context(), draftWorkflow(), "finance")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(t.Context(), saved.ID, "finance"))

	_, err = svc.Get(t.Context(), saved.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestListNodeTypesReturnsCatalog(t *testing.T) {
	store := memory.NewPersistence()
	svc := newWorkflowService(store)

	types, err := svc.ListNodeTypes(t.Context())
	require.NoError(t, err)
	assert.Len(t, types, 8)
}
