package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	workflow := &models.Workflow{
		ID:        uuid.New().String(),
		Name:      "Invoice Approval",
		Status:    models.WorkflowStatusDraft,
		Owner:     "alex",
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	loaded, err := store.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)

	// The returned record is a copy.
	loaded.Name = "mutated"
	again, err := store.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice Approval", again.Name)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	store := NewPersistence()

	_, err := store.WorkflowRepository().GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_Save_DuplicateEdge(t *testing.T) {
	store := NewPersistence()

	workflow := &models.Workflow{
		ID:   uuid.New().String(),
		Name: "Dup",
		Edges: []*models.WorkflowEdge{
			{SourceNode: "a", TargetNode: "b", Condition: models.EdgeConditionAlways},
			{SourceNode: "a", TargetNode: "b", Condition: models.EdgeConditionAlways},
		},
	}

	err := store.WorkflowRepository().Save(context.Background(), workflow)
	assert.True(t, persistence.IsDuplicateEdge(err))
}

func TestWorkflowRepository_Delete_HidesWorkflow(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	workflow := &models.Workflow{ID: uuid.New().String(), Name: "Gone"}
	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))
	require.NoError(t, store.WorkflowRepository().Delete(ctx, workflow.ID))

	_, err := store.WorkflowRepository().GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	all, err := store.WorkflowRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNodeTypeRepository_SeededCatalog(t *testing.T) {
	store := NewPersistence()

	types, err := store.NodeTypeRepository().GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, types, 8)

	approval, err := store.NodeTypeRepository().GetByID(context.Background(), "approval")
	require.NoError(t, err)
	assert.True(t, approval.RequiresUserAction)
}

func TestExecutionRepository_CreateAndClaim(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	repo := store.ExecutionRepository()

	execution := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusQueued,
		StartedAt:  time.Now().UTC(),
	}
	rows := []*models.WorkflowNodeExecution{
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "start_1", Status: models.NodeExecutionStatusPending},
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "end_1", Status: models.NodeExecutionStatusPending},
	}

	require.NoError(t, repo.CreateExecution(ctx, execution, rows))

	all, err := repo.NodeExecutions(ctx, execution.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	claimed, err := repo.ClaimNodeExecution(ctx, execution.ID, "start_1", models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, models.NodeExecutionStatusRunning, claimed.Status)

	// Second claim on the same row loses.
	_, err = repo.ClaimNodeExecution(ctx, execution.ID, "start_1", models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning)
	assert.True(t, persistence.IsNotClaimable(err))
}

func TestExecutionRepository_ClaimIsRaceSafe(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	repo := store.ExecutionRepository()

	execution := &models.WorkflowExecution{ID: uuid.New().String(), WorkflowID: "wf-1", Status: models.ExecutionStatusRunning}
	rows := []*models.WorkflowNodeExecution{
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "join", Status: models.NodeExecutionStatusPending},
	}
	require.NoError(t, repo.CreateExecution(ctx, execution, rows))

	const claimers = 16

	var wg sync.WaitGroup

	wins := make(chan struct{}, claimers)

	for range claimers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.ClaimNodeExecution(ctx, execution.ID, "join", models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning)
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}

	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}

	assert.Equal(t, 1, won, "exactly one claimer may win")
}

func TestExecutionRepository_UpdateIfStatusClaimsTransition(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	repo := store.ExecutionRepository()

	execution := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateExecution(ctx, execution, nil))

	// A cancel wins the terminal transition.
	cancelled := *execution
	cancelled.Status = models.ExecutionStatusCancelled
	require.NoError(t, repo.UpdateIfStatus(ctx, &cancelled,
		models.ExecutionStatusQueued, models.ExecutionStatusRunning, models.ExecutionStatusPaused))

	// The finishing traversal loses the same transition.
	completed := *execution
	completed.Status = models.ExecutionStatusCompleted
	err := repo.UpdateIfStatus(ctx, &completed,
		models.ExecutionStatusQueued, models.ExecutionStatusRunning, models.ExecutionStatusPaused)
	assert.True(t, persistence.IsExecutionNotClaimable(err))

	final, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, final.Status)

	missing := *execution
	missing.ID = uuid.New().String()
	err = repo.UpdateIfStatus(ctx, &missing, models.ExecutionStatusRunning)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ListExpiredApprovals(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	repo := store.ExecutionRepository()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	execution := &models.WorkflowExecution{ID: uuid.New().String(), WorkflowID: "wf-1", Status: models.ExecutionStatusPaused}
	rows := []*models.WorkflowNodeExecution{
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "expired", Status: models.NodeExecutionStatusWaitingApproval, ApprovalExpiresAt: &past},
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "pending", Status: models.NodeExecutionStatusWaitingApproval, ApprovalExpiresAt: &future},
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "forever", Status: models.NodeExecutionStatusWaitingApproval},
	}
	require.NoError(t, repo.CreateExecution(ctx, execution, rows))

	expired, err := repo.ListExpiredApprovals(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "expired", expired[0].NodeID)
}

func TestExecutionRepository_Aggregates(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	repo := store.ExecutionRepository()

	duration := func(seconds float64) *float64 { return &seconds }

	cases := []struct {
		status   models.ExecutionStatus
		duration *float64
	}{
		{models.ExecutionStatusCompleted, duration(10)},
		{models.ExecutionStatusCompleted, duration(20)},
		{models.ExecutionStatusFailed, nil},
		{models.ExecutionStatusRunning, nil},
		{models.ExecutionStatusQueued, nil},
	}

	for _, c := range cases {
		execution := &models.WorkflowExecution{
			ID:              uuid.New().String(),
			WorkflowID:      "wf-1",
			Status:          c.status,
			StartedAt:       time.Now().UTC(),
			DurationSeconds: c.duration,
		}
		require.NoError(t, repo.CreateExecution(ctx, execution, nil))
	}

	agg, err := repo.Aggregates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), agg.Total)
	assert.Equal(t, int64(2), agg.Running)
	assert.Equal(t, int64(2), agg.Completed)
	assert.Equal(t, int64(1), agg.Failed)
	assert.Equal(t, int64(5), agg.Recent)
	assert.InDelta(t, 15.0, agg.AvgDuration, 0.001)
}

func TestWorkflowRepository_ApplyStatsDelta_Serialized(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	workflow := &models.Workflow{ID: uuid.New().String(), Name: "Counted"}
	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	const completions = 50

	var wg sync.WaitGroup

	for i := range completions {
		wg.Add(1)

		go func(succeeded bool) {
			defer wg.Done()

			delta := models.StatsDelta{
				Succeeded:       succeeded,
				Failed:          !succeeded,
				DurationSeconds: 10,
				FinishedAt:      time.Now().UTC(),
			}
			assert.NoError(t, store.WorkflowRepository().ApplyStatsDelta(ctx, workflow.ID, delta))
		}(i%2 == 0)
	}

	wg.Wait()

	loaded, err := store.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(completions), loaded.TotalRuns)
	assert.Equal(t, int64(25), loaded.SuccessfulRuns)
	assert.Equal(t, int64(25), loaded.FailedRuns)
	assert.InDelta(t, 10.0, loaded.AvgDurationSeconds, 0.001)
}

func TestAuditRepository_AppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	repo := store.AuditLogRepository()

	workflowID := "wf-1"
	executionID := "ex-1"

	first := models.NewAuditLogEntry("alex", models.AuditExecutionStarted, "run created")
	first.WorkflowID = &workflowID
	first.ExecutionID = &executionID
	require.NoError(t, repo.Append(ctx, first))

	second := models.NewAuditLogEntry("alex", models.AuditExecutionCompleted, "run completed")
	second.WorkflowID = &workflowID
	second.ExecutionID = &executionID
	require.NoError(t, repo.Append(ctx, second))

	byWorkflow, err := repo.ListByWorkflow(ctx, workflowID, 0)
	require.NoError(t, err)
	require.Len(t, byWorkflow, 2)
	assert.Equal(t, models.AuditExecutionCompleted, byWorkflow[0].Action, "newest first")

	limited, err := repo.ListByWorkflow(ctx, workflowID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byExecution, err := repo.ListByExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Len(t, byExecution, 2)
}

func TestTemplateRepository_UsageOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	repo := store.TemplateRepository()

	a := &models.WorkflowTemplate{ID: "a", Name: "Archive Documents", Category: models.TemplateCategoryDocumentProcessing, IsActive: true}
	b := &models.WorkflowTemplate{ID: "b", Name: "Budget Approval", Category: models.TemplateCategoryApproval, IsActive: true}
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))

	require.NoError(t, repo.IncrementUsage(ctx, "b"))

	templates, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "b", templates[0].ID, "most used first")

	assert.ErrorIs(t, repo.IncrementUsage(ctx, "missing"), persistence.ErrTemplateNotFound)
}
