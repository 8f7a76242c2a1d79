package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"workflow_node_executions", "workflow_executions", "workflow_edges",
		"workflow_nodes", "workflows", "audit_log", "workflow_templates",
		"node_types", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("gantry_test"),
			postgres.WithUsername("gantry"),
			postgres.WithPassword("gantry"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"workflows", "workflow_executions", "audit_log", "node_types"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_SeedsNodeTypes(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	nodeTypes, err := p.NodeTypeRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, nodeTypes, 8)

	approval, err := p.NodeTypeRepository().GetByID(ctx, "approval")
	require.NoError(t, err)
	assert.True(t, approval.RequiresUserAction)
}

func TestWorkflowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assigned := "reviewer"
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Invoice Approval",
		Description: "Route invoices over threshold for sign-off",
		Status:      models.WorkflowStatusDraft,
		TriggerType: models.TriggerTypeManual,
		Owner:       "alex",
		Nodes: []*models.WorkflowNode{
			{NodeTypeID: "start", NodeID: "start_1", Name: "Start"},
			{NodeTypeID: "approval", NodeID: "approve_1", Name: "Manager Approval", AssignedUser: &assigned,
				Config: map[string]any{"timeout_hours": float64(48)}},
			{NodeTypeID: "end", NodeID: "end_1", Name: "End"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceNode: "start_1", TargetNode: "approve_1", Condition: models.EdgeConditionAlways},
			{SourceNode: "approve_1", TargetNode: "end_1", Condition: models.EdgeConditionApprovalGranted},
		},
	}

	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	loaded, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice Approval", loaded.Name)
	require.Len(t, loaded.Nodes, 3)
	require.Len(t, loaded.Edges, 2)

	approveNode, ok := loaded.NodeByID("approve_1")
	require.True(t, ok)
	require.NotNil(t, approveNode.AssignedUser)
	assert.Equal(t, "reviewer", *approveNode.AssignedUser)
	assert.Equal(t, 48*time.Hour, approveNode.ApprovalTimeout())
}

func TestWorkflowRepository_DuplicateEdgeRejected(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := &models.Workflow{
		ID:     uuid.New().String(),
		Name:   "Dup",
		Status: models.WorkflowStatusDraft,
		Nodes: []*models.WorkflowNode{
			{NodeTypeID: "start", NodeID: "a", Name: "A"},
			{NodeTypeID: "end", NodeID: "b", Name: "B"},
		},
		Edges: []*models.WorkflowEdge{
			{SourceNode: "a", TargetNode: "b", Condition: models.EdgeConditionAlways},
			{SourceNode: "a", TargetNode: "b", Condition: models.EdgeConditionAlways},
		},
	}

	err := p.WorkflowRepository().Save(ctx, workflow)
	assert.True(t, persistence.IsDuplicateEdge(err))
}

func TestWorkflowRepository_StatsDelta(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := &models.Workflow{ID: uuid.New().String(), Name: "Counted", Status: models.WorkflowStatusActive}
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	now := time.Now().UTC()

	require.NoError(t, p.WorkflowRepository().ApplyStatsDelta(ctx, workflow.ID,
		models.StatsDelta{Succeeded: true, DurationSeconds: 10, FinishedAt: now}))
	require.NoError(t, p.WorkflowRepository().ApplyStatsDelta(ctx, workflow.ID,
		models.StatsDelta{Succeeded: true, DurationSeconds: 20, FinishedAt: now}))
	require.NoError(t, p.WorkflowRepository().ApplyStatsDelta(ctx, workflow.ID,
		models.StatsDelta{Failed: true, FinishedAt: now}))

	loaded, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.TotalRuns)
	assert.Equal(t, int64(2), loaded.SuccessfulRuns)
	assert.Equal(t, int64(1), loaded.FailedRuns)
	assert.InDelta(t, 15.0, loaded.AvgDurationSeconds, 0.001)
	require.NotNil(t, loaded.LastRunAt)
}

func TestExecutionRepository_CreateClaimAndExpire(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	past := time.Now().UTC().Add(-time.Hour)
	execution := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: uuid.New().String(),
		Status:     models.ExecutionStatusQueued,
		StartedAt:  time.Now().UTC(),
		ContextData: map[string]any{
			"amount": float64(1200),
		},
	}
	rows := []*models.WorkflowNodeExecution{
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "start_1", Status: models.NodeExecutionStatusPending},
		{ID: uuid.New().String(), ExecutionID: execution.ID, NodeID: "approve_1", Status: models.NodeExecutionStatusWaitingApproval, ApprovalExpiresAt: &past},
	}

	require.NoError(t, repo.CreateExecution(ctx, execution, rows))

	loaded, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusQueued, loaded.Status)
	assert.Equal(t, float64(1200), loaded.ContextData["amount"])

	claimed, err := repo.ClaimNodeExecution(ctx, execution.ID, "start_1", models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, models.NodeExecutionStatusRunning, claimed.Status)

	_, err = repo.ClaimNodeExecution(ctx, execution.ID, "start_1", models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning)
	assert.True(t, persistence.IsNotClaimable(err))

	_, err = repo.ClaimNodeExecution(ctx, execution.ID, "missing", models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning)
	assert.True(t, persistence.IsNodeExecutionNotFound(err))

	expired, err := repo.ListExpiredApprovals(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "approve_1", expired[0].NodeID)
}

func TestExecutionRepository_UpdateIfStatusClaimsTransition(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	execution := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: uuid.New().String(),
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateExecution(ctx, execution, nil))

	cancelled := *execution
	cancelled.Status = models.ExecutionStatusCancelled
	require.NoError(t, repo.UpdateIfStatus(ctx, &cancelled,
		models.ExecutionStatusQueued, models.ExecutionStatusRunning, models.ExecutionStatusPaused))

	// The losing terminal writer gets a claim failure, not a silent overwrite.
	completed := *execution
	completed.Status = models.ExecutionStatusCompleted
	err := repo.UpdateIfStatus(ctx, &completed,
		models.ExecutionStatusQueued, models.ExecutionStatusRunning, models.ExecutionStatusPaused)
	assert.True(t, persistence.IsExecutionNotClaimable(err))

	loaded, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, loaded.Status)

	missing := *execution
	missing.ID = uuid.New().String()
	err = repo.UpdateIfStatus(ctx, &missing, models.ExecutionStatusRunning)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestAuditLogRepository_AppendAndList(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflowID := uuid.New().String()
	entry := models.NewAuditLogEntry("alex", models.AuditWorkflowCreated, "created workflow")
	entry.WorkflowID = &workflowID

	require.NoError(t, p.AuditLogRepository().Append(ctx, entry))

	entries, err := p.AuditLogRepository().ListByWorkflow(ctx, workflowID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditWorkflowCreated, entries[0].Action)
}
