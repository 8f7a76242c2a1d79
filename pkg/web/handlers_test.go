package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbarbosa/gantry/pkg/engine"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence/memory"
	"github.com/mbarbosa/gantry/pkg/registry"
	"github.com/mbarbosa/gantry/pkg/runners/httpcall"
	"github.com/mbarbosa/gantry/pkg/runners/notify"
	"github.com/mbarbosa/gantry/pkg/runners/passthrough"
	"github.com/mbarbosa/gantry/pkg/services"
	"github.com/mbarbosa/gantry/pkg/web"
)

type testEnv struct {
	app    *fiber.App
	store  *memory.Persistence
	engine *engine.Engine
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()

	reg := registry.NewRegistry(logger)
	reg.RegisterRunner(passthrough.NewFactory())
	reg.RegisterRunner(httpcall.NewFactory())
	reg.RegisterRunner(notify.NewFactory())

	workflowService := services.NewWorkflow(logger, store, reg, nil)
	statsService := services.NewStats(logger, store)
	templateService := services.NewTemplate(logger, store, workflowService)
	eng := engine.New(logger, store, reg, nil, nil, "api-test")
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(logger, workflowService, statsService, templateService, eng, validate, reg, nil)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)
	w.Post("/:id/resume", handlers.ResumeWorkflow)
	w.Post("/:id/deactivate", handlers.DeactivateWorkflow)
	w.Post("/:id/archive", handlers.ArchiveWorkflow)
	w.Get("/:id/audit", handlers.GetWorkflowAudit)
	w.Get("/:id/performance", handlers.GetWorkflowPerformance)
	w.Post("/:id/executions", handlers.CreateExecution)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/start", handlers.StartExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/nodes/:nodeId/approve", handlers.ResolveApproval)
	e.Get("/:id/audit", handlers.GetExecutionAudit)

	app.Get("/node-types", handlers.GetNodeTypes)

	tpl := app.Group("/templates")
	tpl.Get("/", handlers.GetTemplates)
	tpl.Get("/:id", handlers.GetTemplate)
	tpl.Post("/:id/instantiate", handlers.InstantiateTemplate)

	app.Get("/dashboard/stats", handlers.GetDashboardStats)

	return &testEnv{app: app, store: store, engine: eng}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) *http.Response {
	t.Helper()

	var body []byte

	if payload != nil {
		if raw, ok := payload.(string); ok {
			body = []byte(raw)
		} else {
			var err error
			body, err = json.Marshal(payload)
			require.NoError(t, err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out))

	return out
}

func saveWorkflowRequest() web.SaveWorkflowRequest {
	return web.SaveWorkflowRequest{
		Name:  "Invoice Approval",
		Owner: "finance",
		Nodes: []web.NodeRequest{
			{NodeTypeID: "start", NodeID: "start_1", Name: "Start"},
			{NodeTypeID: "process", NodeID: "review", Name: "Review"},
			{NodeTypeID: "end", NodeID: "end_1", Name: "End"},
		},
		Edges: []web.EdgeRequest{
			{SourceNode: "start_1", TargetNode: "review", Condition: models.EdgeConditionAlways},
			{SourceNode: "review", TargetNode: "end_1", Condition: models.EdgeConditionOnSuccess},
		},
	}
}

func createWorkflow(t *testing.T, env *testEnv) *models.Workflow {
	t.Helper()

	resp := doJSON(t, env.app, http.MethodPost, "/workflows", saveWorkflowRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	workflow := decodeBody[*models.Workflow](t, resp)
	require.NotEmpty(t, workflow.ID)

	return workflow
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			requestBody:    saveWorkflowRequest(),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "validation error - missing name",
			requestBody: web.SaveWorkflowRequest{
				Owner: "finance",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - missing owner",
			requestBody: web.SaveWorkflowRequest{
				Name: "Invoice Approval",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - unknown node type",
			requestBody: func() web.SaveWorkflowRequest {
				req := saveWorkflowRequest()
				req.Nodes[1].NodeTypeID = "mainframe"

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestApp(t)

			resp := doJSON(t, env.app, http.MethodPost, "/workflows", tt.requestBody)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				workflow := decodeBody[*models.Workflow](t, resp)
				assert.Equal(t, "Invoice Approval", workflow.Name)
				assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
				assert.Len(t, workflow.Nodes, 3)
				assert.Len(t, workflow.Edges, 2)
			}
		})
	}
}

func TestAPIHandlers_GetWorkflows(t *testing.T) {
	env := setupTestApp(t)
	createWorkflow(t, env)

	resp := doJSON(t, env.app, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[map[string]json.RawMessage](t, resp)

	var workflows []*models.Workflow
	require.NoError(t, json.Unmarshal(result["workflows"], &workflows))
	assert.Len(t, workflows, 1)
}

func TestAPIHandlers_GetWorkflowNotFound(t *testing.T) {
	env := setupTestApp(t)

	resp := doJSON(t, env.app, http.MethodGet, "/workflows/ghost", nil)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_UpdateWorkflow(t *testing.T) {
	env := setupTestApp(t)
	workflow := createWorkflow(t, env)

	req := saveWorkflowRequest()
	req.Name = "Invoice Approval v2"

	resp := doJSON(t, env.app, http.MethodPut, "/workflows/"+workflow.ID, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[*models.Workflow](t, resp)
	assert.Equal(t, "Invoice Approval v2", updated.Name)
	assert.Equal(t, workflow.ID, updated.ID)
}

func TestAPIHandlers_Lifecycle(t *testing.T) {
	env := setupTestApp(t)
	workflow := createWorkflow(t, env)

	steps := []struct {
		path   string
		status models.WorkflowStatus
	}{
		{"/activate", models.WorkflowStatusActive},
		{"/pause", models.WorkflowStatusPaused},
		{"/resume", models.WorkflowStatusActive},
		{"/deactivate", models.WorkflowStatusInactive},
		{"/archive", models.WorkflowStatusArchived},
	}

	for _, step := range steps {
		resp := doJSON(t, env.app, http.MethodPost, "/workflows/"+workflow.ID+step.path, web.ActorRequest{Actor: "ops"})
		require.Equal(t, http.StatusOK, resp.StatusCode, step.path)

		updated := decodeBody[*models.Workflow](t, resp)
		assert.Equal(t, step.status, updated.Status, step.path)
	}

	// Archived workflows reject further transitions.
	resp := doJSON(t, env.app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	env := setupTestApp(t)
	workflow := createWorkflow(t, env)

	resp := doJSON(t, env.app, http.MethodDelete, "/workflows/"+workflow.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_ = resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodGet, "/workflows/"+workflow.ID, nil)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_WorkflowAudit(t *testing.T) {
	env := setupTestApp(t)
	workflow := createWorkflow(t, env)

	resp := doJSON(t, env.app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_ = resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodGet, "/workflows/"+workflow.ID+"/audit?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[map[string]json.RawMessage](t, resp)

	var entries []*models.AuditLogEntry
	require.NoError(t, json.Unmarshal(result["entries"], &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditWorkflowActivated, entries[0].Action)

	resp = doJSON(t, env.app, http.MethodGet, "/workflows/"+workflow.ID+"/audit?limit=banana", nil)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_ExecutionFlow(t *testing.T) {
	env := setupTestApp(t)
	workflow := createWorkflow(t, env)

	resp := doJSON(t, env.app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_ = resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodPost, "/workflows/"+workflow.ID+"/executions", web.CreateExecutionRequest{
		TriggeredBy: "alice",
		Payload:     map[string]any{"invoice_id": "INV-42"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	execution := decodeBody[*models.WorkflowExecution](t, resp)
	assert.Equal(t, models.ExecutionStatusQueued, execution.Status)
	assert.Equal(t, "alice", execution.TriggeredBy)

	resp = doJSON(t, env.app, http.MethodPost, "/executions/"+execution.ID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	started := decodeBody[web.ExecutionResponse](t, resp)
	assert.Equal(t, models.ExecutionStatusCompleted, started.Execution.Status)

	resp = doJSON(t, env.app, http.MethodGet, "/executions/"+execution.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[web.ExecutionResponse](t, resp)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Execution.Status)
	assert.Len(t, result.Nodes, 3)

	resp = doJSON(t, env.app, http.MethodGet, "/executions/"+execution.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	audit := decodeBody[map[string]json.RawMessage](t, resp)

	var entries []*models.AuditLogEntry
	require.NoError(t, json.Unmarshal(audit["entries"], &entries))
	assert.NotEmpty(t, entries)
}

func TestAPIHandlers_CreateExecutionRejectsDraft(t *testing.T) {
	env := setupTestApp(t)
	workflow := createWorkflow(t, env)

	resp := doJSON(t, env.app, http.MethodPost, "/workflows/"+workflow.ID+"/executions", web.CreateExecutionRequest{
		TriggeredBy: "alice",
	})

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_ApproveExecutionNode(t *testing.T) {
	env := setupTestApp(t)

	req := saveWorkflowRequest()
	req.Nodes = append(req.Nodes, web.NodeRequest{
		NodeTypeID: "approval", NodeID: "gate", Name: "Manager Sign-off",
	})
	req.Edges = []web.EdgeRequest{
		{SourceNode: "start_1", TargetNode: "gate", Condition: models.EdgeConditionAlways},
		{SourceNode: "gate", TargetNode: "review", Condition: models.EdgeConditionApprovalGranted},
		{SourceNode: "review", TargetNode: "end_1", Condition: models.EdgeConditionOnSuccess},
	}

	resp := doJSON(t, env.app, http.MethodPost, "/workflows", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	workflow := decodeBody[*models.Workflow](t, resp)

	resp = doJSON(t, env.app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_ = resp.Body.Close()

	execution, err := env.engine.CreateExecution(t.Context(), workflow.ID, "alice", nil)
	require.NoError(t, err)
	require.NoError(t, env.engine.StartExecution(t.Context(), execution.ID))

	approved := true
	resp = doJSON(t, env.app, http.MethodPost, "/executions/"+execution.ID+"/nodes/gate/approve", web.ResolveApprovalRequest{
		Approved: &approved,
		Actor:    "manager",
		Notes:    "looks good",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[web.ExecutionResponse](t, resp)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Execution.Status)

	// Resolving again conflicts: the gate is no longer waiting.
	resp = doJSON(t, env.app, http.MethodPost, "/executions/"+execution.ID+"/nodes/gate/approve", web.ResolveApprovalRequest{
		Approved: &approved,
		Actor:    "manager",
	})

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_ApproveValidation(t *testing.T) {
	env := setupTestApp(t)

	resp := doJSON(t, env.app, http.MethodPost, "/executions/exec-1/nodes/gate/approve", web.ResolveApprovalRequest{
		Actor: "manager",
	})

	defer func() { _ = resp.Body.Close() }()

	// Approved is required and missing.
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_NodeTypes(t *testing.T) {
	env := setupTestApp(t)

	resp := doJSON(t, env.app, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[map[string]json.RawMessage](t, resp)

	var nodeTypes []*models.NodeType
	require.NoError(t, json.Unmarshal(result["node_types"], &nodeTypes))
	assert.Len(t, nodeTypes, 8)
}

func TestAPIHandlers_Templates(t *testing.T) {
	env := setupTestApp(t)

	template := &models.WorkflowTemplate{
		Name:     "Purchase Approval",
		Category: models.TemplateCategoryApproval,
		IsActive: true,
		Definition: models.TemplateDefinition{
			Nodes: []models.TemplateNode{
				{NodeID: "start_1", Type: "start", Name: "Start"},
				{NodeID: "end_1", Type: "end", Name: "End"},
			},
			Edges: []models.TemplateEdge{
				{Source: "start_1", Target: "end_1", Condition: models.EdgeConditionAlways},
			},
		},
	}
	require.NoError(t, env.store.TemplateRepository().Save(t.Context(), template))

	resp := doJSON(t, env.app, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[map[string]json.RawMessage](t, resp)

	var templates []*models.WorkflowTemplate
	require.NoError(t, json.Unmarshal(result["templates"], &templates))
	require.Len(t, templates, 1)

	resp = doJSON(t, env.app, http.MethodPost, "/templates/"+templates[0].ID+"/instantiate", web.InstantiateTemplateRequest{
		Name:  "Q3 Purchase Approval",
		Owner: "procurement",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	workflow := decodeBody[*models.Workflow](t, resp)
	assert.Equal(t, "Q3 Purchase Approval", workflow.Name)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
	require.NotNil(t, workflow.TemplateID)
	assert.Equal(t, templates[0].ID, *workflow.TemplateID)

	// Owner is required.
	resp = doJSON(t, env.app, http.MethodPost, "/templates/"+templates[0].ID+"/instantiate", web.InstantiateTemplateRequest{})

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_DashboardStats(t *testing.T) {
	env := setupTestApp(t)
	createWorkflow(t, env)

	resp := doJSON(t, env.app, http.MethodGet, "/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decodeBody[*models.DashboardStats](t, resp)
	assert.EqualValues(t, 1, stats.TotalWorkflows)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	env := setupTestApp(t)

	resp := doJSON(t, env.app, http.MethodGet, "/health", nil)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
