package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/mbarbosa/gantry/pkg/engine"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/queue"
	"github.com/mbarbosa/gantry/pkg/registry"
	"github.com/mbarbosa/gantry/pkg/services"
)

type APIHandlers struct {
	logger          *slog.Logger
	workflowService *services.Workflow
	statsService    *services.Stats
	templateService *services.Template
	engine          *engine.Engine
	validator       *validator.Validate
	registry        *registry.Registry

	// startQueue is optional; when set, created executions are also pushed
	// onto the redis start queue for workers without a bus subscription.
	startQueue *queue.Queue
}

func NewAPIHandlers(
	logger *slog.Logger,
	workflowService *services.Workflow,
	statsService *services.Stats,
	templateService *services.Template,
	eng *engine.Engine,
	validator *validator.Validate,
	registry *registry.Registry,
	startQueue *queue.Queue,
) *APIHandlers {
	return &APIHandlers{
		logger:          logger.With("module", "web"),
		workflowService: workflowService,
		statsService:    statsService,
		templateService: templateService,
		engine:          eng,
		validator:       validator,
		registry:        registry,
		startQueue:      startQueue,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Gantry API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Gantry API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Save(c.Context(), req.ToModel(""), req.Owner)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Save(c.Context(), req.ToModel(id), req.Owner)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := h.bindActor(c)

	err := h.workflowService.Delete(c.Context(), id, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Activate)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Pause)
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Resume)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Deactivate)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Archive)
}

func (h *APIHandlers) GetWorkflowAudit(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	entries, err := h.workflowService.AuditTrail(c.Context(), id, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *APIHandlers) GetWorkflowPerformance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	days := 0

	if daysStr := c.Query("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid days parameter")
		}

		days = parsed
	}

	performance, err := h.statsService.WorkflowPerformance(c.Context(), id, days)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(performance)
}

func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req CreateExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.CreateExecution(c.Context(), id, req.TriggeredBy, req.Payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	// Best effort: the bus delivery is the primary dispatch path.
	if h.startQueue != nil {
		err = h.startQueue.Enqueue(c.Context(), queue.StartRequest{
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			EnqueuedAt:  time.Now().UTC(),
		})
		if err != nil {
			h.logger.WarnContext(c.Context(), "Failed to enqueue start request",
				"execution_id", execution.ID, "error", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

// StartExecution drives a queued execution synchronously. Deployments with
// workers normally leave starting to them; this endpoint serves single
// process setups and manual retries.
func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	err := h.engine.StartExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	execution, nodes, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: execution, Nodes: nodes})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, nodes, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: execution, Nodes: nodes})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	actor := h.bindActor(c)

	err := h.engine.CancelExecution(c.Context(), id, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	execution, nodes, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: execution, Nodes: nodes})
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	nodeID := c.Params("nodeId")
	if nodeID == "" {
		return badRequest(c, "Node ID is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.ResolveApproval(c.Context(), id, nodeID, *req.Approved, req.Actor, req.Notes)
	if err != nil {
		return handleServiceError(c, err)
	}

	execution, nodes, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: execution, Nodes: nodes})
}

func (h *APIHandlers) GetExecutionAudit(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	entries, err := h.engine.AuditTrail(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	nodeTypes, err := h.workflowService.ListNodeTypes(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"node_types": nodeTypes,
		"count":      len(nodeTypes),
	})
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.templateService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates": templates,
		"count":     len(templates),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.templateService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) InstantiateTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	var req InstantiateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.templateService.CreateWorkflow(c.Context(), id, req.Name, req.Owner)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetDashboardStats(c fiber.Ctx) error {
	stats, err := h.statsService.Dashboard(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// transition runs one workflow lifecycle operation with the actor taken from
// an optional request body.
func (h *APIHandlers) transition(
	c fiber.Ctx,
	op func(ctx context.Context, id, actor string) (*models.Workflow, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := op(c.Context(), id, h.bindActor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// bindActor reads the optional actor from the request body, defaulting to
// "api". Lifecycle endpoints accept an empty body.
func (h *APIHandlers) bindActor(c fiber.Ctx) string {
	var req ActorRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return "api"
		}
	}

	return req.ActorOrDefault()
}
