// Package main provides the Gantry API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/mbarbosa/gantry/pkg/engine"
	"github.com/mbarbosa/gantry/pkg/eventbus"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/queue"
	"github.com/mbarbosa/gantry/pkg/registry"
	"github.com/mbarbosa/gantry/pkg/services"
	"github.com/mbarbosa/gantry/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	startQueue  *queue.Queue
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	startQueue *queue.Queue,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		startQueue:  startQueue,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.logger, a.persistence, a.registry, a.eventBus)
	statsService := services.NewStats(a.logger, a.persistence)
	templateService := services.NewTemplate(a.logger, a.persistence, workflowService)
	eng := engine.New(a.logger, a.persistence, a.registry, a.eventBus, nil, "api")

	handlers := web.NewAPIHandlers(a.logger, workflowService, statsService, templateService, eng, a.validate, a.registry, a.startQueue)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Gantry API")
	})

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

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
