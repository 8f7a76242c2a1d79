package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbarbosa/gantry/pkg/engine"
	"github.com/mbarbosa/gantry/pkg/eventbus"
	"github.com/mbarbosa/gantry/pkg/events"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/queue"
	"github.com/mbarbosa/gantry/pkg/scheduler"
)

// WorkerManager hosts the traversal engine: it starts queued executions
// arriving over the event bus or the redis queue, and runs the schedule
// dispatcher alongside.
type WorkerManager struct {
	id        string
	logger    *slog.Logger
	engine    *engine.Engine
	eventBus  eventbus.EventBus
	scheduler *scheduler.Scheduler
	queue     *queue.Queue
}

func NewWorkerManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	eng *engine.Engine,
	startQueue *queue.Queue,
) *WorkerManager {
	return &WorkerManager{
		id:        id,
		logger:    logger.With("module", "gantry-worker", "worker_id", id),
		engine:    eng,
		eventBus:  eventBus,
		scheduler: scheduler.New(logger, store, eng),
		queue:     startQueue,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.ExecutionRequestedEvent, w.handleExecutionRequested)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.queue != nil {
		err = w.queue.Connect(ctx)
		if err != nil {
			return err
		}

		w.queue.Consume(ctx, w.handleStartRequest)
	}

	err = w.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	err = w.scheduler.Stop(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
	}

	if w.queue != nil {
		err = w.queue.Close()
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}

	return nil
}

func (w *WorkerManager) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionRequested")

		return nil
	}

	logger := w.logger.With(
		"workflow_id", requested.WorkflowID,
		"execution_id", requested.ExecutionID,
		"event_id", requested.ID,
	)
	logger.InfoContext(ctx, "Processing execution requested event")

	return w.startExecution(ctx, logger, requested.ExecutionID)
}

func (w *WorkerManager) handleStartRequest(ctx context.Context, req queue.StartRequest) error {
	logger := w.logger.With(
		"workflow_id", req.WorkflowID,
		"execution_id", req.ExecutionID,
	)
	logger.InfoContext(ctx, "Processing queued start request")

	return w.startExecution(ctx, logger, req.ExecutionID)
}

// startExecution drives one run to its next stable state. With several
// workers subscribed the same request can arrive more than once; the engine
// treats duplicate starts as no-ops.
func (w *WorkerManager) startExecution(ctx context.Context, logger *slog.Logger, executionID string) error {
	err := w.engine.StartExecution(ctx, executionID)

	switch {
	case err == nil:
		return nil
	case persistence.IsExecutionNotFound(err):
		logger.WarnContext(ctx, "Execution not found, skipping")

		return nil
	default:
		logger.ErrorContext(ctx, "Failed to start execution", "error", err)

		return err
	}
}
