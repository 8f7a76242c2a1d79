// Package engine implements the workflow traversal state machine: it walks
// execution snapshots node by node, suspends runs on approval gates and
// records every step in the execution ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbarbosa/gantry/pkg/eventbus"
	"github.com/mbarbosa/gantry/pkg/events"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/otelhelper"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Engine drives workflow executions from creation to a terminal status.
type Engine struct {
	logger   *slog.Logger
	store    persistence.Persistence
	registry *registry.Registry
	bus      eventbus.EventBus
	tracer   trace.Tracer
	workerID string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an engine. A nil tracer disables tracing.
func New(logger *slog.Logger, store persistence.Persistence, reg *registry.Registry, bus eventbus.EventBus, tracer trace.Tracer, workerID string) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("engine")
	}

	return &Engine{
		logger:   logger.With("module", "engine", "worker_id", workerID),
		store:    store,
		registry: reg,
		bus:      bus,
		tracer:   tracer,
		workerID: workerID,
		running:  make(map[string]context.CancelFunc),
	}
}

// CreateExecution snapshots the workflow graph and seeds the run's full node
// ledger in one atomic store operation. The run starts in queued status;
// traversal begins when a worker picks it up.
func (e *Engine) CreateExecution(ctx context.Context, workflowID, triggeredBy string, payload map[string]any) (*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.create_execution",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.ActorKey, triggeredBy),
	)
	defer span.End()

	workflow, err := e.store.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !workflow.IsExecutable() {
		otelhelper.SetError(span, ErrWorkflowNotActive)

		return nil, fmt.Errorf("workflow %s is in status %s: %w", workflowID, workflow.Status, ErrWorkflowNotActive)
	}

	nodeTypes, err := e.store.NodeTypeRepository().GetAll(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	snapshot := models.NewGraphSnapshot(workflow, nodeTypes)

	contextData := make(map[string]any, len(payload))
	for k, v := range payload {
		contextData[k] = v
	}

	execution := &models.WorkflowExecution{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		Status:         models.ExecutionStatusQueued,
		TriggeredBy:    triggeredBy,
		TriggerPayload: payload,
		ContextData:    contextData,
		Snapshot:       snapshot,
		StartedAt:      time.Now().UTC(),
	}

	rows := make([]*models.WorkflowNodeExecution, 0, len(snapshot.Nodes))
	for _, node := range snapshot.Nodes {
		rows = append(rows, &models.WorkflowNodeExecution{
			ID:          uuid.New().String(),
			ExecutionID: execution.ID,
			NodeID:      node.NodeID,
			Status:      models.NodeExecutionStatusPending,
		})
	}

	err = e.store.ExecutionRepository().CreateExecution(ctx, execution, rows)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.audit(ctx, triggeredBy, models.AuditExecutionStarted, "execution created",
		&execution.WorkflowID, &execution.ID)

	event := events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent, workflowID),
		ExecutionID: execution.ID,
		TriggeredBy: triggeredBy,
	}
	e.publish(ctx, execution.ID, event)

	e.logger.InfoContext(ctx, "Execution created",
		"execution_id", execution.ID, "workflow_id", workflowID, "triggered_by", triggeredBy)

	return execution, nil
}

// StartExecution begins traversal of a queued execution and blocks until the
// run completes, fails, is cancelled, or suspends on approval gates.
// Starting an execution that already moved past queued is a no-op, so
// redelivered start requests are harmless.
func (e *Engine) StartExecution(ctx context.Context, executionID string) error {
	execution, err := e.store.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status != models.ExecutionStatusQueued {
		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start_execution",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
	)
	defer span.End()

	startNodes := execution.Snapshot.StartNodes()
	if len(startNodes) == 0 {
		e.failBeforeStart(ctx, execution, ErrNoStartNode)
		otelhelper.SetError(span, ErrNoStartNode)

		return ErrNoStartNode
	}

	execution.Status = models.ExecutionStatusRunning

	// The conditional update is the claim: a second worker or a racing
	// cancel loses here instead of starting the run twice.
	err = e.store.ExecutionRepository().UpdateIfStatus(ctx, execution, models.ExecutionStatusQueued)
	if err != nil {
		if persistence.IsExecutionNotClaimable(err) {
			return nil
		}

		otelhelper.SetError(span, err)

		return err
	}

	e.publish(ctx, executionID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID),
		ExecutionID: executionID,
		TriggeredBy: execution.TriggeredBy,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.trackRun(executionID, cancel)
	defer e.untrackRun(executionID)

	st := newRunState(execution)

	for _, node := range startNodes {
		st.spawn(func(nodeID string) func() {
			return func() { e.runBranch(runCtx, st, nodeID) }
		}(node.NodeID))
	}

	st.wg.Wait()

	return e.finalize(ctx, st)
}

// ResolveApproval records a human decision on a suspended approval node and
// resumes traversal from it. The sweep calls it with actor "system" when the
// approval window expires.
func (e *Engine) ResolveApproval(ctx context.Context, executionID, nodeID string, approved bool, actor, notes string) error {
	execution, err := e.store.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() {
		return fmt.Errorf("execution %s is %s: %w", executionID, execution.Status, ErrExecutionTerminal)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resolve_approval",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.Bool("gantry.approval.approved", approved),
		attribute.String(otelhelper.ActorKey, actor),
	)
	defer span.End()

	// The claim is the only gate against two approvers racing on one node.
	row, err := e.store.ExecutionRepository().ClaimNodeExecution(ctx, executionID, nodeID,
		models.NodeExecutionStatusWaitingApproval, models.NodeExecutionStatusRunning)
	if err != nil {
		if persistence.IsNotClaimable(err) {
			otelhelper.SetError(span, ErrNodeNotWaitingApproval)

			return fmt.Errorf("node %s of execution %s: %w", nodeID, executionID, ErrNodeNotWaitingApproval)
		}

		otelhelper.SetError(span, err)

		return err
	}

	now := time.Now().UTC()
	row.Status = models.NodeExecutionStatusCompleted
	row.ApprovedBy = &actor
	row.ApprovalNotes = notes
	row.CompletedAt = &now
	row.OutputData = map[string]any{"approved": approved, "notes": notes}

	if row.StartedAt != nil {
		duration := now.Sub(*row.StartedAt).Seconds()
		row.DurationSeconds = &duration
	}

	err = e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	action := models.AuditNodeApproved
	if !approved {
		action = models.AuditNodeRejected
	}

	e.audit(ctx, actor, action, fmt.Sprintf("approval node %s resolved", nodeID),
		&execution.WorkflowID, &executionID)

	e.publish(ctx, executionID, events.ApprovalResolved{
		BaseEvent:   events.NewBaseEvent(events.ApprovalResolvedEvent, execution.WorkflowID),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Approved:    approved,
		Actor:       actor,
		Notes:       notes,
	})

	execution.Status = models.ExecutionStatusRunning

	err = e.store.ExecutionRepository().UpdateIfStatus(ctx, execution,
		models.ExecutionStatusPaused, models.ExecutionStatusRunning)
	if err != nil {
		if persistence.IsExecutionNotClaimable(err) {
			return fmt.Errorf("execution %s already settled: %w", executionID, ErrExecutionTerminal)
		}

		return err
	}

	e.publish(ctx, executionID, events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, execution.WorkflowID),
		ExecutionID: executionID,
		NodeID:      nodeID,
	})

	outcome := models.OutcomeApprovalGranted
	if !approved {
		outcome = models.OutcomeApprovalDenied
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.trackRun(executionID, cancel)
	defer e.untrackRun(executionID)

	st := newRunState(execution)
	st.mergeOutput(row.OutputData)

	err = e.followEdges(runCtx, st, nodeID, outcome, row.OutputData)
	if err != nil {
		st.fail(nodeID, err)
	} else if outcome == models.OutcomeApprovalDenied && !st.traversed(nodeID) {
		st.fail(nodeID, ErrApprovalDenied)
	}

	st.wg.Wait()

	return e.finalize(ctx, st)
}

// CancelExecution stops a queued, running or paused run. In-flight branches
// are interrupted and unfinished ledger rows are marked cancelled.
func (e *Engine) CancelExecution(ctx context.Context, executionID, actor string) error {
	execution, err := e.store.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() {
		return fmt.Errorf("execution %s is %s: %w", executionID, execution.Status, ErrExecutionTerminal)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.cancel_execution",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.ActorKey, actor),
	)
	defer span.End()

	e.mu.Lock()
	if cancel, ok := e.running[executionID]; ok {
		cancel()
	}
	e.mu.Unlock()

	now := time.Now().UTC()

	duration := now.Sub(execution.StartedAt).Seconds()
	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &now
	execution.DurationSeconds = &duration
	execution.CurrentNode = nil

	// Claim the terminal transition before touching any ledger row. A
	// traversal finishing at the same moment settles the run through the
	// same conditional update, so exactly one of the two applies the
	// stats delta.
	err = e.store.ExecutionRepository().UpdateIfStatus(ctx, execution,
		models.ExecutionStatusQueued, models.ExecutionStatusRunning, models.ExecutionStatusPaused)
	if err != nil {
		if persistence.IsExecutionNotClaimable(err) {
			return fmt.Errorf("execution %s already settled: %w", executionID, ErrExecutionTerminal)
		}

		return err
	}

	rows, err := e.store.ExecutionRepository().NodeExecutions(ctx, executionID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		switch row.Status {
		case models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning,
			models.NodeExecutionStatusWaitingApproval:
			row.Status = models.NodeExecutionStatusCancelled
			row.CompletedAt = &now

			err = e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
			if err != nil {
				return err
			}
		}
	}

	err = e.store.WorkflowRepository().ApplyStatsDelta(ctx, execution.WorkflowID, models.StatsDelta{
		DurationSeconds: duration,
		FinishedAt:      now,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to apply stats delta", "error", err, "execution_id", executionID)
	}

	e.audit(ctx, actor, models.AuditExecutionCancelled, "execution cancelled",
		&execution.WorkflowID, &executionID)

	e.publish(ctx, executionID, events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
		ExecutionID: executionID,
		CancelledBy: actor,
	})

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID, "actor", actor)

	return nil
}

// ExpireApprovals auto-denies every approval whose window passed, acting as
// "system". Returns how many approvals were resolved.
func (e *Engine) ExpireApprovals(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.store.ExecutionRepository().ListExpiredApprovals(ctx, now)
	if err != nil {
		return 0, err
	}

	var errs []error

	resolved := 0

	for _, row := range expired {
		err := e.ResolveApproval(ctx, row.ExecutionID, row.NodeID, false, "system", "approval window expired")
		if err != nil {
			// Another actor may have resolved it between listing and claiming.
			if errors.Is(err, ErrNodeNotWaitingApproval) || errors.Is(err, ErrExecutionTerminal) {
				continue
			}

			errs = append(errs, err)

			continue
		}

		resolved++
	}

	return resolved, errors.Join(errs...)
}

// GetExecution returns an execution together with its node ledger rows.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, []*models.WorkflowNodeExecution, error) {
	execution, err := e.store.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := e.store.ExecutionRepository().NodeExecutions(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	return execution, rows, nil
}

// AuditTrail returns the audit entries recorded for one execution, newest
// first.
func (e *Engine) AuditTrail(ctx context.Context, executionID string) ([]*models.AuditLogEntry, error) {
	_, err := e.store.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return e.store.AuditLogRepository().ListByExecution(ctx, executionID)
}

func (e *Engine) trackRun(executionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running[executionID] = cancel
}

func (e *Engine) untrackRun(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.running, executionID)
}

// failBeforeStart marks a run failed before any node executed.
func (e *Engine) failBeforeStart(ctx context.Context, execution *models.WorkflowExecution, cause error) {
	now := time.Now().UTC()
	duration := now.Sub(execution.StartedAt).Seconds()

	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &now
	execution.DurationSeconds = &duration
	execution.ErrorMessage = cause.Error()

	err := e.store.ExecutionRepository().UpdateIfStatus(ctx, execution, models.ExecutionStatusQueued)
	if err != nil {
		if !persistence.IsExecutionNotClaimable(err) {
			e.logger.ErrorContext(ctx, "failed to mark execution failed", "error", err, "execution_id", execution.ID)
		}

		return
	}

	err = e.store.WorkflowRepository().ApplyStatsDelta(ctx, execution.WorkflowID, models.StatsDelta{
		Failed:          true,
		DurationSeconds: duration,
		FinishedAt:      now,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to apply stats delta", "error", err, "execution_id", execution.ID)
	}

	e.audit(ctx, "system", models.AuditExecutionFailed, cause.Error(),
		&execution.WorkflowID, &execution.ID)

	e.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Error:       cause.Error(),
	})
}

func (e *Engine) audit(ctx context.Context, actor string, action models.AuditAction, description string, workflowID, executionID *string) {
	entry := models.NewAuditLogEntry(actor, action, description)
	entry.WorkflowID = workflowID
	entry.ExecutionID = executionID

	err := e.store.AuditLogRepository().Append(ctx, entry)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to append audit entry", "error", err, "action", action)
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event", "error", err, "event_type", event.GetType())
	}
}
