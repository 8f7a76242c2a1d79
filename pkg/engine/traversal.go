package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbarbosa/gantry/pkg/events"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/protocol"
)

// runState is the in-memory coordination point for one traversal: branch
// goroutines merge their context writes here and record the first hard
// failure.
type runState struct {
	execution *models.WorkflowExecution
	snapshot  *models.GraphSnapshot

	wg sync.WaitGroup

	mu         sync.Mutex
	ctxData    map[string]any
	followed   map[string]bool
	failedNode string
	failErr    error
	cancelled  bool
}

func newRunState(execution *models.WorkflowExecution) *runState {
	ctxData := make(map[string]any, len(execution.ContextData))
	for k, v := range execution.ContextData {
		ctxData[k] = v
	}

	return &runState{
		execution: execution,
		snapshot:  execution.Snapshot,
		ctxData:   ctxData,
		followed:  make(map[string]bool),
	}
}

func (st *runState) spawn(fn func()) {
	st.wg.Add(1)

	go func() {
		defer st.wg.Done()
		fn()
	}()
}

// contextSnapshot returns a branch-scoped copy of the shared context. Nodes
// never read the live map while other branches write it.
func (st *runState) contextSnapshot() map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()

	copied := make(map[string]any, len(st.ctxData))
	for k, v := range st.ctxData {
		copied[k] = v
	}

	return copied
}

// mergeOutput folds a completed node's output into the shared context.
// Last writer wins per key.
func (st *runState) mergeOutput(output map[string]any) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for k, v := range output {
		st.ctxData[k] = v
	}
}

// mergedContext returns the shared context overlaid with a node's output,
// without mutating either.
func (st *runState) mergedContext(output map[string]any) map[string]any {
	merged := st.contextSnapshot()
	for k, v := range output {
		merged[k] = v
	}

	return merged
}

func (st *runState) fail(nodeID string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.failErr == nil {
		st.failedNode = nodeID
		st.failErr = err
	}
}

func (st *runState) failure() (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.failedNode, st.failErr
}

func (st *runState) markCancelled() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.cancelled = true
}

func (st *runState) markFollowed(nodeID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.followed[nodeID] = true
}

func (st *runState) traversed(nodeID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.followed[nodeID]
}

// runBranch executes one node and recursively follows its matching outgoing
// edges. The claim on the ledger row guarantees converging branches execute
// a shared node exactly once.
func (e *Engine) runBranch(ctx context.Context, st *runState, nodeID string) {
	if ctx.Err() != nil {
		st.markCancelled()

		return
	}

	if _, err := st.failure(); err != nil {
		return
	}

	row, err := e.store.ExecutionRepository().ClaimNodeExecution(ctx, st.execution.ID, nodeID,
		models.NodeExecutionStatusPending, models.NodeExecutionStatusRunning)
	if err != nil {
		if persistence.IsNotClaimable(err) {
			// Another branch reached this node first.
			return
		}

		st.fail(nodeID, err)

		return
	}

	now := time.Now().UTC()
	row.StartedAt = &now
	row.InputData = st.contextSnapshot()

	err = e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
	if err != nil {
		st.fail(nodeID, err)

		return
	}

	e.setCurrentNode(ctx, st, nodeID)

	e.publish(ctx, st.execution.ID, events.NodeStarted{
		BaseEvent:   events.NewBaseEvent(events.NodeStartedEvent, st.execution.WorkflowID),
		ExecutionID: st.execution.ID,
		NodeID:      nodeID,
	})

	node, ok := st.snapshot.Node(nodeID)
	if !ok {
		st.fail(nodeID, fmt.Errorf("node %s not present in snapshot", nodeID))

		return
	}

	nodeType, ok := st.snapshot.TypeOf(node)
	if !ok {
		st.fail(nodeID, fmt.Errorf("node type %s not present in snapshot", node.NodeTypeID))

		return
	}

	if nodeType.RequiresUserAction {
		e.suspendForApproval(ctx, st, node, row)

		return
	}

	output, runErr := e.executeNode(ctx, st, node, nodeType, row)

	if ctx.Err() != nil {
		finished := time.Now().UTC()
		row.Status = models.NodeExecutionStatusCancelled
		row.CompletedAt = &finished
		_ = e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)

		st.markCancelled()

		return
	}

	finished := time.Now().UTC()
	duration := finished.Sub(now).Seconds()
	row.CompletedAt = &finished
	row.DurationSeconds = &duration

	if runErr != nil {
		row.Status = models.NodeExecutionStatusFailed
		row.ErrorMessage = runErr.Error()

		err = e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
		if err != nil {
			st.fail(nodeID, err)

			return
		}

		e.publish(ctx, st.execution.ID, events.NodeFailed{
			BaseEvent:   events.NewBaseEvent(events.NodeFailedEvent, st.execution.WorkflowID),
			ExecutionID: st.execution.ID,
			NodeID:      nodeID,
			Error:       runErr.Error(),
			RetryCount:  row.RetryCount,
		})

		// A failing node only fails the run when no failure route exists.
		err = e.followEdges(ctx, st, nodeID, models.OutcomeFailure, nil)
		if err != nil {
			st.fail(nodeID, err)

			return
		}

		if !st.traversed(nodeID) {
			st.fail(nodeID, runErr)
		}

		return
	}

	row.Status = models.NodeExecutionStatusCompleted
	row.OutputData = output

	err = e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
	if err != nil {
		st.fail(nodeID, err)

		return
	}

	st.mergeOutput(output)

	e.publish(ctx, st.execution.ID, events.NodeFinished{
		BaseEvent:       events.NewBaseEvent(events.NodeFinishedEvent, st.execution.WorkflowID),
		ExecutionID:     st.execution.ID,
		NodeID:          nodeID,
		Status:          models.NodeExecutionStatusCompleted,
		OutputData:      output,
		DurationSeconds: duration,
	})

	err = e.followEdges(ctx, st, nodeID, models.OutcomeSuccess, output)
	if err != nil {
		st.fail(nodeID, err)
	}
}

// followEdges evaluates the source node's outgoing edges against its outcome
// and spawns a branch per matching target.
func (e *Engine) followEdges(ctx context.Context, st *runState, sourceNodeID string, outcome models.Outcome, output map[string]any) error {
	data := st.mergedContext(output)

	var targets []string

	for _, edge := range st.snapshot.OutgoingEdges(sourceNodeID) {
		matches, err := models.EdgeMatches(edge, outcome, data)
		if err != nil {
			return fmt.Errorf("edge %s: %w", edge.Key(), err)
		}

		if matches {
			targets = append(targets, edge.TargetNode)
		}
	}

	if len(targets) == 0 {
		return nil
	}

	st.markFollowed(sourceNodeID)

	for _, target := range targets {
		st.spawn(func(nodeID string) func() {
			return func() { e.runBranch(ctx, st, nodeID) }
		}(target))
	}

	return nil
}

// executeNode resolves the node's runner and runs it, retrying transient
// failures up to the node's retry budget with a fixed delay.
func (e *Engine) executeNode(ctx context.Context, st *runState, node *models.WorkflowNode, nodeType *models.NodeType, row *models.WorkflowNodeExecution) (map[string]any, error) {
	runnerType := node.RunnerType(nodeType)

	runner, err := e.registry.CreateRunner(runnerType, node.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner %s: %w", runnerType, err)
	}

	input := protocol.StepInput{
		ExecutionID: st.execution.ID,
		WorkflowID:  st.execution.WorkflowID,
		NodeID:      node.NodeID,
		ContextData: row.InputData,
	}

	logger := e.logger.With("execution_id", st.execution.ID, "node_id", node.NodeID, "runner", runnerType)

	maxRetries := node.RetryBudget()

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, node.Timeout())
		output, runErr := runner.Run(attemptCtx, input, logger)

		cancel()

		if runErr == nil {
			return output, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !protocol.IsTransient(runErr) || attempt >= maxRetries {
			return nil, runErr
		}

		row.RetryCount = attempt + 1

		err := e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
		if err != nil {
			return nil, err
		}

		logger.WarnContext(ctx, "Node attempt failed, retrying",
			"error", runErr, "attempt", attempt+1, "max_retries", maxRetries)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(node.RetryDelay()):
		}
	}
}

// suspendForApproval parks the node in waiting_approval, stamps the expiry
// deadline and pauses the run.
func (e *Engine) suspendForApproval(ctx context.Context, st *runState, node *models.WorkflowNode, row *models.WorkflowNodeExecution) {
	now := time.Now().UTC()

	var expiresAt *time.Time

	if window := node.ApprovalTimeout(); window > 0 {
		deadline := now.Add(window)
		expiresAt = &deadline
	}

	row.Status = models.NodeExecutionStatusWaitingApproval
	row.ApprovalExpiresAt = expiresAt

	err := e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
	if err != nil {
		st.fail(node.NodeID, err)

		return
	}

	st.mu.Lock()
	st.execution.Status = models.ExecutionStatusPaused
	st.execution.ContextData = st.ctxData
	err = e.store.ExecutionRepository().UpdateIfStatus(ctx, st.execution,
		models.ExecutionStatusRunning, models.ExecutionStatusPaused)
	st.mu.Unlock()

	if err != nil {
		if persistence.IsExecutionNotClaimable(err) {
			// A cancel settled the run while the node was suspending.
			st.markCancelled()

			return
		}

		st.fail(node.NodeID, err)

		return
	}

	assignedUser := ""
	if node.AssignedUser != nil {
		assignedUser = *node.AssignedUser
	}

	e.publish(ctx, st.execution.ID, events.ApprovalRequested{
		BaseEvent:    events.NewBaseEvent(events.ApprovalRequestedEvent, st.execution.WorkflowID),
		ExecutionID:  st.execution.ID,
		NodeID:       node.NodeID,
		AssignedUser: assignedUser,
		ExpiresAt:    expiresAt,
	})

	e.publish(ctx, st.execution.ID, events.ExecutionPaused{
		BaseEvent:    events.NewBaseEvent(events.ExecutionPausedEvent, st.execution.WorkflowID),
		ExecutionID:  st.execution.ID,
		NodeID:       node.NodeID,
		AssignedUser: assignedUser,
		ExpiresAt:    expiresAt,
	})

	e.logger.InfoContext(ctx, "Execution paused for approval",
		"execution_id", st.execution.ID, "node_id", node.NodeID, "assigned_user", assignedUser)
}

func (e *Engine) setCurrentNode(ctx context.Context, st *runState, nodeID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.execution.CurrentNode = &nodeID

	err := e.store.ExecutionRepository().UpdateIfStatus(ctx, st.execution,
		models.ExecutionStatusRunning, models.ExecutionStatusPaused)
	if err != nil && !persistence.IsExecutionNotClaimable(err) {
		e.logger.ErrorContext(ctx, "failed to record current node", "error", err, "execution_id", st.execution.ID)
	}
}

// finalize settles the run after all branches returned: paused when approvals
// are outstanding, otherwise a terminal status with stats and audit recorded.
func (e *Engine) finalize(ctx context.Context, st *runState) error {
	current, err := e.store.ExecutionRepository().GetByID(ctx, st.execution.ID)
	if err != nil {
		return err
	}

	if current.Status.Terminal() {
		// Cancellation settled the run while branches were unwinding.
		return nil
	}

	st.mu.Lock()
	cancelled := st.cancelled
	st.mu.Unlock()

	if cancelled {
		return nil
	}

	rows, err := e.store.ExecutionRepository().NodeExecutions(ctx, st.execution.ID)
	if err != nil {
		return err
	}

	failedNode, failErr := st.failure()

	waiting := 0

	for _, row := range rows {
		if row.Status == models.NodeExecutionStatusWaitingApproval {
			waiting++
		}
	}

	execution := st.execution

	if failErr == nil && waiting > 0 {
		st.mu.Lock()
		execution.Status = models.ExecutionStatusPaused
		execution.ContextData = st.ctxData
		err = e.store.ExecutionRepository().UpdateIfStatus(ctx, execution,
			models.ExecutionStatusRunning, models.ExecutionStatusPaused)
		st.mu.Unlock()

		if persistence.IsExecutionNotClaimable(err) {
			return nil
		}

		return err
	}

	now := time.Now().UTC()
	duration := now.Sub(execution.StartedAt).Seconds()

	st.mu.Lock()
	execution.ContextData = st.ctxData
	st.mu.Unlock()

	execution.CurrentNode = nil
	execution.CompletedAt = &now
	execution.DurationSeconds = &duration

	delta := models.StatsDelta{DurationSeconds: duration, FinishedAt: now}

	if failErr != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = failErr.Error()
		execution.ErrorDetails = map[string]any{"node_id": failedNode}
		delta.Failed = true
	} else {
		execution.Status = models.ExecutionStatusCompleted
		delta.Succeeded = true
	}

	// The conditional update claims the single terminal transition. Losing
	// it means a concurrent cancel settled the run, including its delta.
	err = e.store.ExecutionRepository().UpdateIfStatus(ctx, execution,
		models.ExecutionStatusQueued, models.ExecutionStatusRunning, models.ExecutionStatusPaused)
	if err != nil {
		if persistence.IsExecutionNotClaimable(err) {
			return nil
		}

		return err
	}

	// Rows traversal never reached keep their pending status. Approvals
	// still waiting when the run fails are closed.
	if failErr != nil {
		for _, row := range rows {
			if row.Status != models.NodeExecutionStatusWaitingApproval {
				continue
			}

			row.Status = models.NodeExecutionStatusCancelled
			row.CompletedAt = &now

			err = e.store.ExecutionRepository().UpdateNodeExecution(ctx, row)
			if err != nil {
				return err
			}
		}
	}

	err = e.store.WorkflowRepository().ApplyStatsDelta(ctx, execution.WorkflowID, delta)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to apply stats delta", "error", err, "execution_id", execution.ID)
	}

	if failErr != nil {
		e.audit(ctx, "system", models.AuditExecutionFailed, failErr.Error(),
			&execution.WorkflowID, &execution.ID)

		e.publish(ctx, execution.ID, events.ExecutionFailed{
			BaseEvent:       events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
			ExecutionID:     execution.ID,
			Error:           failErr.Error(),
			FailedNode:      failedNode,
			DurationSeconds: duration,
		})

		e.logger.WarnContext(ctx, "Execution failed",
			"execution_id", execution.ID, "node_id", failedNode, "error", failErr)

		return nil
	}

	e.audit(ctx, "system", models.AuditExecutionCompleted, "execution completed",
		&execution.WorkflowID, &execution.ID)

	e.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:       events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID:     execution.ID,
		DurationSeconds: duration,
	})

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID, "duration_seconds", duration)

	return nil
}
