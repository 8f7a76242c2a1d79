package memory

import (
	"context"
	"sort"
	"time"

	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) CreateExecution(_ context.Context, execution *models.WorkflowExecution, nodes []*models.WorkflowNodeExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	rows := make(map[string]*models.WorkflowNodeExecution, len(nodes))

	for _, n := range nodes {
		if _, exists := rows[n.NodeID]; exists {
			return persistence.NewNodeExecutionError("CreateExecution", execution.ID, n.NodeID, persistence.ErrNodeExecutionNotClaimable)
		}

		rows[n.NodeID] = clone(n)
	}

	// Single map assignment pair under one lock hold: all-or-nothing.
	r.p.executions[execution.ID] = clone(execution)
	r.p.nodeExecs[execution.ID] = rows

	return nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	e, ok := r.p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return clone(e), nil
}

func (r *executionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.executions[execution.ID]; !ok {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	r.p.executions[execution.ID] = clone(execution)

	return nil
}

func (r *executionRepository) UpdateIfStatus(_ context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	current, ok := r.p.executions[execution.ID]
	if !ok {
		return persistence.NewExecutionError("UpdateIfStatus", execution.ID, persistence.ErrExecutionNotFound)
	}

	matched := false

	for _, status := range expected {
		if current.Status == status {
			matched = true

			break
		}
	}

	if !matched {
		return persistence.NewExecutionError("UpdateIfStatus", execution.ID, persistence.ErrExecutionNotClaimable)
	}

	r.p.executions[execution.ID] = clone(execution)

	return nil
}

func (r *executionRepository) NodeExecutions(_ context.Context, executionID string) ([]*models.WorkflowNodeExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	rows, ok := r.p.nodeExecs[executionID]
	if !ok {
		return nil, persistence.NewExecutionError("NodeExecutions", executionID, persistence.ErrExecutionNotFound)
	}

	result := make([]*models.WorkflowNodeExecution, 0, len(rows))
	for _, n := range rows {
		result = append(result, clone(n))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].NodeID < result[j].NodeID
	})

	return result, nil
}

func (r *executionRepository) NodeExecution(_ context.Context, executionID, nodeID string) (*models.WorkflowNodeExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	row, err := r.nodeExecutionLocked(executionID, nodeID, "NodeExecution")
	if err != nil {
		return nil, err
	}

	return clone(row), nil
}

func (r *executionRepository) UpdateNodeExecution(_ context.Context, nodeExecution *models.WorkflowNodeExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, err := r.nodeExecutionLocked(nodeExecution.ExecutionID, nodeExecution.NodeID, "UpdateNodeExecution"); err != nil {
		return err
	}

	r.p.nodeExecs[nodeExecution.ExecutionID][nodeExecution.NodeID] = clone(nodeExecution)

	return nil
}

func (r *executionRepository) ClaimNodeExecution(_ context.Context, executionID, nodeID string, from, to models.NodeExecutionStatus) (*models.WorkflowNodeExecution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	row, err := r.nodeExecutionLocked(executionID, nodeID, "ClaimNodeExecution")
	if err != nil {
		return nil, err
	}

	if row.Status != from {
		return nil, persistence.NewNodeExecutionError("ClaimNodeExecution", executionID, nodeID, persistence.ErrNodeExecutionNotClaimable)
	}

	row.Status = to

	return clone(row), nil
}

func (r *executionRepository) ListExpiredApprovals(_ context.Context, now time.Time) ([]*models.WorkflowNodeExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var expired []*models.WorkflowNodeExecution

	for _, rows := range r.p.nodeExecs {
		for _, n := range rows {
			if n.Status == models.NodeExecutionStatusWaitingApproval &&
				n.ApprovalExpiresAt != nil && !n.ApprovalExpiresAt.After(now) {
				expired = append(expired, clone(n))
			}
		}
	}

	return expired, nil
}

func (r *executionRepository) ListByWorkflowSince(_ context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var result []*models.WorkflowExecution

	for _, e := range r.p.executions {
		if e.WorkflowID == workflowID && !e.StartedAt.Before(since) {
			result = append(result, clone(e))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})

	return result, nil
}

func (r *executionRepository) Aggregates(_ context.Context) (persistence.ExecutionAggregates, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var agg persistence.ExecutionAggregates

	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	var durationSum float64

	for _, e := range r.p.executions {
		agg.Total++

		switch e.Status {
		case models.ExecutionStatusQueued, models.ExecutionStatusRunning:
			agg.Running++
		case models.ExecutionStatusCompleted:
			agg.Completed++

			if e.DurationSeconds != nil {
				durationSum += *e.DurationSeconds
			}
		case models.ExecutionStatusFailed:
			agg.Failed++
		}

		if e.StartedAt.After(cutoff) {
			agg.Recent++
		}
	}

	if agg.Completed > 0 {
		agg.AvgDuration = durationSum / float64(agg.Completed)
	}

	return agg, nil
}

// nodeExecutionLocked resolves a live (uncloned) node row. Callers must hold
// the store lock.
func (r *executionRepository) nodeExecutionLocked(executionID, nodeID, op string) (*models.WorkflowNodeExecution, error) {
	rows, ok := r.p.nodeExecs[executionID]
	if !ok {
		return nil, persistence.NewExecutionError(op, executionID, persistence.ErrExecutionNotFound)
	}

	row, ok := rows[nodeID]
	if !ok {
		return nil, persistence.NewNodeExecutionError(op, executionID, nodeID, persistence.ErrNodeExecutionNotFound)
	}

	return row, nil
}
