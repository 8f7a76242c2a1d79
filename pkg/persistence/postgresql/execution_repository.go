package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

// ExecutionRepository handles the execution ledger: run records and their
// per-node rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , status
  , triggered_by
  , trigger_payload
  , context_data
  , current_node
  , snapshot
  , started_at
  , completed_at
  , duration_seconds
  , error_message
  , error_details
`

const nodeExecutionColumns = `
	id
  , execution_id
  , node_id
  , status
  , input_data
  , output_data
  , started_at
  , completed_at
  , duration_seconds
  , error_message
  , retry_count
  , approved_by
  , approval_notes
  , approval_expires_at
`

// CreateExecution persists the execution record and all of its seeded pending
// node rows in a single transaction.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution, nodes []*models.WorkflowNodeExecution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	payloadJSON, err := json.Marshal(execution.TriggerPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger payload: %w", err)
	}

	contextJSON, err := json.Marshal(execution.ContextData)
	if err != nil {
		return fmt.Errorf("failed to marshal context data: %w", err)
	}

	snapshotJSON, err := json.Marshal(execution.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	detailsJSON, err := json.Marshal(execution.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}

	executionQuery := `
		INSERT INTO workflow_executions (id, workflow_id, status, triggered_by, trigger_payload,
			context_data, current_node, snapshot, started_at, completed_at, duration_seconds,
			error_message, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, executionQuery,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		execution.TriggeredBy,
		payloadJSON,
		contextJSON,
		execution.CurrentNode,
		snapshotJSON,
		execution.StartedAt,
		execution.CompletedAt,
		execution.DurationSeconds,
		execution.ErrorMessage,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	nodeQuery := `
		INSERT INTO workflow_node_executions (id, execution_id, node_id, status, input_data,
			output_data, started_at, completed_at, duration_seconds, error_message, retry_count,
			approved_by, approval_notes, approval_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	for _, node := range nodes {
		inputJSON, merr := json.Marshal(node.InputData)
		if merr != nil {
			err = fmt.Errorf("failed to marshal node input: %w", merr)

			return err
		}

		outputJSON, merr := json.Marshal(node.OutputData)
		if merr != nil {
			err = fmt.Errorf("failed to marshal node output: %w", merr)

			return err
		}

		_, err = tx.ExecContext(ctx, nodeQuery,
			node.ID,
			execution.ID,
			node.NodeID,
			node.Status,
			inputJSON,
			outputJSON,
			node.StartedAt,
			node.CompletedAt,
			node.DurationSeconds,
			node.ErrorMessage,
			node.RetryCount,
			node.ApprovedBy,
			node.ApprovalNotes,
			node.ApprovalExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert node execution %s: %w", node.NodeID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID returns an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("get", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// Update rewrites the execution record.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	contextJSON, err := json.Marshal(execution.ContextData)
	if err != nil {
		return fmt.Errorf("failed to marshal context data: %w", err)
	}

	detailsJSON, err := json.Marshal(execution.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}

	query := `
		UPDATE workflow_executions SET
			status = $2,
			context_data = $3,
			current_node = $4,
			completed_at = $5,
			duration_seconds = $6,
			error_message = $7,
			error_details = $8
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		contextJSON,
		execution.CurrentNode,
		execution.CompletedAt,
		execution.DurationSeconds,
		execution.ErrorMessage,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewExecutionError("update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// UpdateIfStatus rewrites the execution record with a conditional UPDATE on
// the stored status. The losing writer of a concurrent transition gets
// ErrExecutionNotClaimable.
func (r *ExecutionRepository) UpdateIfStatus(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	contextJSON, err := json.Marshal(execution.ContextData)
	if err != nil {
		return fmt.Errorf("failed to marshal context data: %w", err)
	}

	detailsJSON, err := json.Marshal(execution.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}

	statuses := make([]string, 0, len(expected))
	for _, status := range expected {
		statuses = append(statuses, string(status))
	}

	query := `
		UPDATE workflow_executions SET
			status = $2,
			context_data = $3,
			current_node = $4,
			completed_at = $5,
			duration_seconds = $6,
			error_message = $7,
			error_details = $8
		WHERE id = $1 AND status = ANY($9)
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		contextJSON,
		execution.CurrentNode,
		execution.CompletedAt,
		execution.DurationSeconds,
		execution.ErrorMessage,
		detailsJSON,
		pq.Array(statuses),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return nil
	}

	// Distinguish a lost claim from a missing row.
	var exists bool

	checkErr := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM workflow_executions WHERE id = $1)",
		execution.ID).Scan(&exists)
	if checkErr != nil {
		return fmt.Errorf("failed to check execution: %w", checkErr)
	}

	if !exists {
		return persistence.NewExecutionError("update_if_status", execution.ID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError("update_if_status", execution.ID, persistence.ErrExecutionNotClaimable)
}

// NodeExecutions returns all node rows of an execution.
func (r *ExecutionRepository) NodeExecutions(ctx context.Context, executionID string) ([]*models.WorkflowNodeExecution, error) {
	query := `SELECT ` + nodeExecutionColumns + ` FROM workflow_node_executions WHERE execution_id = $1 ORDER BY node_id`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodeExecutions := make([]*models.WorkflowNodeExecution, 0)

	for rows.Next() {
		nodeExecution, err := r.scanNodeExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		nodeExecutions = append(nodeExecutions, nodeExecution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}

	return nodeExecutions, nil
}

// NodeExecution returns one node row of an execution.
func (r *ExecutionRepository) NodeExecution(ctx context.Context, executionID, nodeID string) (*models.WorkflowNodeExecution, error) {
	query := `SELECT ` + nodeExecutionColumns + ` FROM workflow_node_executions WHERE execution_id = $1 AND node_id = $2`

	nodeExecution, err := r.scanNodeExecution(r.db.QueryRowContext(ctx, query, executionID, nodeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewNodeExecutionError("get_node", executionID, nodeID, persistence.ErrNodeExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan node execution: %w", err)
	}

	return nodeExecution, nil
}

// UpdateNodeExecution rewrites a node row.
func (r *ExecutionRepository) UpdateNodeExecution(ctx context.Context, nodeExecution *models.WorkflowNodeExecution) error {
	inputJSON, err := json.Marshal(nodeExecution.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal node input: %w", err)
	}

	outputJSON, err := json.Marshal(nodeExecution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal node output: %w", err)
	}

	query := `
		UPDATE workflow_node_executions SET
			status = $3,
			input_data = $4,
			output_data = $5,
			started_at = $6,
			completed_at = $7,
			duration_seconds = $8,
			error_message = $9,
			retry_count = $10,
			approved_by = $11,
			approval_notes = $12,
			approval_expires_at = $13
		WHERE execution_id = $1 AND node_id = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		nodeExecution.ExecutionID,
		nodeExecution.NodeID,
		nodeExecution.Status,
		inputJSON,
		outputJSON,
		nodeExecution.StartedAt,
		nodeExecution.CompletedAt,
		nodeExecution.DurationSeconds,
		nodeExecution.ErrorMessage,
		nodeExecution.RetryCount,
		nodeExecution.ApprovedBy,
		nodeExecution.ApprovalNotes,
		nodeExecution.ApprovalExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update node execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewNodeExecutionError("update_node", nodeExecution.ExecutionID, nodeExecution.NodeID, persistence.ErrNodeExecutionNotFound)
	}

	return nil
}

// ClaimNodeExecution atomically transitions a node row between statuses with
// a conditional UPDATE. The losing caller of a concurrent claim gets
// ErrNodeExecutionNotClaimable.
func (r *ExecutionRepository) ClaimNodeExecution(ctx context.Context, executionID, nodeID string, from, to models.NodeExecutionStatus) (*models.WorkflowNodeExecution, error) {
	query := `
		UPDATE workflow_node_executions SET status = $4
		WHERE execution_id = $1 AND node_id = $2 AND status = $3
		RETURNING ` + nodeExecutionColumns

	nodeExecution, err := r.scanNodeExecution(r.db.QueryRowContext(ctx, query, executionID, nodeID, from, to))
	if err == nil {
		return nodeExecution, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim node execution: %w", err)
	}

	// Distinguish a lost claim from a missing row.
	var exists bool

	checkErr := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM workflow_node_executions WHERE execution_id = $1 AND node_id = $2)",
		executionID, nodeID).Scan(&exists)
	if checkErr != nil {
		return nil, fmt.Errorf("failed to check node execution: %w", checkErr)
	}

	if !exists {
		return nil, persistence.NewNodeExecutionError("claim", executionID, nodeID, persistence.ErrNodeExecutionNotFound)
	}

	return nil, persistence.NewNodeExecutionError("claim", executionID, nodeID, persistence.ErrNodeExecutionNotClaimable)
}

// ListExpiredApprovals returns node rows waiting for approval whose deadline
// passed at or before now.
func (r *ExecutionRepository) ListExpiredApprovals(ctx context.Context, now time.Time) ([]*models.WorkflowNodeExecution, error) {
	query := `
		SELECT ` + nodeExecutionColumns + `
		FROM workflow_node_executions
		WHERE status = $1 AND approval_expires_at IS NOT NULL AND approval_expires_at <= $2
		ORDER BY approval_expires_at
	`

	rows, err := r.db.QueryContext(ctx, query, models.NodeExecutionStatusWaitingApproval, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired approvals: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	expired := make([]*models.WorkflowNodeExecution, 0)

	for rows.Next() {
		nodeExecution, err := r.scanNodeExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		expired = append(expired, nodeExecution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired approvals: %w", err)
	}

	return expired, nil
}

// ListByWorkflowSince returns executions of a workflow started at or after
// the given time, newest first.
func (r *ExecutionRepository) ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1 AND started_at >= $2
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// Aggregates returns the ledger-wide rollup backing the dashboard.
func (r *ExecutionRepository) Aggregates(ctx context.Context) (persistence.ExecutionAggregates, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COUNT(*) FILTER (WHERE started_at >= $5),
			COALESCE(AVG(duration_seconds) FILTER (WHERE status = $3), 0)
		FROM workflow_executions
	`

	var aggregates persistence.ExecutionAggregates

	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	err := r.db.QueryRowContext(ctx, query,
		models.ExecutionStatusQueued,
		models.ExecutionStatusRunning,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		cutoff,
	).Scan(
		&aggregates.Total,
		&aggregates.Running,
		&aggregates.Completed,
		&aggregates.Failed,
		&aggregates.Recent,
		&aggregates.AvgDuration,
	)
	if err != nil {
		return persistence.ExecutionAggregates{}, fmt.Errorf("failed to query execution aggregates: %w", err)
	}

	return aggregates, nil
}

func (r *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowExecution, error) {
	var (
		execution                                           models.WorkflowExecution
		payloadJSON, contextJSON, snapshotJSON, detailsJSON []byte
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&execution.TriggeredBy,
		&payloadJSON,
		&contextJSON,
		&execution.CurrentNode,
		&snapshotJSON,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.DurationSeconds,
		&execution.ErrorMessage,
		&detailsJSON,
	)
	if err != nil {
		return nil, err
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &execution.TriggerPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
		}
	}

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &execution.ContextData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context data: %w", err)
		}
	}

	if snapshotJSON != nil {
		if err := json.Unmarshal(snapshotJSON, &execution.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}

	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &execution.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error details: %w", err)
		}
	}

	return &execution, nil
}

func (r *ExecutionRepository) scanNodeExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowNodeExecution, error) {
	var (
		nodeExecution         models.WorkflowNodeExecution
		inputJSON, outputJSON []byte
	)

	err := scanner.Scan(
		&nodeExecution.ID,
		&nodeExecution.ExecutionID,
		&nodeExecution.NodeID,
		&nodeExecution.Status,
		&inputJSON,
		&outputJSON,
		&nodeExecution.StartedAt,
		&nodeExecution.CompletedAt,
		&nodeExecution.DurationSeconds,
		&nodeExecution.ErrorMessage,
		&nodeExecution.RetryCount,
		&nodeExecution.ApprovedBy,
		&nodeExecution.ApprovalNotes,
		&nodeExecution.ApprovalExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &nodeExecution.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node input: %w", err)
		}
	}

	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &nodeExecution.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node output: %w", err)
		}
	}

	return &nodeExecution, nil
}
