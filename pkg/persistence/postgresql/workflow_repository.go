package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , name
  , description
  , status
  , trigger_type
  , schedule_config
  , template_id
  , owner
  , assigned_users
  , total_runs
  , successful_runs
  , failed_runs
  , avg_duration_seconds
  , created_at
  , updated_at
  , last_run_at
  , deleted_at
`

// GetAll returns all workflows, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadGraph(ctx, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow graph: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a workflow by its ID, including nodes and edges.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflowBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("get", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadGraph(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow graph: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow base record and rewrites its nodes and edges in
// one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	seen := make(map[string]struct{}, len(workflow.Edges))
	for _, edge := range workflow.Edges {
		key := edge.Key()
		if _, dup := seen[key]; dup {
			return persistence.NewWorkflowError("save", workflow.ID, persistence.ErrDuplicateEdge)
		}

		seen[key] = struct{}{}
	}

	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	scheduleJSON, err := json.Marshal(workflow.ScheduleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule config: %w", err)
	}

	assignedJSON, err := json.Marshal(workflow.AssignedUsers)
	if err != nil {
		return fmt.Errorf("failed to marshal assigned users: %w", err)
	}

	workflowQuery := `
		INSERT INTO workflows (id, name, description, status, trigger_type, schedule_config,
			template_id, owner, assigned_users, total_runs, successful_runs, failed_runs,
			avg_duration_seconds, created_at, updated_at, last_run_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			schedule_config = EXCLUDED.schedule_config,
			template_id = EXCLUDED.template_id,
			owner = EXCLUDED.owner,
			assigned_users = EXCLUDED.assigned_users,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		workflow.TriggerType,
		scheduleJSON,
		workflow.TemplateID,
		workflow.Owner,
		assignedJSON,
		workflow.TotalRuns,
		workflow.SuccessfulRuns,
		workflow.FailedRuns,
		workflow.AvgDurationSeconds,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.LastRunAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	// Rewrite graph elements on every save.
	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_edges WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing edges: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	if err = r.saveNodes(ctx, tx, workflow); err != nil {
		return fmt.Errorf("failed to save workflow nodes: %w", err)
	}

	if err = r.saveEdges(ctx, tx, workflow); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting the deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// UpdateStatus transitions the workflow lifecycle status only.
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	query := `UPDATE workflows SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("update_status", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// ApplyStatsDelta folds one terminal execution outcome into the workflow's
// rolling counters. A single UPDATE keeps concurrent deltas serialized by
// the database.
func (r *WorkflowRepository) ApplyStatsDelta(ctx context.Context, id string, delta models.StatsDelta) error {
	query := `
		UPDATE workflows SET
			total_runs = total_runs + 1,
			successful_runs = successful_runs + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_runs = failed_runs + CASE WHEN $3 THEN 1 ELSE 0 END,
			avg_duration_seconds = CASE
				WHEN $2 THEN (avg_duration_seconds * successful_runs + $4) / (successful_runs + 1)
				ELSE avg_duration_seconds
			END,
			last_run_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, delta.Succeeded, delta.Failed, delta.DurationSeconds, delta.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to apply stats delta: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("apply_stats", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// ListScheduled returns active workflows with a schedule trigger.
func (r *WorkflowRepository) ListScheduled(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL AND status = $1 AND trigger_type = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, models.WorkflowStatusActive, models.TriggerTypeSchedule)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled workflows: %w", err)
	}

	return workflows, nil
}

// CountByStatus returns the number of live workflows in the given status.
func (r *WorkflowRepository) CountByStatus(ctx context.Context, status models.WorkflowStatus) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflows WHERE deleted_at IS NULL AND status = $1", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflows by status: %w", err)
	}

	return count, nil
}

// Count returns the number of live workflows.
func (r *WorkflowRepository) Count(ctx context.Context) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows WHERE deleted_at IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	return count, nil
}

func (r *WorkflowRepository) loadGraph(ctx context.Context, workflow *models.Workflow) error {
	nodesQuery := `
		SELECT id, node_type_id, node_id, name, description, position_x, position_y,
			config, is_required, timeout_seconds, max_retries, assigned_user, created_at, updated_at
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY created_at, node_id
	`

	rows, err := r.db.QueryContext(ctx, nodesQuery, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var nodes []*models.WorkflowNode

	for rows.Next() {
		var (
			node       models.WorkflowNode
			configJSON []byte
		)

		err := rows.Scan(
			&node.ID,
			&node.NodeTypeID,
			&node.NodeID,
			&node.Name,
			&node.Description,
			&node.PositionX,
			&node.PositionY,
			&configJSON,
			&node.IsRequired,
			&node.TimeoutSeconds,
			&node.MaxRetries,
			&node.AssignedUser,
			&node.CreatedAt,
			&node.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		node.WorkflowID = workflow.ID

		if configJSON != nil {
			err := json.Unmarshal(configJSON, &node.Config)
			if err != nil {
				return fmt.Errorf("failed to unmarshal node configuration: %w", err)
			}
		}

		nodes = append(nodes, &node)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	workflow.Nodes = nodes

	edgesQuery := `
		SELECT id, source_node, target_node, condition, condition_config, label, created_at
		FROM workflow_edges
		WHERE workflow_id = $1
		ORDER BY created_at, id
	`

	edgeRows, err := r.db.QueryContext(ctx, edgesQuery, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow edges: %w", err)
	}

	defer func() {
		err := edgeRows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var edges []*models.WorkflowEdge

	for edgeRows.Next() {
		var (
			edge       models.WorkflowEdge
			configJSON []byte
		)

		err := edgeRows.Scan(
			&edge.ID,
			&edge.SourceNode,
			&edge.TargetNode,
			&edge.Condition,
			&configJSON,
			&edge.Label,
			&edge.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}

		edge.WorkflowID = workflow.ID

		if configJSON != nil {
			err := json.Unmarshal(configJSON, &edge.ConditionConfig)
			if err != nil {
				return fmt.Errorf("failed to unmarshal edge condition config: %w", err)
			}
		}

		edges = append(edges, &edge)
	}

	if err := edgeRows.Err(); err != nil {
		return fmt.Errorf("error iterating edges: %w", err)
	}

	workflow.Edges = edges

	return nil
}

func (r *WorkflowRepository) saveNodes(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflow_nodes (id, workflow_id, node_type_id, node_id, name, description,
			position_x, position_y, config, is_required, timeout_seconds, max_retries,
			assigned_user, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	now := time.Now().UTC()

	for _, node := range workflow.Nodes {
		if node.ID == "" {
			node.ID = uuid.New().String()
		}

		if node.CreatedAt.IsZero() {
			node.CreatedAt = now
		}

		node.UpdatedAt = now
		node.WorkflowID = workflow.ID

		configJSON, err := json.Marshal(node.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal node configuration: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			node.ID,
			workflow.ID,
			node.NodeTypeID,
			node.NodeID,
			node.Name,
			node.Description,
			node.PositionX,
			node.PositionY,
			configJSON,
			node.IsRequired,
			node.TimeoutSeconds,
			node.MaxRetries,
			node.AssignedUser,
			node.CreatedAt,
			node.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save node: %w", err)
		}
	}

	return nil
}

func (r *WorkflowRepository) saveEdges(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflow_edges (id, workflow_id, source_node, target_node, condition,
			condition_config, label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()

	for _, edge := range workflow.Edges {
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}

		if edge.CreatedAt.IsZero() {
			edge.CreatedAt = now
		}

		edge.WorkflowID = workflow.ID

		configJSON, err := json.Marshal(edge.ConditionConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal edge condition config: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			edge.ID,
			workflow.ID,
			edge.SourceNode,
			edge.TargetNode,
			edge.Condition,
			configJSON,
			edge.Label,
			edge.CreatedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return persistence.NewWorkflowError("save", workflow.ID, persistence.ErrDuplicateEdge)
			}

			return fmt.Errorf("failed to save edge: %w", err)
		}
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflowBase(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var (
		workflow                   models.Workflow
		scheduleJSON, assignedJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&workflow.TriggerType,
		&scheduleJSON,
		&workflow.TemplateID,
		&workflow.Owner,
		&assignedJSON,
		&workflow.TotalRuns,
		&workflow.SuccessfulRuns,
		&workflow.FailedRuns,
		&workflow.AvgDurationSeconds,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.LastRunAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduleJSON != nil {
		err := json.Unmarshal(scheduleJSON, &workflow.ScheduleConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule config: %w", err)
		}
	}

	if assignedJSON != nil {
		err := json.Unmarshal(assignedJSON, &workflow.AssignedUsers)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal assigned users: %w", err)
		}
	}

	return &workflow, nil
}
