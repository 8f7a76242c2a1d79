package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mbarbosa/gantry/pkg/models"
)

// AuditLogRepository handles the append-only audit trail.
type AuditLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditLogRepository creates a new audit log repository.
func NewAuditLogRepository(db *sql.DB, logger *slog.Logger) *AuditLogRepository {
	return &AuditLogRepository{db: db, logger: logger}
}

// Append inserts an audit entry. Entries are never updated or deleted.
func (r *AuditLogRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_log (id, workflow_id, execution_id, actor, action, description, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.WorkflowID,
		entry.ExecutionID,
		entry.Actor,
		entry.Action,
		entry.Description,
		metadataJSON,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByWorkflow returns entries for a workflow, newest first. A limit of
// zero or less returns all entries.
func (r *AuditLogRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, workflow_id, execution_id, actor, action, description, metadata, recorded_at
		FROM audit_log
		WHERE workflow_id = $1
		ORDER BY recorded_at DESC
	`

	args := []any{workflowID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	return r.list(ctx, query, args...)
}

// ListByExecution returns entries for an execution, newest first.
func (r *AuditLogRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, workflow_id, execution_id, actor, action, description, metadata, recorded_at
		FROM audit_log
		WHERE execution_id = $1
		ORDER BY recorded_at DESC
	`

	return r.list(ctx, query, executionID)
}

func (r *AuditLogRepository) list(ctx context.Context, query string, args ...any) ([]*models.AuditLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.AuditLogEntry, 0)

	for rows.Next() {
		var (
			entry        models.AuditLogEntry
			metadataJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.WorkflowID,
			&entry.ExecutionID,
			&entry.Actor,
			&entry.Action,
			&entry.Description,
			&metadataJSON,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if metadataJSON != nil {
			err := json.Unmarshal(metadataJSON, &entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
