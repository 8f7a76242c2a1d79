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
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

// TemplateRepository handles the workflow template catalog.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

const templateColumns = `
	id
  , name
  , description
  , category
  , definition
  , setup_time_minutes
  , complexity_level
  , tags
  , usage_count
  , is_active
  , created_by
  , created_at
  , updated_at
`

// GetAll returns active templates, most used first.
func (r *TemplateRepository) GetAll(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE is_active
		ORDER BY usage_count DESC, name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

// GetByID returns a template by its ID.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = $1`

	template, err := r.scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

// Save upserts a template.
func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	now := time.Now().UTC()

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if template.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate template ID: %w", err)
		}

		template.ID = id.String()
	}

	definitionJSON, err := json.Marshal(template.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal template definition: %w", err)
	}

	tagsJSON, err := json.Marshal(template.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal template tags: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (id, name, description, category, definition,
			setup_time_minutes, complexity_level, tags, usage_count, is_active,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			definition = EXCLUDED.definition,
			setup_time_minutes = EXCLUDED.setup_time_minutes,
			complexity_level = EXCLUDED.complexity_level,
			tags = EXCLUDED.tags,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.Name,
		template.Description,
		template.Category,
		definitionJSON,
		template.SetupTimeMinutes,
		template.ComplexityLevel,
		tagsJSON,
		template.UsageCount,
		template.IsActive,
		template.CreatedBy,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

// IncrementUsage bumps the template usage counter.
func (r *TemplateRepository) IncrementUsage(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_templates SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to increment template usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrTemplateNotFound
	}

	return nil
}

func (r *TemplateRepository) scanTemplate(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowTemplate, error) {
	var (
		template                 models.WorkflowTemplate
		definitionJSON, tagsJSON []byte
	)

	err := scanner.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.Category,
		&definitionJSON,
		&template.SetupTimeMinutes,
		&template.ComplexityLevel,
		&tagsJSON,
		&template.UsageCount,
		&template.IsActive,
		&template.CreatedBy,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if definitionJSON != nil {
		err := json.Unmarshal(definitionJSON, &template.Definition)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal template definition: %w", err)
		}
	}

	if tagsJSON != nil {
		err := json.Unmarshal(tagsJSON, &template.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal template tags: %w", err)
		}
	}

	return &template, nil
}
