// Package postgresql provides the PostgreSQL persistence implementation for
// workflows, the execution ledger, and the audit trail.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	// Registers the postgres database/sql driver.
	_ "github.com/lib/pq"

	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
	nodeTypeRepo *NodeTypeRepository
	execRepo     *ExecutionRepository
	auditRepo    *AuditLogRepository
	templateRepo *TemplateRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence connects to PostgreSQL, runs migrations and seeds the
// built-in node type catalog.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	postgres := &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(database, logger),
		nodeTypeRepo: NewNodeTypeRepository(database, logger),
		execRepo:     NewExecutionRepository(database, logger),
		auditRepo:    NewAuditLogRepository(database, logger),
		templateRepo: NewTemplateRepository(database, logger),
	}

	err = postgres.seedNodeTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to seed node types: %w", err)
	}

	return postgres, nil
}

// seedNodeTypes inserts the built-in catalog, leaving existing entries
// untouched.
func (p *Persistence) seedNodeTypes(ctx context.Context) error {
	query := `
		INSERT INTO node_types (id, name, kind, icon, color, description, config_schema,
			requires_user_action, allows_multiple_outputs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	for _, nodeType := range models.DefaultNodeTypes() {
		schemaJSON, err := json.Marshal(nodeType.ConfigSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal config schema: %w", err)
		}

		_, err = p.db.ExecContext(ctx, query,
			nodeType.ID,
			nodeType.Name,
			nodeType.Kind,
			nodeType.Icon,
			nodeType.Color,
			nodeType.Description,
			schemaJSON,
			nodeType.RequiresUserAction,
			nodeType.AllowsMultipleOutputs,
			nodeType.CreatedAt,
			nodeType.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert node type %s: %w", nodeType.ID, err)
		}
	}

	return nil
}

// WorkflowRepository returns the workflow repository.
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

// NodeTypeRepository returns the node type repository.
func (p *Persistence) NodeTypeRepository() persistence.NodeTypeRepository {
	return p.nodeTypeRepo
}

// ExecutionRepository returns the execution ledger repository.
func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.execRepo
}

// AuditLogRepository returns the audit log repository.
func (p *Persistence) AuditLogRepository() persistence.AuditLogRepository {
	return p.auditRepo
}

// TemplateRepository returns the workflow template repository.
func (p *Persistence) TemplateRepository() persistence.TemplateRepository {
	return p.templateRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
