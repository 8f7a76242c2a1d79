package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

// NodeTypeRepository handles node type catalog operations.
type NodeTypeRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeTypeRepository creates a new node type repository.
func NewNodeTypeRepository(db *sql.DB, logger *slog.Logger) *NodeTypeRepository {
	return &NodeTypeRepository{db: db, logger: logger}
}

const nodeTypeColumns = `
	id
  , name
  , kind
  , icon
  , color
  , description
  , config_schema
  , requires_user_action
  , allows_multiple_outputs
  , created_at
  , updated_at
`

// GetAll returns the full node type catalog.
func (r *NodeTypeRepository) GetAll(ctx context.Context) ([]*models.NodeType, error) {
	query := `SELECT ` + nodeTypeColumns + ` FROM node_types ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query node types: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodeTypes := make([]*models.NodeType, 0)

	for rows.Next() {
		nodeType, err := r.scanNodeType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node type: %w", err)
		}

		nodeTypes = append(nodeTypes, nodeType)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node types: %w", err)
	}

	return nodeTypes, nil
}

// GetByID returns a node type by its ID.
func (r *NodeTypeRepository) GetByID(ctx context.Context, id string) (*models.NodeType, error) {
	query := `SELECT ` + nodeTypeColumns + ` FROM node_types WHERE id = $1`

	nodeType, err := r.scanNodeType(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNodeTypeNotFound
		}

		return nil, fmt.Errorf("failed to scan node type: %w", err)
	}

	return nodeType, nil
}

// Save upserts a node type.
func (r *NodeTypeRepository) Save(ctx context.Context, nodeType *models.NodeType) error {
	now := time.Now().UTC()

	if nodeType.CreatedAt.IsZero() {
		nodeType.CreatedAt = now
	}

	nodeType.UpdatedAt = now

	schemaJSON, err := json.Marshal(nodeType.ConfigSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal config schema: %w", err)
	}

	query := `
		INSERT INTO node_types (id, name, kind, icon, color, description, config_schema,
			requires_user_action, allows_multiple_outputs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			icon = EXCLUDED.icon,
			color = EXCLUDED.color,
			description = EXCLUDED.description,
			config_schema = EXCLUDED.config_schema,
			requires_user_action = EXCLUDED.requires_user_action,
			allows_multiple_outputs = EXCLUDED.allows_multiple_outputs,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
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
		return fmt.Errorf("failed to save node type: %w", err)
	}

	return nil
}

func (r *NodeTypeRepository) scanNodeType(scanner interface {
	Scan(dest ...any) error
}) (*models.NodeType, error) {
	var (
		nodeType   models.NodeType
		schemaJSON []byte
	)

	err := scanner.Scan(
		&nodeType.ID,
		&nodeType.Name,
		&nodeType.Kind,
		&nodeType.Icon,
		&nodeType.Color,
		&nodeType.Description,
		&schemaJSON,
		&nodeType.RequiresUserAction,
		&nodeType.AllowsMultipleOutputs,
		&nodeType.CreatedAt,
		&nodeType.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if schemaJSON != nil {
		err := json.Unmarshal(schemaJSON, &nodeType.ConfigSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal config schema: %w", err)
		}
	}

	return &nodeType, nil
}
