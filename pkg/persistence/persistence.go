// Package persistence provides the data storage abstraction layer for
// workflow definitions, the execution ledger, and the audit trail.
package persistence

import (
	"context"
	"time"

	"github.com/mbarbosa/gantry/pkg/models"
)

// Persistence bundles the repositories backing the engine and services.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	NodeTypeRepository() NodeTypeRepository
	ExecutionRepository() ExecutionRepository
	AuditLogRepository() AuditLogRepository
	TemplateRepository() TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions (base record plus nodes and
// edges).
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error

	// UpdateStatus transitions the workflow lifecycle status only.
	UpdateStatus(ctx context.Context, id string, status models.WorkflowStatus) error

	// ApplyStatsDelta folds one terminal execution outcome into the
	// workflow's rolling counters. Implementations must serialize
	// concurrent deltas for the same workflow.
	ApplyStatsDelta(ctx context.Context, id string, delta models.StatsDelta) error

	// ListScheduled returns active workflows with a schedule trigger.
	ListScheduled(ctx context.Context) ([]*models.Workflow, error)

	CountByStatus(ctx context.Context, status models.WorkflowStatus) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// NodeTypeRepository stores the step archetype catalog.
type NodeTypeRepository interface {
	GetAll(ctx context.Context) ([]*models.NodeType, error)
	GetByID(ctx context.Context, id string) (*models.NodeType, error)
	Save(ctx context.Context, nodeType *models.NodeType) error
}

// ExecutionAggregates is the ledger-wide rollup backing the dashboard.
type ExecutionAggregates struct {
	Total       int64
	Running     int64 // queued + running
	Completed   int64
	Failed      int64
	Recent      int64 // started within the last 24h
	AvgDuration float64
}

// ExecutionRepository stores the execution ledger: run records and their
// per-node rows.
type ExecutionRepository interface {
	// CreateExecution persists the execution and all of its seeded pending
	// node rows as one atomic operation.
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution, nodes []*models.WorkflowNodeExecution) error

	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	Update(ctx context.Context, execution *models.WorkflowExecution) error

	// UpdateIfStatus rewrites the execution record only while the stored
	// status is one of expected, returning ErrExecutionNotClaimable
	// otherwise. Status transitions go through this so that a finishing
	// traversal and a concurrent cancel settle the run exactly once.
	UpdateIfStatus(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error

	NodeExecutions(ctx context.Context, executionID string) ([]*models.WorkflowNodeExecution, error)
	NodeExecution(ctx context.Context, executionID, nodeID string) (*models.WorkflowNodeExecution, error)
	UpdateNodeExecution(ctx context.Context, nodeExecution *models.WorkflowNodeExecution) error

	// ClaimNodeExecution atomically transitions a node row from one status
	// to another, returning ErrNodeExecutionNotClaimable when the row is
	// not in the expected state. This is the visit-once guarantee for
	// fan-out branches converging on a shared node.
	ClaimNodeExecution(ctx context.Context, executionID, nodeID string, from, to models.NodeExecutionStatus) (*models.WorkflowNodeExecution, error)

	// ListExpiredApprovals returns node rows waiting for approval whose
	// deadline passed at or before now.
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]*models.WorkflowNodeExecution, error)

	ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error)
	Aggregates(ctx context.Context) (ExecutionAggregates, error)
}

// AuditLogRepository is append-only; entries are never updated or deleted.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.AuditLogEntry, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.AuditLogEntry, error)
}

// TemplateRepository stores the workflow template catalog.
type TemplateRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowTemplate, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	IncrementUsage(ctx context.Context, id string) error
}
