package memory

import (
	"context"

	"github.com/mbarbosa/gantry/pkg/models"
)

type auditRepository struct {
	p *Persistence
}

func (r *auditRepository) Append(_ context.Context, entry *models.AuditLogEntry) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.audit = append(r.p.audit, clone(entry))

	return nil
}

func (r *auditRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.AuditLogEntry, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var result []*models.AuditLogEntry

	// Newest first, as the audit views present them.
	for i := len(r.p.audit) - 1; i >= 0; i-- {
		entry := r.p.audit[i]
		if entry.WorkflowID != nil && *entry.WorkflowID == workflowID {
			result = append(result, clone(entry))

			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}

	return result, nil
}

func (r *auditRepository) ListByExecution(_ context.Context, executionID string) ([]*models.AuditLogEntry, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var result []*models.AuditLogEntry

	for i := len(r.p.audit) - 1; i >= 0; i-- {
		entry := r.p.audit[i]
		if entry.ExecutionID != nil && *entry.ExecutionID == executionID {
			result = append(result, clone(entry))
		}
	}

	return result, nil
}
