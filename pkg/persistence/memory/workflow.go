package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.p.workflows))

	for _, w := range r.p.workflows {
		if w.DeletedAt == nil {
			workflows = append(workflows, clone(w))
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	w, ok := r.p.workflows[id]
	if !ok || w.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return clone(w), nil
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	seen := make(map[string]bool, len(workflow.Edges))
	for _, edge := range workflow.Edges {
		if seen[edge.Key()] {
			return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrDuplicateEdge)
		}

		seen[edge.Key()] = true
	}

	var err error

	if workflow.ID == "" {
		workflow.ID, err = newID()
		if err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	for _, node := range workflow.Nodes {
		if node.ID == "" {
			node.ID, err = newID()
			if err != nil {
				return err
			}
		}

		node.WorkflowID = workflow.ID

		if node.CreatedAt.IsZero() {
			node.CreatedAt = now
		}

		node.UpdatedAt = now
	}

	for _, edge := range workflow.Edges {
		if edge.ID == "" {
			edge.ID, err = newID()
			if err != nil {
				return err
			}
		}

		edge.WorkflowID = workflow.ID

		if edge.CreatedAt.IsZero() {
			edge.CreatedAt = now
		}
	}

	r.p.workflows[workflow.ID] = clone(workflow)

	return nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	w, ok := r.p.workflows[id]
	if !ok || w.DeletedAt != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	w.DeletedAt = &now

	return nil
}

func (r *workflowRepository) UpdateStatus(_ context.Context, id string, status models.WorkflowStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	w, ok := r.p.workflows[id]
	if !ok || w.DeletedAt != nil {
		return persistence.NewWorkflowError("UpdateStatus", id, persistence.ErrWorkflowNotFound)
	}

	w.Status = status
	w.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *workflowRepository) ApplyStatsDelta(_ context.Context, id string, delta models.StatsDelta) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	w, ok := r.p.workflows[id]
	if !ok {
		return persistence.NewWorkflowError("ApplyStatsDelta", id, persistence.ErrWorkflowNotFound)
	}

	applyStatsDelta(w, delta)

	return nil
}

// applyStatsDelta folds one terminal outcome into the rolling counters. The
// running average only tracks successful runs, matching the dashboard's
// definition of average duration.
func applyStatsDelta(w *models.Workflow, delta models.StatsDelta) {
	w.TotalRuns++

	switch {
	case delta.Succeeded:
		prior := w.AvgDurationSeconds * float64(w.SuccessfulRuns)
		w.SuccessfulRuns++
		w.AvgDurationSeconds = (prior + delta.DurationSeconds) / float64(w.SuccessfulRuns)
	case delta.Failed:
		w.FailedRuns++
	}

	finished := delta.FinishedAt
	w.LastRunAt = &finished
}

func (r *workflowRepository) ListScheduled(_ context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var scheduled []*models.Workflow

	for _, w := range r.p.workflows {
		if w.DeletedAt == nil && w.Status == models.WorkflowStatusActive && w.TriggerType == models.TriggerTypeSchedule {
			scheduled = append(scheduled, clone(w))
		}
	}

	return scheduled, nil
}

func (r *workflowRepository) CountByStatus(_ context.Context, status models.WorkflowStatus) (int64, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var count int64

	for _, w := range r.p.workflows {
		if w.DeletedAt == nil && w.Status == status {
			count++
		}
	}

	return count, nil
}

func (r *workflowRepository) Count(_ context.Context) (int64, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var count int64

	for _, w := range r.p.workflows {
		if w.DeletedAt == nil {
			count++
		}
	}

	return count, nil
}

type nodeTypeRepository struct {
	p *Persistence
}

func (r *nodeTypeRepository) GetAll(_ context.Context) ([]*models.NodeType, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	types := make([]*models.NodeType, 0, len(r.p.nodeTypes))
	for _, t := range r.p.nodeTypes {
		types = append(types, clone(t))
	}

	sort.Slice(types, func(i, j int) bool {
		return types[i].ID < types[j].ID
	})

	return types, nil
}

func (r *nodeTypeRepository) GetByID(_ context.Context, id string) (*models.NodeType, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	t, ok := r.p.nodeTypes[id]
	if !ok {
		return nil, persistence.ErrNodeTypeNotFound
	}

	return clone(t), nil
}

func (r *nodeTypeRepository) Save(_ context.Context, nodeType *models.NodeType) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.nodeTypes[nodeType.ID] = clone(nodeType)

	return nil
}

type templateRepository struct {
	p *Persistence
}

// GetAll returns active templates only, most used first.
func (r *templateRepository) GetAll(_ context.Context) ([]*models.WorkflowTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	templates := make([]*models.WorkflowTemplate, 0, len(r.p.templates))

	for _, t := range r.p.templates {
		if !t.IsActive {
			continue
		}

		templates = append(templates, clone(t))
	}

	sort.Slice(templates, func(i, j int) bool {
		if templates[i].UsageCount != templates[j].UsageCount {
			return templates[i].UsageCount > templates[j].UsageCount
		}

		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}

func (r *templateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	t, ok := r.p.templates[id]
	if !ok {
		return nil, persistence.ErrTemplateNotFound
	}

	return clone(t), nil
}

func (r *templateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if template.ID == "" {
		var err error

		template.ID, err = newID()
		if err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	r.p.templates[template.ID] = clone(template)

	return nil
}

func (r *templateRepository) IncrementUsage(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	t, ok := r.p.templates[id]
	if !ok {
		return persistence.ErrTemplateNotFound
	}

	t.UsageCount++
	t.UpdatedAt = time.Now().UTC()

	return nil
}
