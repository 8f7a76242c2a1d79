// Package memory provides an in-process persistence implementation used by
// tests, the development API, and the worker's default configuration.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

// Persistence implements persistence.Persistence with mutex-guarded maps.
// Records are cloned on the way in and out so callers never share memory
// with the store.
type Persistence struct {
	mu sync.RWMutex

	workflows  map[string]*models.Workflow
	nodeTypes  map[string]*models.NodeType
	executions map[string]*models.WorkflowExecution
	nodeExecs  map[string]map[string]*models.WorkflowNodeExecution // executionID → nodeID → row
	audit      []*models.AuditLogEntry
	templates  map[string]*models.WorkflowTemplate

	workflowRepo  *workflowRepository
	nodeTypeRepo  *nodeTypeRepository
	executionRepo *executionRepository
	auditRepo     *auditRepository
	templateRepo  *templateRepository
}

// NewPersistence creates an empty in-memory store seeded with the default
// node type catalog.
func NewPersistence() *Persistence {
	p := &Persistence{
		workflows:  make(map[string]*models.Workflow),
		nodeTypes:  make(map[string]*models.NodeType),
		executions: make(map[string]*models.WorkflowExecution),
		nodeExecs:  make(map[string]map[string]*models.WorkflowNodeExecution),
		templates:  make(map[string]*models.WorkflowTemplate),
	}

	p.workflowRepo = &workflowRepository{p}
	p.nodeTypeRepo = &nodeTypeRepository{p}
	p.executionRepo = &executionRepository{p}
	p.auditRepo = &auditRepository{p}
	p.templateRepo = &templateRepository{p}

	for _, t := range models.DefaultNodeTypes() {
		p.nodeTypes[t.ID] = t
	}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) NodeTypeRepository() persistence.NodeTypeRepository {
	return p.nodeTypeRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) AuditLogRepository() persistence.AuditLogRepository {
	return p.auditRepo
}

func (p *Persistence) TemplateRepository() persistence.TemplateRepository {
	return p.templateRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// clone round-trips a record through JSON. Every stored type is
// JSON-serializable by construction.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		panic("memory: unserializable record: " + err.Error())
	}

	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic("memory: clone failed: " + err.Error())
	}

	return out
}
