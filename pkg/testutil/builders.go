// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/google/uuid"
	"github.com/mbarbosa/gantry/pkg/models"
)

// CreateTestNode creates a test WorkflowNode with default values that can be
// overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:         uuid.New().String(),
		NodeTypeID: "process",
		NodeID:     "node_" + uuid.New().String()[:8],
		Name:       "Test Node",
		Config:     map[string]any{},
		PositionX:  100,
		PositionY:  200,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithNodeID sets the caller-assigned node ID.
func WithNodeID(nodeID string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.NodeID = nodeID
	}
}

// WithNodeType sets the node type ID.
func WithNodeType(nodeTypeID string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.NodeTypeID = nodeTypeID
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config = config
	}
}

// WithPosition sets the node canvas position.
func WithPosition(x, y float64) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.PositionX = x
		n.PositionY = y
	}
}

// WithRetries sets the node retry budget. Zero disables retries.
func WithRetries(maxRetries int) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.MaxRetries = &maxRetries
	}
}

// CreateTestEdge creates an edge between two nodes, defaulting to an
// unconditional route.
func CreateTestEdge(source, target string, overrides ...func(*models.WorkflowEdge)) *models.WorkflowEdge {
	edge := &models.WorkflowEdge{
		ID:         uuid.New().String(),
		SourceNode: source,
		TargetNode: target,
		Condition:  models.EdgeConditionAlways,
	}

	for _, override := range overrides {
		override(edge)
	}

	return edge
}

// WithCondition sets the edge condition kind.
func WithCondition(condition models.EdgeCondition) func(*models.WorkflowEdge) {
	return func(e *models.WorkflowEdge) {
		e.Condition = condition
	}
}

// WithConditionConfig sets the conditional-edge expression config.
func WithConditionConfig(config map[string]any) func(*models.WorkflowEdge) {
	return func(e *models.WorkflowEdge) {
		e.ConditionConfig = config
	}
}

// CreateTestWorkflow creates an empty draft workflow.
func CreateTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Status:      models.WorkflowStatusDraft,
		TriggerType: models.TriggerTypeManual,
		Owner:       "test-user",
		Nodes:       []*models.WorkflowNode{},
		Edges:       []*models.WorkflowEdge{},
	}
}

// CreateTestWorkflowWithGraph creates a draft workflow with a minimal
// start, process, end graph.
func CreateTestWorkflowWithGraph() *models.Workflow {
	workflow := CreateTestWorkflow()

	workflow.Nodes = []*models.WorkflowNode{
		CreateTestNode(WithNodeType("start"), WithNodeID("start_1"), WithName("Start")),
		CreateTestNode(WithNodeID("work"), WithName("Work")),
		CreateTestNode(WithNodeType("end"), WithNodeID("end_1"), WithName("End")),
	}

	workflow.Edges = []*models.WorkflowEdge{
		CreateTestEdge("start_1", "work"),
		CreateTestEdge("work", "end_1", WithCondition(models.EdgeConditionOnSuccess)),
	}

	return workflow
}
