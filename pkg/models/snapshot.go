package models

import "time"

// GraphSnapshot is a deep copy of a workflow's definition captured when an
// execution is created. In-flight runs resolve all graph data from their
// snapshot, so editing the live workflow never affects them.
type GraphSnapshot struct {
	WorkflowID   string               `json:"workflow_id"`
	WorkflowName string               `json:"workflow_name"`
	TakenAt      time.Time            `json:"taken_at"`
	Nodes        []*WorkflowNode      `json:"nodes"`
	Edges        []*WorkflowEdge      `json:"edges"`
	NodeTypes    map[string]*NodeType `json:"node_types"`
}

// NewGraphSnapshot deep-copies the workflow's nodes and edges together with
// the node types they reference.
func NewGraphSnapshot(workflow *Workflow, types []*NodeType) *GraphSnapshot {
	snapshot := &GraphSnapshot{
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		TakenAt:      time.Now().UTC(),
		Nodes:        make([]*WorkflowNode, 0, len(workflow.Nodes)),
		Edges:        make([]*WorkflowEdge, 0, len(workflow.Edges)),
		NodeTypes:    make(map[string]*NodeType),
	}

	referenced := make(map[string]bool)

	for _, node := range workflow.Nodes {
		copied := *node
		copied.Config = copyMap(node.Config)
		snapshot.Nodes = append(snapshot.Nodes, &copied)
		referenced[node.NodeTypeID] = true
	}

	for _, edge := range workflow.Edges {
		copied := *edge
		copied.ConditionConfig = copyMap(edge.ConditionConfig)
		snapshot.Edges = append(snapshot.Edges, &copied)
	}

	for _, t := range types {
		if referenced[t.ID] {
			copied := *t
			snapshot.NodeTypes[t.ID] = &copied
		}
	}

	return snapshot
}

// Node returns the snapshot node with the given caller-assigned node ID.
func (s *GraphSnapshot) Node(nodeID string) (*WorkflowNode, bool) {
	for _, n := range s.Nodes {
		if n.NodeID == nodeID {
			return n, true
		}
	}

	return nil, false
}

// TypeOf resolves a node's NodeType from the snapshot catalog.
func (s *GraphSnapshot) TypeOf(node *WorkflowNode) (*NodeType, bool) {
	t, ok := s.NodeTypes[node.NodeTypeID]

	return t, ok
}

// StartNodes returns all nodes of kind start.
func (s *GraphSnapshot) StartNodes() []*WorkflowNode {
	return s.nodesOfKind(NodeKindStart)
}

// EndNodes returns all nodes of kind end.
func (s *GraphSnapshot) EndNodes() []*WorkflowNode {
	return s.nodesOfKind(NodeKindEnd)
}

func (s *GraphSnapshot) nodesOfKind(kind NodeKind) []*WorkflowNode {
	var nodes []*WorkflowNode

	for _, n := range s.Nodes {
		if t, ok := s.TypeOf(n); ok && t.Kind == kind {
			nodes = append(nodes, n)
		}
	}

	return nodes
}

// OutgoingEdges returns all edges leaving the given node.
func (s *GraphSnapshot) OutgoingEdges(nodeID string) []*WorkflowEdge {
	var edges []*WorkflowEdge

	for _, e := range s.Edges {
		if e.SourceNode == nodeID {
			edges = append(edges, e)
		}
	}

	return edges
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = copyValue(v)
	}

	return copied
}

func copyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return copyMap(value)
	case []any:
		copied := make([]any, len(value))
		for i, item := range value {
			copied[i] = copyValue(item)
		}

		return copied
	default:
		return v
	}
}
