package models

import (
	"fmt"
	"strings"
)

// Outcome is the terminal result of one node's execution, used to select
// matching outgoing edges.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeApprovalGranted Outcome = "approval_granted"
	OutcomeApprovalDenied  Outcome = "approval_denied"
)

// Succeeded reports whether the outcome counts as a success for
// on_success/on_failure edge matching. A granted approval succeeds,
// a denied one fails.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess || o == OutcomeApprovalGranted
}

// ConditionExpr is the comparison configured on a conditional edge,
// evaluated against the execution context merged with the source node's
// output.
type ConditionExpr struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ParseConditionExpr extracts the comparison triple from an edge's
// condition_config payload.
func ParseConditionExpr(config map[string]any) (ConditionExpr, error) {
	field, _ := config["field"].(string)
	if field == "" {
		return ConditionExpr{}, fmt.Errorf("conditional edge: missing field")
	}

	operator, _ := config["operator"].(string)
	if operator == "" {
		operator = "eq"
	}

	return ConditionExpr{Field: field, Operator: operator, Value: config["value"]}, nil
}

// Evaluate resolves the field against data (dotted paths descend into nested
// maps) and applies the operator.
func (c ConditionExpr) Evaluate(data map[string]any) (bool, error) {
	actual, found := lookupPath(data, c.Field)

	switch c.Operator {
	case "exists":
		return found, nil
	case "not_exists":
		return !found, nil
	case "eq":
		return found && looseEqual(actual, c.Value), nil
	case "neq":
		return !found || !looseEqual(actual, c.Value), nil
	case "contains":
		s, ok := actual.(string)
		sub, ok2 := c.Value.(string)

		return found && ok && ok2 && strings.Contains(s, sub), nil
	case "gt", "gte", "lt", "lte":
		if !found {
			return false, nil
		}

		left, okL := toFloat(actual)
		right, okR := toFloat(c.Value)
		if !okL || !okR {
			return false, fmt.Errorf("operator %q requires numeric operands", c.Operator)
		}

		switch c.Operator {
		case "gt":
			return left > right, nil
		case "gte":
			return left >= right, nil
		case "lt":
			return left < right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, fmt.Errorf("unsupported condition operator: %s", c.Operator)
	}
}

// EdgeMatches reports whether an edge should be traversed given the source
// node's outcome. data is the execution context merged with the node output,
// consulted only for conditional edges.
func EdgeMatches(edge *WorkflowEdge, outcome Outcome, data map[string]any) (bool, error) {
	switch edge.Condition {
	case EdgeConditionAlways:
		return true, nil
	case EdgeConditionOnSuccess:
		return outcome.Succeeded(), nil
	case EdgeConditionOnFailure:
		return !outcome.Succeeded(), nil
	case EdgeConditionApprovalGranted:
		return outcome == OutcomeApprovalGranted, nil
	case EdgeConditionApprovalDenied:
		return outcome == OutcomeApprovalDenied, nil
	case EdgeConditionConditional:
		expr, err := ParseConditionExpr(edge.ConditionConfig)
		if err != nil {
			return false, err
		}

		return expr.Evaluate(data)
	default:
		return false, fmt.Errorf("unknown edge condition: %s", edge.Condition)
	}
}

func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var current any = data

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}

	return 0, false
}
