// Package protocol defines the interfaces and contracts for pluggable step
// runners.
package protocol

import (
	"context"
	"log/slog"
)

// StepInput is everything a runner may read when executing one node of a
// run. ContextData is the branch-scoped copy of the execution context; the
// runner's output is merged back by the engine, never written here.
type StepInput struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	ContextData map[string]any
}

// StepRunner executes the work of a single node. Implementations must honor
// ctx cancellation and deadlines.
type StepRunner interface {
	Run(ctx context.Context, input StepInput, logger *slog.Logger) (map[string]any, error)
}

// StepRunnerFactory creates runner instances and provides metadata about the
// runner type.
type StepRunnerFactory interface {
	// Create creates a new runner instance with the given configuration.
	Create(config map[string]any) (StepRunner, error)

	// ID returns the unique identifier for this runner type.
	ID() string

	// Name returns the human-readable name for this runner type.
	Name() string

	// Description returns a description of what this runner does.
	Description() string

	// Schema returns the JSON schema for configuring this runner.
	Schema() map[string]any
}
