// Package passthrough provides the no-op step runner backing start, end and
// plain process nodes.
package passthrough

import (
	"context"
	"log/slog"

	"github.com/mbarbosa/gantry/pkg/protocol"
)

// Runner completes immediately, optionally writing a configured output map
// into the execution context.
type Runner struct {
	Output map[string]any
}

// NewRunner creates a new passthrough runner from configuration.
func NewRunner(config map[string]any) (*Runner, error) {
	output, _ := config["output"].(map[string]any)

	return &Runner{Output: output}, nil
}

// Run returns the configured output, if any.
func (r *Runner) Run(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (map[string]any, error) {
	if r.Output == nil {
		return map[string]any{}, nil
	}

	output := make(map[string]any, len(r.Output))
	for k, v := range r.Output {
		output[k] = v
	}

	return output, nil
}
