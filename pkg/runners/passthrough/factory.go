package passthrough

import "github.com/mbarbosa/gantry/pkg/protocol"

// Factory creates passthrough runner instances.
type Factory struct{}

// NewFactory creates a new passthrough runner factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create creates a new runner from the given configuration.
func (f *Factory) Create(config map[string]any) (protocol.StepRunner, error) {
	return NewRunner(config)
}

// ID returns the unique identifier for the runner.
func (f *Factory) ID() string {
	return "passthrough"
}

// Name returns the name of the runner.
func (f *Factory) Name() string {
	return "Passthrough"
}

// Description returns a brief description of the runner.
func (f *Factory) Description() string {
	return "Completes immediately, optionally writing a configured output into the execution context."
}

// Schema returns the JSON schema for configuring this runner.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"output": map[string]any{
				"type":        "object",
				"description": "Key/value pairs merged into the execution context on completion.",
			},
		},
	}
}
