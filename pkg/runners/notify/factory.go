package notify

import "github.com/mbarbosa/gantry/pkg/protocol"

// Factory creates notification runner instances.
type Factory struct{}

// NewFactory creates a new notification runner factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create creates a new runner from the given configuration.
func (f *Factory) Create(config map[string]any) (protocol.StepRunner, error) {
	return NewRunner(config)
}

// ID returns the unique identifier for the runner.
func (f *Factory) ID() string {
	return "notify"
}

// Name returns the name of the runner.
func (f *Factory) Name() string {
	return "Notification"
}

// Description returns a brief description of the runner.
func (f *Factory) Description() string {
	return "Delivers a notification message to a recipient over a configured channel."
}

// Schema returns the JSON schema for configuring this runner.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"message"},
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message body to deliver.",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel.",
				"default":     "log",
			},
			"recipient": map[string]any{
				"type":        "string",
				"description": "Recipient identifier.",
			},
		},
	}
}
