package httpcall

import "github.com/mbarbosa/gantry/pkg/protocol"

// Factory creates HTTP call runner instances.
type Factory struct{}

// NewFactory creates a new HTTP call runner factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create creates a new runner from the given configuration.
func (f *Factory) Create(config map[string]any) (protocol.StepRunner, error) {
	return NewRunner(config)
}

// ID returns the unique identifier for the runner.
func (f *Factory) ID() string {
	return "httpcall"
}

// Name returns the name of the runner.
func (f *Factory) Name() string {
	return "HTTP Call"
}

// Description returns a brief description of the runner.
func (f *Factory) Description() string {
	return "Performs an HTTP request to a specified URL with optional headers and body."
}

// Schema returns the JSON schema for configuring this runner.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to send the HTTP request to.",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use.",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include in the request.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body content.",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Request timeout in seconds.",
				"default":     30,
				"minimum":     1,
			},
		},
	}
}
