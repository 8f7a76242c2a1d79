// Package registry holds the catalog of step runner factories and validates
// node configurations against their schemas.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/mbarbosa/gantry/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger          *slog.Logger
	runnerFactories map[string]protocol.StepRunnerFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		runnerFactories: make(map[string]protocol.StepRunnerFactory),
	}
}

func (r *Registry) RegisterRunner(factory protocol.StepRunnerFactory) {
	r.runnerFactories[factory.ID()] = factory
}

// CreateRunner builds a runner of the given type, validating the config
// against the factory schema first.
func (r *Registry) CreateRunner(runnerType string, config map[string]any) (protocol.StepRunner, error) {
	factory, ok := r.runnerFactories[runnerType]
	if !ok {
		return nil, fmt.Errorf("runner type '%s' not registered", runnerType)
	}

	err := r.ValidateConfig(runnerType, config)
	if err != nil {
		return nil, err
	}

	return factory.Create(config)
}

// ValidateConfig checks a config payload against the runner's JSON schema.
func (r *Registry) ValidateConfig(runnerType string, config map[string]any) error {
	factory, ok := r.runnerFactories[runnerType]
	if !ok {
		return fmt.Errorf("runner type '%s' not registered", runnerType)
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config for '%s': %w", runnerType, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		sort.Strings(messages)

		return fmt.Errorf("invalid config for '%s': %v", runnerType, messages)
	}

	return nil
}

// HealthCheck reports whether the registry carries at least one runner.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.runnerFactories) == 0 {
		return "No step runners registered", false
	}

	return fmt.Sprintf("%d step runners registered", len(r.runnerFactories)), true
}

// IsRunnerRegistered checks if a runner type is registered.
func (r *Registry) IsRunnerRegistered(runnerType string) bool {
	_, exists := r.runnerFactories[runnerType]

	return exists
}

// AvailableRunners returns all registered runner type IDs, sorted.
func (r *Registry) AvailableRunners() []string {
	types := make([]string, 0, len(r.runnerFactories))
	for runnerType := range r.runnerFactories {
		types = append(types, runnerType)
	}

	sort.Strings(types)

	return types
}
