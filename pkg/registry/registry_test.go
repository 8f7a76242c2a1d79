package registry

import (
	"log/slog"
	"os"
	"testing"

	"github.com/mbarbosa/gantry/pkg/runners/httpcall"
	"github.com/mbarbosa/gantry/pkg/runners/notify"
	"github.com/mbarbosa/gantry/pkg/runners/passthrough"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	r := NewRegistry(logger)
	r.RegisterRunner(httpcall.NewFactory())
	r.RegisterRunner(notify.NewFactory())
	r.RegisterRunner(passthrough.NewFactory())

	return r
}

func TestRegistry_AvailableRunners(t *testing.T) {
	r := newTestRegistry()

	assert.Equal(t, []string{"httpcall", "notify", "passthrough"}, r.AvailableRunners())
	assert.True(t, r.IsRunnerRegistered("httpcall"))
	assert.False(t, r.IsRunnerRegistered("unknown"))
}

func TestRegistry_CreateRunner(t *testing.T) {
	r := newTestRegistry()

	runner, err := r.CreateRunner("notify", map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.NotNil(t, runner)
}

func TestRegistry_CreateRunner_Unregistered(t *testing.T) {
	r := newTestRegistry()

	_, err := r.CreateRunner("nope", nil)
	assert.ErrorContains(t, err, "not registered")
}

func TestRegistry_ValidateConfig(t *testing.T) {
	r := newTestRegistry()

	err := r.ValidateConfig("httpcall", map[string]any{"url": "http://example.com"})
	assert.NoError(t, err)

	// Missing required url.
	err = r.ValidateConfig("httpcall", map[string]any{"method": "GET"})
	assert.ErrorContains(t, err, "invalid config")

	// Wrong enum member.
	err = r.ValidateConfig("httpcall", map[string]any{"url": "http://example.com", "method": "FETCH"})
	assert.ErrorContains(t, err, "invalid config")
}
