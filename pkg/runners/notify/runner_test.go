package notify

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/mbarbosa/gantry/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunner_RequiresMessage(t *testing.T) {
	_, err := NewRunner(map[string]any{})
	assert.ErrorIs(t, err, ErrMissingMessage)
}

func TestRunner_Run(t *testing.T) {
	runner, err := NewRunner(map[string]any{
		"message":   "invoice approved",
		"channel":   "email",
		"recipient": "finance@example.com",
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	output, err := runner.Run(context.Background(), protocol.StepInput{ExecutionID: "ex-1", NodeID: "notify_1"}, logger)
	require.NoError(t, err)

	assert.Equal(t, true, output["delivered"])
	assert.Equal(t, "email", output["channel"])
	assert.Equal(t, "finance@example.com", output["recipient"])
}

func TestRunner_DefaultsToLogChannel(t *testing.T) {
	runner, err := NewRunner(map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "log", runner.Channel)
}
