package queue

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueue(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name         string
		config       map[string]any
		expectedName string
		expectedAddr string
	}{
		{
			name: "full config",
			config: map[string]any{
				"queue": "billing:executions",
				"connection": map[string]any{
					"addr":     "redis.internal:6379",
					"password": "secret",
					"db":       "2",
				},
			},
			expectedName: "billing:executions",
			expectedAddr: "redis.internal:6379",
		},
		{
			name:         "defaults",
			config:       map[string]any{},
			expectedName: DefaultQueueName,
			expectedAddr: "",
		},
		{
			name: "non-string connection values ignored",
			config: map[string]any{
				"connection": map[string]any{
					"addr": "redis.internal:6379",
					"db":   2,
				},
			},
			expectedName: DefaultQueueName,
			expectedAddr: "redis.internal:6379",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQueue(tt.config, logger)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedName, q.Name)
			assert.Equal(t, tt.expectedAddr, q.Connection["addr"])
		})
	}
}
