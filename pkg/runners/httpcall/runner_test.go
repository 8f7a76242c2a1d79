package httpcall

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/mbarbosa/gantry/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewRunner_RequiresURL(t *testing.T) {
	_, err := NewRunner(map[string]any{})
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestNewRunner_Defaults(t *testing.T) {
	runner, err := NewRunner(map[string]any{"url": "http://example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, runner.Method)
}

func TestRunner_Run_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	runner, err := NewRunner(map[string]any{
		"url":    server.URL,
		"method": "post",
		"headers": map[string]any{
			"Content-Type": "application/json",
		},
		"body": `{"amount": 1200}`,
	})
	require.NoError(t, err)

	output, err := runner.Run(context.Background(), protocol.StepInput{ExecutionID: "ex-1", NodeID: "call_1"}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, output["status_code"])

	body, ok := output["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
}

func TestRunner_Run_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	runner, err := NewRunner(map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), protocol.StepInput{}, testLogger())
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))
}

func TestRunner_Run_ClientErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	runner, err := NewRunner(map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), protocol.StepInput{}, testLogger())
	require.Error(t, err)
	assert.False(t, protocol.IsTransient(err))
}

func TestRunner_Run_ConnectionRefusedIsTransient(t *testing.T) {
	runner, err := NewRunner(map[string]any{"url": "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), protocol.StepInput{}, testLogger())
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))
}

func TestRunner_Run_NonJSONBodyPassedAsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	runner, err := NewRunner(map[string]any{"url": server.URL})
	require.NoError(t, err)

	output, err := runner.Run(context.Background(), protocol.StepInput{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "plain text", output["body"])
}
