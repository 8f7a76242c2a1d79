// Package httpcall provides the HTTP integration step runner.
package httpcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mbarbosa/gantry/pkg/protocol"
)

const defaultTimeoutSeconds = 30

var ErrMissingURL = errors.New("missing or invalid 'url' in configuration")

// Runner performs an HTTP request to a specified URL with optional headers
// and body. Network failures and 5xx responses are reported as transient so
// the engine can retry within the node's retry budget.
type Runner struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// NewRunner creates a new HTTP call runner from configuration.
func NewRunner(config map[string]any) (*Runner, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrMissingURL
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &Runner{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

// Run executes the HTTP request and returns status code, parsed body and
// response headers.
func (r *Runner) Run(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "httpcall_runner", "url", r.URL, "method", r.Method)
	logger.InfoContext(ctx, "Executing HTTP call")

	reqCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if r.Body != "" {
		bodyReader = strings.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, r.Method, r.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}

	resp, err := client.Do(req)
	if err != nil {
		return nil, protocol.Transient(fmt.Errorf("http request failed: %w", err))
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, protocol.Transient(fmt.Errorf("server error: status %d", resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request rejected: status %d", resp.StatusCode)
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		// Non-JSON responses are passed through as text.
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "HTTP call completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}, nil
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}
