// Package notify provides the notification step runner. Deliveries are
// written to the log; wiring a real channel (email, chat) happens behind the
// same config surface.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbarbosa/gantry/pkg/protocol"
)

var ErrMissingMessage = errors.New("missing or invalid 'message' in configuration")

// Runner delivers a notification message to a recipient over a channel.
type Runner struct {
	Channel   string
	Recipient string
	Message   string
}

// NewRunner creates a new notification runner from configuration.
func NewRunner(config map[string]any) (*Runner, error) {
	message, ok := config["message"].(string)
	if !ok || message == "" {
		return nil, ErrMissingMessage
	}

	channel, _ := config["channel"].(string)
	if channel == "" {
		channel = "log"
	}

	recipient, _ := config["recipient"].(string)

	return &Runner{
		Channel:   channel,
		Recipient: recipient,
		Message:   message,
	}, nil
}

// Run delivers the notification.
func (r *Runner) Run(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Delivering notification",
		"module", "notify_runner",
		"channel", r.Channel,
		"recipient", r.Recipient,
		"message", r.Message,
		"execution_id", input.ExecutionID,
		"node_id", input.NodeID,
	)

	return map[string]any{
		"delivered":    true,
		"channel":      r.Channel,
		"recipient":    r.Recipient,
		"message":      r.Message,
		"delivered_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
