// Package queue provides the redis execution start queue: the API side
// enqueues start requests, worker processes consume them and drive the
// engine.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultQueueName = "gantry:executions"

// StartRequest asks a worker to begin traversal of a queued execution.
type StartRequest struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Handler processes one consumed start request.
type Handler func(ctx context.Context, req StartRequest) error

// Queue is a redis list holding pending start requests. Construction only
// validates the configuration; Connect establishes the client.
type Queue struct {
	Name       string
	Connection map[string]string

	client redis.UniversalClient
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewQueue builds a queue from configuration. Recognized connection keys:
// addr (default localhost:6379), password, db.
func NewQueue(config map[string]any, logger *slog.Logger) (*Queue, error) {
	name, _ := config["queue"].(string)
	if name == "" {
		name = DefaultQueueName
	}

	connectionConfig, _ := config["connection"].(map[string]any)

	connection := make(map[string]string)

	for k, v := range connectionConfig {
		if str, ok := v.(string); ok {
			connection[k] = str
		}
	}

	return &Queue{
		Name:       name,
		Connection: connection,
		stopCh:     make(chan struct{}),
		logger:     logger.With("module", "queue", "queue", name),
	}, nil
}

// Connect establishes and pings the redis client.
func (q *Queue) Connect(ctx context.Context) error {
	addr := q.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0

	if dbStr := q.Connection["db"]; dbStr != "" {
		parsed, err := strconv.Atoi(dbStr)
		if err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}

		db = parsed
	}

	q.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: q.Connection["password"],
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := q.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	q.logger.InfoContext(ctx, "Connected to redis", "addr", addr, "db", db)

	return nil
}

// Enqueue pushes a start request onto the queue.
func (q *Queue) Enqueue(ctx context.Context, req StartRequest) error {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal start request: %w", err)
	}

	err = q.client.RPush(ctx, q.Name, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue start request: %w", err)
	}

	return nil
}

// Consume starts a background loop popping requests and handing them to
// handler. Each request is handled on its own goroutine so a long run never
// blocks the queue.
func (q *Queue) Consume(ctx context.Context, handler Handler) {
	q.wg.Add(1)

	go func() {
		defer q.wg.Done()

		q.logger.InfoContext(ctx, "Starting queue consumer")

		for {
			select {
			case <-q.stopCh:
				q.logger.InfoContext(ctx, "Queue consumer stopped")

				return
			case <-ctx.Done():
				return
			default:
				err := q.processMessage(ctx, handler)
				if err != nil {
					q.logger.ErrorContext(ctx, "Error processing queue message", "error", err)
					time.Sleep(time.Second)
				}
			}
		}
	}()
}

func (q *Queue) processMessage(ctx context.Context, handler Handler) error {
	result, err := q.client.BLPop(ctx, time.Second, q.Name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var req StartRequest

	err = json.Unmarshal([]byte(result[1]), &req)
	if err != nil {
		q.logger.WarnContext(ctx, "Discarding malformed queue message", "error", err)

		return nil
	}

	go func() {
		err := handler(ctx, req)
		if err != nil {
			q.logger.ErrorContext(ctx, "Start request failed",
				"error", err, "execution_id", req.ExecutionID)
		}
	}()

	return nil
}

// Length returns the number of pending requests.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.Name).Result()
}

// Close stops the consumer loop and closes the client.
func (q *Queue) Close() error {
	close(q.stopCh)
	q.wg.Wait()

	if q.client != nil {
		return q.client.Close()
	}

	return nil
}
