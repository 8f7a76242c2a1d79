// Package main provides the Gantry worker: the process that runs workflow
// executions.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/mbarbosa/gantry/pkg/cmd"
	"github.com/mbarbosa/gantry/pkg/engine"
	"github.com/mbarbosa/gantry/pkg/log"
	"github.com/mbarbosa/gantry/pkg/queue"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "gantry-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the start queue (disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("gantry-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Gantry Worker")

			registry := cmd.NewRegistry(logger)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "gantry-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var startQueue *queue.Queue

			if addr := command.String("redis-addr"); addr != "" {
				startQueue, err = queue.NewQueue(map[string]any{
					"connection": map[string]any{"addr": addr},
				}, logger)
				if err != nil {
					return err
				}
			}

			eng := engine.New(logger, persistence, registry, eventBus, nil, workerID)

			worker := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				logger,
				eng,
				startQueue,
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
