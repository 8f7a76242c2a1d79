package main

import (
	"context"
	"os"

	"github.com/mbarbosa/gantry/pkg/cmd"
	"github.com/mbarbosa/gantry/pkg/log"
	"github.com/mbarbosa/gantry/pkg/queue"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 8081

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "gantry-api",
		Usage:                 "Create and manage business process workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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

			logger.InfoContext(ctx, "Initializing Gantry API")

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "gantry-api", logger)
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

				err = startQueue.Connect(ctx)
				if err != nil {
					return err
				}

				defer func() {
					err := startQueue.Close()
					if err != nil {
						logger.ErrorContext(ctx, "Failed to close start queue", "error", err)
					}
				}()
			}

			api := NewAPI(
				logger,
				persistence,
				registry,
				eventBus,
				startQueue,
			)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
