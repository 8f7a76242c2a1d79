package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/mbarbosa/gantry/pkg/persistence/memory"
	"github.com/mbarbosa/gantry/pkg/persistence/postgresql"
)

// NewPersistence builds the store for the given database URL. Postgres URLs
// get the durable implementation; anything else falls back to the in-memory
// store, which only suits development and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		logger.WarnContext(ctx, "No durable database configured, using in-memory persistence")

		return memory.NewPersistence(), nil
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
