// Package cmd provides common initialization helpers for the binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/persistence/file"
	"github.com/dukex/itinera/pkg/persistence/postgresql"
)

// NewPersistence selects a store from the database URL scheme. Anything
// without a postgres scheme falls back to the file store, which needs no
// external services.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to postgres: %w", err))
		}

		return persist
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parseScheme(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)

	return parts[0]
}
