package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Open connects the configured backend. Postgres is migrated before use.
func Open(ctx context.Context, backend, databaseURL string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		return NewMemory(), nil
	case "postgres", "":
		pg, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to PostgreSQL")

		version, err := pg.RunMigrations()
		if err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("database migrations applied", "version", version)
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
