// migrate applies the service's embedded SQL migrations (indexing queue, dead letters,
// embeddings) and River's schema. Run it before starting the API with a Postgres backend.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pagewise/hub/internal/config"
	"github.com/pagewise/hub/internal/migrations"
	"github.com/pagewise/hub/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadForTool()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	ctx := context.Background()

	// No pgvector type registration here: the extension may not exist yet.
	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		slog.Error("Migration failed", "applied", applied, "error", err)

		return exitFailure
	}

	if err := migrations.ApplyRiver(ctx, db); err != nil {
		slog.Error("River migration failed", "error", err)

		return exitFailure
	}

	slog.Info("Migrations complete", "applied", applied)

	return exitSuccess
}
