// Package testutil starts throwaway Postgres instances for integration tests.
package testutil

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/pagewise/hub/internal/migrations"
	"github.com/pagewise/hub/pkg/database"
)

const pgvectorImage = "pgvector/pgvector:pg16"

// NewPostgres starts a pgvector-enabled Postgres container, applies the service migrations
// and returns a pool. Skips the test under -short or when Docker is not available.
func NewPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := postgres.Run(ctx, pgvectorImage,
		postgres.WithDatabase("hub_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Extension must exist before pgvector types can be registered on new connections.
	bootstrap, err := database.NewPostgresPool(ctx, dsn)
	require.NoError(t, err)

	_, err = migrations.Apply(ctx, bootstrap)
	require.NoError(t, err)
	bootstrap.Close()

	db, err := database.NewPostgresPool(ctx, dsn, database.WithAfterConnect(pgxvec.RegisterTypes))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return db
}
