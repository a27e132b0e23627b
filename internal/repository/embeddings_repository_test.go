package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/testutil"
)

func unitVector(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1

	return v
}

func TestEmbeddingsRepository_Postgres(t *testing.T) {
	pool := testutil.NewPostgres(t)
	ctx := context.Background()
	repo := NewEmbeddingsRepository(pool, "test-model", nil)

	const dims = 1536

	require.NoError(t, repo.Upsert(ctx, record("t1", models.EntityTypeFeature, "login", unitVector(dims, 0))))
	require.NoError(t, repo.Upsert(ctx, record("t1", models.EntityTypeFeature, "checkout", unitVector(dims, 1))))
	require.NoError(t, repo.Upsert(ctx, record("t2", models.EntityTypeFeature, "login", unitVector(dims, 0))))

	t.Run("search is tenant scoped and ordered", func(t *testing.T) {
		results, err := repo.Search(ctx, "t1", unitVector(dims, 0), 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "login", results[0].EntityID)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-3)
		assert.InDelta(t, 0.0, results[1].Similarity, 1e-3)

		for _, r := range results {
			assert.Equal(t, "t1", r.TenantID)
		}
	})

	t.Run("unknown tenant yields empty result", func(t *testing.T) {
		results, err := repo.Search(ctx, "nobody", unitVector(dims, 0), 10)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("upsert replaces content hash", func(t *testing.T) {
		rec := record("t1", models.EntityTypeFeature, "login", unitVector(dims, 2))
		rec.ContentHash = "v2"
		require.NoError(t, repo.Upsert(ctx, rec))

		hash, found, err := repo.ContentHash(ctx, "t1", models.EntityTypeFeature, "login")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v2", hash)

		n, err := repo.Count(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("older redelivery does not overwrite newer row", func(t *testing.T) {
		newer := record("t1", models.EntityTypeFeature, "export", unitVector(dims, 3))
		newer.ContentHash = "newer"
		newer.SourceAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Upsert(ctx, newer))

		older := record("t1", models.EntityTypeFeature, "export", unitVector(dims, 4))
		older.ContentHash = "older"
		older.SourceAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Upsert(ctx, older))

		hash, found, err := repo.ContentHash(ctx, "t1", models.EntityTypeFeature, "export")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "newer", hash)

		_, err = repo.Delete(ctx, "t1", models.EntityTypeFeature, "export")
		require.NoError(t, err)
	})

	t.Run("delete reports existence", func(t *testing.T) {
		existed, err := repo.Delete(ctx, "t1", models.EntityTypeFeature, "checkout")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = repo.Delete(ctx, "t1", models.EntityTypeFeature, "checkout")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("delete tenant leaves others", func(t *testing.T) {
		removed, err := repo.DeleteTenant(ctx, "t2")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		n, err := repo.Count(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("missing tenant fails closed", func(t *testing.T) {
		_, err := repo.Search(ctx, "", unitVector(dims, 0), 10)
		assert.ErrorIs(t, err, ErrMissingTenant)

		_, err = repo.Count(ctx, "")
		assert.ErrorIs(t, err, ErrMissingTenant)
	})
}
