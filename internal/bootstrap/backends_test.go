package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/hub/internal/config"
	"github.com/pagewise/hub/internal/embeddings"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/queue"
	"github.com/pagewise/hub/internal/repository"
)

func inProcessConfig() *config.Config {
	return &config.Config{
		QueueBackend:        config.BackendMemory,
		StoreBackend:        config.BackendChromem,
		EmbeddingProvider:   embeddings.ProviderMock,
		EmbeddingDimensions: 64,
		EmbeddingTimeout:    5 * time.Second,
	}
}

func TestOpen_InProcessBackends(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, inProcessConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	assert.Nil(t, b.DB)
	assert.IsType(t, &queue.MemoryQueue{}, b.Queue)
	assert.IsType(t, &repository.ChromemStore{}, b.Store)

	id, err := b.Queue.Enqueue(ctx, models.JobPayload{
		EntityType: models.EntityTypePage,
		EntityID:   "p1",
		TenantID:   "t1",
		Operation:  models.OperationUpsert,
		Content:    "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	vec, err := b.Embedder.CreateEmbedding(ctx, "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 64)
}

func TestOpen_RequiresProvider(t *testing.T) {
	cfg := inProcessConfig()
	cfg.EmbeddingProvider = ""

	_, err := Open(context.Background(), cfg, nil)
	require.ErrorIs(t, err, ErrProviderRequired)
}

func TestOpen_UnsupportedProvider(t *testing.T) {
	cfg := inProcessConfig()
	cfg.EmbeddingProvider = "cohere"

	_, err := Open(context.Background(), cfg, nil)
	require.ErrorIs(t, err, embeddings.ErrUnsupportedProvider)
}

func TestNewLimiter(t *testing.T) {
	cfg := inProcessConfig()

	cfg.EmbeddingRateLimit = 0
	assert.Nil(t, NewLimiter(cfg))

	cfg.EmbeddingRateLimit = 0.5
	limiter := NewLimiter(cfg)
	require.NotNil(t, limiter)
	assert.Equal(t, 1, limiter.Burst())

	cfg.EmbeddingRateLimit = 20
	assert.Equal(t, 20, NewLimiter(cfg).Burst())
}

func TestIndexerConfig(t *testing.T) {
	cfg := inProcessConfig()
	cfg.IndexerLoops = 3
	cfg.IndexerBatchSize = 40
	cfg.IndexerMaxAttempts = 7
	cfg.IndexerBackoffBase = time.Second
	cfg.IndexerBackoffCap = time.Minute

	wc := IndexerConfig(cfg)

	assert.Equal(t, 3, wc.Loops)
	assert.Equal(t, 40, wc.BatchSize)
	assert.Equal(t, 7, wc.MaxAttempts)
	assert.Equal(t, time.Second, wc.BackoffBase)
	assert.Equal(t, time.Minute, wc.BackoffCap)
	assert.Equal(t, 5*time.Second, wc.EmbedTimeout)
}
