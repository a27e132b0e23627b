// Package bootstrap builds the queue, store and embedding provider selected by configuration.
// Both the API server and the drain command start from here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/time/rate"

	"github.com/pagewise/hub/internal/config"
	"github.com/pagewise/hub/internal/embeddings"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/queue"
	"github.com/pagewise/hub/internal/repository"
	"github.com/pagewise/hub/internal/worker"
	"github.com/pagewise/hub/pkg/database"
)

// ErrProviderRequired is returned when EMBEDDING_PROVIDER is unset.
var ErrProviderRequired = errors.New("EMBEDDING_PROVIDER is required")

// defaultModelLabel is stored in embeddings.model when the provider has no model name (mock, local).
const defaultModelLabel = "default"

// Queue is the job queue surface used by the server and the drain command.
type Queue interface {
	Enqueue(ctx context.Context, payload models.JobPayload) (string, error)
	Lease(ctx context.Context, maxCount int, visibilityTimeout time.Duration) ([]queue.Leased, error)
	Acknowledge(ctx context.Context, token string) error
	Release(ctx context.Context, token string, delay time.Duration) error
	DeadLetter(ctx context.Context, token, reason string) error
	Stats(ctx context.Context) (queue.Stats, error)
	ListDead(ctx context.Context, tenantID string, limit int) ([]models.DeadJob, error)
	PurgeTenant(ctx context.Context, tenantID string) (int, error)
	Ping(ctx context.Context) error
}

// Store is the embedding store surface used by the server and the drain command.
type Store interface {
	Upsert(ctx context.Context, record models.EmbeddingRecord) error
	Delete(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) (bool, error)
	ContentHash(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) (string, bool, error)
	Search(ctx context.Context, tenantID string, queryVector []float32, topK int) ([]models.ScoredRecord, error)
	Count(ctx context.Context, tenantID string) (int, error)
	DeleteTenant(ctx context.Context, tenantID string) (int, error)
	Ping(ctx context.Context) error
}

var (
	_ Queue = (*queue.MemoryQueue)(nil)
	_ Queue = (*queue.PostgresQueue)(nil)
	_ Store = (*repository.EmbeddingsRepository)(nil)
	_ Store = (*repository.ChromemStore)(nil)
)

// Backends holds the configured components. DB is nil when neither backend uses Postgres.
type Backends struct {
	DB       *pgxpool.Pool
	Queue    Queue
	Store    Store
	Embedder embeddings.Client
}

// Open connects every backend named by cfg. recorder may be nil.
func Open(ctx context.Context, cfg *config.Config, recorder repository.IsolationRecorder) (*Backends, error) {
	if cfg.EmbeddingProvider == "" {
		return nil, ErrProviderRequired
	}

	embedder, err := embeddings.NewClientFromConfig(ctx, embeddings.ProviderConfig{
		Provider:   cfg.EmbeddingProvider,
		Model:      cfg.EmbeddingModel,
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbeddingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	b := &Backends{Embedder: embedder}

	if cfg.NeedsDatabase() {
		// The vector extension must already exist (cmd/migrate) for type registration to succeed.
		b.DB, err = database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithAfterConnect(pgxvec.RegisterTypes))
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	switch cfg.QueueBackend {
	case config.BackendMemory:
		slog.Warn("bootstrap: memory queue selected, pending jobs are lost on restart")

		b.Queue = queue.NewMemoryQueue()
	default:
		b.Queue = queue.NewPostgresQueue(b.DB)
	}

	switch cfg.StoreBackend {
	case config.BackendChromem:
		store, err := repository.NewChromemStore(cfg.ChromemPath, cfg.ChromemCompress, recorder)
		if err != nil {
			b.Close()

			return nil, err
		}

		b.Store = store
	default:
		model := cfg.EmbeddingModel
		if model == "" {
			model = defaultModelLabel
		}

		b.Store = repository.NewEmbeddingsRepository(b.DB, model, recorder)
	}

	slog.Info("bootstrap: backends ready",
		"queue", cfg.QueueBackend,
		"store", cfg.StoreBackend,
		"provider", cfg.EmbeddingProvider,
		"model", cfg.EmbeddingModel,
	)

	return b, nil
}

// Close releases the database pool if one was opened.
func (b *Backends) Close() {
	if b.DB != nil {
		b.DB.Close()
	}
}

// NewLimiter returns the provider rate limiter, or nil when EMBEDDING_RATE_LIMIT is 0.
func NewLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.EmbeddingRateLimit <= 0 {
		return nil
	}

	burst := max(int(cfg.EmbeddingRateLimit), 1)

	return rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), burst)
}

// IndexerConfig maps the INDEXER_* settings onto the worker configuration.
func IndexerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Loops:             cfg.IndexerLoops,
		BatchSize:         cfg.IndexerBatchSize,
		Concurrency:       cfg.IndexerConcurrency,
		VisibilityTimeout: cfg.IndexerVisibilityTimeout,
		PollInterval:      cfg.IndexerPollInterval,
		PollJitter:        cfg.IndexerPollJitter,
		MaxAttempts:       cfg.IndexerMaxAttempts,
		BackoffBase:       cfg.IndexerBackoffBase,
		BackoffCap:        cfg.IndexerBackoffCap,
		EmbedTimeout:      cfg.EmbeddingTimeout,
		StoreTimeout:      cfg.IndexerStoreTimeout,
	}
}
