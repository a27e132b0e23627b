package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pagewise/hub/internal/huberrors"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/observability"
	"github.com/pagewise/hub/pkg/cache"
	"github.com/pagewise/hub/pkg/embeddings"
)

// QueryEmbedder turns a search query into a vector in the same space as the stored records.
type QueryEmbedder interface {
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}

const queryEmbeddingCacheName = "query_embedding"

// Sentinel errors for retrieval (used by handlers for status mapping).
var (
	ErrMissingTenantID = errors.New("tenantId is required")
	// ErrRetrievalUnavailable means the query could not be answered. It is distinct from an empty result.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// SearchStore is the read side of the embedding store used by retrieval.
type SearchStore interface {
	Search(ctx context.Context, tenantID string, queryVector []float32, topK int) ([]models.ScoredRecord, error)
}

// RetrievalRequest is one similarity search. TopK > 0 overrides the adaptive heuristic.
type RetrievalRequest struct {
	TenantID string
	Query    string
	TopK     int
}

// RetrievalResult is an ordered (descending similarity) result set.
type RetrievalResult struct {
	Results []models.ScoredRecord `json:"results"`
	TopK    int                   `json:"topK"`
	Shape   QueryShape            `json:"shape,omitempty"`
}

// RetrievalService embeds a query, sizes the result set by query shape and searches the tenant's records.
type RetrievalService struct {
	embeddingClient QueryEmbedder
	store           SearchStore
	policy          TopKPolicy
	minSimilarity   float64
	embedAttempts   int
	embedBackoff    time.Duration
	embedTimeout    time.Duration
	queryCache      *cache.LoaderCache[[]float32]
	cacheMetrics    observability.CacheMetrics
	metrics         observability.RetrievalMetrics
	logger          *slog.Logger
}

// RetrievalServiceParams configures RetrievalService. QueryCache and the metrics may be nil.
type RetrievalServiceParams struct {
	EmbeddingClient QueryEmbedder
	Store           SearchStore
	Policy          TopKPolicy
	// MinSimilarity drops results below this score (0 keeps everything).
	MinSimilarity float64
	// EmbedAttempts is the total number of query embedding attempts (default 2).
	EmbedAttempts int
	EmbedBackoff  time.Duration
	EmbedTimeout  time.Duration
	QueryCache    *cache.LoaderCache[[]float32]
	CacheMetrics  observability.CacheMetrics
	Metrics       observability.RetrievalMetrics
	Logger        *slog.Logger
}

// NewRetrievalService creates a RetrievalService.
func NewRetrievalService(p RetrievalServiceParams) *RetrievalService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if p.EmbedAttempts <= 0 {
		p.EmbedAttempts = 2
	}

	if p.EmbedBackoff <= 0 {
		p.EmbedBackoff = 200 * time.Millisecond
	}

	if p.EmbedTimeout <= 0 {
		p.EmbedTimeout = 10 * time.Second
	}

	return &RetrievalService{
		embeddingClient: p.EmbeddingClient,
		store:           p.Store,
		policy:          p.Policy,
		minSimilarity:   p.MinSimilarity,
		embedAttempts:   p.EmbedAttempts,
		embedBackoff:    p.EmbedBackoff,
		embedTimeout:    p.EmbedTimeout,
		queryCache:      p.QueryCache,
		cacheMetrics:    p.CacheMetrics,
		metrics:         p.Metrics,
		logger:          logger,
	}
}

// Retrieve answers req. A blank query returns an empty result without calling the provider.
// Provider or store failures return an error wrapping ErrRetrievalUnavailable.
func (s *RetrievalService) Retrieve(ctx context.Context, req RetrievalRequest) (RetrievalResult, error) {
	start := time.Now()
	out := RetrievalResult{Results: []models.ScoredRecord{}}

	if strings.TrimSpace(req.TenantID) == "" {
		s.record(ctx, "invalid", "none", start)

		return out, ErrMissingTenantID
	}

	query := strings.Join(strings.Fields(req.Query), " ")
	if query == "" {
		s.record(ctx, "empty", "none", start)

		return out, nil
	}

	out.Shape = ClassifyQuery(query)
	out.TopK = s.policy.TopK(out.Shape, req.TopK)

	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		s.logger.WarnContext(ctx, "retrieval: query embedding failed",
			"tenant_id", req.TenantID,
			"shape", out.Shape,
			"error", err,
		)
		s.record(ctx, "unavailable", string(out.Shape), start)

		return out, unavailable("embedding provider", err)
	}

	results, err := s.store.Search(ctx, req.TenantID, embedding, out.TopK)
	if err != nil {
		s.logger.ErrorContext(ctx, "retrieval: store search failed",
			"tenant_id", req.TenantID,
			"top_k", out.TopK,
			"error", err,
		)
		s.record(ctx, "unavailable", string(out.Shape), start)

		return out, unavailable("embedding store", err)
	}

	out.Results = filterBySimilarity(results, s.minSimilarity)

	status := "ok"
	if len(out.Results) == 0 {
		status = "empty"
	}

	s.record(ctx, status, string(out.Shape), start)

	return out, nil
}

func unavailable(dependency string, err error) error {
	return fmt.Errorf("%w: %w", ErrRetrievalUnavailable, huberrors.NewUnavailableError(dependency, err))
}

func (s *RetrievalService) record(ctx context.Context, status, shape string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRetrieval(ctx, status, shape, time.Since(start))
	}
}

func filterBySimilarity(results []models.ScoredRecord, minSimilarity float64) []models.ScoredRecord {
	out := make([]models.ScoredRecord, 0, len(results))

	for _, r := range results {
		if r.Similarity >= minSimilarity {
			out = append(out, r)
		}
	}

	return out
}

func (s *RetrievalService) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if s.queryCache == nil {
		return s.embedWithRetry(ctx, query)
	}

	embedding, hit, err := s.queryCache.Load(ctx, query, s.embedWithRetry)
	if err != nil {
		return nil, err
	}

	if s.cacheMetrics != nil {
		s.cacheMetrics.RecordLookup(ctx, queryEmbeddingCacheName, hit)
	}

	return embedding, nil
}

// embedWithRetry makes up to embedAttempts provider calls, each under embedTimeout.
func (s *RetrievalService) embedWithRetry(ctx context.Context, query string) ([]float32, error) {
	var lastErr error

	for attempt := range s.embedAttempts {
		if attempt > 0 {
			if err := SleepContext(ctx, Jitter(ExponentialBackoff(attempt-1, s.embedBackoff, 2*time.Second))); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(embeddings.WithPurpose(ctx, embeddings.PurposeQuery), s.embedTimeout)
		embedding, err := s.embeddingClient.CreateEmbedding(callCtx, query)

		cancel()

		if err == nil {
			return embedding, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("create query embedding: %w", lastErr)
}
