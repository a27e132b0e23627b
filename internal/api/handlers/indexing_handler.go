package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pagewise/hub/internal/api/response"
	"github.com/pagewise/hub/internal/api/validation"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/observability"
	"github.com/pagewise/hub/internal/queue"
	"github.com/pagewise/hub/internal/worker"
	"github.com/pagewise/hub/pkg/cache"
)

const (
	indexingStatsCacheName = "indexing_stats"
	indexingStatsKey       = "stats"
	defaultStatsCacheTTL   = 2 * time.Second
)

// Drainer runs the indexer until the queue is empty or a pass limit is reached.
type Drainer interface {
	DrainNow(ctx context.Context, trigger string) worker.RunStats
}

// QueueInspector is the operator view of the job queue.
type QueueInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
	ListDead(ctx context.Context, tenantID string, limit int) ([]models.DeadJob, error)
}

// IndexingHandler exposes the operational surface: drain now, queue stats and dead letters.
type IndexingHandler struct {
	drainer      Drainer
	queue        QueueInspector
	statsCache   *cache.LoaderCache[queue.Stats]
	cacheMetrics observability.CacheMetrics
}

// NewIndexingHandler creates the handler. Stats are cached for statsTTL (0 selects 2s) so
// dashboards polling the endpoint do not each hit the queue. cacheMetrics may be nil.
func NewIndexingHandler(
	drainer Drainer, q QueueInspector, statsTTL time.Duration, cacheMetrics observability.CacheMetrics,
) *IndexingHandler {
	if statsTTL <= 0 {
		statsTTL = defaultStatsCacheTTL
	}

	return &IndexingHandler{
		drainer:      drainer,
		queue:        q,
		statsCache:   cache.NewExpiringLoaderCache[queue.Stats](1, statsTTL),
		cacheMetrics: cacheMetrics,
	}
}

// Drain handles POST /v1/indexing/drain.
func (h *IndexingHandler) Drain(w http.ResponseWriter, r *http.Request) {
	stats := h.drainer.DrainNow(r.Context(), worker.TriggerAPI)
	h.statsCache.Invalidate(indexingStatsKey)

	response.RespondJSON(w, http.StatusOK, stats)
}

// Stats handles GET /v1/indexing/stats.
func (h *IndexingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, hit, err := h.statsCache.Load(r.Context(), indexingStatsKey,
		func(ctx context.Context, _ string) (queue.Stats, error) {
			return h.queue.Stats(ctx)
		})
	if err != nil {
		slog.ErrorContext(r.Context(), "indexing: stats failed", "error", err)
		response.RespondServiceUnavailable(w, "about:blank", "queue stats unavailable")

		return
	}

	if h.cacheMetrics != nil {
		h.cacheMetrics.RecordLookup(r.Context(), indexingStatsCacheName, hit)
	}

	response.RespondJSON(w, http.StatusOK, stats)
}

// DeadJobsResponse wraps the dead-letter listing.
type DeadJobsResponse struct {
	Data []models.DeadJob `json:"data"`
}

// Dead handles GET /v1/indexing/dead?tenantId=&limit=.
func (h *IndexingHandler) Dead(w http.ResponseWriter, r *http.Request) {
	var filters models.ListDeadJobsFilters
	if err := validation.ValidateAndDecodeQueryParams(r, &filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	jobs, err := h.queue.ListDead(r.Context(), filters.TenantID, filters.Limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "indexing: list dead jobs failed", "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")

		return
	}

	if jobs == nil {
		jobs = []models.DeadJob{}
	}

	response.RespondJSON(w, http.StatusOK, DeadJobsResponse{Data: jobs})
}
