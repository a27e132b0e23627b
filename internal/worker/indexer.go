// Package worker runs the indexing worker: it leases embedding jobs, embeds changed
// content and writes the result to the embedding store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/observability"
	"github.com/pagewise/hub/internal/queue"
	"github.com/pagewise/hub/internal/service"
	"github.com/pagewise/hub/pkg/embeddings"
)

// DocumentEmbedder embeds record text for storage.
type DocumentEmbedder interface {
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}

// JobQueue is the consumer side of the embedding job queue.
type JobQueue interface {
	Lease(ctx context.Context, maxCount int, visibilityTimeout time.Duration) ([]queue.Leased, error)
	Acknowledge(ctx context.Context, token string) error
	Release(ctx context.Context, token string, delay time.Duration) error
	DeadLetter(ctx context.Context, token, reason string) error
}

// EmbeddingStore is the write side of the embedding store.
type EmbeddingStore interface {
	Upsert(ctx context.Context, record models.EmbeddingRecord) error
	Delete(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) (bool, error)
	ContentHash(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) (string, bool, error)
}

// Drain triggers (metric label values).
const (
	TriggerTicker = "ticker"
	TriggerAPI    = "api"
	TriggerCLI    = "cli"
)

type outcome string

const (
	outcomeIndexed  outcome = "indexed"
	outcomeSkipped  outcome = "skipped"
	outcomeCleared  outcome = "cleared"
	outcomeRetry    outcome = "retry"
	outcomePoisoned outcome = "poisoned"
	// outcomeLost means the job was neither acknowledged nor released; its lease will expire.
	outcomeLost outcome = "lost"
)

const lastErrorCacheSize = 4096

// Config holds the indexer tuning knobs. Zero values fall back to defaults.
type Config struct {
	Loops             int
	BatchSize         int
	Concurrency       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	PollJitter        float64
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	EmbedTimeout      time.Duration
	StoreTimeout      time.Duration
	// DrainMaxPasses bounds DrainNow so a queue that keeps refilling cannot pin the caller.
	DrainMaxPasses int
}

func (c Config) withDefaults() Config {
	if c.Loops <= 0 {
		c.Loops = 2
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}

	c.BatchSize = min(c.BatchSize, 100)

	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}

	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 45 * time.Second
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}

	if c.PollJitter < 0 {
		c.PollJitter = 0
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}

	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}

	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}

	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 20 * time.Second
	}

	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}

	if c.DrainMaxPasses <= 0 {
		c.DrainMaxPasses = 50
	}

	return c
}

// RunStats summarizes one or more ProcessAvailable passes.
type RunStats struct {
	Passes   int           `json:"passes"`
	Leased   int           `json:"leased"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Cleared  int           `json:"cleared"`
	Retried  int           `json:"retried"`
	Poisoned int           `json:"poisoned"`
	Lost     int           `json:"lost"`
	Duration time.Duration `json:"-"`
	Millis   int64         `json:"durationMs"` //nolint:tagliatelle // API contract
}

// Add merges other into s.
func (s *RunStats) Add(other RunStats) {
	s.Passes += other.Passes
	s.Leased += other.Leased
	s.Indexed += other.Indexed
	s.Skipped += other.Skipped
	s.Cleared += other.Cleared
	s.Retried += other.Retried
	s.Poisoned += other.Poisoned
	s.Lost += other.Lost
	s.Duration += other.Duration
	s.Millis = s.Duration.Milliseconds()
}

func (s *RunStats) count(o outcome) {
	switch o {
	case outcomeIndexed:
		s.Indexed++
	case outcomeSkipped:
		s.Skipped++
	case outcomeCleared:
		s.Cleared++
	case outcomeRetry:
		s.Retried++
	case outcomePoisoned:
		s.Poisoned++
	case outcomeLost:
		s.Lost++
	}
}

// IndexerParams wires an Indexer. Limiter and Metrics may be nil.
type IndexerParams struct {
	Queue           JobQueue
	Store           EmbeddingStore
	EmbeddingClient DocumentEmbedder
	Limiter         *rate.Limiter
	Metrics         observability.IndexingMetrics
	Config          Config
}

// Indexer processes embedding jobs. The ticker loops, the drain endpoint and the drain CLI
// all go through ProcessAvailable.
type Indexer struct {
	queue      JobQueue
	store      EmbeddingStore
	client     DocumentEmbedder
	limiter    *rate.Limiter
	metrics    observability.IndexingMetrics
	cfg        Config
	lastErrors *lru.Cache[string, string]
	// drainMu serializes DrainNow callers; ticker loops are not blocked by it.
	drainMu sync.Mutex
}

// NewIndexer creates an Indexer.
func NewIndexer(p IndexerParams) *Indexer {
	lastErrors, _ := lru.New[string, string](lastErrorCacheSize)

	return &Indexer{
		queue:      p.Queue,
		store:      p.Store,
		client:     p.EmbeddingClient,
		limiter:    p.Limiter,
		metrics:    p.Metrics,
		cfg:        p.Config.withDefaults(),
		lastErrors: lastErrors,
	}
}

// Start runs the configured number of independent ticker loops until ctx is cancelled.
func (ix *Indexer) Start(ctx context.Context) error {
	slog.Info("indexer: started",
		"loops", ix.cfg.Loops,
		"batch_size", ix.cfg.BatchSize,
		"concurrency", ix.cfg.Concurrency,
		"poll_interval", ix.cfg.PollInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	for loop := range ix.cfg.Loops {
		g.Go(func() error {
			ix.runLoop(gctx, loop)

			return nil
		})
	}

	err := g.Wait()

	slog.Info("indexer: stopped")

	if err != nil {
		return fmt.Errorf("indexer loops: %w", err)
	}

	return nil
}

func (ix *Indexer) runLoop(ctx context.Context, loop int) {
	for {
		stats := ix.ProcessAvailable(ctx, TriggerTicker)
		if stats.Leased > 0 {
			slog.Debug("indexer: pass complete", "loop", loop, "leased", stats.Leased, "indexed", stats.Indexed)
		}

		// A full batch likely means more work is waiting; go again without sleeping.
		if stats.Leased >= ix.cfg.BatchSize {
			if ctx.Err() != nil {
				return
			}

			continue
		}

		wait := service.SpreadInterval(ix.cfg.PollInterval, ix.cfg.PollJitter)
		if err := service.SleepContext(ctx, wait); err != nil {
			return
		}
	}
}

// DrainNow repeats ProcessAvailable until a lease comes back empty or the pass limit is reached.
func (ix *Indexer) DrainNow(ctx context.Context, trigger string) RunStats {
	ix.drainMu.Lock()
	defer ix.drainMu.Unlock()

	var total RunStats

	for range ix.cfg.DrainMaxPasses {
		stats := ix.ProcessAvailable(ctx, trigger)
		total.Add(stats)

		if stats.Leased == 0 || ctx.Err() != nil {
			break
		}
	}

	slog.Info("indexer: drain finished",
		"trigger", trigger,
		"passes", total.Passes,
		"leased", total.Leased,
		"indexed", total.Indexed,
		"skipped", total.Skipped,
		"cleared", total.Cleared,
		"retried", total.Retried,
		"poisoned", total.Poisoned,
	)

	return total
}

// ProcessAvailable leases one batch and processes it with bounded concurrency.
// It never returns an error: per-job failures are released for retry and a failed
// lease is logged and reported as an empty pass.
func (ix *Indexer) ProcessAvailable(ctx context.Context, trigger string) RunStats {
	ctx = observability.WithTrigger(ctx, trigger)
	start := time.Now()
	stats := RunStats{Passes: 1}

	if ix.metrics != nil {
		ix.metrics.RecordDrainRun(ctx, trigger)
	}

	leaseCtx, cancel := context.WithTimeout(ctx, ix.cfg.StoreTimeout)
	leased, err := ix.queue.Lease(leaseCtx, ix.cfg.BatchSize, ix.cfg.VisibilityTimeout)

	cancel()

	if err != nil {
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "indexer: lease failed", "error", err)
			ix.recordWorkerError(ctx, "lease_failed")
		}

		stats.Duration = time.Since(start)
		stats.Millis = stats.Duration.Milliseconds()

		return stats
	}

	stats.Leased = len(leased)

	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(ix.cfg.Concurrency)

	for _, l := range leased {
		g.Go(func() error {
			o := ix.processJob(ctx, l)

			mu.Lock()
			stats.count(o)
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	stats.Duration = time.Since(start)
	stats.Millis = stats.Duration.Milliseconds()

	return stats
}

func (ix *Indexer) processJob(ctx context.Context, l queue.Leased) outcome {
	start := time.Now()
	job := l.Job
	logger := slog.With(
		"job_id", job.ID,
		"tenant_id", job.Payload.TenantID,
		"entity_type", job.Payload.EntityType,
		"entity_id", job.Payload.EntityID,
		"operation", job.Payload.Operation,
		"attempt", job.AttemptCount,
	)

	var o outcome

	switch {
	case job.AttemptCount > ix.cfg.MaxAttempts:
		o = ix.poison(ctx, l, logger)
	case job.Payload.Operation == models.OperationClear:
		o = ix.clear(ctx, l, logger)
	case job.Payload.Operation == models.OperationUpsert:
		o = ix.upsert(ctx, l, logger)
	default:
		// The queue validates payloads, so this is a row written by something else.
		ix.recordWorkerError(ctx, "invalid_payload")
		ix.lastErrors.Add(job.ID, fmt.Sprintf("unknown operation %q", job.Payload.Operation))
		o = ix.poison(ctx, l, logger)
	}

	if ix.metrics != nil {
		ix.metrics.RecordOutcome(ctx, string(o))
		ix.metrics.RecordJobDuration(ctx, time.Since(start), string(o))
	}

	return o
}

func (ix *Indexer) poison(ctx context.Context, l queue.Leased, logger *slog.Logger) outcome {
	lastErr, _ := ix.lastErrors.Get(l.Job.ID)
	reason := fmt.Sprintf("exceeded max attempts (%d)", ix.cfg.MaxAttempts)

	if lastErr != "" {
		reason += ": " + lastErr
	}

	storeCtx, cancel := context.WithTimeout(ctx, ix.cfg.StoreTimeout)
	defer cancel()

	if err := ix.queue.DeadLetter(storeCtx, l.Token, reason); err != nil {
		ix.recordWorkerError(ctx, "dead_letter_failed")
		logger.ErrorContext(ctx, "indexing: dead-letter failed", "error", err)

		return outcomeLost
	}

	ix.lastErrors.Remove(l.Job.ID)

	logger.ErrorContext(ctx, "indexing: job poisoned",
		"max_attempts", ix.cfg.MaxAttempts,
		"last_error", lastErr,
	)

	if ix.metrics != nil {
		ix.metrics.RecordJobPoisoned(ctx, string(l.Job.Payload.EntityType))
	}

	return outcomePoisoned
}

func (ix *Indexer) clear(ctx context.Context, l queue.Leased, logger *slog.Logger) outcome {
	p := l.Job.Payload

	storeCtx, cancel := context.WithTimeout(ctx, ix.cfg.StoreTimeout)
	existed, err := ix.store.Delete(storeCtx, p.TenantID, p.EntityType, p.EntityID)

	cancel()

	if err != nil {
		return ix.retry(ctx, l, logger, "store_failed", fmt.Errorf("delete record: %w", err))
	}

	if o := ix.ack(ctx, l, logger); o != "" {
		return o
	}

	logger.DebugContext(ctx, "indexing: record cleared", "existed", existed)

	return outcomeCleared
}

func (ix *Indexer) upsert(ctx context.Context, l queue.Leased, logger *slog.Logger) outcome {
	p := l.Job.Payload
	text := service.EmbeddingText(p)

	if text == "" {
		// Change capture turns empty upserts into clears; treat a stray one the same way.
		return ix.clear(ctx, l, logger)
	}

	hash := service.RecordHash(text, p.Metadata.Kind)

	storeCtx, cancel := context.WithTimeout(ctx, ix.cfg.StoreTimeout)
	stored, found, err := ix.store.ContentHash(storeCtx, p.TenantID, p.EntityType, p.EntityID)

	cancel()

	if err != nil {
		return ix.retry(ctx, l, logger, "hash_lookup_failed", fmt.Errorf("content hash lookup: %w", err))
	}

	if found && stored == hash {
		if o := ix.ack(ctx, l, logger); o != "" {
			return o
		}

		logger.DebugContext(ctx, "indexing: content unchanged, skipped")

		return outcomeSkipped
	}

	if ix.limiter != nil {
		if err := ix.limiter.Wait(ctx); err != nil {
			return ix.retry(ctx, l, logger, "rate_limited", fmt.Errorf("rate limiter: %w", err))
		}
	}

	embedCtx, cancel := context.WithTimeout(embeddings.WithPurpose(ctx, embeddings.PurposeDocument), ix.cfg.EmbedTimeout)
	vector, err := ix.client.CreateEmbedding(embedCtx, text)

	cancel()

	if err != nil {
		return ix.retry(ctx, l, logger, "provider_failed", fmt.Errorf("create embedding: %w", err))
	}

	record := models.EmbeddingRecord{
		TenantID:    p.TenantID,
		EntityType:  p.EntityType,
		EntityID:    p.EntityID,
		Vector:      vector,
		ContentHash: hash,
		Metadata: models.RecordMetadata{
			Name:    p.Metadata.Name,
			Kind:    p.Metadata.Kind,
			Snippet: service.Snippet(p.Content),
		},
		SourceAt:  l.Job.EnqueuedAt,
		UpdatedAt: time.Now().UTC(),
	}

	storeCtx, cancel = context.WithTimeout(ctx, ix.cfg.StoreTimeout)
	err = ix.store.Upsert(storeCtx, record)

	cancel()

	if err != nil {
		return ix.retry(ctx, l, logger, "store_failed", fmt.Errorf("upsert record: %w", err))
	}

	if o := ix.ack(ctx, l, logger); o != "" {
		return o
	}

	logger.DebugContext(ctx, "indexing: record stored", "dimensions", len(vector))

	return outcomeIndexed
}

// ack acknowledges the job. It returns an empty outcome on success.
func (ix *Indexer) ack(ctx context.Context, l queue.Leased, logger *slog.Logger) outcome {
	storeCtx, cancel := context.WithTimeout(ctx, ix.cfg.StoreTimeout)
	defer cancel()

	err := ix.queue.Acknowledge(storeCtx, l.Token)
	if err == nil {
		ix.lastErrors.Remove(l.Job.ID)

		return ""
	}

	ix.recordWorkerError(ctx, "ack_failed")

	if errors.Is(err, queue.ErrLeaseNotFound) {
		// The lease expired and another worker owns the job now; it will redo the idempotent work.
		logger.WarnContext(ctx, "indexing: lease lost before acknowledge", "error", err)
	} else {
		logger.WarnContext(ctx, "indexing: acknowledge failed", "error", err)
	}

	return outcomeLost
}

func (ix *Indexer) retry(ctx context.Context, l queue.Leased, logger *slog.Logger, reason string, cause error) outcome {
	ix.recordWorkerError(ctx, reason)
	ix.lastErrors.Add(l.Job.ID, cause.Error())

	delay := service.Jitter(service.ExponentialBackoff(l.Job.AttemptCount, ix.cfg.BackoffBase, ix.cfg.BackoffCap))

	// Use a fresh context so a cancelled worker still hands the job back promptly.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ix.cfg.StoreTimeout)
	defer cancel()

	if err := ix.queue.Release(releaseCtx, l.Token, delay); err != nil {
		ix.recordWorkerError(ctx, "release_failed")
		logger.WarnContext(ctx, "indexing: release failed, lease will expire",
			"cause", cause,
			"error", err,
		)

		return outcomeLost
	}

	level := slog.LevelInfo
	if l.Job.AttemptCount >= ix.cfg.MaxAttempts {
		level = slog.LevelWarn
	}

	logger.Log(ctx, level, "indexing: job failed, released for retry",
		"reason", reason,
		"retry_in", delay,
		"error", cause,
	)

	return outcomeRetry
}

func (ix *Indexer) recordWorkerError(ctx context.Context, reason string) {
	if ix.metrics != nil {
		ix.metrics.RecordWorkerError(ctx, reason)
	}
}
