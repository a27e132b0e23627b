package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pagewise/hub/internal/jobs"
	"github.com/pagewise/hub/internal/observability"
)

const defaultInitialBackoffWhenZero = 500 * time.Millisecond

// RetryingJobInserter wraps a jobs.JobInserter and retries inserts on failure with
// exponential backoff and jitter. Use for transient River/DB errors.
type RetryingJobInserter struct {
	inner          jobs.JobInserter
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	metrics        observability.IndexingMetrics
}

// RetryingJobInserterConfig holds configuration for the retrying inserter.
type RetryingJobInserterConfig struct {
	MaxRetries     int           // Number of retries after the first attempt (total attempts = 1 + MaxRetries).
	InitialBackoff time.Duration // Backoff after first failure; doubles each attempt, capped by MaxBackoff.
	MaxBackoff     time.Duration
	Metrics        observability.IndexingMetrics
}

// NewRetryingJobInserter returns a jobs.JobInserter that retries on error.
func NewRetryingJobInserter(inner jobs.JobInserter, cfg RetryingJobInserterConfig) *RetryingJobInserter {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoffWhenZero
	}

	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &RetryingJobInserter{
		inner:          inner,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		metrics:        cfg.Metrics,
	}
}

// InsertPurgeTenant calls the inner inserter and retries up to maxRetries times.
// Context cancellation during backoff aborts the retry loop.
func (r *RetryingJobInserter) InsertPurgeTenant(ctx context.Context, args jobs.PurgeTenantArgs) (bool, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		duplicate, err := r.inner.InsertPurgeTenant(ctx, args)
		if err == nil {
			return duplicate, nil
		}

		lastErr = err

		if r.metrics != nil {
			r.metrics.RecordEnqueueError(ctx, "enqueue_failed")
		}

		if attempt == r.maxRetries {
			break
		}

		sleep := Jitter(ExponentialBackoff(attempt, r.initialBackoff, r.maxBackoff))
		slog.Warn("jobs: purge enqueue failed, retrying after backoff",
			"tenant_id", args.TenantID,
			"attempt", attempt+1,
			"max_attempts", r.maxRetries+1,
			"backoff", sleep,
			"error", err,
		)

		if err := SleepContext(ctx, sleep); err != nil {
			return false, err
		}
	}

	return false, lastErr
}

var _ jobs.JobInserter = (*RetryingJobInserter)(nil)
