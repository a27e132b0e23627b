// Package workers provides River job workers (tenant embedding purge).
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/pagewise/hub/internal/jobs"
	"github.com/pagewise/hub/internal/service"
)

// tenantPurger is the minimal interface needed by the worker.
type tenantPurger interface {
	Purge(ctx context.Context, tenantID string) (service.PurgeResult, error)
}

// TenantPurgeWorker removes a deprovisioned tenant's embedding records and live jobs.
type TenantPurgeWorker struct {
	river.WorkerDefaults[jobs.PurgeTenantArgs]

	purger tenantPurger
}

// NewTenantPurgeWorker creates a worker that delegates to the tenant embeddings service.
func NewTenantPurgeWorker(purger tenantPurger) *TenantPurgeWorker {
	return &TenantPurgeWorker{purger: purger}
}

const tenantPurgeTimeout = 5 * time.Minute

// Timeout limits how long a single purge can run.
func (w *TenantPurgeWorker) Timeout(*river.Job[jobs.PurgeTenantArgs]) time.Duration {
	return tenantPurgeTimeout
}

// Work runs the purge. Errors are retried by River until MaxAttempts; a missing tenant id is cancelled.
func (w *TenantPurgeWorker) Work(ctx context.Context, job *river.Job[jobs.PurgeTenantArgs]) error {
	tenantID := job.Args.TenantID

	res, err := w.purger.Purge(ctx, tenantID)
	if err != nil {
		if errors.Is(err, service.ErrMissingTenantID) {
			slog.ErrorContext(ctx, "tenant purge: job without tenant id", "job_id", job.ID)

			return river.JobCancel(err)
		}

		if job.Attempt >= job.MaxAttempts {
			slog.ErrorContext(ctx, "tenant purge: failed (final attempt)",
				"tenant_id", tenantID,
				"job_id", job.ID,
				"attempt", job.Attempt,
				"error", err,
			)
		}

		return fmt.Errorf("purge tenant %s: %w", tenantID, err)
	}

	slog.InfoContext(ctx, "tenant purge: job done",
		"tenant_id", tenantID,
		"job_id", job.ID,
		"records_removed", res.RecordsRemoved,
		"jobs_removed", res.JobsRemoved,
	)

	return nil
}
