// Package queue provides the durable, at-least-once embedding job queue with
// visibility-timeout leasing. Two backends share one contract: Postgres (production)
// and an in-process memory queue (single-node and tests).
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/pagewise/hub/internal/models"
)

var (
	// ErrLeaseNotFound is returned when a lease token is unknown, was already acknowledged,
	// or was superseded because the lease expired and the job was leased again.
	ErrLeaseNotFound = errors.New("queue: lease not found")
	// ErrInvalidJob is returned by Enqueue for payloads that cannot be processed.
	ErrInvalidJob = errors.New("queue: invalid job")
)

// Leased is a job handed to a consumer together with the token that identifies this lease.
type Leased struct {
	Job   models.EmbeddingJob
	Token string
}

// Stats is a point-in-time view of the queue used by the ops surface and metrics.
type Stats struct {
	Depth            int           `json:"depth"`
	Leased           int           `json:"leased"`
	Dead             int           `json:"dead"`
	OldestUnackedAge time.Duration `json:"-"`
	OldestUnackedSec float64       `json:"oldest_unacked_age_seconds"`
}

const (
	maxLeaseBatch      = 100
	defaultDeadListMax = 100
)

func validatePayload(p models.JobPayload) error {
	switch {
	case p.TenantID == "":
		return fmt.Errorf("%w: tenant id is required", ErrInvalidJob)
	case p.EntityID == "":
		return fmt.Errorf("%w: entity id is required", ErrInvalidJob)
	case !p.EntityType.IsValid():
		return fmt.Errorf("%w: entity type %q", ErrInvalidJob, p.EntityType)
	case !p.Operation.IsValid():
		return fmt.Errorf("%w: operation %q", ErrInvalidJob, p.Operation)
	}

	return nil
}

func clampLeaseBatch(n int) int {
	return min(max(n, 1), maxLeaseBatch)
}

func clampDeadLimit(n int) int {
	if n <= 0 {
		return defaultDeadListMax
	}

	return min(n, 500)
}

func newStats(depth, leased, dead int, oldest time.Duration) Stats {
	if oldest < 0 {
		oldest = 0
	}

	return Stats{
		Depth:            depth,
		Leased:           leased,
		Dead:             dead,
		OldestUnackedAge: oldest,
		OldestUnackedSec: oldest.Seconds(),
	}
}
