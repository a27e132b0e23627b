package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagewise/hub/internal/models"
)

type memoryEntry struct {
	job       models.EmbeddingJob
	visibleAt time.Time
	token     string
	leasedTo  time.Time
}

// MemoryQueue is an in-process Queue. Leasing is exclusive under a mutex; jobs are
// lost on restart, so it is meant for single-node deployments and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	live  []*memoryEntry
	dead  []models.DeadJob
	now   func() time.Time
	newID func() string
}

// MemoryQueueOption configures a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithClock overrides the time source (tests use it to expire leases).
func WithClock(now func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.now = now
	}
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		now:   time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue appends a job and returns its id. It never blocks on consumers.
func (q *MemoryQueue) Enqueue(_ context.Context, payload models.JobPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	entry := &memoryEntry{
		job: models.EmbeddingJob{
			ID:         q.newID(),
			Payload:    payload,
			EnqueuedAt: now,
		},
		visibleAt: now,
	}
	q.live = append(q.live, entry)

	return entry.job.ID, nil
}

// Lease hands out up to maxCount visible jobs, hides them for visibilityTimeout and
// increments their attempt count.
func (q *MemoryQueue) Lease(_ context.Context, maxCount int, visibilityTimeout time.Duration) ([]Leased, error) {
	maxCount = clampLeaseBatch(maxCount)

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	out := make([]Leased, 0, maxCount)

	for _, entry := range q.live {
		if len(out) == maxCount {
			break
		}

		if entry.visibleAt.After(now) {
			continue
		}

		entry.job.AttemptCount++
		entry.token = uuid.NewString()
		entry.visibleAt = now.Add(visibilityTimeout)
		entry.leasedTo = entry.visibleAt

		out = append(out, Leased{Job: entry.job, Token: entry.token})
	}

	return out, nil
}

// Acknowledge permanently removes the leased job.
func (q *MemoryQueue) Acknowledge(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexByToken(token)
	if idx < 0 {
		return ErrLeaseNotFound
	}

	q.live = slices.Delete(q.live, idx, idx+1)

	return nil
}

// Release makes the leased job visible again after delay.
func (q *MemoryQueue) Release(_ context.Context, token string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexByToken(token)
	if idx < 0 {
		return ErrLeaseNotFound
	}

	entry := q.live[idx]
	entry.token = ""
	entry.leasedTo = time.Time{}
	entry.visibleAt = q.now().Add(max(delay, 0))

	return nil
}

// DeadLetter removes the leased job from the live queue and keeps it in the dead list.
func (q *MemoryQueue) DeadLetter(_ context.Context, token, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexByToken(token)
	if idx < 0 {
		return ErrLeaseNotFound
	}

	entry := q.live[idx]
	q.live = slices.Delete(q.live, idx, idx+1)
	q.dead = append(q.dead, models.DeadJob{
		ID:           entry.job.ID,
		Payload:      entry.job.Payload,
		EnqueuedAt:   entry.job.EnqueuedAt,
		AttemptCount: entry.job.AttemptCount,
		Reason:       reason,
		DeadAt:       q.now(),
	})

	return nil
}

// Stats reports depth, leased count, dead count and the age of the oldest live job.
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	leased := 0

	var oldest time.Duration

	for _, entry := range q.live {
		if entry.token != "" && entry.leasedTo.After(now) {
			leased++
		}

		oldest = max(oldest, now.Sub(entry.job.EnqueuedAt))
	}

	return newStats(len(q.live), leased, len(q.dead), oldest), nil
}

// ListDead returns dead-lettered jobs, newest first, optionally filtered by tenant.
func (q *MemoryQueue) ListDead(_ context.Context, tenantID string, limit int) ([]models.DeadJob, error) {
	limit = clampDeadLimit(limit)

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.DeadJob, 0, min(limit, len(q.dead)))

	for i := len(q.dead) - 1; i >= 0 && len(out) < limit; i-- {
		if tenantID != "" && q.dead[i].Payload.TenantID != tenantID {
			continue
		}

		out = append(out, q.dead[i])
	}

	return out, nil
}

// PurgeTenant removes every live job of a tenant and returns how many were removed.
func (q *MemoryQueue) PurgeTenant(_ context.Context, tenantID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.live)
	q.live = slices.DeleteFunc(q.live, func(e *memoryEntry) bool {
		return e.job.Payload.TenantID == tenantID
	})

	return before - len(q.live), nil
}

// Ping always succeeds for the in-process queue.
func (q *MemoryQueue) Ping(context.Context) error {
	return nil
}

func (q *MemoryQueue) indexByToken(token string) int {
	if token == "" {
		return -1
	}

	return slices.IndexFunc(q.live, func(e *memoryEntry) bool {
		return e.token == token
	})
}
