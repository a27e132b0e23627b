package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagewise/hub/internal/models"
)

// PostgresQueue stores jobs in the embedding_jobs table. Leasing uses
// FOR UPDATE SKIP LOCKED so concurrent leasers never receive the same job.
type PostgresQueue struct {
	db *pgxpool.Pool
}

// NewPostgresQueue creates a queue backed by db. The schema is created by the migrations package.
func NewPostgresQueue(db *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Enqueue inserts a job visible immediately and returns its id.
func (q *PostgresQueue) Enqueue(ctx context.Context, payload models.JobPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	id := uuid.Must(uuid.NewV7())

	_, err = q.db.Exec(ctx, `
		INSERT INTO embedding_jobs (id, tenant_id, entity_type, entity_id, operation, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, payload.TenantID, string(payload.EntityType), payload.EntityID, string(payload.Operation), body,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue embedding job: %w", err)
	}

	return id.String(), nil
}

// Lease claims up to maxCount visible jobs. Expired leases are visible again because
// visible_at is set to the lease deadline.
func (q *PostgresQueue) Lease(ctx context.Context, maxCount int, visibilityTimeout time.Duration) ([]Leased, error) {
	maxCount = clampLeaseBatch(maxCount)

	rows, err := q.db.Query(ctx, `
		WITH next AS (
			SELECT id FROM embedding_jobs
			WHERE visible_at <= now()
			ORDER BY visible_at, enqueued_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE embedding_jobs j
		SET attempt_count = j.attempt_count + 1,
		    lease_token   = gen_random_uuid(),
		    visible_at    = now() + ($2::bigint * interval '1 millisecond'),
		    leased_until  = now() + ($2::bigint * interval '1 millisecond')
		FROM next
		WHERE j.id = next.id
		RETURNING j.id::text, j.payload, j.enqueued_at, j.attempt_count, j.lease_token::text`,
		maxCount, visibilityTimeout.Milliseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("lease embedding jobs: %w", err)
	}
	defer rows.Close()

	var leased []Leased

	for rows.Next() {
		var (
			item Leased
			body []byte
		)

		if err := rows.Scan(&item.Job.ID, &body, &item.Job.EnqueuedAt, &item.Job.AttemptCount, &item.Token); err != nil {
			return nil, fmt.Errorf("scan leased job: %w", err)
		}

		if err := json.Unmarshal(body, &item.Job.Payload); err != nil {
			return nil, fmt.Errorf("decode job %s payload: %w", item.Job.ID, err)
		}

		leased = append(leased, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leased jobs: %w", err)
	}

	return leased, nil
}

// Acknowledge deletes the job held by token.
func (q *PostgresQueue) Acknowledge(ctx context.Context, token string) error {
	tokenID, err := uuid.Parse(token)
	if err != nil {
		return ErrLeaseNotFound
	}

	tag, err := q.db.Exec(ctx, `DELETE FROM embedding_jobs WHERE lease_token = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("acknowledge job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrLeaseNotFound
	}

	return nil
}

// Release clears the lease and makes the job visible after delay.
func (q *PostgresQueue) Release(ctx context.Context, token string, delay time.Duration) error {
	tokenID, err := uuid.Parse(token)
	if err != nil {
		return ErrLeaseNotFound
	}

	tag, err := q.db.Exec(ctx, `
		UPDATE embedding_jobs
		SET lease_token = NULL,
		    leased_until = NULL,
		    visible_at = now() + ($2::bigint * interval '1 millisecond')
		WHERE lease_token = $1`,
		tokenID, max(delay, 0).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrLeaseNotFound
	}

	return nil
}

// DeadLetter moves the job held by token into embedding_dead_jobs in one statement.
func (q *PostgresQueue) DeadLetter(ctx context.Context, token, reason string) error {
	tokenID, err := uuid.Parse(token)
	if err != nil {
		return ErrLeaseNotFound
	}

	tag, err := q.db.Exec(ctx, `
		WITH moved AS (
			DELETE FROM embedding_jobs WHERE lease_token = $1
			RETURNING id, tenant_id, entity_type, entity_id, operation, payload, enqueued_at, attempt_count
		)
		INSERT INTO embedding_dead_jobs
			(id, tenant_id, entity_type, entity_id, operation, payload, enqueued_at, attempt_count, reason)
		SELECT id, tenant_id, entity_type, entity_id, operation, payload, enqueued_at, attempt_count, $2
		FROM moved
		ON CONFLICT (id) DO UPDATE SET reason = EXCLUDED.reason, dead_at = now()`,
		tokenID, reason,
	)
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrLeaseNotFound
	}

	return nil
}

// Stats reads depth, leased and dead counts and the oldest live job age.
func (q *PostgresQueue) Stats(ctx context.Context) (Stats, error) {
	var (
		depth, leased, dead int
		oldestSeconds       float64
	)

	err := q.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE leased_until > now()),
		       COALESCE(EXTRACT(EPOCH FROM now() - min(enqueued_at)), 0)::float8
		FROM embedding_jobs`,
	).Scan(&depth, &leased, &oldestSeconds)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM embedding_dead_jobs`).Scan(&dead); err != nil {
		return Stats{}, fmt.Errorf("dead job count: %w", err)
	}

	return newStats(depth, leased, dead, time.Duration(oldestSeconds*float64(time.Second))), nil
}

// ListDead returns dead-lettered jobs newest first, optionally filtered by tenant.
func (q *PostgresQueue) ListDead(ctx context.Context, tenantID string, limit int) ([]models.DeadJob, error) {
	limit = clampDeadLimit(limit)

	var (
		rows pgx.Rows
		err  error
	)

	if tenantID == "" {
		rows, err = q.db.Query(ctx, `
			SELECT id::text, payload, enqueued_at, attempt_count, reason, dead_at
			FROM embedding_dead_jobs ORDER BY dead_at DESC LIMIT $1`, limit)
	} else {
		rows, err = q.db.Query(ctx, `
			SELECT id::text, payload, enqueued_at, attempt_count, reason, dead_at
			FROM embedding_dead_jobs WHERE tenant_id = $1 ORDER BY dead_at DESC LIMIT $2`, tenantID, limit)
	}

	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()

	out := []models.DeadJob{}

	for rows.Next() {
		var (
			job  models.DeadJob
			body []byte
		)

		if err := rows.Scan(&job.ID, &body, &job.EnqueuedAt, &job.AttemptCount, &job.Reason, &job.DeadAt); err != nil {
			return nil, fmt.Errorf("scan dead job: %w", err)
		}

		if err := json.Unmarshal(body, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode dead job %s payload: %w", job.ID, err)
		}

		out = append(out, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead jobs: %w", err)
	}

	return out, nil
}

// PurgeTenant deletes all live jobs of a tenant.
func (q *PostgresQueue) PurgeTenant(ctx context.Context, tenantID string) (int, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM embedding_jobs WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("purge tenant jobs: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// Ping checks database connectivity.
func (q *PostgresQueue) Ping(ctx context.Context) error {
	if err := q.db.Ping(ctx); err != nil {
		return fmt.Errorf("queue ping: %w", err)
	}

	return nil
}
