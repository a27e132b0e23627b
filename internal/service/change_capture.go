package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pagewise/hub/internal/huberrors"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/observability"
)

// JobEnqueuer appends embedding jobs to the queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, payload models.JobPayload) (string, error)
}

// ChangeCapture turns entity mutations into embedding jobs. The mutation path calls Emit right
// after a successful write; every tracked mutation produces exactly one job.
type ChangeCapture struct {
	queue   JobEnqueuer
	metrics observability.IndexingMetrics
}

// NewChangeCapture creates a ChangeCapture. metrics may be nil when metrics are disabled.
func NewChangeCapture(queue JobEnqueuer, metrics observability.IndexingMetrics) *ChangeCapture {
	return &ChangeCapture{queue: queue, metrics: metrics}
}

// Emit normalizes event into a job payload and enqueues it. Returns the queue-assigned job ID.
// An upsert with neither a name nor any content is enqueued as a clear, so a stale vector is removed
// rather than kept for text that no longer exists.
func (c *ChangeCapture) Emit(ctx context.Context, event models.ChangeEvent) (string, error) {
	payload, err := BuildPayload(event)
	if err != nil {
		c.recordError(ctx, "invalid_event")

		return "", err
	}

	if event.Operation == string(models.OperationUpsert) && payload.Operation == models.OperationClear {
		c.recordError(ctx, "normalize_empty")
		slog.DebugContext(ctx, "change capture: upsert without text, enqueueing clear",
			"tenant_id", payload.TenantID,
			"entity_type", payload.EntityType,
			"entity_id", payload.EntityID,
		)
	}

	jobID, err := c.queue.Enqueue(ctx, payload)
	if err != nil {
		c.recordError(ctx, "enqueue_failed")
		slog.ErrorContext(ctx, "change capture: enqueue failed",
			"tenant_id", payload.TenantID,
			"entity_type", payload.EntityType,
			"entity_id", payload.EntityID,
			"error", err,
		)

		return "", fmt.Errorf("enqueue embedding job: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordJobEnqueued(ctx, string(payload.EntityType))
	}

	slog.DebugContext(ctx, "change capture: job enqueued",
		"job_id", jobID,
		"tenant_id", payload.TenantID,
		"entity_type", payload.EntityType,
		"entity_id", payload.EntityID,
		"operation", payload.Operation,
	)

	return jobID, nil
}

func (c *ChangeCapture) recordError(ctx context.Context, reason string) {
	if c.metrics != nil {
		c.metrics.RecordEnqueueError(ctx, reason)
	}
}

// BuildPayload validates event and produces the normalized queue payload.
func BuildPayload(event models.ChangeEvent) (models.JobPayload, error) {
	tenantID := strings.TrimSpace(event.TenantID)
	if tenantID == "" {
		return models.JobPayload{}, huberrors.NewValidationError("tenantId", "is required")
	}

	entityID := strings.TrimSpace(event.EntityID)
	if entityID == "" {
		return models.JobPayload{}, huberrors.NewValidationError("entityId", "is required")
	}

	entityType, err := models.ParseEntityType(event.EntityType)
	if err != nil {
		return models.JobPayload{}, huberrors.NewValidationError("entityType", "must be one of feature, release, page")
	}

	op := models.Operation(event.Operation)
	if !op.IsValid() {
		return models.JobPayload{}, huberrors.NewValidationError("operation", "must be upsert or clear")
	}

	payload := models.JobPayload{
		EntityType: entityType,
		EntityID:   entityID,
		TenantID:   tenantID,
		Operation:  op,
	}

	if op == models.OperationClear {
		return payload, nil
	}

	if event.Content != nil {
		payload.Content = NormalizeContent(entityType, *event.Content)
	}

	if event.Metadata != nil {
		payload.Metadata.Name = strings.TrimSpace(event.Metadata.Name)
		payload.Metadata.Kind = strings.TrimSpace(event.Metadata.Kind)
	}

	payload.Metadata.Snippet = Snippet(payload.Content)

	if EmbeddingText(payload) == "" {
		payload.Operation = models.OperationClear
		payload.Content = ""
		payload.Metadata = models.RecordMetadata{}
	}

	return payload, nil
}
