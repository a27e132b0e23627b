// Package repository provides the embedding stores: Postgres/pgvector and chromem-go.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/pagewise/hub/internal/huberrors"
	"github.com/pagewise/hub/internal/models"
)

var (
	// ErrMissingTenant is returned when a store operation is called without a tenant.
	ErrMissingTenant = errors.New("tenant id is required")
	// ErrTenantIsolation is returned when a search produced a row owned by another tenant.
	// The whole result set is discarded.
	ErrTenantIsolation = huberrors.ErrTenantIsolation
	// ErrInvalidVector is returned for empty query or record vectors.
	ErrInvalidVector = errors.New("vector is empty")
)

// IsolationRecorder counts tenant isolation violations. May be nil.
type IsolationRecorder interface {
	RecordIsolationViolation(ctx context.Context, backend string)
}

// enforceTenant returns results unchanged when every row belongs to tenantID. Otherwise it
// returns nil and ErrTenantIsolation so callers fail closed.
func enforceTenant(
	ctx context.Context, backend, tenantID string, results []models.ScoredRecord, recorder IsolationRecorder,
) ([]models.ScoredRecord, error) {
	for _, r := range results {
		if r.TenantID == tenantID {
			continue
		}

		slog.ErrorContext(ctx, "embedding store: tenant isolation violation",
			"backend", backend,
			"tenant_id", tenantID,
			"entity_type", r.EntityType,
			"entity_id", r.EntityID,
		)

		if recorder != nil {
			recorder.RecordIsolationViolation(ctx, backend)
		}

		return nil, huberrors.NewIsolationError(backend, tenantID)
	}

	return results, nil
}

// clampSimilarity maps a cosine similarity into [0,1]. Opposite vectors score 0.
func clampSimilarity(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}

	return min(max(s, 0), 1)
}

func recordKey(entityType models.EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}
