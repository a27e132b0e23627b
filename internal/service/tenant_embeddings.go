package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pagewise/hub/internal/jobs"
	"github.com/pagewise/hub/internal/observability"
)

// TenantStore is the tenant-wide side of the embedding store.
type TenantStore interface {
	Count(ctx context.Context, tenantID string) (int, error)
	DeleteTenant(ctx context.Context, tenantID string) (int, error)
}

// TenantQueue removes a tenant's live indexing jobs.
type TenantQueue interface {
	PurgeTenant(ctx context.Context, tenantID string) (int, error)
}

// PurgeResult reports what a tenant purge removed.
type PurgeResult struct {
	RecordsRemoved int `json:"recordsRemoved"` //nolint:tagliatelle // API contract
	JobsRemoved    int `json:"jobsRemoved"`    //nolint:tagliatelle // API contract
}

// PurgeRequest is the outcome of RequestPurge. Result is set only when the purge ran inline.
type PurgeRequest struct {
	Queued    bool         `json:"queued"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Result    *PurgeResult `json:"result,omitempty"`
}

// TenantEmbeddingsService answers per-tenant index questions and deprovisions tenants.
type TenantEmbeddingsService struct {
	store    TenantStore
	queue    TenantQueue
	inserter jobs.JobInserter
	metrics  observability.IndexingMetrics
}

// NewTenantEmbeddingsService creates the service. inserter may be nil, in which case purges run
// inline in the calling request. metrics may be nil.
func NewTenantEmbeddingsService(
	store TenantStore, queue TenantQueue, inserter jobs.JobInserter, metrics observability.IndexingMetrics,
) *TenantEmbeddingsService {
	return &TenantEmbeddingsService{store: store, queue: queue, inserter: inserter, metrics: metrics}
}

// Count returns the number of embedding records stored for tenantID.
func (s *TenantEmbeddingsService) Count(ctx context.Context, tenantID string) (int, error) {
	if strings.TrimSpace(tenantID) == "" {
		return 0, ErrMissingTenantID
	}

	n, err := s.store.Count(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}

	return n, nil
}

// RequestPurge schedules removal of every record and live job of tenantID.
func (s *TenantEmbeddingsService) RequestPurge(ctx context.Context, tenantID string) (PurgeRequest, error) {
	if strings.TrimSpace(tenantID) == "" {
		return PurgeRequest{}, ErrMissingTenantID
	}

	if s.inserter == nil {
		res, err := s.Purge(ctx, tenantID)
		if err != nil {
			return PurgeRequest{}, err
		}

		return PurgeRequest{Result: &res}, nil
	}

	duplicate, err := s.inserter.InsertPurgeTenant(ctx, jobs.PurgeTenantArgs{TenantID: tenantID})
	if err != nil {
		return PurgeRequest{}, fmt.Errorf("request tenant purge: %w", err)
	}

	slog.InfoContext(ctx, "tenant purge: queued", "tenant_id", tenantID, "duplicate", duplicate)

	return PurgeRequest{Queued: true, Duplicate: duplicate}, nil
}

// Purge removes the tenant's live jobs first and then its records. A job already leased by a
// worker may still write one record after the purge; a second purge removes it.
func (s *TenantEmbeddingsService) Purge(ctx context.Context, tenantID string) (PurgeResult, error) {
	if strings.TrimSpace(tenantID) == "" {
		return PurgeResult{}, ErrMissingTenantID
	}

	jobsRemoved, err := s.queue.PurgeTenant(ctx, tenantID)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge tenant jobs: %w", err)
	}

	records, err := s.store.DeleteTenant(ctx, tenantID)
	if err != nil {
		return PurgeResult{JobsRemoved: jobsRemoved}, fmt.Errorf("purge tenant records: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTenantPurge(ctx, records)
	}

	slog.InfoContext(ctx, "tenant purge: completed",
		"tenant_id", tenantID,
		"records_removed", records,
		"jobs_removed", jobsRemoved,
	)

	return PurgeResult{RecordsRemoved: records, JobsRemoved: jobsRemoved}, nil
}
