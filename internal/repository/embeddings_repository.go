package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pagewise/hub/internal/models"
)

const backendPostgres = "postgres"

// EmbeddingsRepository stores embedding records in the embeddings table (pgvector halfvec).
type EmbeddingsRepository struct {
	db       *pgxpool.Pool
	model    string
	recorder IsolationRecorder
}

// NewEmbeddingsRepository creates a new embeddings repository. model is stored alongside
// each vector for operators; recorder may be nil.
func NewEmbeddingsRepository(db *pgxpool.Pool, model string, recorder IsolationRecorder) *EmbeddingsRepository {
	return &EmbeddingsRepository{db: db, model: model, recorder: recorder}
}

// Upsert inserts or replaces the record for (tenant, entity type, entity id) in a single statement,
// so readers never observe a half-written row. A redelivered write whose source_at is older than
// the stored row's leaves the row untouched.
// Uses halfvec storage (2 bytes per dimension); pgvector-go converts float32 to float16 when encoding.
func (r *EmbeddingsRepository) Upsert(ctx context.Context, record models.EmbeddingRecord) error {
	if record.TenantID == "" {
		return ErrMissingTenant
	}

	if len(record.Vector) == 0 {
		return ErrInvalidVector
	}

	vec := pgvector.NewHalfVector(record.Vector)

	sourceAt := record.SourceAt
	if sourceAt.IsZero() {
		sourceAt = record.UpdatedAt
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO embeddings
			(tenant_id, entity_type, entity_id, embedding, content_hash, name, kind, snippet, model,
			 source_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (tenant_id, entity_type, entity_id)
		DO UPDATE SET embedding = EXCLUDED.embedding,
		              content_hash = EXCLUDED.content_hash,
		              name = EXCLUDED.name,
		              kind = EXCLUDED.kind,
		              snippet = EXCLUDED.snippet,
		              model = EXCLUDED.model,
		              source_at = EXCLUDED.source_at,
		              updated_at = EXCLUDED.updated_at
		WHERE embeddings.source_at <= EXCLUDED.source_at`,
		record.TenantID, string(record.EntityType), record.EntityID, vec, record.ContentHash,
		record.Metadata.Name, record.Metadata.Kind, record.Metadata.Snippet, r.model, sourceAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("embeddings upsert: %w", err)
	}

	return nil
}

// Delete removes the record if present and reports whether one existed.
func (r *EmbeddingsRepository) Delete(
	ctx context.Context, tenantID string, entityType models.EntityType, entityID string,
) (bool, error) {
	if tenantID == "" {
		return false, ErrMissingTenant
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM embeddings WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`,
		tenantID, string(entityType), entityID,
	)
	if err != nil {
		return false, fmt.Errorf("embeddings delete: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ContentHash returns the stored content hash for the key, or found=false when no record exists.
func (r *EmbeddingsRepository) ContentHash(
	ctx context.Context, tenantID string, entityType models.EntityType, entityID string,
) (string, bool, error) {
	if tenantID == "" {
		return "", false, ErrMissingTenant
	}

	var hash string

	err := r.db.QueryRow(ctx,
		`SELECT content_hash FROM embeddings WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`,
		tenantID, string(entityType), entityID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("get content hash: %w", err)
	}

	return hash, true, nil
}

// Search returns up to topK records of tenantID nearest to queryVector by cosine distance (<=>).
// Similarity = 1 - distance, clamped to [0,1]. A tenant without records yields an empty slice.
func (r *EmbeddingsRepository) Search(
	ctx context.Context, tenantID string, queryVector []float32, topK int,
) ([]models.ScoredRecord, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	if len(queryVector) == 0 {
		return nil, ErrInvalidVector
	}

	if topK <= 0 {
		return []models.ScoredRecord{}, nil
	}

	queryVec := pgvector.NewHalfVector(queryVector)

	rows, err := r.db.Query(ctx, `
		SELECT e.tenant_id, e.entity_type, e.entity_id, (1 - (e.embedding <=> $1))::float8 AS score,
		       e.name, e.kind, e.snippet
		FROM embeddings e
		WHERE e.tenant_id = $2
		ORDER BY e.embedding <=> $1
		LIMIT $3`, queryVec, tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("nearest embeddings: %w", err)
	}
	defer rows.Close()

	results := []models.ScoredRecord{}

	for rows.Next() {
		var (
			row        models.ScoredRecord
			entityType string
		)

		if err := rows.Scan(&row.TenantID, &entityType, &row.EntityID, &row.Similarity,
			&row.Metadata.Name, &row.Metadata.Kind, &row.Metadata.Snippet); err != nil {
			return nil, fmt.Errorf("scan scored record: %w", err)
		}

		row.EntityType = models.EntityType(entityType)
		row.Similarity = clampSimilarity(row.Similarity)
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nearest: %w", err)
	}

	return enforceTenant(ctx, backendPostgres, tenantID, results, r.recorder)
}

// Count returns the number of records indexed for tenantID.
func (r *EmbeddingsRepository) Count(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, ErrMissingTenant
	}

	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM embeddings WHERE tenant_id = $1`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}

	return n, nil
}

// DeleteTenant removes every record of tenantID and returns how many were removed.
func (r *EmbeddingsRepository) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, ErrMissingTenant
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM embeddings WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("delete tenant embeddings: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// Ping checks database connectivity.
func (r *EmbeddingsRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("embeddings ping: %w", err)
	}

	return nil
}
