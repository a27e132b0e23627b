package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pagewise/hub/internal/models"
)

const backendChromem = "chromem"

var chromemTracer = otel.Tracer("github.com/pagewise/hub/internal/repository/chromem")

// errNoEmbedder is returned by the collection embedding func. Vectors are always supplied by the
// indexing worker, so chromem must never embed text itself.
var errNoEmbedder = errors.New("chromem store does not embed text")

// Metadata keys stored on every chromem document.
const (
	metaTenantID    = "tenant_id"
	metaEntityType  = "entity_type"
	metaEntityID    = "entity_id"
	metaContentHash = "content_hash"
	metaName        = "name"
	metaKind        = "kind"
	metaSnippet     = "snippet"
	metaSourceAt    = "source_at"
	metaUpdatedAt   = "updated_at"
)

// ChromemStore keeps embedding records in an embedded chromem-go database, one collection per tenant.
// Each document also carries its tenant in metadata and search results are checked against it.
type ChromemStore struct {
	db       *chromem.DB
	recorder IsolationRecorder

	// Writers take the write lock. Search holds the read lock across Count and QueryEmbedding,
	// since chromem rejects nResults above the live document count.
	mu sync.RWMutex
}

// NewChromemStore opens a chromem database. An empty path keeps everything in memory.
func NewChromemStore(path string, compress bool, recorder IsolationRecorder) (*ChromemStore, error) {
	if path == "" {
		return &ChromemStore{db: chromem.NewDB(), recorder: recorder}, nil
	}

	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
	}

	slog.Info("chromem store opened", "path", path, "compress", compress)

	return &ChromemStore{db: db, recorder: recorder}, nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func collectionName(tenantID string) string {
	return "tenant:" + tenantID
}

func (s *ChromemStore) collection(tenantID string) *chromem.Collection {
	return s.db.GetCollection(collectionName(tenantID), noEmbed)
}

// Upsert replaces the document for the record key. chromem overwrites documents with the same ID.
// A record whose SourceAt is older than the stored document's is dropped.
func (s *ChromemStore) Upsert(ctx context.Context, record models.EmbeddingRecord) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	if record.TenantID == "" {
		return ErrMissingTenant
	}

	if len(record.Vector) == 0 {
		return ErrInvalidVector
	}

	span.SetAttributes(
		attribute.String("entity_type", string(record.EntityType)),
		attribute.String("entity_id", record.EntityID),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.db.GetOrCreateCollection(collectionName(record.TenantID), nil, noEmbed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return fmt.Errorf("get or create collection: %w", err)
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	sourceAt := record.SourceAt
	if sourceAt.IsZero() {
		sourceAt = updatedAt
	}

	id := recordKey(record.EntityType, record.EntityID)

	if existing, err := coll.GetByID(ctx, id); err == nil {
		stored, perr := time.Parse(time.RFC3339Nano, existing.Metadata[metaSourceAt])
		if perr == nil && stored.After(sourceAt) {
			slog.Debug("chromem upsert skipped, stored version is newer",
				"tenant_id", record.TenantID, "key", id, "stored_source_at", stored, "source_at", sourceAt)
			span.SetAttributes(attribute.Bool("stale", true))

			return nil
		}
	}

	doc := chromem.Document{
		ID:        id,
		Embedding: append([]float32(nil), record.Vector...),
		Content:   record.Metadata.Snippet,
		Metadata: map[string]string{
			metaTenantID:    record.TenantID,
			metaEntityType:  string(record.EntityType),
			metaEntityID:    record.EntityID,
			metaContentHash: record.ContentHash,
			metaName:        record.Metadata.Name,
			metaKind:        record.Metadata.Kind,
			metaSnippet:     record.Metadata.Snippet,
			metaSourceAt:    sourceAt.UTC().Format(time.RFC3339Nano),
			metaUpdatedAt:   updatedAt.Format(time.RFC3339Nano),
		},
	}

	if err := coll.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return fmt.Errorf("chromem upsert: %w", err)
	}

	return nil
}

// Delete removes the record if present and reports whether one existed.
func (s *ChromemStore) Delete(
	ctx context.Context, tenantID string, entityType models.EntityType, entityID string,
) (bool, error) {
	if tenantID == "" {
		return false, ErrMissingTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collection(tenantID)
	if coll == nil {
		return false, nil
	}

	id := recordKey(entityType, entityID)

	// Persistent collections fail when removing a file that does not exist, so check first.
	if _, err := coll.GetByID(ctx, id); err != nil {
		return false, nil //nolint:nilerr // GetByID only fails for unknown ids
	}

	if err := coll.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("chromem delete: %w", err)
	}

	return true, nil
}

// ContentHash returns the stored content hash for the key, or found=false when no record exists.
func (s *ChromemStore) ContentHash(
	ctx context.Context, tenantID string, entityType models.EntityType, entityID string,
) (string, bool, error) {
	if tenantID == "" {
		return "", false, ErrMissingTenant
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collection(tenantID)
	if coll == nil {
		return "", false, nil
	}

	doc, err := coll.GetByID(ctx, recordKey(entityType, entityID))
	if err != nil {
		return "", false, nil //nolint:nilerr // GetByID only fails for unknown ids
	}

	return doc.Metadata[metaContentHash], true, nil
}

// Search returns up to topK records of tenantID nearest to queryVector.
func (s *ChromemStore) Search(
	ctx context.Context, tenantID string, queryVector []float32, topK int,
) ([]models.ScoredRecord, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	if len(queryVector) == 0 {
		return nil, ErrInvalidVector
	}

	span.SetAttributes(attribute.Int("top_k", topK))

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collection(tenantID)
	if coll == nil || topK <= 0 {
		return []models.ScoredRecord{}, nil
	}

	// chromem requires nResults <= document count.
	n := min(topK, coll.Count())
	if n == 0 {
		return []models.ScoredRecord{}, nil
	}

	results, err := coll.QueryEmbedding(ctx, append([]float32(nil), queryVector...), n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("chromem query: %w", err)
	}

	scored := make([]models.ScoredRecord, 0, len(results))
	for _, r := range results {
		scored = append(scored, models.ScoredRecord{
			TenantID:   r.Metadata[metaTenantID],
			EntityType: models.EntityType(r.Metadata[metaEntityType]),
			EntityID:   r.Metadata[metaEntityID],
			Similarity: clampSimilarity(float64(r.Similarity)),
			Metadata: models.RecordMetadata{
				Name:    r.Metadata[metaName],
				Kind:    r.Metadata[metaKind],
				Snippet: r.Metadata[metaSnippet],
			},
		})
	}

	span.SetAttributes(attribute.Int("results", len(scored)))

	return enforceTenant(ctx, backendChromem, tenantID, scored, s.recorder)
}

// Count returns the number of records indexed for tenantID.
func (s *ChromemStore) Count(_ context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, ErrMissingTenant
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collection(tenantID)
	if coll == nil {
		return 0, nil
	}

	return coll.Count(), nil
}

// DeleteTenant drops the tenant's collection and returns how many records it held.
func (s *ChromemStore) DeleteTenant(_ context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, ErrMissingTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collection(tenantID)
	if coll == nil {
		return 0, nil
	}

	n := coll.Count()

	if err := s.db.DeleteCollection(collectionName(tenantID)); err != nil {
		return 0, fmt.Errorf("drop tenant collection: %w", err)
	}

	return n, nil
}

// Ping always succeeds; the database is in-process.
func (s *ChromemStore) Ping(context.Context) error {
	return nil
}
