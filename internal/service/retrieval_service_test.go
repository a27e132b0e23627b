package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/hub/internal/embeddings"
	"github.com/pagewise/hub/internal/huberrors"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/repository"
	"github.com/pagewise/hub/pkg/cache"
)

type mockEmbeddingClient struct {
	createFunc func(ctx context.Context, input string) ([]float32, error)
	calls      atomic.Int32
}

func (m *mockEmbeddingClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	m.calls.Add(1)

	if m.createFunc != nil {
		return m.createFunc(ctx, input)
	}

	return []float32{0.1}, nil
}

type mockSearchStore struct {
	searchFunc func(ctx context.Context, tenantID string, vec []float32, topK int) ([]models.ScoredRecord, error)
	lastTopK   int
}

func (m *mockSearchStore) Search(
	ctx context.Context, tenantID string, vec []float32, topK int,
) ([]models.ScoredRecord, error) {
	m.lastTopK = topK

	if m.searchFunc != nil {
		return m.searchFunc(ctx, tenantID, vec, topK)
	}

	return []models.ScoredRecord{}, nil
}

func TestRetrievalService_Retrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("missing tenant", func(t *testing.T) {
		svc := NewRetrievalService(RetrievalServiceParams{
			EmbeddingClient: &mockEmbeddingClient{},
			Store:           &mockSearchStore{},
		})

		_, err := svc.Retrieve(ctx, RetrievalRequest{Query: "login"})
		assert.ErrorIs(t, err, ErrMissingTenantID)
	})

	t.Run("blank query returns empty result without provider call", func(t *testing.T) {
		client := &mockEmbeddingClient{}
		svc := NewRetrievalService(RetrievalServiceParams{EmbeddingClient: client, Store: &mockSearchStore{}})

		res, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "  \n\t "})
		require.NoError(t, err)
		assert.NotNil(t, res.Results)
		assert.Empty(t, res.Results)
		assert.Zero(t, client.calls.Load())
	})

	t.Run("adaptive topK", func(t *testing.T) {
		store := &mockSearchStore{}
		svc := NewRetrievalService(RetrievalServiceParams{
			EmbeddingClient: &mockEmbeddingClient{},
			Store:           store,
			Policy:          TopKPolicy{Broad: 15, Narrow: 4},
		})

		res, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "how many features do I have"})
		require.NoError(t, err)
		assert.Equal(t, ShapeEnumeration, res.Shape)
		assert.Equal(t, 15, store.lastTopK)

		res, err = svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "what is the priority of Login"})
		require.NoError(t, err)
		assert.Equal(t, ShapeLookup, res.Shape)
		assert.Equal(t, 4, store.lastTopK)

		_, err = svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "login", TopK: 10})
		require.NoError(t, err)
		assert.Equal(t, 10, store.lastTopK)
	})

	t.Run("provider failure is unavailable not empty", func(t *testing.T) {
		providerErr := errors.New("upstream 503")
		client := &mockEmbeddingClient{createFunc: func(context.Context, string) ([]float32, error) {
			return nil, providerErr
		}}
		svc := NewRetrievalService(RetrievalServiceParams{
			EmbeddingClient: client,
			Store:           &mockSearchStore{},
			EmbedAttempts:   2,
			EmbedBackoff:    time.Millisecond,
		})

		res, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "login"})
		require.ErrorIs(t, err, ErrRetrievalUnavailable)
		assert.ErrorIs(t, err, huberrors.ErrUnavailable)
		assert.ErrorIs(t, err, providerErr)
		assert.Empty(t, res.Results)
		assert.Equal(t, int32(2), client.calls.Load())
	})

	t.Run("retry recovers from one transient failure", func(t *testing.T) {
		var n atomic.Int32

		client := &mockEmbeddingClient{createFunc: func(context.Context, string) ([]float32, error) {
			if n.Add(1) == 1 {
				return nil, errors.New("transient")
			}

			return []float32{1}, nil
		}}
		svc := NewRetrievalService(RetrievalServiceParams{
			EmbeddingClient: client,
			Store:           &mockSearchStore{},
			EmbedBackoff:    time.Millisecond,
		})

		_, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "login"})
		require.NoError(t, err)
	})

	t.Run("store failure is unavailable", func(t *testing.T) {
		store := &mockSearchStore{searchFunc: func(context.Context, string, []float32, int) ([]models.ScoredRecord, error) {
			return nil, repository.ErrTenantIsolation
		}}
		svc := NewRetrievalService(RetrievalServiceParams{EmbeddingClient: &mockEmbeddingClient{}, Store: store})

		res, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "login"})
		require.ErrorIs(t, err, ErrRetrievalUnavailable)
		assert.ErrorIs(t, err, repository.ErrTenantIsolation)
		assert.Empty(t, res.Results)
	})

	t.Run("min similarity filter", func(t *testing.T) {
		store := &mockSearchStore{searchFunc: func(context.Context, string, []float32, int) ([]models.ScoredRecord, error) {
			return []models.ScoredRecord{
				{EntityID: "a", Similarity: 0.9},
				{EntityID: "b", Similarity: 0.2},
			}, nil
		}}
		svc := NewRetrievalService(RetrievalServiceParams{
			EmbeddingClient: &mockEmbeddingClient{},
			Store:           store,
			MinSimilarity:   0.5,
		})

		res, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "login"})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "a", res.Results[0].EntityID)
	})

	t.Run("query embedding cached", func(t *testing.T) {
		client := &mockEmbeddingClient{}
		queryCache, err := cache.NewLoaderCache[[]float32](10)
		require.NoError(t, err)

		svc := NewRetrievalService(RetrievalServiceParams{
			EmbeddingClient: client,
			Store:           &mockSearchStore{},
			QueryCache:      queryCache,
		})

		for range 3 {
			_, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "t1", Query: "login  system"})
			require.NoError(t, err)
		}

		assert.Equal(t, int32(1), client.calls.Load())
	})
}

// Two features indexed for one tenant; an enumeration query returns both, sorted, scores in [0,1].
func TestRetrievalService_LoginCheckoutScenario(t *testing.T) {
	ctx := context.Background()
	client := embeddings.NewMockClientWithDimensions(64)

	store, err := repository.NewChromemStore("", false, nil)
	require.NoError(t, err)

	for _, f := range []struct{ id, name string }{{"f-login", "Login"}, {"f-checkout", "Checkout"}} {
		vec, err := client.CreateEmbedding(ctx, f.name)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, models.EmbeddingRecord{
			TenantID: "T", EntityType: models.EntityTypeFeature, EntityID: f.id, Vector: vec,
			ContentHash: ContentHash(f.name), Metadata: models.RecordMetadata{Name: f.name},
		}))
	}

	// A second tenant's records must never leak.
	vec, err := client.CreateEmbedding(ctx, "Login")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, models.EmbeddingRecord{
		TenantID: "other", EntityType: models.EntityTypeFeature, EntityID: "f-other", Vector: vec,
	}))

	svc := NewRetrievalService(RetrievalServiceParams{EmbeddingClient: client, Store: store})

	res, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "T", Query: "how many features do I have", TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	ids := []string{res.Results[0].EntityID, res.Results[1].EntityID}
	assert.ElementsMatch(t, []string{"f-login", "f-checkout"}, ids)
	assert.GreaterOrEqual(t, res.Results[0].Similarity, res.Results[1].Similarity)

	for _, r := range res.Results {
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
		assert.NotEqual(t, "f-other", r.EntityID)
	}

	empty, err := svc.Retrieve(ctx, RetrievalRequest{TenantID: "nobody", Query: "login"})
	require.NoError(t, err)
	assert.Empty(t, empty.Results)
}
