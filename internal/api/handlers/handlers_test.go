package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/hub/internal/huberrors"
	"github.com/pagewise/hub/internal/models"
	"github.com/pagewise/hub/internal/queue"
	"github.com/pagewise/hub/internal/service"
	"github.com/pagewise/hub/internal/worker"
)

type mockEmitter struct {
	emitFn func(ctx context.Context, event models.ChangeEvent) (string, error)
}

func (m *mockEmitter) Emit(ctx context.Context, event models.ChangeEvent) (string, error) {
	return m.emitFn(ctx, event)
}

type mockRetriever struct {
	retrieveFn func(ctx context.Context, req service.RetrievalRequest) (service.RetrievalResult, error)
}

func (m *mockRetriever) Retrieve(ctx context.Context, req service.RetrievalRequest) (service.RetrievalResult, error) {
	return m.retrieveFn(ctx, req)
}

type mockDrainer struct {
	calls int
	stats worker.RunStats
}

func (m *mockDrainer) DrainNow(context.Context, string) worker.RunStats {
	m.calls++

	return m.stats
}

type mockQueueInspector struct {
	statsCalls int
	statsErr   error
	dead       []models.DeadJob
	deadTenant string
	deadLimit  int
}

func (m *mockQueueInspector) Stats(context.Context) (queue.Stats, error) {
	m.statsCalls++
	if m.statsErr != nil {
		return queue.Stats{}, m.statsErr
	}

	return queue.Stats{Depth: 3, OldestUnackedSec: 12.5}, nil
}

func (m *mockQueueInspector) ListDead(_ context.Context, tenantID string, limit int) ([]models.DeadJob, error) {
	m.deadTenant = tenantID
	m.deadLimit = limit

	return m.dead, nil
}

type mockTenants struct {
	countFn func(ctx context.Context, tenantID string) (int, error)
	purgeFn func(ctx context.Context, tenantID string) (service.PurgeRequest, error)
}

func (m *mockTenants) Count(ctx context.Context, tenantID string) (int, error) {
	return m.countFn(ctx, tenantID)
}

func (m *mockTenants) RequestPurge(ctx context.Context, tenantID string) (service.PurgeRequest, error) {
	return m.purgeFn(ctx, tenantID)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	return req
}

func TestChangesHandler_Emit(t *testing.T) {
	t.Run("valid upsert returns 202 with job id", func(t *testing.T) {
		var got models.ChangeEvent

		h := NewChangesHandler(&mockEmitter{emitFn: func(_ context.Context, e models.ChangeEvent) (string, error) {
			got = e

			return "job-1", nil
		}})

		rec := httptest.NewRecorder()
		h.Emit(rec, postJSON("/v1/changes",
			`{"tenantId":"T","entityType":"feature","entityId":"F1","operation":"upsert",`+
				`"content":"Sign in","metadata":{"name":"Login","kind":"auth"}}`))

		require.Equal(t, http.StatusAccepted, rec.Code)

		var body EmitResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "job-1", body.JobID)
		assert.Equal(t, "Login", got.Metadata.Name)
	})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"tenantId":`},
		{"unknown field", `{"tenantId":"T","entityType":"feature","entityId":"F1","operation":"upsert","x":1}`},
		{"missing tenant", `{"entityType":"feature","entityId":"F1","operation":"upsert"}`},
		{"bad entity type", `{"tenantId":"T","entityType":"widget","entityId":"F1","operation":"upsert"}`},
		{"bad operation", `{"tenantId":"T","entityType":"feature","entityId":"F1","operation":"merge"}`},
		{"null byte", `{"tenantId":"T\u0000","entityType":"feature","entityId":"F1","operation":"clear"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name+" returns 400", func(t *testing.T) {
			called := false
			h := NewChangesHandler(&mockEmitter{emitFn: func(context.Context, models.ChangeEvent) (string, error) {
				called = true

				return "", nil
			}})

			rec := httptest.NewRecorder()
			h.Emit(rec, postJSON("/v1/changes", tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, called)
		})
	}

	t.Run("validation error from capture returns 400", func(t *testing.T) {
		h := NewChangesHandler(&mockEmitter{emitFn: func(context.Context, models.ChangeEvent) (string, error) {
			return "", huberrors.NewValidationError("entityId", "is required")
		}})

		rec := httptest.NewRecorder()
		h.Emit(rec, postJSON("/v1/changes", `{"tenantId":"T","entityType":"page","entityId":" ","operation":"clear"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("queue failure returns 503", func(t *testing.T) {
		h := NewChangesHandler(&mockEmitter{emitFn: func(context.Context, models.ChangeEvent) (string, error) {
			return "", errors.New("db down")
		}})

		rec := httptest.NewRecorder()
		h.Emit(rec, postJSON("/v1/changes", `{"tenantId":"T","entityType":"page","entityId":"P1","operation":"clear"}`))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRetrievalHandler_Search(t *testing.T) {
	t.Run("returns ordered results", func(t *testing.T) {
		h := NewRetrievalHandler(&mockRetriever{retrieveFn: func(
			_ context.Context, req service.RetrievalRequest,
		) (service.RetrievalResult, error) {
			assert.Equal(t, "T", req.TenantID)
			assert.Equal(t, "login", req.Query)

			return service.RetrievalResult{
				TopK:  4,
				Shape: service.ShapeLookup,
				Results: []models.ScoredRecord{
					{EntityType: models.EntityTypeFeature, EntityID: "F1", Similarity: 0.9,
						Metadata: models.RecordMetadata{Name: "Login system", Snippet: "Sign in"}},
				},
			}, nil
		}})

		rec := httptest.NewRecorder()
		h.Search(rec, postJSON("/v1/retrieval/search", `{"tenantId":"T","query":"login"}`))
		require.Equal(t, http.StatusOK, rec.Code)

		var body SearchResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Results, 1)
		assert.Equal(t, "F1", body.Results[0].EntityID)
		assert.Equal(t, "Login system", body.Results[0].Name)
		assert.Equal(t, 4, body.TopK)
		assert.Equal(t, "lookup", body.Shape)
	})

	t.Run("empty result is 200 with empty list", func(t *testing.T) {
		h := NewRetrievalHandler(&mockRetriever{retrieveFn: func(
			context.Context, service.RetrievalRequest,
		) (service.RetrievalResult, error) {
			return service.RetrievalResult{Results: []models.ScoredRecord{}}, nil
		}})

		rec := httptest.NewRecorder()
		h.Search(rec, postJSON("/v1/retrieval/search", `{"tenantId":"T","query":""}`))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"results":[],"topK":0}`, rec.Body.String())
	})

	t.Run("unavailable is 503 not empty", func(t *testing.T) {
		h := NewRetrievalHandler(&mockRetriever{retrieveFn: func(
			context.Context, service.RetrievalRequest,
		) (service.RetrievalResult, error) {
			return service.RetrievalResult{}, fmt.Errorf("%w: provider down", service.ErrRetrievalUnavailable)
		}})

		rec := httptest.NewRecorder()
		h.Search(rec, postJSON("/v1/retrieval/search", `{"tenantId":"T","query":"login"}`))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "retrieval-unavailable")
	})

	t.Run("missing tenant is 400", func(t *testing.T) {
		h := NewRetrievalHandler(&mockRetriever{})

		rec := httptest.NewRecorder()
		h.Search(rec, postJSON("/v1/retrieval/search", `{"query":"login"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "tenantId")
	})

	t.Run("topK above cap is 400", func(t *testing.T) {
		h := NewRetrievalHandler(&mockRetriever{})

		rec := httptest.NewRecorder()
		h.Search(rec, postJSON("/v1/retrieval/search", `{"tenantId":"T","query":"login","topK":500}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIndexingHandler(t *testing.T) {
	t.Run("drain runs the indexer", func(t *testing.T) {
		drainer := &mockDrainer{stats: worker.RunStats{Passes: 2, Leased: 3, Indexed: 3}}
		h := NewIndexingHandler(drainer, &mockQueueInspector{}, time.Minute, nil)

		rec := httptest.NewRecorder()
		h.Drain(rec, httptest.NewRequest(http.MethodPost, "/v1/indexing/drain", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, drainer.calls)

		var body worker.RunStats
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 3, body.Indexed)
	})

	t.Run("stats are cached", func(t *testing.T) {
		q := &mockQueueInspector{}
		h := NewIndexingHandler(&mockDrainer{}, q, time.Minute, nil)

		for range 3 {
			rec := httptest.NewRecorder()
			h.Stats(rec, httptest.NewRequest(http.MethodGet, "/v1/indexing/stats", nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), `"oldest_unacked_age_seconds":12.5`)
		}

		assert.Equal(t, 1, q.statsCalls)

		// A drain invalidates the cached stats.
		h.Drain(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/indexing/drain", nil))
		h.Stats(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/indexing/stats", nil))
		assert.Equal(t, 2, q.statsCalls)
	})

	t.Run("stats failure is 503", func(t *testing.T) {
		h := NewIndexingHandler(&mockDrainer{}, &mockQueueInspector{statsErr: errors.New("down")}, 0, nil)

		rec := httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/v1/indexing/stats", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("dead jobs decode filters", func(t *testing.T) {
		q := &mockQueueInspector{dead: []models.DeadJob{{ID: "j1", Reason: "exceeded max attempts (5)"}}}
		h := NewIndexingHandler(&mockDrainer{}, q, 0, nil)

		rec := httptest.NewRecorder()
		h.Dead(rec, httptest.NewRequest(http.MethodGet, "/v1/indexing/dead?tenantId=T&limit=20", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "T", q.deadTenant)
		assert.Equal(t, 20, q.deadLimit)
		assert.Contains(t, rec.Body.String(), `"j1"`)
	})

	t.Run("dead jobs reject bad limit", func(t *testing.T) {
		h := NewIndexingHandler(&mockDrainer{}, &mockQueueInspector{}, 0, nil)

		rec := httptest.NewRecorder()
		h.Dead(rec, httptest.NewRequest(http.MethodGet, "/v1/indexing/dead?limit=9999", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTenantsHandler(t *testing.T) {
	mux := http.NewServeMux()
	tenants := &mockTenants{
		countFn: func(_ context.Context, tenantID string) (int, error) {
			if tenantID == "broken" {
				return 0, errors.New("store down")
			}

			return 7, nil
		},
		purgeFn: func(context.Context, string) (service.PurgeRequest, error) {
			return service.PurgeRequest{Queued: true}, nil
		},
	}
	h := NewTenantsHandler(tenants)
	mux.HandleFunc("GET /v1/tenants/{tenant_id}/embeddings/count", h.Count)
	mux.HandleFunc("DELETE /v1/tenants/{tenant_id}/embeddings", h.Purge)

	t.Run("count", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tenants/T/embeddings/count", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"tenantId":"T","count":7}`, rec.Body.String())
	})

	t.Run("count store failure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tenants/broken/embeddings/count", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("purge is accepted", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/tenants/T/embeddings", nil))

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"queued":true}`, rec.Body.String())
	})
}

func TestHealthHandler(t *testing.T) {
	t.Run("check", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHealthHandler(nil).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("ready reports failing dependency", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{
			"queue": pingFunc(func(context.Context) error { return nil }),
			"store": pingFunc(func(context.Context) error { return errors.New("down") }),
		})

		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"unavailable","checks":{"queue":"ok","store":"unavailable"}}`, rec.Body.String())
	})

	t.Run("ready ok", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{"queue": pingFunc(func(context.Context) error { return nil })})

		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
