package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestClient_CreateEmbedding(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		c := NewClient("test-key")
		_, err := c.CreateEmbedding(context.Background(), "  ")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("invalid dimensions", func(t *testing.T) {
		c := NewClient("test-key", WithDimensions(0))
		_, err := c.CreateEmbedding(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrInvalidDims)
	})

	t.Run("normalizes response", func(t *testing.T) {
		server := newTestServer(t,
			`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[3,0,4]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`)

		c := NewClient("test-key", WithBaseURL(server.URL+"/v1/"), WithDimensions(3), WithModel("m"), WithMaxRetries(0))
		vec, err := c.CreateEmbedding(context.Background(), "hello")
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{0.6, 0, 0.8}, vec, 1e-6)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		server := newTestServer(t,
			`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1,0]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`)

		c := NewClient("test-key", WithBaseURL(server.URL+"/v1/"), WithDimensions(3), WithMaxRetries(0))
		_, err := c.CreateEmbedding(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("no data", func(t *testing.T) {
		server := newTestServer(t, `{"object":"list","model":"m","data":[],"usage":{"prompt_tokens":1,"total_tokens":1}}`)

		c := NewClient("test-key", WithBaseURL(server.URL+"/v1/"), WithMaxRetries(0))
		_, err := c.CreateEmbedding(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrNoEmbeddingInResponse)
	})
}
