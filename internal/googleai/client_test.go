package googleai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/hub/pkg/embeddings"
)

type geminiStub struct {
	mu     sync.Mutex
	bodies []string
	reply  string
}

func (s *geminiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, s.reply)
}

func (s *geminiStub) lastBody() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.bodies) == 0 {
		return ""
	}

	return s.bodies[len(s.bodies)-1]
}

func newStubClient(t *testing.T, reply string, dims int) (*Client, *geminiStub) {
	t.Helper()

	stub := &geminiStub{reply: reply}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), "test-key", WithBaseURL(srv.URL), WithDimensions(dims))
	require.NoError(t, err)

	return c, stub
}

func TestCreateEmbedding_TaskTypeFollowsPurpose(t *testing.T) {
	c, stub := newStubClient(t, `{"embeddings":[{"values":[3,4]}]}`, 2)

	tests := []struct {
		purpose embeddings.Purpose
		want    string
	}{
		{embeddings.PurposeDocument, TaskRetrievalDocument},
		{embeddings.PurposeQuery, TaskRetrievalQuery},
		{embeddings.PurposeUnspecified, TaskSemanticSimilarity},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			ctx := embeddings.WithPurpose(context.Background(), tt.purpose)

			vec, err := c.CreateEmbedding(ctx, "login flow")
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float32{0.6, 0.8}, vec, 1e-5)
			assert.Contains(t, stub.lastBody(), tt.want)
		})
	}
}

func TestCreateEmbedding_Errors(t *testing.T) {
	t.Run("blank input", func(t *testing.T) {
		c, stub := newStubClient(t, `{}`, 2)

		_, err := c.CreateEmbedding(context.Background(), "   ")
		require.ErrorIs(t, err, ErrEmptyInput)
		assert.Empty(t, stub.lastBody())
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		c, _ := newStubClient(t, `{"embeddings":[{"values":[1,2,3]}]}`, 2)

		_, err := c.CreateEmbedding(context.Background(), "text")
		require.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("empty response", func(t *testing.T) {
		c, _ := newStubClient(t, `{"embeddings":[]}`, 2)

		_, err := c.CreateEmbedding(context.Background(), "text")
		require.ErrorIs(t, err, ErrNoEmbeddingInResponse)
	})
}

func TestNewClient_InvalidDimensions(t *testing.T) {
	_, err := NewClient(context.Background(), "k", WithDimensions(-1))
	require.ErrorIs(t, err, ErrInvalidDims)
}
