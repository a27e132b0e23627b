// Package googleai embeds documents and queries with Gemini embedding models.
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/pagewise/hub/pkg/embeddings"
)

var (
	ErrEmptyInput            = errors.New("googleai: input text is empty")
	ErrInvalidDims           = errors.New("googleai: embedding dimensions must be positive")
	ErrNoEmbeddingInResponse = errors.New("googleai: no embedding in response")
	ErrDimensionMismatch     = errors.New("googleai: embedding dimension mismatch")
)

const (
	defaultDimension = 1536
	defaultModel     = "gemini-embedding-001"
)

// Gemini task types. Records are embedded as documents and searches as queries so the
// asymmetric retrieval head is used on both sides.
const (
	TaskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery     = "RETRIEVAL_QUERY"
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"
)

// Client implements the hub embedding client on top of the Google Gen AI SDK.
type Client struct {
	models      *genai.Models
	model       string
	dimensions  int
	baseURL     string
	defaultTask string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the output dimensionality. It must match the embedding store.
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		if dim != 0 {
			c.dimensions = dim
		}
	}
}

// WithModel overrides gemini-embedding-001.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the SDK at a proxy or test server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithDefaultTask sets the task type used when the context carries no embedding purpose.
func WithDefaultTask(task string) ClientOption {
	return func(c *Client) {
		if task != "" {
			c.defaultTask = task
		}
	}
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		model:       defaultModel,
		dimensions:  defaultDimension,
		defaultTask: TaskSemanticSimilarity,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.dimensions <= 0 || c.dimensions > math.MaxInt32 {
		return nil, ErrInvalidDims
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	c.models = genaiClient.Models

	return c, nil
}

func (c *Client) taskFor(ctx context.Context) string {
	switch embeddings.PurposeFromContext(ctx) {
	case embeddings.PurposeDocument:
		return TaskRetrievalDocument
	case embeddings.PurposeQuery:
		return TaskRetrievalQuery
	default:
		return c.defaultTask
	}
}

// CreateEmbedding embeds input with the task type matching the purpose on ctx.
// Gemini only normalizes full-size outputs, so the vector is normalized here.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	//nolint:gosec // G115: bounded by NewClient
	dims := int32(c.dimensions)

	resp, err := c.models.EmbedContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(input, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &dims, TaskType: c.taskFor(ctx)},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", err)
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, ErrNoEmbeddingInResponse
	}

	vector := append([]float32(nil), resp.Embeddings[0].Values...)
	if len(vector) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), c.dimensions)
	}

	embeddings.NormalizeL2(vector)

	return vector, nil
}
