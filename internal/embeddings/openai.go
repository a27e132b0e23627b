package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sashabaranov/go-openai"

	"github.com/pagewise/hub/pkg/embeddings"
)

var (
	// ErrNoEmbedding is returned when the endpoint answers without data.
	ErrNoEmbedding = errors.New("embeddings: no embedding returned")
	// ErrDimensionMismatch is returned when the endpoint returns a vector of the wrong length.
	ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")
)

// CompatibleOptions configures a client for any OpenAI-compatible embeddings endpoint
// (vLLM, Ollama, LocalAI, Azure gateways).
type CompatibleOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	// SendDimensions passes Dimensions in the request. Some servers reject the field.
	SendDimensions bool
	RetryMax       int
	Timeout        time.Duration
}

// CompatibleClient implements Client over the go-openai SDK with a retrying HTTP transport.
type CompatibleClient struct {
	client         *openai.Client
	model          openai.EmbeddingModel
	dimensions     int
	sendDimensions bool
}

var _ Client = (*CompatibleClient)(nil)

// NewCompatibleClient creates a client for an OpenAI-compatible endpoint.
func NewCompatibleClient(opts CompatibleOptions) *CompatibleClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = 2
	}

	if opts.Model == "" {
		opts.Model = string(openai.SmallEmbedding3)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}

	cfg.HTTPClient = retryClient.StandardClient()

	return &CompatibleClient{
		client:         openai.NewClientWithConfig(cfg),
		model:          openai.EmbeddingModel(opts.Model),
		dimensions:     opts.Dimensions,
		sendDimensions: opts.SendDimensions,
	}
}

// CreateEmbedding returns the unit-length embedding of input.
func (c *CompatibleClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	req := openai.EmbeddingRequest{
		Input: []string{input},
		Model: c.model,
	}
	if c.sendDimensions {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("compatible embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, ErrNoEmbedding
	}

	emb := resp.Data[0].Embedding
	if c.dimensions > 0 && len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	embeddings.NormalizeL2(emb)

	return emb, nil
}
