package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pagewise/hub/internal/googleai"
	"github.com/pagewise/hub/internal/openai"
)

// Provider names accepted by EMBEDDING_PROVIDER.
const (
	ProviderOpenAI           = "openai"
	ProviderGoogle           = "google"
	ProviderOpenAICompatible = "openai_compatible"
	ProviderMock             = "mock"
)

var (
	// ErrUnsupportedProvider is returned for provider names not listed above.
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	// ErrMissingAPIKey is returned when a hosted provider has no API key.
	ErrMissingAPIKey = errors.New("embedding provider api key is required")
)

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// NewClientFromConfig builds the Client for cfg.Provider.
func NewClientFromConfig(ctx context.Context, cfg ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, cfg.Provider)
		}

		return openai.NewClient(cfg.APIKey,
			openai.WithModel(cfg.Model),
			openai.WithDimensions(cfg.Dimensions),
			openai.WithBaseURL(cfg.BaseURL),
		), nil
	case ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, cfg.Provider)
		}

		client, err := googleai.NewClient(ctx, cfg.APIKey,
			googleai.WithModel(cfg.Model),
			googleai.WithDimensions(cfg.Dimensions),
			googleai.WithBaseURL(cfg.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("google embedding client: %w", err)
		}

		return client, nil
	case ProviderOpenAICompatible:
		return NewCompatibleClient(CompatibleOptions{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil
	case ProviderMock:
		return NewMockClientWithDimensions(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}
