package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"

	"github.com/pagewise/hub/pkg/embeddings"
)

const defaultMockDimensions = 1536

// MockClient generates deterministic embeddings without a network call.
// Each lowercase word is hashed onto a few signed dimensions, so texts sharing words
// ("login" and "Login system") are close and unrelated texts are nearly orthogonal.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock client with 1536 dimensions.
func NewMockClient() *MockClient {
	return &MockClient{dimensions: defaultMockDimensions}
}

// NewMockClientWithDimensions creates a mock client with custom dimensions.
func NewMockClientWithDimensions(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = defaultMockDimensions
	}

	return &MockClient{dimensions: dimensions}
}

// CreateEmbedding returns the bag-of-words embedding of input.
func (c *MockClient) CreateEmbedding(_ context.Context, input string) ([]float32, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	vec := make([]float32, c.dimensions)

	words := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		words = []string{input}
	}

	for _, w := range words {
		c.addWord(vec, w)
	}

	embeddings.NormalizeL2(vec)

	return vec, nil
}

// addWord spreads one word over four dimensions picked from its hash.
func (c *MockClient) addWord(vec []float32, word string) {
	sum := sha256.Sum256([]byte(word))

	for i := range 4 {
		chunk := binary.BigEndian.Uint64(sum[i*8 : (i+1)*8])
		idx := int(chunk % uint64(c.dimensions)) //nolint:gosec // bounded by dimensions

		sign := float32(1)
		if chunk&(1<<63) != 0 {
			sign = -1
		}

		vec[idx] += sign
	}
}

var _ Client = (*MockClient)(nil)
