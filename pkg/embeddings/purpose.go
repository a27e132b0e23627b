package embeddings

import "context"

// Purpose tells a provider whether text is being stored or searched for. Providers with
// asymmetric retrieval models (Gemini) embed the two sides differently; others ignore it.
type Purpose int

const (
	PurposeUnspecified Purpose = iota
	PurposeDocument
	PurposeQuery
)

type purposeKey struct{}

// WithPurpose returns ctx tagged with p.
func WithPurpose(ctx context.Context, p Purpose) context.Context {
	return context.WithValue(ctx, purposeKey{}, p)
}

// PurposeFromContext returns the purpose set by WithPurpose, or PurposeUnspecified.
func PurposeFromContext(ctx context.Context) Purpose {
	p, _ := ctx.Value(purposeKey{}).(Purpose)

	return p
}
