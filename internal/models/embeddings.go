package models

import (
	"time"
)

// RecordMetadata is the display information stored next to a vector so a search hit
// can be rendered as a citation without a second lookup.
type RecordMetadata struct {
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// EmbeddingRecord is the indexed representation of one entity version.
// (TenantID, EntityType, EntityID) is unique.
type EmbeddingRecord struct {
	TenantID    string         `json:"tenant_id"`
	EntityType  EntityType     `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Vector      []float32      `json:"-"`
	ContentHash string         `json:"content_hash"`
	Metadata    RecordMetadata `json:"metadata"`
	// SourceAt is when the change that produced this version was captured. A write carrying an
	// older SourceAt than the stored one is ignored.
	SourceAt  time.Time `json:"source_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoredRecord is one similarity search hit. Similarity is in [0,1], higher is closer.
type ScoredRecord struct {
	TenantID   string         `json:"-"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Similarity float64        `json:"similarity"`
	Metadata   RecordMetadata `json:"metadata"`
}
