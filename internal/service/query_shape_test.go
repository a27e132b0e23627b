package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		query string
		want  QueryShape
	}{
		{"how many features do I have", ShapeEnumeration},
		{"List all releases", ShapeEnumeration},
		{"show me all pages about onboarding", ShapeEnumeration},
		{"which features are blocked", ShapeEnumeration},
		{"count   the   features", ShapeEnumeration},
		{"what is the priority of Login", ShapeLookup},
		{"when does the checkout release ship", ShapeLookup},
		{"Login", ShapeLookup},
		{"all", ShapeLookup},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQuery(tt.query))
		})
	}
}

func TestTopKPolicy(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := TopKPolicy{}
		assert.Equal(t, DefaultBroadTopK, p.TopK(ShapeEnumeration, 0))
		assert.Equal(t, DefaultNarrowTopK, p.TopK(ShapeLookup, 0))
	})

	t.Run("clamped to tier bounds", func(t *testing.T) {
		p := TopKPolicy{Broad: 100, Narrow: 1}
		assert.Equal(t, 20, p.TopK(ShapeEnumeration, 0))
		assert.Equal(t, 3, p.TopK(ShapeLookup, 0))

		p = TopKPolicy{Broad: 2, Narrow: 9}
		assert.Equal(t, 10, p.TopK(ShapeEnumeration, 0))
		assert.Equal(t, 5, p.TopK(ShapeLookup, 0))
	})

	t.Run("enumeration never smaller than lookup", func(t *testing.T) {
		for broad := 0; broad <= 30; broad++ {
			for narrow := 0; narrow <= 10; narrow++ {
				p := TopKPolicy{Broad: broad, Narrow: narrow}
				assert.GreaterOrEqual(t, p.TopK(ShapeEnumeration, 0), p.TopK(ShapeLookup, 0))
			}
		}
	})

	t.Run("override", func(t *testing.T) {
		p := TopKPolicy{}
		assert.Equal(t, 10, p.TopK(ShapeLookup, 10))
		assert.Equal(t, 50, p.TopK(ShapeEnumeration, 500))
	})
}
