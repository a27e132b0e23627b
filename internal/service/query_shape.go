package service

import (
	"regexp"
	"strings"
)

// QueryShape is the coarse intent of a retrieval query.
type QueryShape string

const (
	// ShapeEnumeration asks for a list, a count or "all" of something and needs broad recall.
	ShapeEnumeration QueryShape = "enumeration"
	// ShapeLookup asks about one named thing and needs a short, precise context.
	ShapeLookup QueryShape = "lookup"
)

var (
	enumerationPhrases = []string{
		"how many", "list all", "list my", "list the", "show me all", "show all", "what are all",
		"which features", "which releases", "which pages", "give me all", "number of", "count of",
		"do i have", "do we have", "summarize all", "overview of",
	}

	enumerationWords = map[string]bool{
		"list": true, "all": true, "every": true, "count": true, "enumerate": true,
		"each": true, "total": true, "overview": true,
	}

	// "features", "releases", "pages" used as a bare plural noun also suggests enumeration.
	pluralEntityRe = regexp.MustCompile(`\b(features|releases|pages|documents|items)\b`)
	wordRe         = regexp.MustCompile(`[a-z0-9']+`)
)

// ClassifyQuery decides the query shape lexically. A query is an enumeration when it contains an
// enumeration phrase, or an enumeration keyword together with a plural entity noun. Everything
// else is a lookup.
func ClassifyQuery(query string) QueryShape {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))

	for _, phrase := range enumerationPhrases {
		if strings.Contains(q, phrase) {
			return ShapeEnumeration
		}
	}

	keyword := false

	for _, w := range wordRe.FindAllString(q, -1) {
		if enumerationWords[w] {
			keyword = true

			break
		}
	}

	if keyword && pluralEntityRe.MatchString(q) {
		return ShapeEnumeration
	}

	return ShapeLookup
}

// TopKPolicy maps query shapes to result sizes.
type TopKPolicy struct {
	Broad  int
	Narrow int
}

// Bounds for the two tiers and for caller overrides.
const (
	minBroadTopK    = 10
	maxBroadTopK    = 20
	minNarrowTopK   = 3
	maxNarrowTopK   = 5
	maxOverrideTopK = 50

	DefaultBroadTopK  = 15
	DefaultNarrowTopK = 4
)

// TopK returns the result size for shape. override > 0 replaces the heuristic, clamped to [1, 50].
func (p TopKPolicy) TopK(shape QueryShape, override int) int {
	if override > 0 {
		return min(override, maxOverrideTopK)
	}

	if shape == ShapeEnumeration {
		return clampInt(orDefault(p.Broad, DefaultBroadTopK), minBroadTopK, maxBroadTopK)
	}

	return clampInt(orDefault(p.Narrow, DefaultNarrowTopK), minNarrowTopK, maxNarrowTopK)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
