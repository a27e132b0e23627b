// Package cache holds the string-keyed loader caches used for query embeddings and
// queue stats. Concurrent misses on one key share a single load.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// backing is satisfied by both lru.Cache and expirable.LRU.
type backing[V any] interface {
	Get(key string) (V, bool)
	Add(key string, value V) bool
	Remove(key string) bool
	Len() int
}

// LoaderCache fills itself through a caller supplied load function. Failed loads are not stored.
type LoaderCache[V any] struct {
	entries backing[V]
	flights singleflight.Group
}

// NewLoaderCache returns a size bounded cache without expiry. Query embeddings use this:
// a given query text always embeds to the same vector for a fixed model.
func NewLoaderCache[V any](maxEntries int) (*LoaderCache[V], error) {
	entries, err := lru.New[string, V](maxEntries)
	if err != nil {
		return nil, err //nolint:wrapcheck // only fails for a non-positive size
	}

	return &LoaderCache[V]{entries: entries}, nil
}

// NewExpiringLoaderCache returns a cache whose entries expire after ttl.
func NewExpiringLoaderCache[V any](maxEntries int, ttl time.Duration) *LoaderCache[V] {
	return &LoaderCache[V]{entries: expirable.NewLRU[string, V](maxEntries, nil, ttl)}
}

// Load returns the cached value for key or calls load. hit reports whether the value was cached.
// Callers that join an in-flight load for the same key report a miss.
func (c *LoaderCache[V]) Load(
	ctx context.Context, key string, load func(context.Context, string) (V, error),
) (value V, hit bool, err error) {
	if v, ok := c.entries.Get(key); ok {
		return v, true, nil
	}

	shared, err, _ := c.flights.Do(key, func() (any, error) {
		v, loadErr := load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		c.entries.Add(key, v)

		return v, nil
	})
	if err != nil {
		var zero V

		return zero, false, err //nolint:wrapcheck // load errors pass through unchanged
	}

	return shared.(V), false, nil
}

// Invalidate drops key so the next Load calls load again.
func (c *LoaderCache[V]) Invalidate(key string) {
	c.entries.Remove(key)
}

func (c *LoaderCache[V]) Len() int {
	return c.entries.Len()
}
