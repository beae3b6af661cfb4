package querycache

import (
	"context"
	"strings"
	"time"
)

// Key is a hierarchical cache key: an ordered list of string segments.
// Invalidating a key evicts it and every key beneath it in the hierarchy.
type Key []string

// NewKey builds a key from segments.
func NewKey(segments ...string) Key { return Key(segments) }

// String joins the segments with ':' for storage backends.
func (k Key) String() string { return strings.Join(k, ":") }

// HasPrefix reports whether the key sits at or under the prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, segment := range prefix {
		if k[i] != segment {
			return false
		}
	}
	return true
}

// Store is the external query-result cache the invalidation registry evicts
// from. The access core never reads through it; it only invalidates.
type Store interface {
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Invalidate evicts each key and its hierarchy. Implementations are
	// best-effort per key.
	Invalidate(ctx context.Context, keys ...Key) error
}
