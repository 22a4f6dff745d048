// Package kvstore holds the key-value stores backing the service registry.
// Keys and values are opaque strings.
package kvstore

import "context"

// Store must be safe for concurrent callers.
type Store interface {
	Put(ctx context.Context, key, value string) error
	// GetValue returns "" when the key is absent.
	GetValue(ctx context.Context, key string) (string, error)
	// GetRange returns every pair whose key starts with keyPrefix.
	GetRange(ctx context.Context, keyPrefix string) (map[string]string, error)
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, key string) error

	IsLocal() bool
	Close() error
}
