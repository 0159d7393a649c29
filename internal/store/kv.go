// Package store provides durable persistence for presets and selection
// history behind a small key-value port, so deployments can back it with
// SQLite, Postgres, Redis or an in-memory map in tests.
package store

import (
	"context"
)

// Storage keys for the two durable collections. Each collection is
// serialized wholesale under its own key and rewritten on every mutation.
const (
	PresetsKey = "presets"
	HistoryKey = "history"
)

// KV is the persistence port: named byte values over string keys.
type KV interface {
	// Get returns the value for key, or domain.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the backend.
	Close() error
}
