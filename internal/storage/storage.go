// Package storage provides the key-value stores backing the experiment
// engine: an in-memory store for tests and session-scoped state, and a
// JSON-file store for durable client-side state.
package storage

import "errors"

var ErrNotFound = errors.New("not found")

// Store is a string key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
}
