// Package blobstore stores file contents under their storage keys.
package blobstore

import "context"

// Store is the durable object store holding file contents.
//
// Get returns common.ErrorNotFound for unknown keys. Delete of an unknown key
// is either a no-op or common.ErrorNotFound depending on the backend; callers
// treat both as success.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns a byte-fetchable address for key, either public or
	// time-limited.
	URL(ctx context.Context, key string) (string, error)
}
