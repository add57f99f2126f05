// Package storage defines the content-store contract for serialized backup
// item payloads and ships a local filesystem implementation.
package storage

import "context"

// Store persists arbitrary-size item payloads keyed by a storage reference
// string. Digests over content are computed by the caller, never here.
type Store interface {
	// Write persists content under key, replacing any previous payload.
	Write(ctx context.Context, key string, content []byte) error

	// Read returns the payload stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Delete removes the payload stored under key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a payload is reachable under key.
	Exists(ctx context.Context, key string) (bool, error)
}
