// Package audiostore persists finished audio blobs. It is pure byte
// storage: put bytes under a logical path, get them back by URL. Backends
// are a local directory (returns relative URLs served by this process) and
// an S3-compatible object store (returns publicly resolvable URLs); the
// rest of the system is indifferent to which is active.
package audiostore

import "context"

// Store is the audio persistence contract. Put is idempotent by logical
// path: a retried put overwrites rather than errors.
type Store interface {
	// Put persists data under the logical path and returns its URL.
	Put(ctx context.Context, path string, data []byte) (string, error)

	// Get fetches audio previously stored at url. Only non-relay
	// consumers that re-serve audio use it.
	Get(ctx context.Context, url string) ([]byte, error)
}
