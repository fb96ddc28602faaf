package vector

import "errors"

var (
	// ErrNotFound is returned when a chunk is not found in the store.
	ErrNotFound = errors.New("chunk not found")

	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrConnection is returned when the vector store connection fails.
	ErrConnection = errors.New("vector store connection failed")

	// ErrFilterUnsupported is returned when the backend rejects a metadata
	// filter. Callers retry the search without one.
	ErrFilterUnsupported = errors.New("metadata filter unsupported")
)
