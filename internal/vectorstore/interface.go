// Package vectorstore defines the vector index capability the collection
// layer builds on, plus the embedded implementation used in production.
package vectorstore

import "context"

// Document is one embedded chunk as stored in the index.
type Document struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Embedding []float32
}

// QueryResult is one nearest-neighbor hit. Distance is 1 - cosine
// similarity, so results sort ascending.
type QueryResult struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Distance  float32
	Embedding []float32
}

// Index is the capability contract for a vector index. Implementations must
// be safe for concurrent use.
type Index interface {
	// EnsureCollection creates the named collection if it does not exist.
	EnsureCollection(ctx context.Context, name string) error

	// Exists reports whether the named collection exists.
	Exists(ctx context.Context, name string) (bool, error)

	// DeleteCollection removes the collection and all its documents.
	// Deleting a missing collection returns ErrCollectionNotFound.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Add upserts documents into the collection.
	Add(ctx context.Context, collection string, docs []Document) error

	// Get returns documents by id, or up to limit documents of the
	// collection when ids is empty (limit <= 0 means all). Unknown ids are
	// skipped silently; a missing collection is ErrCollectionNotFound.
	Get(ctx context.Context, collection string, ids []string, limit int) ([]Document, error)

	// Query returns the k nearest documents to embedding, ordered by
	// ascending distance. k is capped at the collection size; an empty
	// collection yields no results.
	Query(ctx context.Context, collection string, embedding []float32, k int) ([]QueryResult, error)

	// Delete removes the given document ids from the collection.
	Delete(ctx context.Context, collection string, ids []string) error

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases the index resources.
	Close() error
}
