package vectorstore

import "errors"

var (
	// ErrCollectionNotFound indicates an operation on a collection that does
	// not exist in the index.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates an invalid index configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrStorage wraps failures of the underlying storage engines.
	ErrStorage = errors.New("vector storage error")
)
