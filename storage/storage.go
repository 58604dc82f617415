package storage

import (
	"context"
)

// Document is an arbitrary JSON object keyed by a path inside the store.
// No schema is enforced; callers own the shape of what they put in.
type Document = map[string]interface{}

// DocumentStore is the versioned document backend. Implementations map paths
// to files (a branch of a remote repository, or a local directory) and guard
// every write with an opaque version token.
//
// Version tokens are compare-and-swap handles: PutDocument succeeds only when
// the stored version still equals the supplied one. An empty expected version
// means "create only" and fails with ErrConflict if the path already exists.
// This semantic is the same for every backend.
type DocumentStore interface {
	// GetDocument returns the document at path together with its version
	// token. A path that does not exist returns an empty document and an
	// empty version, never an error.
	GetDocument(ctx context.Context, path string) (Document, string, error)

	// PutDocument stores doc at path and returns the new version token.
	// It fails with ErrWriteDisabled when the store is read-only and with
	// ErrConflict when expectedVersion is stale.
	PutDocument(ctx context.Context, path string, doc Document, message string, expectedVersion string) (string, error)

	// Writable reports whether mutating calls are allowed on this store.
	Writable() bool
}

// DocumentLister is an optional extension for stores that can enumerate
// document paths below a directory prefix. Both shipped backends implement
// it; it is kept out of DocumentStore so that minimal backends stay minimal.
type DocumentLister interface {
	ListDocuments(ctx context.Context, dir string) ([]string, error)
}
