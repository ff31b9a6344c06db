package document

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned when a reference does not resolve.
var ErrDocumentNotFound = errors.New("document not found")

// Store keeps uploaded documents until their scan ends. Put returns an
// opaque reference understood by Fetch and Delete of the same store.
type Store interface {
	Put(ctx context.Context, name string, content []byte) (ref string, err error)
	Fetch(ctx context.Context, ref string) (Document, error)
	// Delete removes the document. Deleting an unknown reference is not an
	// error.
	Delete(ctx context.Context, ref string) error
}
