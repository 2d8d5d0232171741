// Package docstore defines the hierarchical document store the backend runs on.
//
// Documents are addressed by slash-separated paths such as users/{id}/posts/{postId}.
// A backend maps those paths onto its own storage; see mongodoc and sqlitedoc.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrTransient marks failures worth retrying (network, timeouts, lock contention).
	// Backends wrap the underlying error together with it.
	ErrTransient = errors.New("transient store failure")

	// ErrNoTransactions is returned by RunTransaction when the backend cannot
	// run multi-document transactions (for example a standalone mongod).
	ErrNoTransactions = errors.New("transactions not supported")
)

// Store is the document store contract.
//
// Writes issued with a context obtained inside RunTransaction join that
// transaction. AddToSet and RemoveFromSet are atomic on the stored field and
// idempotent; they never grow a set with a duplicate value.
type Store interface {
	Get(ctx context.Context, path Path, out any) error
	Set(ctx context.Context, path Path, doc any) error
	Update(ctx context.Context, path Path, fields map[string]any) error
	Delete(ctx context.Context, path Path) error
	AddToSet(ctx context.Context, path Path, field, value string) error
	RemoveFromSet(ctx context.Context, path Path, field, value string) error
	List(ctx context.Context, collection Path, limit int) ([]Doc, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Close(ctx context.Context) error
}

// Doc is one listed document. Decode fills out from the stored fields.
type Doc struct {
	ID     string
	Path   Path
	decode func(out any) error
}

// NewDoc is used by backends to build list results.
func NewDoc(path Path, decode func(out any) error) Doc {
	return Doc{ID: path.ID(), Path: path, decode: decode}
}

func (d Doc) Decode(out any) error {
	if d.decode == nil {
		return errors.New("docstore: document has no decoder")
	}
	return d.decode(out)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Exists reports whether the document at path exists.
func Exists(ctx context.Context, s Store, path Path) (bool, error) {
	var probe map[string]any
	err := s.Get(ctx, path, &probe)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
