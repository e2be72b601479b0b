// Package fulltext keeps a secondary search index in step with the
// transaction stream.
//
// [Index] consumes committed transactions and translates them into calls on
// an [Adapter]: creates index the document's full-text attributes, merged
// with its parent's content for attached documents; updates and mixins send
// only the changed attributes and propagate them to the document's attached
// children; removes drop the entry. Queries with a $search key are answered
// by the adapter and re-resolved through the primary store.
//
// The index is eventually consistent with the store. Search hits are a
// candidate set that the store filters again with the rest of the query.
package fulltext

import (
	"context"
	"errors"

	"github.com/calvinalkan/txcore/pkg/core"
)

// ErrDocumentMissing is returned by [Adapter.Update] when the target has no
// index entry.
var ErrDocumentMissing = errors.New("document missing from index")

// Document is the searchable projection of a [core.Doc].
type Document struct {
	ID         core.Ref
	Class      core.Ref
	Space      core.Ref
	ModifiedBy core.Ref
	ModifiedOn int64
	AttachedTo core.Ref

	// Content maps attribute names to text. Mixin attributes use
	// "mixinRef.field" keys.
	Content map[string]string
}

// Patch is a partial update of an indexed document.
type Patch struct {
	// Space moves the entry to another space when non-empty.
	Space core.Ref

	// Content replaces the named fields. Other fields are kept.
	Content map[string]string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Space == "" && len(p.Content) == 0
}

// Hit is one search result.
type Hit struct {
	ID         core.Ref
	Class      core.Ref
	AttachedTo core.Ref
}

// Adapter stores and searches indexed documents.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Index stores doc, replacing any existing entry with the same id.
	Index(ctx context.Context, doc Document) error

	// Update merges patch into the entry for id. It returns
	// [ErrDocumentMissing] when there is no entry.
	Update(ctx context.Context, id core.Ref, patch Patch) error

	// Remove deletes the entry for id. Removing a missing entry is not an
	// error.
	Remove(ctx context.Context, id core.Ref) error

	// Search returns entries of any of classes whose content contains every
	// term of query, ordered by id. limit caps the result when positive.
	Search(ctx context.Context, classes []core.Ref, query string, limit int) ([]Hit, error)

	// Close releases resources.
	Close() error
}

// Store is the read side of the primary store the index consults.
type Store interface {
	FindAll(ctx context.Context, class core.Ref, query core.Query, opts *core.FindOptions) ([]*core.Doc, error)
}
