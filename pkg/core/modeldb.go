package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// TxResult is returned by every transaction entry point.
type TxResult struct {
	// Object is the document after an update that asked for retrieval.
	Object *Doc

	// DerivedErr joins failures of derived processing (index updates,
	// triggers) that did not roll back the primary transaction.
	DerivedErr error
}

// ModelDb is the in-memory fold of a transaction log.
//
// Each transaction is applied atomically: it either changes the state fully
// or not at all. A [TxBulkWrite] is atomic as a whole. ModelDb is safe for
// concurrent use; writers are serialized.
type ModelDb struct {
	h *Hierarchy

	mu   sync.RWMutex
	docs map[Ref]*Doc
}

// NewModelDb returns an empty store resolving classes through h.
func NewModelDb(h *Hierarchy) *ModelDb {
	return &ModelDb{h: h, docs: make(map[Ref]*Doc)}
}

// Hierarchy returns the hierarchy the store resolves classes with.
func (m *ModelDb) Hierarchy() *Hierarchy { return m.h }

// Init folds txes in order.
func (m *ModelDb) Init(ctx context.Context, txes []Tx) error {
	for _, tx := range txes {
		_, err := m.Tx(ctx, tx)
		if err != nil {
			return err
		}
	}

	return nil
}

// Tx folds tx into the store.
func (m *ModelDb) Tx(ctx context.Context, tx Tx) (TxResult, error) {
	return m.Apply(ctx, tx, nil)
}

// Apply folds tx and then calls persist, if non-nil, while still holding the
// write lock. When persist fails the fold is reverted and its error returned.
func (m *ModelDb) Apply(ctx context.Context, tx Tx, persist func(context.Context) error) (TxResult, error) {
	err := ctx.Err()
	if err != nil {
		return TxResult{}, fmt.Errorf("apply canceled: %w", context.Cause(ctx))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	undo := make(map[Ref]*Doc)

	revert := func() {
		for id, prev := range undo {
			if prev == nil {
				delete(m.docs, id)
			} else {
				m.docs[id] = prev
			}
		}
	}

	err = m.applyLocked(tx, undo)
	if err != nil {
		revert()

		return TxResult{}, err
	}

	if persist != nil {
		err = persist(ctx)
		if err != nil {
			revert()

			return TxResult{}, err
		}
	}

	var result TxResult

	if upd, ok := ExtractTx(tx).(*TxUpdateDoc); ok && upd.Retrieve {
		result.Object = m.docs[upd.ObjectID].Clone()
	}

	return result, nil
}

func (m *ModelDb) applyLocked(tx Tx, undo map[Ref]*Doc) error {
	if bulk, ok := tx.(*TxBulkWrite); ok {
		for _, inner := range bulk.Txes {
			err := m.applyLocked(inner, undo)
			if err != nil {
				return err
			}
		}

		return nil
	}

	cud := CUDOf(tx)
	if cud == nil {
		return fmt.Errorf("%w: %T", ErrUnhandledTx, tx)
	}

	target := ExtractTx(tx)
	tcud := CUDOf(target)

	if tcud == nil {
		return fmt.Errorf("%w: collection tx %s wraps %T", ErrInvalidTx, tx.Header().ID, target)
	}

	id := tcud.ObjectID
	if id == "" {
		return withContext(fmt.Errorf("%w: empty object id", ErrInvalidTx), "", tcud.ObjectClass)
	}

	if _, isCreate := target.(*TxCreateDoc); isCreate && !m.h.HasClass(tcud.ObjectClass) {
		return withContext(fmt.Errorf("%w: %s", ErrUnknownClass, tcud.ObjectClass), id, tcud.ObjectClass)
	}

	cur, exists := m.docs[id]

	if _, recorded := undo[id]; !recorded {
		undo[id] = cur
	}

	if _, isRemove := target.(*TxRemoveDoc); isRemove {
		if !exists {
			return withContext(ErrNotFound, id, tcud.ObjectClass)
		}

		delete(m.docs, id)

		return nil
	}

	next, err := foldDoc(cur.Clone(), tx)
	if err != nil {
		return withContext(err, id, tcud.ObjectClass)
	}

	m.docs[id] = next

	return nil
}

// Get returns a copy of the document with id.
func (m *ModelDb) Get(id Ref) (*Doc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]

	return doc.Clone(), ok
}

// Len returns the number of live documents.
func (m *ModelDb) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.docs)
}

// Snapshot returns copies of all live documents ordered by id.
func (m *ModelDb) Snapshot() []*Doc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Doc, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.Clone())
	}

	slices.SortFunc(out, func(a, b *Doc) int { return strings.Compare(string(a.ID), string(b.ID)) })

	return out
}

// FindAll returns copies of the documents of class matching query.
//
// A document matches class when its class derives from it, or, when class is
// a mixin, when it carries the mixin. A $search key fails with
// [ErrSearchUnsupported].
func (m *ModelDb) FindAll(ctx context.Context, class Ref, query Query, opts *FindOptions) ([]*Doc, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("find canceled: %w", context.Cause(ctx))
	}

	if _, ok := query[SearchKey]; ok {
		return nil, ErrSearchUnsupported
	}

	matcher, err := CompileQuery(query)
	if err != nil {
		return nil, err
	}

	isMixin := m.h.IsMixin(class)

	m.mu.RLock()

	candidates := m.candidatesLocked(query)

	var out []*Doc

	for _, doc := range candidates {
		if isMixin {
			if !m.h.HasMixin(doc, class) {
				continue
			}
		} else if !m.h.IsDerived(doc.Class, class) {
			continue
		}

		if matcher.Match(doc) {
			out = append(out, doc.Clone())
		}
	}

	m.mu.RUnlock()

	return opts.apply(out), nil
}

// candidatesLocked narrows the scan to a direct id lookup when the query
// pins _id to a single value.
func (m *ModelDb) candidatesLocked(query Query) []*Doc {
	if raw, ok := query[FieldID]; ok {
		if id, isRef := toRef(raw); isRef {
			if doc, found := m.docs[id]; found {
				return []*Doc{doc}
			}

			return nil
		}
	}

	out := make([]*Doc, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}

	return out
}

// FindOne returns the first document matching query, or nil.
func (m *ModelDb) FindOne(ctx context.Context, class Ref, query Query) (*Doc, error) {
	docs, err := m.FindAll(ctx, class, query, &FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}

	return docs[0], nil
}
