package fulltext

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/txcore/pkg/core"
)

// rebuildWorkers bounds the classes indexed concurrently by Rebuild.
const rebuildWorkers = 4

// Index maintains an [Adapter] from committed transactions.
type Index struct {
	h       *core.Hierarchy
	adapter Adapter
	store   Store
	logger  zerolog.Logger

	mu    sync.Mutex
	attrs map[core.Ref][]*core.Attribute
}

// Option configures an [Index].
type Option func(*Index)

// WithLogger sets the logger for skipped updates and rebuild progress.
func WithLogger(logger zerolog.Logger) Option {
	return func(ix *Index) { ix.logger = logger }
}

// New returns an index over adapter. store resolves parents, attached
// children and search hits.
func New(h *core.Hierarchy, adapter Adapter, store Store, opts ...Option) *Index {
	ix := &Index{
		h:       h,
		adapter: adapter,
		store:   store,
		logger:  zerolog.Nop(),
		attrs:   make(map[core.Ref][]*core.Attribute),
	}

	for _, opt := range opts {
		opt(ix)
	}

	return ix
}

// Adapter returns the underlying adapter.
func (ix *Index) Adapter() Adapter { return ix.adapter }

// Tx updates the index for a committed transaction.
func (ix *Index) Tx(ctx context.Context, tx core.Tx) error {
	if ix.h.IsModelTx(tx) {
		ix.resetCache()
	}

	switch t := tx.(type) {
	case *core.TxCreateDoc:
		return ix.createDoc(ctx, core.CreateDocToDoc(t))
	case *core.TxUpdateDoc:
		return ix.updateDoc(ctx, t)
	case *core.TxRemoveDoc:
		return ix.adapter.Remove(ctx, t.ObjectID)
	case *core.TxMixin:
		return ix.mixin(ctx, t)
	case *core.TxCollectionCUD:
		return ix.collection(ctx, t)
	case *core.TxPutBag:
		return nil
	case *core.TxBulkWrite:
		for _, inner := range t.Txes {
			err := ix.Tx(ctx, inner)
			if err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: %T", core.ErrUnhandledTx, tx)
	}
}

// collection indexes the inner transaction. Only creates need the parent
// link, the other variants address the child by id.
func (ix *Index) collection(ctx context.Context, tx *core.TxCollectionCUD) error {
	create, ok := tx.Tx.(*core.TxCreateDoc)
	if !ok {
		return ix.Tx(ctx, tx.Tx)
	}

	doc := core.CreateDocToDoc(create)
	doc.AttachedTo = tx.ObjectID
	doc.AttachedToClass = tx.ObjectClass
	doc.Collection = tx.Collection

	return ix.createDoc(ctx, doc)
}

func (ix *Index) createDoc(ctx context.Context, doc *core.Doc) error {
	indexed, ok, err := ix.document(ctx, doc)
	if err != nil || !ok {
		return err
	}

	err = ix.adapter.Index(ctx, indexed)
	if err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}

	return nil
}

// document builds the indexed form of doc. It reports false when neither the
// document nor its parent has anything to index.
func (ix *Index) document(ctx context.Context, doc *core.Doc) (Document, bool, error) {
	attrs := ix.fullTextAttributes(doc.Class)

	var parent map[string]string

	if doc.IsAttached() && ix.h.IsDerived(doc.Class, core.ClassAttachedDoc) {
		p, err := ix.findOne(ctx, doc.AttachedToClass, doc.AttachedTo)
		if err != nil {
			return Document{}, false, err
		}

		if p != nil {
			parent = ix.content(p)
		}
	}

	if len(attrs) == 0 && len(parent) == 0 && len(doc.Mixins) == 0 {
		return Document{}, false, nil
	}

	content := make(map[string]string, len(parent)+len(attrs))
	maps.Copy(content, parent)
	maps.Copy(content, ix.content(doc))

	if len(content) == 0 {
		return Document{}, false, nil
	}

	return Document{
		ID:         doc.ID,
		Class:      doc.Class,
		Space:      doc.Space,
		ModifiedBy: doc.ModifiedBy,
		ModifiedOn: doc.ModifiedOn,
		AttachedTo: doc.AttachedTo,
		Content:    content,
	}, true, nil
}

// content returns the text of doc's full-text attributes, including those of
// the mixins it carries.
func (ix *Index) content(doc *core.Doc) map[string]string {
	out := make(map[string]string)

	for _, a := range ix.fullTextAttributes(doc.Class) {
		v, _ := doc.Get(a.Name)
		out[a.Name] = text(v)
	}

	for _, m := range ix.h.DocMixins(doc) {
		view := ix.h.As(doc, m)

		for _, a := range ix.fullTextAttributes(m) {
			v, _ := view.Get(a.Name)
			out[string(m)+"."+a.Name] = text(v)
		}
	}

	return out
}

func (ix *Index) updateDoc(ctx context.Context, tx *core.TxUpdateDoc) error {
	patch := changed(ix.fullTextAttributes(tx.ObjectClass), tx.Operations, "")

	if v, ok := tx.Operations.Value(core.FieldSpace); ok {
		if space, isStr := v.(string); isStr {
			patch.Space = core.Ref(space)
		}
	}

	return ix.apply(ctx, tx.ObjectID, tx.ObjectClass, patch)
}

func (ix *Index) mixin(ctx context.Context, tx *core.TxMixin) error {
	patch := changed(ix.fullTextAttributes(tx.Mixin), tx.Attributes, string(tx.Mixin)+".")

	return ix.apply(ctx, tx.ObjectID, tx.ObjectClass, patch)
}

func (ix *Index) apply(ctx context.Context, id core.Ref, class core.Ref, patch Patch) error {
	if patch.Empty() {
		return nil
	}

	err := ix.adapter.Update(ctx, id, patch)
	if err != nil {
		return fmt.Errorf("update index %s: %w", id, err)
	}

	return ix.updateAttached(ctx, id, class, patch)
}

// updateAttached sends patch to every document attached to id through one
// of its collection attributes. Children missing from the index are logged
// and skipped; they show up while a rebuild is still in progress.
func (ix *Index) updateAttached(ctx context.Context, id core.Ref, class core.Ref, patch Patch) error {
	doc, err := ix.findOne(ctx, class, id)
	if err != nil || doc == nil {
		return err
	}

	attrs, err := ix.h.DocAttributes(doc)
	if err != nil {
		return fmt.Errorf("update attached of %s: %w", id, err)
	}

	collections := core.CollectionAttributes(attrs)
	slices.SortFunc(collections, func(a, b *core.Attribute) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, coll := range collections {
		children, err := ix.store.FindAll(ctx, coll.Type.To, core.Query{core.FieldAttachedTo: string(id)}, nil)
		if err != nil {
			return fmt.Errorf("find attached of %s: %w", id, err)
		}

		for _, child := range children {
			err := ix.adapter.Update(ctx, child.ID, patch)
			if err == nil {
				continue
			}

			if errors.Is(err, ErrDocumentMissing) {
				ix.logger.Warn().
					Str("object_id", string(id)).
					Str("attached", string(child.ID)).
					Str("collection", child.Collection).
					Msg("attached document missing from index, skipped")

				continue
			}

			return fmt.Errorf("update index %s (attached to %s): %w", child.ID, id, err)
		}
	}

	return nil
}

func (ix *Index) findOne(ctx context.Context, class core.Ref, id core.Ref) (*core.Doc, error) {
	docs, err := ix.store.FindAll(ctx, class, core.Query{core.FieldID: string(id)}, &core.FindOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", id, err)
	}

	if len(docs) == 0 {
		return nil, nil
	}

	return docs[0], nil
}

// FindAll answers a query with a $search key: the adapter supplies candidate
// ids (plus the parents of attached hits) and the store filters them with
// the rest of the query. The limit reaches the adapter only when nothing
// else filters its hits.
func (ix *Index) FindAll(ctx context.Context, class core.Ref, query core.Query, opts *core.FindOptions) ([]*core.Doc, error) {
	raw, ok := query[core.SearchKey]
	if !ok {
		return ix.store.FindAll(ctx, class, query, opts)
	}

	search, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string, got %T", core.ErrInvalidQuery, core.SearchKey, raw)
	}

	limit := 0
	if opts != nil && len(query) == 1 {
		limit = opts.Limit
	}

	hits, err := ix.adapter.Search(ctx, ix.h.GetDescendants(class), search, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]any, 0, len(hits))
	seen := make(map[core.Ref]bool, len(hits))

	for _, hit := range hits {
		for _, id := range []core.Ref{hit.ID, hit.AttachedTo} {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, string(id))
			}
		}
	}

	rest := query.Without(core.SearchKey, core.FieldID)
	rest[core.FieldID] = map[string]any{"$in": ids}

	return ix.store.FindAll(ctx, class, rest, opts)
}

// Rebuild indexes every document of classes from the store, replacing
// existing entries. With no classes it covers every registered class.
// Classes are processed concurrently; each document is indexed once.
func (ix *Index) Rebuild(ctx context.Context, classes ...core.Ref) (int, error) {
	if len(classes) == 0 {
		for _, c := range ix.h.Classes() {
			if !ix.h.IsMixin(c) {
				classes = append(classes, c)
			}
		}
	}

	var (
		seen    sync.Map
		indexed atomic.Int64
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildWorkers)

	for _, class := range classes {
		g.Go(func() error {
			docs, err := ix.store.FindAll(ctx, class, core.Query{}, nil)
			if err != nil {
				return fmt.Errorf("rebuild %s: %w", class, err)
			}

			for _, doc := range docs {
				if _, dup := seen.LoadOrStore(doc.ID, struct{}{}); dup {
					continue
				}

				d, ok, err := ix.document(ctx, doc)
				if err != nil {
					return fmt.Errorf("rebuild %s: %w", class, err)
				}

				if !ok {
					continue
				}

				err = ix.adapter.Index(ctx, d)
				if err != nil {
					return fmt.Errorf("rebuild %s: index %s: %w", class, doc.ID, err)
				}

				indexed.Add(1)
			}

			return nil
		})
	}

	err := g.Wait()

	n := int(indexed.Load())

	ix.logger.Info().Int("classes", len(classes)).Int("indexed", n).Err(err).Msg("full-text rebuild finished")

	return n, err
}

// fullTextAttributes returns the full-text attributes of class, cached.
// For a mixin only the mixin's own attributes are returned.
func (ix *Index) fullTextAttributes(class core.Ref) []*core.Attribute {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if attrs, ok := ix.attrs[class]; ok {
		return attrs
	}

	var stopAt core.Ref

	if ix.h.IsMixin(class) {
		if c, err := ix.h.GetClass(class); err == nil {
			stopAt = c.Extends
		}
	}

	all, err := ix.h.GetAllAttributes(class, stopAt)
	if err != nil {
		return nil
	}

	var out []*core.Attribute

	for _, a := range all {
		if a.Index == core.IndexFullText && a.Type.IsText() {
			out = append(out, a)
		}
	}

	slices.SortFunc(out, func(a, b *core.Attribute) int { return strings.Compare(a.Name, b.Name) })

	ix.attrs[class] = out

	return out
}

func (ix *Index) resetCache() {
	ix.mu.Lock()
	clear(ix.attrs)
	ix.mu.Unlock()
}

// changed collects the full-text attributes that u sets or unsets, keyed
// with prefix.
func changed(attrs []*core.Attribute, u core.Update, prefix string) Patch {
	var patch Patch

	for _, a := range attrs {
		for _, op := range u {
			if op.Field() != a.Name {
				continue
			}

			switch o := op.(type) {
			case core.Set:
				setContent(&patch, prefix+a.Name, text(o.Value))
			case core.Unset:
				setContent(&patch, prefix+a.Name, "")
			}
		}
	}

	return patch
}

func setContent(p *Patch, key, value string) {
	if p.Content == nil {
		p.Content = make(map[string]string)
	}

	p.Content[key] = value
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}
