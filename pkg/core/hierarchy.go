package core

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Hierarchy is the classifier graph of a workspace.
//
// It is built by folding model transactions (creates of [ClassClass] and
// [ClassAttribute] documents, updates to them, and class-level mixins) and is
// safe for concurrent use. Ancestor chains are memoized; the memo is dropped
// whenever a classifier changes.
//
// A Hierarchy is never global. Every component that resolves classes receives
// one explicitly.
type Hierarchy struct {
	mu          sync.RWMutex
	docs        map[Ref]*Doc
	classifiers map[Ref]*Classifier
	attributes  map[Ref]map[string]*Attribute
	attrByID    map[Ref]*Attribute

	memoMu    sync.Mutex
	memoGen   uint64
	ancestors map[Ref][]Ref
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		docs:        make(map[Ref]*Doc),
		classifiers: make(map[Ref]*Classifier),
		attributes:  make(map[Ref]map[string]*Attribute),
		attrByID:    make(map[Ref]*Attribute),
		ancestors:   make(map[Ref][]Ref),
	}
}

// LoadHierarchy builds a hierarchy from a full model.
//
// Forward references between model transactions are allowed; the result is
// validated once every transaction is applied. An extends or attributeOf that
// names an unregistered classifier fails with [ErrUnknownClass], an extends
// cycle with [ErrCyclicHierarchy].
func LoadHierarchy(model []Tx) (*Hierarchy, error) {
	h := NewHierarchy()

	for _, tx := range model {
		err := h.apply(tx, false, nil)
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
	}

	err := h.Validate()
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	return h, nil
}

// IsModelTx reports whether tx changes classifiers or attributes known to h.
func (h *Hierarchy) IsModelTx(tx Tx) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.isModelTxLocked(tx)
}

func (h *Hierarchy) isModelTxLocked(tx Tx) bool {
	switch t := tx.(type) {
	case *TxCreateDoc:
		return t.ObjectClass == ClassClass || t.ObjectClass == ClassAttribute
	case *TxUpdateDoc, *TxMixin, *TxRemoveDoc, *TxPutBag:
		_, ok := h.docs[CUDOf(tx).ObjectID]

		return ok
	case *TxCollectionCUD:
		return h.isModelTxLocked(t.Tx)
	case *TxBulkWrite:
		return slices.ContainsFunc(t.Txes, h.isModelTxLocked)
	}

	return false
}

// Tx applies a model transaction incrementally. Non-model transactions are
// ignored. A change that leaves the hierarchy invalid is rejected and not
// applied; a bulk write is applied entirely or not at all.
func (h *Hierarchy) Tx(tx Tx) error {
	_, err := h.Stage(tx)

	return err
}

// Stage applies tx like [Hierarchy.Tx] and returns a function restoring the
// definitions tx replaced. Callers that persist tx after staging it call the
// function when persisting fails.
func (h *Hierarchy) Stage(tx Tx) (func(), error) {
	undo := make(map[Ref]*Doc)

	err := h.apply(tx, true, undo)
	if err != nil {
		h.restore(undo)

		return nil, err
	}

	return func() { h.restore(undo) }, nil
}

func (h *Hierarchy) restore(undo map[Ref]*Doc) {
	if len(undo) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, prev := range undo {
		_ = h.index(id, prev, false)
	}
}

// apply records the definition each touched id had before tx in undo when
// undo is non-nil.
func (h *Hierarchy) apply(tx Tx, validate bool, undo map[Ref]*Doc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if bulk, ok := tx.(*TxBulkWrite); ok {
		for _, inner := range bulk.Txes {
			err := h.applyLocked(inner, validate, undo)
			if err != nil {
				return err
			}
		}

		return nil
	}

	return h.applyLocked(tx, validate, undo)
}

func (h *Hierarchy) applyLocked(tx Tx, validate bool, undo map[Ref]*Doc) error {
	if !h.isModelTxLocked(tx) {
		return nil
	}

	if coll, ok := tx.(*TxCollectionCUD); ok {
		tx = coll.Tx
	}

	id := CUDOf(tx).ObjectID
	prev := h.docs[id]

	if _, seen := undo[id]; undo != nil && !seen {
		undo[id] = prev
	}

	var next *Doc

	if _, removed := tx.(*TxRemoveDoc); !removed {
		var err error

		next, err = foldDoc(prev.Clone(), tx)
		if err != nil {
			return withContext(err, id, CUDOf(tx).ObjectClass)
		}
	}

	err := h.index(id, next, validate)
	if err != nil {
		// Restore the previous definition.
		_ = h.index(id, prev, false)

		return withContext(err, id, CUDOf(tx).ObjectClass)
	}

	return nil
}

// index replaces the derived definition for id. A nil doc removes it.
func (h *Hierarchy) index(id Ref, doc *Doc, validate bool) error {
	h.dropMemo()

	if old, ok := h.attrByID[id]; ok {
		delete(h.attributes[old.AttributeOf], old.Name)
		delete(h.attrByID, id)
	}

	delete(h.classifiers, id)

	if doc == nil {
		delete(h.docs, id)

		return nil
	}

	h.docs[id] = doc

	switch doc.Class {
	case ClassClass:
		c, err := classifierFromDoc(doc)
		if err != nil {
			return err
		}

		h.classifiers[id] = c

		if validate {
			return h.validateClassifierLocked(c)
		}
	case ClassAttribute:
		a, err := attributeFromDoc(doc)
		if err != nil {
			return err
		}

		if validate {
			if _, ok := h.classifiers[a.AttributeOf]; !ok {
				return fmt.Errorf("%w: %s (attributeOf %s)", ErrUnknownClass, a.AttributeOf, a.ID)
			}
		}

		own := h.attributes[a.AttributeOf]
		if own == nil {
			own = make(map[string]*Attribute)
			h.attributes[a.AttributeOf] = own
		}

		own[a.Name] = a
		h.attrByID[id] = a
	}

	return nil
}

// Validate checks that every extends and attributeOf resolves and that no
// extends chain is cyclic.
func (h *Hierarchy) Validate() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]Ref, 0, len(h.classifiers))
	for id := range h.classifiers {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		err := h.validateClassifierLocked(h.classifiers[id])
		if err != nil {
			return err
		}
	}

	for _, a := range h.attrByID {
		if _, ok := h.classifiers[a.AttributeOf]; !ok {
			return fmt.Errorf("%w: %s (attributeOf %s)", ErrUnknownClass, a.AttributeOf, a.ID)
		}
	}

	return nil
}

func (h *Hierarchy) validateClassifierLocked(c *Classifier) error {
	seen := map[Ref]bool{c.ID: true}
	cur := c

	for cur.Extends != "" {
		next, ok := h.classifiers[cur.Extends]
		if !ok {
			return fmt.Errorf("%w: %s (extended by %s)", ErrUnknownClass, cur.Extends, cur.ID)
		}

		if seen[next.ID] {
			return fmt.Errorf("%w: %s", ErrCyclicHierarchy, c.ID)
		}

		seen[next.ID] = true
		cur = next
	}

	return nil
}

func (h *Hierarchy) dropMemo() {
	h.memoMu.Lock()
	clear(h.ancestors)
	h.memoGen++
	h.memoMu.Unlock()
}

// GetClass returns the classifier registered under ref.
// The returned value must not be modified.
func (h *Hierarchy) GetClass(ref Ref) (*Classifier, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.classifiers[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, ref)
	}

	return c, nil
}

// HasClass reports whether ref is a registered classifier.
func (h *Hierarchy) HasClass(ref Ref) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.classifiers[ref]

	return ok
}

// Classes returns all registered classifier refs in lexical order.
func (h *Hierarchy) Classes() []Ref {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Ref, 0, len(h.classifiers))
	for id := range h.classifiers {
		out = append(out, id)
	}

	slices.Sort(out)

	return out
}

// Ancestors returns the extends chain of class, starting with class itself
// and ending at its root.
func (h *Hierarchy) Ancestors(class Ref) ([]Ref, error) {
	h.memoMu.Lock()
	chain, ok := h.ancestors[class]
	gen := h.memoGen
	h.memoMu.Unlock()

	if ok {
		return chain, nil
	}

	h.mu.RLock()
	chain, err := h.ancestorsLocked(class)
	h.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	h.memoMu.Lock()
	if gen == h.memoGen {
		h.ancestors[class] = chain
	}
	h.memoMu.Unlock()

	return chain, nil
}

func (h *Hierarchy) ancestorsLocked(class Ref) ([]Ref, error) {
	var chain []Ref

	cur := class
	for cur != "" {
		c, ok := h.classifiers[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClass, cur)
		}

		if slices.Contains(chain, cur) {
			return nil, fmt.Errorf("%w: %s", ErrCyclicHierarchy, class)
		}

		chain = append(chain, cur)
		cur = c.Extends
	}

	return chain, nil
}

// IsDerived reports whether class equals ancestor or extends it transitively.
// Unknown classes derive from nothing.
func (h *Hierarchy) IsDerived(class, ancestor Ref) bool {
	if class == ancestor {
		return true
	}

	chain, err := h.Ancestors(class)
	if err != nil {
		return false
	}

	return slices.Contains(chain, ancestor)
}

// IsMixin reports whether class is a registered mixin.
func (h *Hierarchy) IsMixin(class Ref) bool {
	c, err := h.GetClass(class)

	return err == nil && c.Kind == KindMixin
}

// GetBaseClass walks up from a mixin to the first non-mixin ancestor.
// For a non-mixin class it returns the class itself.
func (h *Hierarchy) GetBaseClass(class Ref) (Ref, error) {
	chain, err := h.Ancestors(class)
	if err != nil {
		return "", err
	}

	for _, c := range chain {
		if !h.IsMixin(c) {
			return c, nil
		}
	}

	return class, nil
}

// GetDescendants returns class and every classifier deriving from it,
// in lexical order.
func (h *Hierarchy) GetDescendants(class Ref) []Ref {
	var out []Ref

	for _, c := range h.Classes() {
		if h.IsDerived(c, class) {
			out = append(out, c)
		}
	}

	return out
}

// GetAllAttributes returns the attributes visible on class.
//
// Inherited attributes are collected up the extends chain, stopping before
// stopAt (exclusive) when it is non-empty. Attributes declared closer to
// class win over ancestors' attributes of the same name.
func (h *Hierarchy) GetAllAttributes(class Ref, stopAt Ref) (map[string]*Attribute, error) {
	chain, err := h.Ancestors(class)
	if err != nil {
		return nil, err
	}

	if stopAt != "" {
		if i := slices.Index(chain, stopAt); i >= 0 {
			chain = chain[:i]
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*Attribute)

	for i := len(chain) - 1; i >= 0; i-- {
		for name, a := range h.attributes[chain[i]] {
			out[name] = a
		}
	}

	return out, nil
}

// DocAttributes returns the attributes of doc's class merged with the
// attributes of every mixin the document carries. Mixin attributes win.
func (h *Hierarchy) DocAttributes(doc *Doc) (map[string]*Attribute, error) {
	out, err := h.GetAllAttributes(doc.Class, "")
	if err != nil {
		return nil, err
	}

	mixins := make([]Ref, 0, len(doc.Mixins))
	for m := range doc.Mixins {
		mixins = append(mixins, m)
	}

	slices.Sort(mixins)

	for _, m := range mixins {
		if !h.IsMixin(m) {
			continue
		}

		own, err := h.GetAllAttributes(m, doc.Class)
		if err != nil {
			return nil, err
		}

		for name, a := range own {
			out[name] = a
		}
	}

	return out, nil
}

// DocMixins returns the registered mixins that doc carries and that derive
// from doc's class, in lexical order.
func (h *Hierarchy) DocMixins(doc *Doc) []Ref {
	var out []Ref

	for m := range doc.Mixins {
		if h.IsMixin(m) && h.IsDerived(m, doc.Class) {
			out = append(out, m)
		}
	}

	slices.Sort(out)

	return out
}

// FindAttribute resolves name on class, walking up the extends chain.
func (h *Hierarchy) FindAttribute(class Ref, name string) (*Attribute, bool) {
	chain, err := h.Ancestors(class)
	if err != nil {
		return nil, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range chain {
		if a, ok := h.attributes[c][name]; ok {
			return a, true
		}
	}

	return nil, false
}

// Attribute returns the attribute registered under id.
func (h *Hierarchy) Attribute(id Ref) (*Attribute, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.attrByID[id]

	return a, ok
}

// HasMixin reports whether doc carries mixin.
func (h *Hierarchy) HasMixin(doc *Doc, mixin Ref) bool {
	_, ok := doc.Mixins[mixin]

	return ok
}

// As projects doc through mixin. The view is live: it reads doc's current data.
func (h *Hierarchy) As(doc *Doc, mixin Ref) MixinView {
	return MixinView{Doc: doc, Mixin: mixin}
}

// ClassHierarchyMixin returns the class-level mixin data declared on class or
// on its nearest ancestor that carries mixin.
func (h *Hierarchy) ClassHierarchyMixin(class Ref, mixin Ref) (map[string]any, bool) {
	chain, err := h.Ancestors(class)
	if err != nil {
		return nil, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range chain {
		cl := h.classifiers[c]
		if cl == nil {
			continue
		}

		if data, ok := cl.Mixins[mixin]; ok {
			return data, true
		}
	}

	return nil, false
}

// CollectionAttributes filters attrs down to collection-typed attributes,
// sorted by name.
func CollectionAttributes(attrs map[string]*Attribute) []*Attribute {
	var out []*Attribute

	for _, a := range attrs {
		if a.Type.Kind == TypeCollection {
			out = append(out, a)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
