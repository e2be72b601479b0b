package core

import (
	"context"
	"fmt"
	"strings"
)

// TxOperations builds transactions with a [TxFactory] and commits them
// through a [Client], one transaction per call. There is no implicit retry.
type TxOperations struct {
	client  Client
	factory *TxFactory
}

// NewTxOperations returns a facade authoring transactions as account.
func NewTxOperations(client Client, account Ref) *TxOperations {
	return &TxOperations{client: client, factory: NewTxFactory(account)}
}

// NewTxOperationsWithFactory returns a facade using factory.
func NewTxOperationsWithFactory(client Client, factory *TxFactory) *TxOperations {
	return &TxOperations{client: client, factory: factory}
}

// Factory returns the transaction factory.
func (o *TxOperations) Factory() *TxFactory { return o.factory }

// Hierarchy returns the client's hierarchy.
func (o *TxOperations) Hierarchy() *Hierarchy { return o.client.Hierarchy() }

// Model returns the client's document store.
func (o *TxOperations) Model() *ModelDb { return o.client.Model() }

// Close closes the client.
func (o *TxOperations) Close() error { return o.client.Close() }

// FindAll passes through to the client.
func (o *TxOperations) FindAll(ctx context.Context, class Ref, query Query, opts *FindOptions) ([]*Doc, error) {
	return o.client.FindAll(ctx, class, query, opts)
}

// FindOne passes through to the client.
func (o *TxOperations) FindOne(ctx context.Context, class Ref, query Query) (*Doc, error) {
	return o.client.FindOne(ctx, class, query)
}

// Tx commits a prebuilt transaction.
func (o *TxOperations) Tx(ctx context.Context, tx Tx) (TxResult, error) {
	return o.client.Tx(ctx, tx)
}

// CreateDoc creates a document and returns its id. An empty id is generated.
func (o *TxOperations) CreateDoc(ctx context.Context, class Ref, space Ref, attributes map[string]any, id Ref) (Ref, error) {
	tx := o.factory.CreateTxCreateDoc(class, space, attributes, id)

	_, err := o.client.Tx(ctx, tx)
	if err != nil {
		return "", err
	}

	return tx.ObjectID, nil
}

// UpdateDoc validates ops against class and commits them.
func (o *TxOperations) UpdateDoc(ctx context.Context, class Ref, space Ref, id Ref, ops ...Op) (TxResult, error) {
	u, err := NewUpdate(o.client.Hierarchy(), class, ops...)
	if err != nil {
		return TxResult{}, withContext(err, id, class)
	}

	return o.client.Tx(ctx, o.factory.CreateTxUpdateDoc(class, space, id, u, false))
}

// UpdateDocRetrieve is UpdateDoc returning the updated document.
func (o *TxOperations) UpdateDocRetrieve(ctx context.Context, class Ref, space Ref, id Ref, ops ...Op) (*Doc, error) {
	u, err := NewUpdate(o.client.Hierarchy(), class, ops...)
	if err != nil {
		return nil, withContext(err, id, class)
	}

	res, err := o.client.Tx(ctx, o.factory.CreateTxUpdateDoc(class, space, id, u, true))
	if err != nil {
		return nil, err
	}

	return res.Object, nil
}

// RemoveDoc removes a document.
func (o *TxOperations) RemoveDoc(ctx context.Context, class Ref, space Ref, id Ref) (TxResult, error) {
	return o.client.Tx(ctx, o.factory.CreateTxRemoveDoc(class, space, id))
}

// CreateMixin applies mixin to a document with the given data.
func (o *TxOperations) CreateMixin(ctx context.Context, id Ref, class Ref, space Ref, mixin Ref, data map[string]any) (TxResult, error) {
	ops := make([]Op, 0, len(data))
	for _, k := range sortedKeys(data) {
		ops = append(ops, Set{Path: k, Value: data[k]})
	}

	return o.UpdateMixin(ctx, id, class, space, mixin, ops...)
}

// UpdateMixin applies ops to the mixin data of a document.
func (o *TxOperations) UpdateMixin(ctx context.Context, id Ref, class Ref, space Ref, mixin Ref, ops ...Op) (TxResult, error) {
	u, err := NewUpdate(o.client.Hierarchy(), mixin, ops...)
	if err != nil {
		return TxResult{}, withContext(err, id, mixin)
	}

	return o.client.Tx(ctx, o.factory.CreateTxMixin(id, class, space, mixin, u))
}

// AddCollection creates an attached document in the parent's collection and
// returns the new document's id.
func (o *TxOperations) AddCollection(ctx context.Context, class Ref, space Ref, attachedTo Ref, attachedToClass Ref, collection string, attributes map[string]any, id Ref) (Ref, error) {
	create := o.factory.CreateTxCreateDoc(class, space, attributes, id)
	tx := o.factory.CreateTxCollectionCUD(attachedToClass, attachedTo, space, collection, create)

	_, err := o.client.Tx(ctx, tx)
	if err != nil {
		return "", err
	}

	return create.ObjectID, nil
}

// UpdateCollection updates an attached document.
func (o *TxOperations) UpdateCollection(ctx context.Context, class Ref, space Ref, id Ref, attachedTo Ref, attachedToClass Ref, collection string, ops ...Op) (TxResult, error) {
	u, err := NewUpdate(o.client.Hierarchy(), class, ops...)
	if err != nil {
		return TxResult{}, withContext(err, id, class)
	}

	inner := o.factory.CreateTxUpdateDoc(class, space, id, u, false)

	return o.client.Tx(ctx, o.factory.CreateTxCollectionCUD(attachedToClass, attachedTo, space, collection, inner))
}

// RemoveCollection removes an attached document.
func (o *TxOperations) RemoveCollection(ctx context.Context, class Ref, space Ref, id Ref, attachedTo Ref, attachedToClass Ref, collection string) (TxResult, error) {
	inner := o.factory.CreateTxRemoveDoc(class, space, id)

	return o.client.Tx(ctx, o.factory.CreateTxCollectionCUD(attachedToClass, attachedTo, space, collection, inner))
}

// PutBag sets key in the bag attribute of a document.
func (o *TxOperations) PutBag(ctx context.Context, class Ref, space Ref, id Ref, bag string, key string, value any) (TxResult, error) {
	return o.client.Tx(ctx, o.factory.CreateTxPutBag(class, space, id, bag, key, value))
}

// Update routes to UpdateCollection for attached documents and to UpdateDoc
// otherwise.
func (o *TxOperations) Update(ctx context.Context, doc *Doc, ops ...Op) (TxResult, error) {
	if o.isAttached(doc) {
		return o.UpdateCollection(ctx, doc.Class, doc.Space, doc.ID, doc.AttachedTo, doc.AttachedToClass, doc.Collection, ops...)
	}

	return o.UpdateDoc(ctx, doc.Class, doc.Space, doc.ID, ops...)
}

// Remove routes to RemoveCollection for attached documents and to RemoveDoc
// otherwise.
func (o *TxOperations) Remove(ctx context.Context, doc *Doc) (TxResult, error) {
	if o.isAttached(doc) {
		return o.RemoveCollection(ctx, doc.Class, doc.Space, doc.ID, doc.AttachedTo, doc.AttachedToClass, doc.Collection)
	}

	return o.RemoveDoc(ctx, doc.Class, doc.Space, doc.ID)
}

func (o *TxOperations) isAttached(doc *Doc) bool {
	return o.client.Hierarchy().IsDerived(doc.Class, ClassAttachedDoc) && doc.IsAttached()
}

// Add creates an attached document of class under parent, discovering the
// collection from parent's attributes. Exactly one collection attribute must
// accept class; otherwise Add fails with [ErrAmbiguousCollection] and commits
// nothing.
func (o *TxOperations) Add(ctx context.Context, parent *Doc, class Ref, attributes map[string]any, id Ref) (Ref, error) {
	h := o.client.Hierarchy()

	attrs, err := h.GetAllAttributes(parent.Class, "")
	if err != nil {
		return "", withContext(err, parent.ID, parent.Class)
	}

	var matches []string

	for _, a := range CollectionAttributes(attrs) {
		if h.IsDerived(class, a.Type.To) {
			matches = append(matches, a.Name)
		}
	}

	if len(matches) != 1 {
		detail := "no collection accepts " + string(class)
		if len(matches) > 1 {
			detail = "candidates: " + strings.Join(matches, ", ")
		}

		return "", withContext(fmt.Errorf("%w (%s)", ErrAmbiguousCollection, detail), parent.ID, parent.Class)
	}

	return o.AddCollection(ctx, class, parent.Space, parent.ID, parent.Class, matches[0], attributes, id)
}
