package core

import (
	"fmt"
)

// CreateDocToDoc materializes the document a create transaction produces.
// Reserved attribute keys (attachedTo, attachedToClass, collection) populate
// the header.
func CreateDocToDoc(tx *TxCreateDoc) *Doc {
	doc := &Doc{
		ID:         tx.ObjectID,
		Class:      tx.ObjectClass,
		Space:      tx.ObjectSpace,
		ModifiedOn: tx.ModifiedOn,
		ModifiedBy: tx.ModifiedBy,
		CreatedOn:  tx.ModifiedOn,
		CreatedBy:  tx.ModifiedBy,
		Attributes: make(map[string]any, len(tx.Attributes)),
	}

	for k, v := range tx.Attributes {
		switch k {
		case FieldAttachedTo:
			doc.AttachedTo, _ = toRef(v)
		case FieldAttachedToClass:
			doc.AttachedToClass, _ = toRef(v)
		case FieldCollection:
			doc.Collection, _ = v.(string)
		default:
			doc.Attributes[k] = cloneValue(v)
		}
	}

	return doc
}

// attachCreate returns the inner create of a collection transaction with the
// parent link written into its attributes.
func attachCreate(coll *TxCollectionCUD, create *TxCreateDoc) *TxCreateDoc {
	c := *create
	c.Attributes = make(map[string]any, len(create.Attributes)+3)

	for k, v := range create.Attributes {
		c.Attributes[k] = v
	}

	c.Attributes[FieldAttachedTo] = string(coll.ObjectID)
	c.Attributes[FieldAttachedToClass] = string(coll.ObjectClass)
	c.Attributes[FieldCollection] = coll.Collection

	return &c
}

// foldDoc applies a single-document transaction to prev and returns the new
// state. prev is modified in place and must be a private copy. It is nil when
// the document does not exist yet. Removes are handled by the caller.
func foldDoc(prev *Doc, tx Tx) (*Doc, error) {
	switch t := tx.(type) {
	case *TxCreateDoc:
		if prev != nil {
			return nil, ErrAlreadyExists
		}

		return CreateDocToDoc(t), nil
	case *TxCollectionCUD:
		if create, ok := t.Tx.(*TxCreateDoc); ok {
			return foldDoc(prev, attachCreate(t, create))
		}

		return foldDoc(prev, t.Tx)
	}

	if prev == nil {
		return nil, ErrNotFound
	}

	switch t := tx.(type) {
	case *TxUpdateDoc:
		err := applyUpdate(docFields{doc: prev}, t.Operations)
		if err != nil {
			return nil, err
		}
	case *TxMixin:
		if prev.Mixins == nil {
			prev.Mixins = make(map[Ref]map[string]any)
		}

		data := prev.Mixins[t.Mixin]
		if data == nil {
			data = make(map[string]any)
		}

		err := applyUpdate(mapFields(data), t.Attributes)
		if err != nil {
			return nil, err
		}

		prev.Mixins[t.Mixin] = data
	case *TxPutBag:
		if prev.Attributes == nil {
			prev.Attributes = make(map[string]any)
		}

		bag, _ := prev.Attributes[t.Bag].(map[string]any)
		if bag == nil {
			bag = make(map[string]any)
		}

		bag[t.Key] = cloneValue(t.Value)
		prev.Attributes[t.Bag] = bag
	case *TxRemoveDoc:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnhandledTx, tx)
	}

	prev.ModifiedOn = tx.Header().ModifiedOn
	prev.ModifiedBy = tx.Header().ModifiedBy

	return prev, nil
}
