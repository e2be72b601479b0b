package core

// Tx is an immutable, timestamped, attributed change record.
//
// The set of variants is closed: [TxCreateDoc], [TxUpdateDoc],
// [TxRemoveDoc], [TxMixin], [TxCollectionCUD], [TxPutBag] and [TxBulkWrite].
// Switches over variants end with a default that returns [ErrUnhandledTx].
type Tx interface {
	Header() *TxHeader
	tx()
}

// TxHeader holds the fields common to every transaction.
type TxHeader struct {
	ID         Ref
	Class      Ref
	Space      Ref
	ModifiedBy Ref
	ModifiedOn int64
}

// Header returns the header itself so embedding types satisfy [Tx].
func (h *TxHeader) Header() *TxHeader { return h }

// TxCUD holds the target of a create, update, remove, mixin or bag write.
type TxCUD struct {
	TxHeader

	ObjectID    Ref
	ObjectClass Ref
	ObjectSpace Ref
}

// TxCreateDoc creates a document from Attributes.
//
// Attributes may carry attachedTo, attachedToClass and collection for attached
// documents; those populate the corresponding [Doc] header fields.
type TxCreateDoc struct {
	TxCUD

	Attributes map[string]any
}

// TxUpdateDoc applies Operations to an existing document.
type TxUpdateDoc struct {
	TxCUD

	Operations Update

	// Retrieve asks the store to return the updated document.
	Retrieve bool
}

// TxRemoveDoc removes a document.
type TxRemoveDoc struct {
	TxCUD
}

// TxMixin applies Attributes to the Mixin namespace of a document.
// ObjectClass is the document's class; Mixin is the mixin classifier.
type TxMixin struct {
	TxCUD

	Mixin      Ref
	Attributes Update
}

// TxCollectionCUD wraps a create, update or remove of an attached document.
//
// ObjectID and ObjectClass address the parent (attachedTo and
// attachedToClass); Collection names the parent's collection attribute.
type TxCollectionCUD struct {
	TxCUD

	Collection string
	Tx         Tx
}

// TxPutBag sets Key to Value inside the bag attribute Bag.
type TxPutBag struct {
	TxCUD

	Bag   string
	Key   string
	Value any
}

// TxBulkWrite applies Txes in order, atomically.
type TxBulkWrite struct {
	TxHeader

	Txes []Tx
}

func (*TxCreateDoc) tx()     {}
func (*TxUpdateDoc) tx()     {}
func (*TxRemoveDoc) tx()     {}
func (*TxMixin) tx()         {}
func (*TxCollectionCUD) tx() {}
func (*TxPutBag) tx()        {}
func (*TxBulkWrite) tx()     {}

// CUDOf returns the target fields of tx, or nil for [TxBulkWrite].
func CUDOf(tx Tx) *TxCUD {
	switch t := tx.(type) {
	case *TxCreateDoc:
		return &t.TxCUD
	case *TxUpdateDoc:
		return &t.TxCUD
	case *TxRemoveDoc:
		return &t.TxCUD
	case *TxMixin:
		return &t.TxCUD
	case *TxCollectionCUD:
		return &t.TxCUD
	case *TxPutBag:
		return &t.TxCUD
	}

	return nil
}

// ExtractTx unwraps a [TxCollectionCUD] to its inner transaction.
// Any other transaction is returned unchanged.
func ExtractTx(tx Tx) Tx {
	if coll, ok := tx.(*TxCollectionCUD); ok && coll.Tx != nil {
		return coll.Tx
	}

	return tx
}

// IsDerivedTx reports whether tx was produced by a trigger.
func IsDerivedTx(tx Tx) bool {
	return tx.Header().Space == SpaceDerivedTx
}
