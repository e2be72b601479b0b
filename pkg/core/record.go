package core

import (
	"encoding/json"
	"fmt"
)

// TxRecord is the flat wire shape of a transaction, shared by the JSON and
// CBOR log codecs.
type TxRecord struct {
	ID          Ref   `json:"_id"                   cbor:"_id"`
	Class       Ref   `json:"_class"                cbor:"_class"`
	Space       Ref   `json:"space"                 cbor:"space"`
	ModifiedBy  Ref   `json:"modifiedBy"            cbor:"modifiedBy"`
	ModifiedOn  int64 `json:"modifiedOn"            cbor:"modifiedOn"`
	ObjectID    Ref   `json:"objectId,omitempty"    cbor:"objectId,omitempty"`
	ObjectClass Ref   `json:"objectClass,omitempty" cbor:"objectClass,omitempty"`
	ObjectSpace Ref   `json:"objectSpace,omitempty" cbor:"objectSpace,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty" cbor:"attributes,omitempty"`
	Operations map[string]any `json:"operations,omitempty" cbor:"operations,omitempty"`
	Retrieve   bool           `json:"retrieve,omitempty"   cbor:"retrieve,omitempty"`
	Mixin      Ref            `json:"mixin,omitempty"      cbor:"mixin,omitempty"`
	Collection string         `json:"collection,omitempty" cbor:"collection,omitempty"`
	Tx         *TxRecord      `json:"tx,omitempty"         cbor:"tx,omitempty"`
	Bag        string         `json:"bag,omitempty"        cbor:"bag,omitempty"`
	Key        string         `json:"key,omitempty"        cbor:"key,omitempty"`
	Value      any            `json:"value,omitempty"      cbor:"value,omitempty"`
	Txes       []TxRecord     `json:"txes,omitempty"       cbor:"txes,omitempty"`
}

// ToRecord converts tx to its wire shape.
func ToRecord(tx Tx) (TxRecord, error) {
	h := tx.Header()
	r := TxRecord{
		ID:         h.ID,
		Class:      h.Class,
		Space:      h.Space,
		ModifiedBy: h.ModifiedBy,
		ModifiedOn: h.ModifiedOn,
	}

	if cud := CUDOf(tx); cud != nil {
		r.ObjectID = cud.ObjectID
		r.ObjectClass = cud.ObjectClass
		r.ObjectSpace = cud.ObjectSpace
	}

	switch t := tx.(type) {
	case *TxCreateDoc:
		r.Attributes = t.Attributes
	case *TxUpdateDoc:
		r.Operations = t.Operations.Encode()
		r.Retrieve = t.Retrieve
	case *TxRemoveDoc:
	case *TxMixin:
		r.Mixin = t.Mixin
		r.Attributes = t.Attributes.Encode()
	case *TxCollectionCUD:
		inner, err := ToRecord(t.Tx)
		if err != nil {
			return TxRecord{}, err
		}

		r.Collection = t.Collection
		r.Tx = &inner
	case *TxPutBag:
		r.Bag = t.Bag
		r.Key = t.Key
		r.Value = t.Value
	case *TxBulkWrite:
		r.Txes = make([]TxRecord, 0, len(t.Txes))
		for _, inner := range t.Txes {
			ir, err := ToRecord(inner)
			if err != nil {
				return TxRecord{}, err
			}

			r.Txes = append(r.Txes, ir)
		}
	default:
		return TxRecord{}, fmt.Errorf("%w: %T", ErrUnhandledTx, tx)
	}

	return r, nil
}

// ToTx converts the record back to a transaction, dispatching on Class.
func (r TxRecord) ToTx() (Tx, error) {
	header := TxHeader{
		ID:         r.ID,
		Class:      r.Class,
		Space:      r.Space,
		ModifiedBy: r.ModifiedBy,
		ModifiedOn: r.ModifiedOn,
	}
	cud := TxCUD{
		TxHeader:    header,
		ObjectID:    r.ObjectID,
		ObjectClass: r.ObjectClass,
		ObjectSpace: r.ObjectSpace,
	}

	switch r.Class {
	case ClassTxCreateDoc:
		return &TxCreateDoc{TxCUD: cud, Attributes: r.Attributes}, nil
	case ClassTxUpdateDoc:
		ops, err := DecodeUpdate(r.Operations)
		if err != nil {
			return nil, withContext(err, r.ObjectID, r.ObjectClass)
		}

		return &TxUpdateDoc{TxCUD: cud, Operations: ops, Retrieve: r.Retrieve}, nil
	case ClassTxRemoveDoc:
		return &TxRemoveDoc{TxCUD: cud}, nil
	case ClassTxMixin:
		ops, err := DecodeUpdate(r.Attributes)
		if err != nil {
			return nil, withContext(err, r.ObjectID, r.Mixin)
		}

		return &TxMixin{TxCUD: cud, Mixin: r.Mixin, Attributes: ops}, nil
	case ClassTxCollectionCUD:
		if r.Tx == nil {
			return nil, fmt.Errorf("%w: collection tx %s without inner tx", ErrInvalidTx, r.ID)
		}

		inner, err := r.Tx.ToTx()
		if err != nil {
			return nil, err
		}

		return &TxCollectionCUD{TxCUD: cud, Collection: r.Collection, Tx: inner}, nil
	case ClassTxPutBag:
		return &TxPutBag{TxCUD: cud, Bag: r.Bag, Key: r.Key, Value: r.Value}, nil
	case ClassTxBulkWrite:
		bulk := &TxBulkWrite{TxHeader: header, Txes: make([]Tx, 0, len(r.Txes))}

		for _, ir := range r.Txes {
			inner, err := ir.ToTx()
			if err != nil {
				return nil, err
			}

			bulk.Txes = append(bulk.Txes, inner)
		}

		return bulk, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnhandledTx, r.Class)
}

// MarshalTx encodes tx as JSON.
func MarshalTx(tx Tx) ([]byte, error) {
	r, err := ToRecord(tx)
	if err != nil {
		return nil, err
	}

	return json.Marshal(r)
}

// UnmarshalTx decodes a transaction encoded by [MarshalTx].
func UnmarshalTx(data []byte) (Tx, error) {
	var r TxRecord

	err := json.Unmarshal(data, &r)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}

	return r.ToTx()
}
