package core

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a new time-ordered document id (UUIDv7).
func GenerateID() Ref {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails.
		return Ref(uuid.NewString())
	}

	return Ref(id.String())
}

// Clock returns the current time in Unix milliseconds.
type Clock func() int64

// SystemClock is the wall clock.
func SystemClock() int64 { return time.Now().UnixMilli() }

// TxFactory builds well-formed transactions attributed to one account.
type TxFactory struct {
	account Ref
	space   Ref
	now     Clock
	newID   func() Ref
}

// NewTxFactory returns a factory whose transactions are authored by account
// and stored in [SpaceTx].
func NewTxFactory(account Ref) *TxFactory {
	return &TxFactory{account: account, space: SpaceTx, now: SystemClock, newID: GenerateID}
}

// NewDerivedTxFactory returns a factory for trigger-produced transactions.
// They are stored in [SpaceDerivedTx].
func NewDerivedTxFactory(account Ref) *TxFactory {
	f := NewTxFactory(account)
	f.space = SpaceDerivedTx

	return f
}

// WithClock returns a copy of f that stamps transactions with clock.
func (f *TxFactory) WithClock(clock Clock) *TxFactory {
	c := *f
	c.now = clock

	return &c
}

// WithIDs returns a copy of f that draws transaction ids from next.
func (f *TxFactory) WithIDs(next func() Ref) *TxFactory {
	c := *f
	c.newID = next

	return &c
}

// WithAccount returns a copy of f that attributes transactions to account.
func (f *TxFactory) WithAccount(account Ref) *TxFactory {
	c := *f
	c.account = account

	return &c
}

// Account returns the author stamped on created transactions.
func (f *TxFactory) Account() Ref { return f.account }

// Now returns the factory clock's current time.
func (f *TxFactory) Now() int64 { return f.now() }

// NewID returns a fresh id from the factory's id source.
func (f *TxFactory) NewID() Ref { return f.newID() }

func (f *TxFactory) header(class Ref) TxHeader {
	return TxHeader{
		ID:         f.newID(),
		Class:      class,
		Space:      f.space,
		ModifiedBy: f.account,
		ModifiedOn: f.now(),
	}
}

func (f *TxFactory) cud(class Ref, objectClass Ref, objectSpace Ref, objectID Ref) TxCUD {
	return TxCUD{
		TxHeader:    f.header(class),
		ObjectID:    objectID,
		ObjectClass: objectClass,
		ObjectSpace: objectSpace,
	}
}

// CreateTxCreateDoc builds a create. An empty objectID gets a generated id.
func (f *TxFactory) CreateTxCreateDoc(class Ref, space Ref, attributes map[string]any, objectID Ref) *TxCreateDoc {
	if objectID == "" {
		objectID = f.newID()
	}

	if attributes == nil {
		attributes = map[string]any{}
	}

	return &TxCreateDoc{
		TxCUD:      f.cud(ClassTxCreateDoc, class, space, objectID),
		Attributes: attributes,
	}
}

// CreateTxUpdateDoc builds an update.
func (f *TxFactory) CreateTxUpdateDoc(class Ref, space Ref, objectID Ref, ops Update, retrieve bool) *TxUpdateDoc {
	return &TxUpdateDoc{
		TxCUD:      f.cud(ClassTxUpdateDoc, class, space, objectID),
		Operations: ops,
		Retrieve:   retrieve,
	}
}

// CreateTxRemoveDoc builds a remove.
func (f *TxFactory) CreateTxRemoveDoc(class Ref, space Ref, objectID Ref) *TxRemoveDoc {
	return &TxRemoveDoc{TxCUD: f.cud(ClassTxRemoveDoc, class, space, objectID)}
}

// CreateTxMixin builds a mixin application on a document of class.
func (f *TxFactory) CreateTxMixin(objectID Ref, class Ref, space Ref, mixin Ref, attributes Update) *TxMixin {
	return &TxMixin{
		TxCUD:      f.cud(ClassTxMixin, class, space, objectID),
		Mixin:      mixin,
		Attributes: attributes,
	}
}

// CreateTxCollectionCUD wraps inner as an operation on an attached document of
// parent's collection.
func (f *TxFactory) CreateTxCollectionCUD(parentClass Ref, parentID Ref, space Ref, collection string, inner Tx) *TxCollectionCUD {
	return &TxCollectionCUD{
		TxCUD:      f.cud(ClassTxCollectionCUD, parentClass, space, parentID),
		Collection: collection,
		Tx:         inner,
	}
}

// CreateTxPutBag builds a bag write.
func (f *TxFactory) CreateTxPutBag(class Ref, space Ref, objectID Ref, bag string, key string, value any) *TxPutBag {
	return &TxPutBag{
		TxCUD: f.cud(ClassTxPutBag, class, space, objectID),
		Bag:   bag,
		Key:   key,
		Value: value,
	}
}

// CreateTxBulkWrite groups txes into one atomic transaction.
func (f *TxFactory) CreateTxBulkWrite(txes ...Tx) *TxBulkWrite {
	return &TxBulkWrite{TxHeader: f.header(ClassTxBulkWrite), Txes: txes}
}
