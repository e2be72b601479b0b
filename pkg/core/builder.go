package core

import (
	"fmt"
	"sort"
)

// Builder is the explicit registration table of a model.
//
// Each declaration appends a model transaction in [SpaceModel]. Feed the
// result to [LoadHierarchy] and to the document store:
//
//	b := core.NewBuilder()
//	core.BaseModel(b)
//	b.Class("tracker:class:Issue", core.ClassDoc, core.Label("Issue"))
//	b.Attr("tracker:class:Issue", "title", core.Scalar(core.TypeString), core.FullText())
//	h, err := core.LoadHierarchy(b.Txes())
//
// Transaction ids and timestamps are deterministic so the same table always
// produces the same model.
type Builder struct {
	factory *TxFactory
	txes    []Tx
	seq     int
}

// NewBuilder returns an empty registration table.
func NewBuilder() *Builder {
	b := &Builder{}
	b.factory = NewTxFactory(AccountSystem).
		WithClock(func() int64 { return 0 }).
		WithIDs(func() Ref {
			b.seq++

			return Ref(fmt.Sprintf("core:tx:model-%06d", b.seq))
		})

	return b
}

// Txes returns the model transactions in declaration order.
func (b *Builder) Txes() []Tx {
	return append([]Tx(nil), b.txes...)
}

// Hierarchy loads the declared model into a new [Hierarchy].
func (b *Builder) Hierarchy() (*Hierarchy, error) {
	return LoadHierarchy(b.txes)
}

// ClassOption configures a classifier declaration.
type ClassOption func(map[string]any)

// Label sets a human-readable label.
func Label(label string) ClassOption {
	return func(m map[string]any) { m["label"] = label }
}

// Domain sets the storage domain of a class.
func Domain(domain string) ClassOption {
	return func(m map[string]any) { m["domain"] = domain }
}

// Implements declares implemented interfaces.
func Implements(ifaces ...Ref) ClassOption {
	return func(m map[string]any) {
		out := make([]any, len(ifaces))
		for i, r := range ifaces {
			out[i] = string(r)
		}

		m["implements"] = out
	}
}

// Class declares a class extending extends (empty for a root class).
func (b *Builder) Class(id Ref, extends Ref, opts ...ClassOption) *Builder {
	return b.classifier(id, KindClass, extends, opts)
}

// Mixin declares a mixin over extends.
func (b *Builder) Mixin(id Ref, extends Ref, opts ...ClassOption) *Builder {
	return b.classifier(id, KindMixin, extends, opts)
}

// Interface declares an interface.
func (b *Builder) Interface(id Ref, extends Ref, opts ...ClassOption) *Builder {
	return b.classifier(id, KindInterface, extends, opts)
}

func (b *Builder) classifier(id Ref, kind ClassifierKind, extends Ref, opts []ClassOption) *Builder {
	attrs := map[string]any{"kind": kind.String()}
	if extends != "" {
		attrs["extends"] = string(extends)
	}

	for _, opt := range opts {
		opt(attrs)
	}

	b.txes = append(b.txes, b.factory.CreateTxCreateDoc(ClassClass, SpaceModel, attrs, id))

	return b
}

// AttrOption configures an attribute declaration.
type AttrOption func(map[string]any)

// FullText marks a text attribute for full-text indexing.
func FullText() AttrOption {
	return func(m map[string]any) { m["index"] = IndexFullText.String() }
}

// Indexed marks an attribute for a secondary index.
func Indexed() AttrOption {
	return func(m map[string]any) { m["index"] = IndexIndexed.String() }
}

// AttrLabel sets a human-readable label.
func AttrLabel(label string) AttrOption {
	return func(m map[string]any) { m["label"] = label }
}

// Hidden hides the attribute from presentation.
func Hidden() AttrOption {
	return func(m map[string]any) { m["hidden"] = true }
}

// Attr declares attribute name of type t on class.
func (b *Builder) Attr(class Ref, name string, t Type, opts ...AttrOption) *Builder {
	attrs := map[string]any{
		"name":        name,
		"attributeOf": string(class),
		"type":        t.encode(),
	}

	for _, opt := range opts {
		opt(attrs)
	}

	b.txes = append(b.txes, b.factory.CreateTxCreateDoc(ClassAttribute, SpaceModel, attrs, AttributeID(class, name)))

	return b
}

// ClassMixin attaches class-level mixin data to class.
func (b *Builder) ClassMixin(class Ref, mixin Ref, data map[string]any) *Builder {
	ops := make([]Op, 0, len(data))

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		ops = append(ops, Set{Path: k, Value: data[k]})
	}

	b.txes = append(b.txes, b.factory.CreateTxMixin(class, ClassClass, SpaceModel, mixin, ops))

	return b
}

// Doc declares a model document, such as a notification type or a space.
func (b *Builder) Doc(class Ref, id Ref, attributes map[string]any) *Builder {
	b.txes = append(b.txes, b.factory.CreateTxCreateDoc(class, SpaceModel, attributes, id))

	return b
}

// BaseModel declares the core classes every workspace needs.
func BaseModel(b *Builder) {
	b.Class(ClassDoc, "", Label("Document"), Domain("model"))
	b.Attr(ClassDoc, FieldSpace, RefTo(ClassSpace), Hidden())
	b.Attr(ClassDoc, FieldModifiedOn, Scalar(TypeDate), Hidden())
	b.Attr(ClassDoc, FieldModifiedBy, RefTo(ClassAccount), Hidden())

	b.Class(ClassAttachedDoc, ClassDoc, Label("Attached document"))
	b.Attr(ClassAttachedDoc, FieldAttachedTo, RefTo(ClassDoc), Hidden())
	b.Attr(ClassAttachedDoc, FieldAttachedToClass, RefTo(ClassClass), Hidden())
	b.Attr(ClassAttachedDoc, FieldCollection, Scalar(TypeString), Hidden())

	b.Class(ClassClass, ClassDoc, Label("Class"), Domain("model"))
	b.Class(ClassAttribute, ClassDoc, Label("Attribute"), Domain("model"))

	b.Class(ClassSpace, ClassDoc, Label("Space"))
	b.Attr(ClassSpace, "name", Scalar(TypeString), FullText())
	b.Attr(ClassSpace, "description", Scalar(TypeString))
	b.Attr(ClassSpace, "private", Scalar(TypeBoolean))
	b.Attr(ClassSpace, "members", ArrOf(RefTo(ClassAccount)))

	b.Class(ClassAccount, ClassDoc, Label("Account"))
	b.Attr(ClassAccount, "email", Scalar(TypeString))
	b.Attr(ClassAccount, "name", Scalar(TypeString), FullText())

	b.Class(ClassTx, ClassDoc, Domain("tx"))
	b.Class(ClassTxCUD, ClassTx)
	b.Class(ClassTxCreateDoc, ClassTxCUD)
	b.Class(ClassTxUpdateDoc, ClassTxCUD)
	b.Class(ClassTxRemoveDoc, ClassTxCUD)
	b.Class(ClassTxMixin, ClassTxCUD)
	b.Class(ClassTxCollectionCUD, ClassTxCUD)
	b.Class(ClassTxPutBag, ClassTxCUD)
	b.Class(ClassTxBulkWrite, ClassTx)

	b.Doc(ClassSpace, SpaceModel, map[string]any{"name": "Model", "private": false})
	b.Doc(ClassSpace, SpaceTx, map[string]any{"name": "Transactions", "private": false})
	b.Doc(ClassSpace, SpaceDerivedTx, map[string]any{"name": "Derived transactions", "private": false})
	b.Doc(ClassSpace, SpaceWorkspace, map[string]any{"name": "Workspace", "private": false})
	b.Doc(ClassAccount, AccountSystem, map[string]any{"name": "System", "email": ""})
}
