package core

import (
	"fmt"
	"strings"
)

// Core classes, spaces and accounts.
const (
	ClassDoc         Ref = "core:class:Doc"
	ClassAttachedDoc Ref = "core:class:AttachedDoc"
	ClassSpace       Ref = "core:class:Space"
	ClassAccount     Ref = "core:class:Account"
	ClassClass       Ref = "core:class:Class"
	ClassAttribute   Ref = "core:class:Attribute"

	ClassTx              Ref = "core:class:Tx"
	ClassTxCUD           Ref = "core:class:TxCUD"
	ClassTxCreateDoc     Ref = "core:class:TxCreateDoc"
	ClassTxUpdateDoc     Ref = "core:class:TxUpdateDoc"
	ClassTxRemoveDoc     Ref = "core:class:TxRemoveDoc"
	ClassTxMixin         Ref = "core:class:TxMixin"
	ClassTxCollectionCUD Ref = "core:class:TxCollectionCUD"
	ClassTxPutBag        Ref = "core:class:TxPutBag"
	ClassTxBulkWrite     Ref = "core:class:TxBulkWrite"

	// SpaceModel holds classifiers, attributes and other model documents.
	SpaceModel Ref = "core:space:Model"

	// SpaceTx is the space of client-originated transactions.
	SpaceTx Ref = "core:space:Tx"

	// SpaceDerivedTx is the space of transactions produced by triggers.
	SpaceDerivedTx Ref = "core:space:DerivedTx"

	// SpaceWorkspace is the default space for user documents.
	SpaceWorkspace Ref = "core:space:Workspace"

	// AccountSystem is the author of model and system transactions.
	AccountSystem Ref = "core:account:System"
)

// ClassifierKind distinguishes classes, interfaces and mixins.
type ClassifierKind uint8

const (
	KindClass ClassifierKind = iota
	KindInterface
	KindMixin
)

func (k ClassifierKind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	case KindMixin:
		return "mixin"
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseClassifierKind parses the string form produced by String.
func ParseClassifierKind(s string) (ClassifierKind, error) {
	switch s {
	case "class", "":
		return KindClass, nil
	case "interface":
		return KindInterface, nil
	case "mixin":
		return KindMixin, nil
	}

	return 0, fmt.Errorf("unknown classifier kind %q", s)
}

// IndexKind marks how an attribute participates in secondary indexes.
type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexFullText
	IndexIndexed
	IndexIndexedDsc
)

func (k IndexKind) String() string {
	switch k {
	case IndexNone:
		return ""
	case IndexFullText:
		return "fulltext"
	case IndexIndexed:
		return "indexed"
	case IndexIndexedDsc:
		return "indexed-dsc"
	}

	return fmt.Sprintf("index(%d)", uint8(k))
}

// ParseIndexKind parses the string form produced by String.
func ParseIndexKind(s string) (IndexKind, error) {
	switch s {
	case "", "none":
		return IndexNone, nil
	case "fulltext":
		return IndexFullText, nil
	case "indexed":
		return IndexIndexed, nil
	case "indexed-dsc":
		return IndexIndexedDsc, nil
	}

	return 0, fmt.Errorf("unknown index kind %q", s)
}

// TypeKind is the kind of an attribute type.
type TypeKind string

const (
	TypeString     TypeKind = "string"
	TypeMarkup     TypeKind = "markup"
	TypeNumber     TypeKind = "number"
	TypeBoolean    TypeKind = "boolean"
	TypeDate       TypeKind = "date"
	TypeRef        TypeKind = "ref"
	TypeArrOf      TypeKind = "arrOf"
	TypeCollection TypeKind = "collection"
	TypeBag        TypeKind = "bag"
	TypeAny        TypeKind = "any"
)

// Type describes an attribute's value.
//
// For TypeRef, To is the referenced class. For TypeCollection, To is the class
// of the attached documents. For TypeArrOf, Of is the element type.
type Type struct {
	Kind TypeKind
	To   Ref
	Of   *Type
}

// RefTo returns a reference type.
func RefTo(class Ref) Type { return Type{Kind: TypeRef, To: class} }

// ArrOf returns an array type.
func ArrOf(of Type) Type { return Type{Kind: TypeArrOf, Of: &of} }

// CollectionOf returns a collection type of attached documents.
func CollectionOf(class Ref) Type { return Type{Kind: TypeCollection, To: class} }

// Scalar returns a type without parameters.
func Scalar(kind TypeKind) Type { return Type{Kind: kind} }

// IsText reports whether values of this type are indexable text.
func (t Type) IsText() bool {
	return t.Kind == TypeString || t.Kind == TypeMarkup
}

// RefTarget returns the referenced class for Ref and ArrOf(Ref) types.
func (t Type) RefTarget() (Ref, bool) {
	if t.Kind == TypeRef {
		return t.To, true
	}

	if t.Kind == TypeArrOf && t.Of != nil && t.Of.Kind == TypeRef {
		return t.Of.To, true
	}

	return "", false
}

func (t Type) String() string {
	switch t.Kind {
	case TypeRef:
		return "ref(" + string(t.To) + ")"
	case TypeCollection:
		return "collection(" + string(t.To) + ")"
	case TypeArrOf:
		if t.Of == nil {
			return "arrOf(?)"
		}

		return "arrOf(" + t.Of.String() + ")"
	}

	return string(t.Kind)
}

// ParseType parses the string form produced by String, such as "string",
// "ref(core:class:Account)" or "arrOf(ref(core:class:Account))".
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)

	head, arg, hasArg := strings.Cut(s, "(")
	if hasArg {
		if !strings.HasSuffix(arg, ")") {
			return Type{}, fmt.Errorf("type %q: missing closing parenthesis", s)
		}

		arg = strings.TrimSuffix(arg, ")")
	}

	switch kind := TypeKind(head); kind {
	case TypeRef, TypeCollection:
		if !hasArg || arg == "" {
			return Type{}, fmt.Errorf("type %q: %s needs a class", s, kind)
		}

		return Type{Kind: kind, To: Ref(arg)}, nil
	case TypeArrOf:
		if !hasArg {
			return Type{}, fmt.Errorf("type %q: arrOf needs an element type", s)
		}

		of, err := ParseType(arg)
		if err != nil {
			return Type{}, err
		}

		return ArrOf(of), nil
	case TypeString, TypeMarkup, TypeNumber, TypeBoolean, TypeDate, TypeBag, TypeAny:
		if hasArg {
			return Type{}, fmt.Errorf("type %q: %s takes no argument", s, kind)
		}

		return Scalar(kind), nil
	}

	return Type{}, fmt.Errorf("unknown type %q", s)
}

func (t Type) encode() map[string]any {
	out := map[string]any{"kind": string(t.Kind)}
	if t.To != "" {
		out["to"] = string(t.To)
	}

	if t.Of != nil {
		out["of"] = t.Of.encode()
	}

	return out
}

func decodeType(v any) (Type, error) {
	if s, ok := v.(string); ok {
		return Type{Kind: TypeKind(s)}, nil
	}

	m, ok := v.(map[string]any)
	if !ok {
		return Type{}, fmt.Errorf("attribute type: unexpected %T", v)
	}

	kind, _ := m["kind"].(string)
	if kind == "" {
		return Type{}, fmt.Errorf("attribute type: missing kind")
	}

	t := Type{Kind: TypeKind(kind)}
	t.To, _ = toRef(m["to"])

	if of, ok := m["of"]; ok {
		elem, err := decodeType(of)
		if err != nil {
			return Type{}, err
		}

		t.Of = &elem
	}

	return t, nil
}

// Classifier is a class, interface or mixin definition.
type Classifier struct {
	ID         Ref
	Kind       ClassifierKind
	Extends    Ref
	Implements []Ref
	Domain     string
	Label      string

	// Mixins holds class-level mixin data, for example the set of fields
	// whose account refs become collaborators.
	Mixins map[Ref]map[string]any
}

// Attribute is a named, typed slot declared on a classifier.
type Attribute struct {
	ID          Ref
	Name        string
	AttributeOf Ref
	Type        Type
	Index       IndexKind
	Label       string
	Hidden      bool
}

func classifierFromDoc(doc *Doc) (*Classifier, error) {
	kind, err := ParseClassifierKind(doc.String("kind"))
	if err != nil {
		return nil, err
	}

	c := &Classifier{
		ID:         doc.ID,
		Kind:       kind,
		Implements: doc.Refs("implements"),
		Domain:     doc.String("domain"),
		Label:      doc.String("label"),
	}

	if ext, ok := doc.Get("extends"); ok {
		c.Extends, _ = toRef(ext)
	}

	if len(doc.Mixins) > 0 {
		c.Mixins = make(map[Ref]map[string]any, len(doc.Mixins))
		for k, v := range doc.Mixins {
			c.Mixins[k] = cloneMap(v)
		}
	}

	return c, nil
}

func attributeFromDoc(doc *Doc) (*Attribute, error) {
	rawType, ok := doc.Get("type")
	if !ok {
		return nil, fmt.Errorf("attribute %s: missing type", doc.ID)
	}

	typ, err := decodeType(rawType)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", doc.ID, err)
	}

	index, err := ParseIndexKind(doc.String("index"))
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", doc.ID, err)
	}

	a := &Attribute{
		ID:          doc.ID,
		Name:        doc.String("name"),
		AttributeOf: Ref(doc.String("attributeOf")),
		Type:        typ,
		Index:       index,
		Label:       doc.String("label"),
	}

	if h, ok := doc.Get("hidden"); ok {
		a.Hidden, _ = h.(bool)
	}

	if a.Name == "" || a.AttributeOf == "" {
		return nil, fmt.Errorf("attribute %s: name and attributeOf are required", doc.ID)
	}

	return a, nil
}

// AttributeID returns the conventional id of attribute name on class.
func AttributeID(class Ref, name string) Ref {
	return class + "_" + Ref(name)
}
