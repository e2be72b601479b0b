// Package core implements the workspace data model.
//
// The model is event sourced: a [Doc] is never written directly, it is the
// left fold of the transactions ([Tx]) that target its id, applied in commit
// order. The package provides:
//
//   - [Hierarchy]: the classifier graph (classes, interfaces, mixins) and
//     attribute resolution.
//   - [ModelDb]: the in-memory fold of a transaction log plus the query engine.
//   - [TxFactory] and [TxOperations]: construction of well-formed transactions
//     and the typed operations facade used by clients and triggers.
//
// Nothing in this package keeps global state. A [Hierarchy] is built from model
// transactions and passed explicitly to every component that needs it.
package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Ref identifies a document, classifier, space or account.
//
// Well-known refs use the "plugin:kind:Name" form (for example
// "core:class:Doc"). Refs never contain '.', which is reserved as the
// separator of dotted attribute paths.
type Ref string

// String implements fmt.Stringer.
func (r Ref) String() string { return string(r) }

// Reserved document field names.
const (
	FieldID              = "_id"
	FieldClass           = "_class"
	FieldSpace           = "space"
	FieldModifiedOn      = "modifiedOn"
	FieldModifiedBy      = "modifiedBy"
	FieldCreatedOn       = "createdOn"
	FieldCreatedBy       = "createdBy"
	FieldAttachedTo      = "attachedTo"
	FieldAttachedToClass = "attachedToClass"
	FieldCollection      = "collection"
)

// Doc is a materialized document.
//
// Header fields are typed; all other attributes live in Attributes. Mixin data
// is kept per mixin ref in Mixins and never changes the document's Class.
//
// Attached documents (children reachable through a parent's collection
// attribute) carry AttachedTo, AttachedToClass and Collection. For plain
// documents those fields are empty.
type Doc struct {
	ID         Ref
	Class      Ref
	Space      Ref
	ModifiedOn int64
	ModifiedBy Ref
	CreatedOn  int64
	CreatedBy  Ref

	AttachedTo      Ref
	AttachedToClass Ref
	Collection      string

	Attributes map[string]any
	Mixins     map[Ref]map[string]any
}

// IsAttached reports whether the document is attached to a parent.
func (d *Doc) IsAttached() bool {
	return d.AttachedTo != ""
}

// Get resolves a dotted path against the document.
//
// The first path segment is matched against header fields, then against mixin
// refs, then against Attributes. Remaining segments descend into nested maps.
func (d *Doc) Get(path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")

	if !nested {
		if v, ok := d.header(head); ok {
			return v, true
		}
	}

	if data, ok := d.Mixins[Ref(head)]; ok {
		if !nested {
			return data, true
		}

		return lookupPath(data, rest)
	}

	v, ok := d.Attributes[head]
	if !ok {
		return nil, false
	}

	if !nested {
		return v, true
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	return lookupPath(m, rest)
}

// String returns the attribute value as a string, or "" when missing.
func (d *Doc) String(field string) string {
	v, ok := d.Get(field)
	if !ok || v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	if r, ok := v.(Ref); ok {
		return string(r)
	}

	return fmt.Sprint(v)
}

// Refs returns a []Ref view of an array attribute. Non-string elements are skipped.
func (d *Doc) Refs(field string) []Ref {
	v, ok := d.Get(field)
	if !ok {
		return nil
	}

	return toRefs(v)
}

func (d *Doc) header(field string) (any, bool) {
	switch field {
	case FieldID:
		return string(d.ID), true
	case FieldClass:
		return string(d.Class), true
	case FieldSpace:
		return string(d.Space), true
	case FieldModifiedOn:
		return d.ModifiedOn, true
	case FieldModifiedBy:
		return string(d.ModifiedBy), true
	case FieldCreatedOn:
		return d.CreatedOn, true
	case FieldCreatedBy:
		return string(d.CreatedBy), true
	case FieldAttachedTo:
		return string(d.AttachedTo), d.AttachedTo != ""
	case FieldAttachedToClass:
		return string(d.AttachedToClass), d.AttachedToClass != ""
	case FieldCollection:
		return d.Collection, d.Collection != ""
	}

	return nil, false
}

// setHeader assigns a header field. It reports false when field is not a
// writable header field.
func (d *Doc) setHeader(field string, value any) (bool, error) {
	var target *Ref

	switch field {
	case FieldID, FieldClass:
		return true, fmt.Errorf("%w: %s is immutable", ErrInvalidUpdate, field)
	case FieldSpace:
		target = &d.Space
	case FieldAttachedTo:
		target = &d.AttachedTo
	case FieldAttachedToClass:
		target = &d.AttachedToClass
	case FieldCollection:
		s, ok := value.(string)
		if !ok && value != nil {
			return true, fmt.Errorf("%w: %s must be a string", ErrInvalidUpdate, field)
		}

		d.Collection = s

		return true, nil
	default:
		return false, nil
	}

	s, ok := toRef(value)
	if !ok && value != nil {
		return true, fmt.Errorf("%w: %s must be a ref", ErrInvalidUpdate, field)
	}

	*target = s

	return true, nil
}

// Clone returns a deep copy of the document.
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}

	c := *d
	c.Attributes = cloneMap(d.Attributes)

	if d.Mixins != nil {
		c.Mixins = make(map[Ref]map[string]any, len(d.Mixins))
		for k, v := range d.Mixins {
			c.Mixins[k] = cloneMap(v)
		}
	}

	return &c
}

// MarshalJSON renders the document in its flat wire shape: header fields,
// attributes, and one object per mixin keyed by the mixin ref.
func (d *Doc) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Attributes)+len(d.Mixins)+8)
	maps.Copy(out, d.Attributes)

	for k, v := range d.Mixins {
		out[string(k)] = v
	}

	out[FieldID] = d.ID
	out[FieldClass] = d.Class
	out[FieldSpace] = d.Space
	out[FieldModifiedOn] = d.ModifiedOn
	out[FieldModifiedBy] = d.ModifiedBy

	if d.CreatedOn != 0 {
		out[FieldCreatedOn] = d.CreatedOn
	}

	if d.CreatedBy != "" {
		out[FieldCreatedBy] = d.CreatedBy
	}

	if d.IsAttached() {
		out[FieldAttachedTo] = d.AttachedTo
		out[FieldAttachedToClass] = d.AttachedToClass
		out[FieldCollection] = d.Collection
	}

	return json.Marshal(out)
}

// UnmarshalJSON parses the flat wire shape produced by MarshalJSON.
// Object-valued keys containing ':' are treated as mixin data.
func (d *Doc) UnmarshalJSON(data []byte) error {
	var raw map[string]any

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	*d = Doc{}

	for k, v := range raw {
		switch k {
		case FieldModifiedOn:
			d.ModifiedOn = toInt64(v)
		case FieldCreatedOn:
			d.CreatedOn = toInt64(v)
		case FieldModifiedBy:
			d.ModifiedBy, _ = toRef(v)
		case FieldCreatedBy:
			d.CreatedBy, _ = toRef(v)
		case FieldID:
			d.ID, _ = toRef(v)
		case FieldClass:
			d.Class, _ = toRef(v)
		default:
			if ok, _ := d.setHeader(k, v); ok {
				continue
			}

			if m, isMap := v.(map[string]any); isMap && strings.Contains(k, ":") {
				if d.Mixins == nil {
					d.Mixins = make(map[Ref]map[string]any)
				}

				d.Mixins[Ref(k)] = m

				continue
			}

			if d.Attributes == nil {
				d.Attributes = make(map[string]any)
			}

			d.Attributes[k] = v
		}
	}

	return nil
}

// MixinView is a projection of a document through one of its mixins.
//
// Reads consult the mixin's data first and fall back to the document. The view
// shares storage with the document; it is not a copy.
type MixinView struct {
	Doc   *Doc
	Mixin Ref
}

// Get resolves field through the mixin data, then through the document.
func (v MixinView) Get(field string) (any, bool) {
	if data, ok := v.Doc.Mixins[v.Mixin]; ok {
		if val, found := lookupPath(data, field); found {
			return val, true
		}
	}

	return v.Doc.Get(field)
}

// Refs returns a []Ref view of an array field.
func (v MixinView) Refs(field string) []Ref {
	val, ok := v.Get(field)
	if !ok {
		return nil
	}

	return toRefs(val)
}

// Data returns the raw mixin data, or nil if the document lacks the mixin.
func (v MixinView) Data() map[string]any {
	return v.Doc.Mixins[v.Mixin]
}

func lookupPath(m map[string]any, path string) (any, bool) {
	cur := any(m)

	for seg := range strings.SplitSeq(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = mm[seg]
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

// sortedKeys returns map keys in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
