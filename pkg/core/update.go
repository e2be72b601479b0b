package core

import (
	"fmt"
	"slices"
	"strings"
)

// OpKind tags an update operator.
type OpKind uint8

const (
	OpSet OpKind = iota + 1
	OpUnset
	OpInc
	OpPush
	OpPull
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "$set"
	case OpUnset:
		return "$unset"
	case OpInc:
		return "$inc"
	case OpPush:
		return "$push"
	case OpPull:
		return "$pull"
	}

	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is a single update operator on one field.
//
// The set of implementations is closed: [Set], [Unset], [Inc], [Push] and
// [Pull]. Field paths may be dotted to address nested objects.
type Op interface {
	Field() string
	Kind() OpKind
	op()
}

// Set assigns Value to the field.
type Set struct {
	Path  string
	Value any
}

// Unset removes the field.
type Unset struct {
	Path string
}

// Inc adds By to a numeric field. A missing field counts as zero.
type Inc struct {
	Path string
	By   float64
}

// Push inserts Values into an array field at Position, or appends them when
// Position is nil. A missing field starts as an empty array.
type Push struct {
	Path     string
	Values   []any
	Position *int
}

// Pull removes every element equal to one of Values from an array field.
type Pull struct {
	Path   string
	Values []any
}

func (o Set) Field() string   { return o.Path }
func (o Unset) Field() string { return o.Path }
func (o Inc) Field() string   { return o.Path }
func (o Push) Field() string  { return o.Path }
func (o Pull) Field() string  { return o.Path }

func (Set) Kind() OpKind   { return OpSet }
func (Unset) Kind() OpKind { return OpUnset }
func (Inc) Kind() OpKind   { return OpInc }
func (Push) Kind() OpKind  { return OpPush }
func (Pull) Kind() OpKind  { return OpPull }

func (Set) op()   {}
func (Unset) op() {}
func (Inc) op()   {}
func (Push) op()  {}
func (Pull) op()  {}

// PushAt returns a Push inserting values at position.
func PushAt(field string, position int, values ...any) Push {
	return Push{Path: field, Values: values, Position: &position}
}

// Update is an ordered list of operators applied to one document.
type Update []Op

// Touches reports whether field is directly set, pushed to or pulled from.
// Increments and unsets do not count as touching a field.
func (u Update) Touches(field string) bool {
	for _, op := range u {
		if op.Field() != field {
			continue
		}

		switch op.Kind() {
		case OpSet, OpPush, OpPull:
			return true
		}
	}

	return false
}

// Value returns the value of the last direct Set of field.
func (u Update) Value(field string) (any, bool) {
	for i := len(u) - 1; i >= 0; i-- {
		if s, ok := u[i].(Set); ok && s.Path == field {
			return s.Value, true
		}
	}

	return nil, false
}

// Sets returns the directly set fields and their values.
func (u Update) Sets() map[string]any {
	out := make(map[string]any)

	for _, op := range u {
		if s, ok := op.(Set); ok {
			out[s.Path] = s.Value
		}
	}

	return out
}

// Pushed returns every value pushed to field.
func (u Update) Pushed(field string) []any {
	var out []any

	for _, op := range u {
		if p, ok := op.(Push); ok && p.Path == field {
			out = append(out, p.Values...)
		}
	}

	return out
}

// Fields returns the distinct fields touched by any operator, in order of
// first appearance.
func (u Update) Fields() []string {
	var out []string

	for _, op := range u {
		if !slices.Contains(out, op.Field()) {
			out = append(out, op.Field())
		}
	}

	return out
}

// NewUpdate builds an update for documents of class and checks each operator
// against the declared type of its attribute.
//
// Fields without a declared attribute are free-form and accepted as is.
func NewUpdate(h *Hierarchy, class Ref, ops ...Op) (Update, error) {
	u := Update(ops)

	err := u.Validate(h, class)
	if err != nil {
		return nil, err
	}

	return u, nil
}

// Validate checks every operator against the attribute types declared on class.
func (u Update) Validate(h *Hierarchy, class Ref) error {
	for _, op := range u {
		if op.Field() == "" {
			return fmt.Errorf("%w: %s with empty field", ErrInvalidUpdate, op.Kind())
		}

		head, _, nested := strings.Cut(op.Field(), ".")
		if nested {
			continue
		}

		attr, ok := h.FindAttribute(class, head)
		if !ok {
			continue
		}

		err := checkOp(op, attr)
		if err != nil {
			return err
		}
	}

	return nil
}

func checkOp(op Op, attr *Attribute) error {
	bad := func(msg string) error {
		return fmt.Errorf("%w: %s on %s (%s): %s", ErrInvalidUpdate, op.Kind(), attr.Name, attr.Type, msg)
	}

	switch o := op.(type) {
	case Set:
		if o.Value == nil {
			return nil
		}

		if !valueFits(attr.Type, o.Value) {
			return bad(fmt.Sprintf("value of type %T", o.Value))
		}
	case Unset:
	case Inc:
		if attr.Type.Kind != TypeNumber && attr.Type.Kind != TypeCollection && attr.Type.Kind != TypeAny {
			return bad("attribute is not numeric")
		}
	case Push, Pull:
		if attr.Type.Kind != TypeArrOf && attr.Type.Kind != TypeAny {
			return bad("attribute is not an array")
		}

		var values []any
		if p, isPush := o.(Push); isPush {
			values = p.Values
		} else {
			values = o.(Pull).Values
		}

		if attr.Type.Of == nil {
			return nil
		}

		for _, v := range values {
			if !valueFits(*attr.Type.Of, v) {
				return bad(fmt.Sprintf("element of type %T", v))
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownOperator, op)
	}

	return nil
}

// valueFits reports whether v is an acceptable value for t.
func valueFits(t Type, v any) bool {
	switch t.Kind {
	case TypeString, TypeMarkup:
		_, ok := v.(string)

		return ok
	case TypeRef:
		_, ok := toRef(v)

		return ok
	case TypeNumber, TypeDate, TypeCollection:
		_, ok := toFloat(v)

		return ok
	case TypeBoolean:
		_, ok := v.(bool)

		return ok
	case TypeArrOf:
		items, ok := asSlice(v)
		if !ok {
			return false
		}

		if t.Of == nil {
			return true
		}

		for _, item := range items {
			if !valueFits(*t.Of, item) {
				return false
			}
		}

		return true
	case TypeBag:
		_, ok := v.(map[string]any)

		return ok
	}

	return true
}

// fieldStore is the target of an update: a document's header and attributes,
// or one mixin's data.
type fieldStore interface {
	get(field string) (any, bool)
	set(field string, value any) error
	unset(field string)
}

type docFields struct{ doc *Doc }

func (s docFields) get(field string) (any, bool) { return s.doc.Get(field) }

func (s docFields) set(field string, value any) error {
	if !strings.Contains(field, ".") {
		handled, err := s.doc.setHeader(field, value)
		if handled {
			return err
		}
	}

	if s.doc.Attributes == nil {
		s.doc.Attributes = make(map[string]any)
	}

	return setPath(s.doc.Attributes, field, value)
}

func (s docFields) unset(field string) {
	if !strings.Contains(field, ".") {
		if handled, _ := s.doc.setHeader(field, nil); handled {
			return
		}
	}

	unsetPath(s.doc.Attributes, field)
}

type mapFields map[string]any

func (m mapFields) get(field string) (any, bool)       { return lookupPath(m, field) }
func (m mapFields) set(field string, value any) error { return setPath(m, field, value) }
func (m mapFields) unset(field string)                { unsetPath(m, field) }

func setPath(m map[string]any, path string, value any) error {
	segs := strings.Split(path, ".")
	cur := m

	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			nm := make(map[string]any)
			cur[seg] = nm
			cur = nm

			continue
		}

		nm, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s is not an object", ErrInvalidUpdate, seg)
		}

		cur = nm
	}

	cur[segs[len(segs)-1]] = cloneValue(value)

	return nil
}

func unsetPath(m map[string]any, path string) {
	if m == nil {
		return
	}

	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		delete(m, head)

		return
	}

	if child, ok := m[head].(map[string]any); ok {
		unsetPath(child, rest)
	}
}

// applyUpdate applies u to store in order.
func applyUpdate(store fieldStore, u Update) error {
	for _, op := range u {
		err := applyOp(store, op)
		if err != nil {
			return err
		}
	}

	return nil
}

func applyOp(store fieldStore, op Op) error {
	switch o := op.(type) {
	case Set:
		return store.set(o.Path, o.Value)
	case Unset:
		store.unset(o.Path)

		return nil
	case Inc:
		cur, ok := store.get(o.Path)

		base := 0.0
		if ok && cur != nil {
			f, isNum := toFloat(cur)
			if !isNum {
				return fmt.Errorf("%w: $inc on non-numeric %s", ErrInvalidUpdate, o.Path)
			}

			base = f
		}

		return store.set(o.Path, base+o.By)
	case Push:
		items, err := currentArray(store, o.Path)
		if err != nil {
			return err
		}

		values := make([]any, len(o.Values))
		for i, v := range o.Values {
			values[i] = cloneValue(v)
		}

		pos := len(items)
		if o.Position != nil {
			pos = min(max(*o.Position, 0), len(items))
		}

		items = slices.Insert(items, pos, values...)

		return store.set(o.Path, items)
	case Pull:
		items, err := currentArray(store, o.Path)
		if err != nil {
			return err
		}

		items = slices.DeleteFunc(items, func(item any) bool {
			return slices.ContainsFunc(o.Values, func(v any) bool { return valuesEqual(item, v) })
		})

		return store.set(o.Path, items)
	}

	return fmt.Errorf("%w: %T", ErrUnknownOperator, op)
}

func currentArray(store fieldStore, field string) ([]any, error) {
	cur, ok := store.get(field)
	if !ok || cur == nil {
		return []any{}, nil
	}

	items, ok := asSlice(cur)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an array", ErrInvalidUpdate, field)
	}

	return slices.Clone(items), nil
}
