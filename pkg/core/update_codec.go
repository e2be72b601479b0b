package core

import (
	"fmt"
	"strings"
)

// Encode renders the update in its wire shape:
//
//	{"title": "x", "$inc": {"n": 1}, "$push": {"tags": {"$each": ["a"], "$position": 0}}}
//
// Multiple operators of the same kind on the same field keep only the last one
// in the encoded form, so callers that need exact replay should build updates
// with at most one operator per field and kind.
func (u Update) Encode() map[string]any {
	out := make(map[string]any)

	group := func(op string) map[string]any {
		g, ok := out[op].(map[string]any)
		if !ok {
			g = make(map[string]any)
			out[op] = g
		}

		return g
	}

	for _, op := range u {
		switch o := op.(type) {
		case Set:
			out[o.Path] = o.Value
		case Unset:
			group("$unset")[o.Path] = ""
		case Inc:
			group("$inc")[o.Path] = o.By
		case Push:
			if o.Position == nil && len(o.Values) == 1 {
				group("$push")[o.Path] = o.Values[0]

				continue
			}

			each := map[string]any{"$each": o.Values}
			if o.Position != nil {
				each["$position"] = *o.Position
			}

			group("$push")[o.Path] = each
		case Pull:
			if len(o.Values) == 1 {
				group("$pull")[o.Path] = o.Values[0]

				continue
			}

			group("$pull")[o.Path] = map[string]any{"$in": o.Values}
		}
	}

	return out
}

var operatorOrder = []string{"$unset", "$inc", "$push", "$pull"}

// DecodeUpdate parses the wire shape produced by [Update.Encode].
//
// Direct field assignments come first, then $unset, $inc, $push and $pull,
// each in lexical field order. Any other "$" key fails with [ErrUnknownOperator].
func DecodeUpdate(m map[string]any) (Update, error) {
	var u Update

	for _, key := range sortedKeys(m) {
		if !strings.HasPrefix(key, "$") {
			u = append(u, Set{Path: key, Value: m[key]})

			continue
		}

		known := false

		for _, op := range operatorOrder {
			if op == key {
				known = true
			}
		}

		if !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, key)
		}
	}

	for _, op := range operatorOrder {
		raw, ok := m[op]
		if !ok {
			continue
		}

		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects an object, got %T", ErrInvalidUpdate, op, raw)
		}

		for _, field := range sortedKeys(fields) {
			decoded, err := decodeOp(op, field, fields[field])
			if err != nil {
				return nil, err
			}

			u = append(u, decoded)
		}
	}

	return u, nil
}

func decodeOp(op string, field string, v any) (Op, error) {
	switch op {
	case "$unset":
		return Unset{Path: field}, nil
	case "$inc":
		by, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: $inc %s by %T", ErrInvalidUpdate, field, v)
		}

		return Inc{Path: field, By: by}, nil
	case "$push":
		form, ok := v.(map[string]any)
		if !ok {
			return Push{Path: field, Values: []any{v}}, nil
		}

		each, hasEach := form["$each"]
		if !hasEach {
			return Push{Path: field, Values: []any{v}}, nil
		}

		values, ok := asSlice(each)
		if !ok {
			return nil, fmt.Errorf("%w: $push %s $each must be an array", ErrInvalidUpdate, field)
		}

		p := Push{Path: field, Values: values}

		if pos, ok := form["$position"]; ok {
			n, isNum := toFloat(pos)
			if !isNum {
				return nil, fmt.Errorf("%w: $push %s $position must be a number", ErrInvalidUpdate, field)
			}

			i := int(n)
			p.Position = &i
		}

		return p, nil
	case "$pull":
		form, ok := v.(map[string]any)
		if ok {
			if in, hasIn := form["$in"]; hasIn {
				values, isSlice := asSlice(in)
				if !isSlice {
					return nil, fmt.Errorf("%w: $pull %s $in must be an array", ErrInvalidUpdate, field)
				}

				return Pull{Path: field, Values: values}, nil
			}
		}

		return Pull{Path: field, Values: []any{v}}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
}
