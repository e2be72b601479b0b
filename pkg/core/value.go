package core

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// cloneValue deep-copies v into its canonical JSON-like form: strings,
// float64 numbers, bools, nil, []any and map[string]any. Refs become strings.
// Every value stored in a [Doc] goes through it, so documents look the same
// whether they were folded live or replayed from a JSON or CBOR log.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return v
	case Ref:
		return string(t)
	case map[string]any:
		return cloneMap(t)
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}

		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = cloneValue(e)
		}

		return out
	}

	if f, ok := toFloat(v); ok {
		return f
	}

	if items, ok := asSlice(v); ok {
		out := make([]any, len(items))
		for i, e := range items {
			out[i] = cloneValue(e)
		}

		return out
	}

	return v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

// asSlice normalizes any slice-typed value to []any.
func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []any:
		return t, true
	case []Ref:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = string(r)
		}

		return out, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}

		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func toRef(v any) (Ref, bool) {
	switch t := v.(type) {
	case Ref:
		return t, true
	case string:
		return Ref(t), true
	}

	return "", false
}

func toRefs(v any) []Ref {
	if r, ok := toRef(v); ok {
		return []Ref{r}
	}

	items, ok := asSlice(v)
	if !ok {
		return nil
	}

	out := make([]Ref, 0, len(items))
	for _, item := range items {
		if r, ok := toRef(item); ok {
			out = append(out, r)
		}
	}

	return out
}

// toFloat converts any numeric value (including CBOR-decoded integers).
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}

	return 0, false
}

func toInt64(v any) int64 {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return 0
	}

	return int64(f)
}

// normalize collapses representation differences that do not matter for
// equality: Ref vs string and the various numeric types.
func normalize(v any) any {
	if r, ok := v.(Ref); ok {
		return string(r)
	}

	if f, ok := toFloat(v); ok {
		return f
	}

	return v
}

// valuesEqual compares two attribute values structurally.
func valuesEqual(a, b any) bool {
	na, nb := normalize(a), normalize(b)

	switch x := na.(type) {
	case map[string]any:
		y, ok := nb.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}

		for k, v := range x {
			w, ok := y[k]
			if !ok || !valuesEqual(v, w) {
				return false
			}
		}

		return true
	case string, float64, bool, nil:
		return na == nb
	}

	xs, okA := asSlice(na)
	ys, okB := asSlice(nb)

	if okA && okB {
		if len(xs) != len(ys) {
			return false
		}

		for i := range xs {
			if !valuesEqual(xs[i], ys[i]) {
				return false
			}
		}

		return true
	}

	return reflect.DeepEqual(na, nb)
}

// compareValues orders two values: numbers numerically, everything else by
// string form. Missing values sort first.
func compareValues(a, b any) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)

	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}

	if a == nil && b == nil {
		return 0
	}

	if a == nil {
		return -1
	}

	if b == nil {
		return 1
	}

	return strings.Compare(fmt.Sprint(normalize(a)), fmt.Sprint(normalize(b)))
}
