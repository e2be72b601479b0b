package core

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// SearchKey is the top-level query key that requests full-text search.
const SearchKey = "$search"

// Query maps dotted field paths to a value (equality) or to a predicate object
// such as {"$in": [...]}.
//
// Equality against an array field matches when the array contains the value.
type Query map[string]any

// Without returns a copy of q without keys.
func (q Query) Without(keys ...string) Query {
	out := make(Query, len(q))

	for k, v := range q {
		if !slices.Contains(keys, k) {
			out[k] = v
		}
	}

	return out
}

// In matches values equal to any of values.
func In[T any](values ...T) map[string]any {
	return map[string]any{"$in": toAnySlice(values)}
}

// Nin matches values equal to none of values.
func Nin[T any](values ...T) map[string]any {
	return map[string]any{"$nin": toAnySlice(values)}
}

// Like matches strings against an SQL LIKE pattern where '%' is a wildcard.
func Like(pattern string) map[string]any { return map[string]any{"$like": pattern} }

// Regex matches strings against a regular expression. options may contain
// 'i', 'm' and 's'.
func Regex(pattern string, options string) map[string]any {
	p := map[string]any{"$regex": pattern}
	if options != "" {
		p["$options"] = options
	}

	return p
}

func toAnySlice[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}

// SortKey orders results by Field.
type SortKey struct {
	Field string
	Desc  bool
}

// FindOptions limits and orders query results.
type FindOptions struct {
	// Limit caps the number of results when positive.
	Limit int

	// Sort orders results; ties and unsorted results are ordered by _id.
	Sort []SortKey
}

func (o *FindOptions) apply(docs []*Doc) []*Doc {
	var keys []SortKey
	if o != nil {
		keys = o.Sort
	}

	slices.SortStableFunc(docs, func(a, b *Doc) int {
		for _, k := range keys {
			av, _ := a.Get(k.Field)
			bv, _ := b.Get(k.Field)

			c := compareValues(av, bv)
			if k.Desc {
				c = -c
			}

			if c != 0 {
				return c
			}
		}

		return strings.Compare(string(a.ID), string(b.ID))
	})

	if o != nil && o.Limit > 0 && len(docs) > o.Limit {
		docs = docs[:o.Limit]
	}

	return docs
}

// Matcher is a compiled query.
type Matcher struct {
	fields []fieldMatcher
}

type fieldMatcher struct {
	path  string
	conds []cond
}

// cond tests a resolved field value. present is false for missing fields.
type cond func(value any, present bool) bool

// CompileQuery validates q and prepares it for matching.
//
// Supported predicate operators are $in, $nin, $ne, $exists, $gt, $gte, $lt,
// $lte, $like and $regex (with $options). Any other operator fails with
// [ErrUnknownPredicate].
func CompileQuery(q Query) (*Matcher, error) {
	m := &Matcher{}

	for _, path := range sortedKeys(q) {
		if path == SearchKey {
			return nil, ErrSearchUnsupported
		}

		if strings.HasPrefix(path, "$") {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, path)
		}

		conds, err := compileField(q[path])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		m.fields = append(m.fields, fieldMatcher{path: path, conds: conds})
	}

	return m, nil
}

// Match reports whether doc satisfies every field predicate.
func (m *Matcher) Match(doc *Doc) bool {
	for _, f := range m.fields {
		v, ok := doc.Get(f.path)

		for _, c := range f.conds {
			if !c(v, ok) {
				return false
			}
		}
	}

	return true
}

func isPredicate(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}

	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}

	return m, true
}

func compileField(v any) ([]cond, error) {
	pred, ok := isPredicate(v)
	if !ok {
		return []cond{equals(v)}, nil
	}

	var conds []cond

	for _, op := range sortedKeys(pred) {
		operand := pred[op]

		switch op {
		case "$in", "$nin":
			values, isSlice := asSlice(operand)
			if !isSlice {
				return nil, fmt.Errorf("%w: %s expects an array", ErrInvalidQuery, op)
			}

			in := inSet(values)
			if op == "$in" {
				conds = append(conds, in)
			} else {
				conds = append(conds, func(v any, present bool) bool { return !in(v, present) })
			}
		case "$ne":
			eq := equals(operand)
			conds = append(conds, func(v any, present bool) bool { return !eq(v, present) })
		case "$exists":
			want, isBool := operand.(bool)
			if !isBool {
				return nil, fmt.Errorf("%w: $exists expects a bool", ErrInvalidQuery)
			}

			conds = append(conds, func(_ any, present bool) bool { return present == want })
		case "$gt", "$gte", "$lt", "$lte":
			conds = append(conds, comparison(op, operand))
		case "$like":
			pattern, isString := operand.(string)
			if !isString {
				return nil, fmt.Errorf("%w: $like expects a string", ErrInvalidQuery)
			}

			re, err := regexp.Compile(LikeToRegexp(pattern))
			if err != nil {
				return nil, fmt.Errorf("%w: $like: %w", ErrInvalidQuery, err)
			}

			conds = append(conds, matchString(re))
		case "$regex":
			pattern, isString := operand.(string)
			if !isString {
				return nil, fmt.Errorf("%w: $regex expects a string", ErrInvalidQuery)
			}

			opts, _ := pred["$options"].(string)

			re, err := compileRegex(pattern, opts)
			if err != nil {
				return nil, fmt.Errorf("%w: $regex: %w", ErrInvalidQuery, err)
			}

			conds = append(conds, matchString(re))
		case "$options":
			if _, hasRegex := pred["$regex"]; !hasRegex {
				return nil, fmt.Errorf("%w: $options without $regex", ErrInvalidQuery)
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, op)
		}
	}

	return conds, nil
}

// LikeToRegexp translates an SQL LIKE pattern: regex metacharacters are
// escaped, '%' becomes '.*', and the result is anchored and case-insensitive.
func LikeToRegexp(pattern string) string {
	parts := strings.Split(pattern, "%")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}

	return "(?is)^" + strings.Join(parts, ".*") + "$"
}

func compileRegex(pattern string, options string) (*regexp.Regexp, error) {
	var flags strings.Builder

	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags.WriteRune(o)
		default:
			return nil, fmt.Errorf("unsupported option %q", o)
		}
	}

	if flags.Len() > 0 {
		pattern = "(?" + flags.String() + ")" + pattern
	}

	return regexp.Compile(pattern)
}

func equals(want any) cond {
	return func(v any, present bool) bool {
		if !present || v == nil {
			return want == nil
		}

		if valuesEqual(v, want) {
			return true
		}

		if items, ok := asSlice(v); ok {
			if _, wantSlice := asSlice(want); !wantSlice {
				return slices.ContainsFunc(items, func(item any) bool { return valuesEqual(item, want) })
			}
		}

		return false
	}
}

func inSet(values []any) cond {
	eqs := make([]cond, len(values))
	for i, v := range values {
		eqs[i] = equals(v)
	}

	return func(v any, present bool) bool {
		for _, eq := range eqs {
			if eq(v, present) {
				return true
			}
		}

		return false
	}
}

func comparison(op string, operand any) cond {
	return func(v any, present bool) bool {
		if !present || v == nil {
			return false
		}

		c := compareValues(v, operand)

		switch op {
		case "$gt":
			return c > 0
		case "$gte":
			return c >= 0
		case "$lt":
			return c < 0
		default:
			return c <= 0
		}
	}
}

func matchString(re *regexp.Regexp) cond {
	return func(v any, present bool) bool {
		if !present {
			return false
		}

		s, ok := v.(string)
		if !ok {
			return false
		}

		return re.MatchString(s)
	}
}
