package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/txcore/internal/app"
	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

var (
	errMissingArgs   = errors.New("missing arguments")
	errBadAssignment = errors.New("expected key=value")
	errDocNotFound   = errors.New("document not found")
)

// parseValue decodes s as JSON, falling back to the literal string. "3" is
// a number, "true" a boolean, `"3"` and "three" strings.
func parseValue(s string) any {
	var v any

	err := json.Unmarshal([]byte(s), &v)
	if err != nil {
		return s
	}

	return v
}

// parseAssignment splits "key=value" and decodes the value.
func parseAssignment(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("%w: %q", errBadAssignment, s)
	}

	return key, parseValue(raw), nil
}

// parseAssignments parses repeated key=value flags into a map. Later keys
// win.
func parseAssignments(list []string) (map[string]any, error) {
	out := make(map[string]any, len(list))

	for _, s := range list {
		key, value, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}

		out[key] = value
	}

	return out, nil
}

func setFlag(fs *flag.FlagSet) {
	fs.StringArrayP("set", "s", nil, "Set `key=value` (value is JSON or a plain string, repeatable)")
}

func getAssignments(fs *flag.FlagSet, name string) (map[string]any, error) {
	list, _ := fs.GetStringArray(name)

	return parseAssignments(list)
}

// findDoc loads the document id of class.
func findDoc(ctx context.Context, a *app.App, class core.Ref, id core.Ref) (*core.Doc, error) {
	doc, err := a.Ops.FindOne(ctx, class, core.Query{core.FieldID: string(id)})
	if err != nil {
		return nil, err
	}

	if doc == nil {
		return nil, fmt.Errorf("%w: %s %s", errDocNotFound, class, id)
	}

	return doc, nil
}

func printDocs(o *IO, docs []*core.Doc) error {
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", doc.ID, err)
		}

		o.Println(string(data))
	}

	return nil
}

// splitLine splits a shell line into words. Single and double quotes group
// words; a backslash escapes the next character outside single quotes.
func splitLine(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)

			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()

				inWord = false
			}
		default:
			cur.WriteRune(r)

			inWord = true
		}
	}

	if quote != 0 || escaped {
		return nil, errors.New("unterminated quote or escape")
	}

	if inWord {
		words = append(words, cur.String())
	}

	return words, nil
}

// warnDerived turns derived processing failures of a committed transaction
// into a warning. The transaction itself stays committed.
func warnDerived(o *IO, res core.TxResult) {
	if res.DerivedErr != nil {
		o.Warn("derived processing failed: "+res.DerivedErr.Error(), "run reindex if search results look stale")
	}
}
