package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

var errNoOperations = errors.New("no operations given")

// UpdateCmd returns the update command.
func UpdateCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	setFlag(fs)
	fs.StringArray("unset", nil, "Remove `key` (repeatable)")
	fs.StringArray("inc", nil, "Increment `key=n` (repeatable)")
	fs.StringArray("push", nil, "Append `key=value` to an array (repeatable)")
	fs.StringArray("pull", nil, "Remove `key=value` from an array (repeatable)")

	return &Command{
		Flags:   fs,
		Usage:   "update <class> <id> [flags]",
		Short:   "Apply update operators to a document",
		Group:   groupDocuments,
		MinArgs: 2,
		Long: `Apply update operators to a document. Attached documents are updated
through their parent's collection. Operators apply in flag order per kind:
set, unset, inc, push, pull.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execUpdate(ctx, io, ws, fs, args)
		},
	}
}

func execUpdate(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet, args []string) error {
	ops, err := updateOps(fs)
	if err != nil {
		return err
	}

	if len(ops) == 0 {
		return errNoOperations
	}

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	doc, err := findDoc(ctx, a, core.Ref(args[0]), core.Ref(args[1]))
	if err != nil {
		return err
	}

	res, err := a.Ops.Update(ctx, doc, ops...)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	warnDerived(io, res)

	io.Println(doc.ID)

	return nil
}

// updateOps builds the operator list from the update flags.
func updateOps(fs *flag.FlagSet) ([]core.Op, error) {
	var ops []core.Op

	sets, _ := fs.GetStringArray("set")
	for _, s := range sets {
		key, value, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}

		ops = append(ops, core.Set{Path: key, Value: value})
	}

	unsets, _ := fs.GetStringArray("unset")
	for _, key := range unsets {
		ops = append(ops, core.Unset{Path: key})
	}

	incs, _ := fs.GetStringArray("inc")
	for _, s := range incs {
		key, value, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}

		n, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: --inc %s: not a number", errBadAssignment, s)
		}

		ops = append(ops, core.Inc{Path: key, By: n})
	}

	pushes, _ := fs.GetStringArray("push")
	for _, s := range pushes {
		key, value, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}

		ops = append(ops, core.Push{Path: key, Values: []any{value}})
	}

	pulls, _ := fs.GetStringArray("pull")
	for _, s := range pulls {
		key, value, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}

		ops = append(ops, core.Pull{Path: key, Values: []any{value}})
	}

	return ops, nil
}
