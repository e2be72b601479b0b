package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// RmCmd returns the rm command.
func RmCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)

	return &Command{
		Flags:   fs,
		Usage:   "rm <class> <id>",
		Short:   "Remove a document",
		Group:   groupDocuments,
		MinArgs: 2,
		Long:    "Remove a document. Attached documents are removed through their parent's collection.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execRm(ctx, io, ws, args)
		},
	}
}

func execRm(ctx context.Context, io *IO, ws *workspace, args []string) error {
	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	doc, err := findDoc(ctx, a, core.Ref(args[0]), core.Ref(args[1]))
	if err != nil {
		return err
	}

	res, err := a.Ops.Remove(ctx, doc)
	if err != nil {
		return fmt.Errorf("rm: %w", err)
	}

	warnDerived(io, res)

	io.Println("Removed", doc.ID)

	return nil
}
