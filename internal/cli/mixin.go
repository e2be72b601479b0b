package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// MixinCmd returns the mixin command.
func MixinCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("mixin", flag.ContinueOnError)
	setFlag(fs)

	return &Command{
		Flags:   fs,
		Usage:   "mixin <class> <id> <mixin> [flags]",
		Short:   "Attach or update mixin data on a document",
		Group:   groupDocuments,
		MinArgs: 3,
		Long: `Set mixin attributes on a document. The mixin must extend the
document's class.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execMixin(ctx, io, ws, fs, args)
		},
	}
}

func execMixin(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet, args []string) error {
	data, err := getAssignments(fs, "set")
	if err != nil {
		return err
	}

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	doc, err := findDoc(ctx, a, core.Ref(args[0]), core.Ref(args[1]))
	if err != nil {
		return err
	}

	res, err := a.Ops.CreateMixin(ctx, doc.ID, doc.Class, doc.Space, core.Ref(args[2]), data)
	if err != nil {
		return fmt.Errorf("mixin: %w", err)
	}

	warnDerived(io, res)

	io.Println(doc.ID)

	return nil
}
