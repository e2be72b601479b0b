package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// CreateCmd returns the create command.
func CreateCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	setFlag(fs)
	fs.String("space", string(core.SpaceWorkspace), "Space `ref`")
	fs.String("id", "", "Document id (generated if empty)")

	return &Command{
		Flags:   fs,
		Usage:   "create <class> [flags]",
		Short:   "Create document, prints ID",
		Group:   groupDocuments,
		MinArgs: 1,
		Long: `Create a document of <class>. Prints the document ID on success.

Values given with --set are decoded as JSON when possible:
  txcore create tracker:class:Issue -s title=Launch -s estimate=3`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execCreate(ctx, io, ws, fs, args)
		},
	}
}

func execCreate(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet, args []string) error {
	attrs, err := getAssignments(fs, "set")
	if err != nil {
		return err
	}

	space, _ := fs.GetString("space")
	id, _ := fs.GetString("id")

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	created, err := a.Ops.CreateDoc(ctx, core.Ref(args[0]), core.Ref(space), attrs, core.Ref(id))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	io.Println(created)

	return nil
}
