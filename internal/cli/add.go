package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// AddCmd returns the add command.
func AddCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	setFlag(fs)
	fs.String("id", "", "Document id (generated if empty)")
	fs.String("collection", "", "Parent collection `name` (discovered from the parent's class if empty)")

	return &Command{
		Flags:   fs,
		Usage:   "add <parent-id> <class> [flags]",
		Short:   "Create a document attached to a parent",
		Group:   groupDocuments,
		MinArgs: 2,
		Long: `Create a document of <class> attached to <parent-id>. Without
--collection the parent's class must have exactly one collection attribute
accepting <class>. Prints the new ID.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execAdd(ctx, io, ws, fs, args)
		},
	}
}

func execAdd(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet, args []string) error {
	attrs, err := getAssignments(fs, "set")
	if err != nil {
		return err
	}

	id, _ := fs.GetString("id")
	collection, _ := fs.GetString("collection")

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	parent, err := findDoc(ctx, a, core.ClassDoc, core.Ref(args[0]))
	if err != nil {
		return err
	}

	class := core.Ref(args[1])

	var created core.Ref

	if collection != "" {
		created, err = a.Ops.AddCollection(ctx, class, parent.Space, parent.ID, parent.Class, collection, attrs, core.Ref(id))
	} else {
		created, err = a.Ops.Add(ctx, parent, class, attrs, core.Ref(id))
	}

	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	io.Println(created)

	return nil
}
