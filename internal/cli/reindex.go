package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// ReindexCmd returns the reindex command.
func ReindexCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "reindex [class...]",
		Short: "Rebuild the full-text index",
		Group: groupWorkspace,
		Long: `Rebuild full-text entries for the given classes and their descendants,
or for every document when no class is given.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execReindex(ctx, io, ws, args)
		},
	}
}

func execReindex(ctx context.Context, io *IO, ws *workspace, args []string) error {
	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	classes := make([]core.Ref, 0, len(args))
	for _, arg := range args {
		classes = append(classes, core.Ref(arg))
	}

	n, err := a.Engine.Index().Rebuild(ctx, classes...)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	io.Printf("Indexed %d documents\n", n)

	return nil
}
