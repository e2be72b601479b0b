package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// SearchCmd returns the search command.
func SearchCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.Int("limit", 0, "Maximum number of results (0 = all)")

	return &Command{
		Flags:   fs,
		Usage:   "search <class> <text...>",
		Short:   "Full-text search, best match first",
		Group:   groupQueries,
		MinArgs: 2,
		Long:    "Search the full-text index for documents of <class> matching every term of <text>.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execSearch(ctx, io, ws, fs, args)
		},
	}
}

func execSearch(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet, args []string) error {
	limit, _ := fs.GetInt("limit")

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	query := core.Query{core.SearchKey: strings.Join(args[1:], " ")}

	docs, err := a.Ops.FindAll(ctx, core.Ref(args[0]), query, &core.FindOptions{Limit: limit})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	return printDocs(io, docs)
}
