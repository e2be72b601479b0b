package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// FindCmd returns the find command.
func FindCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	fs.StringArrayP("where", "w", nil, "Match `key=value` (value is JSON or a plain string, repeatable)")
	fs.Int("limit", 0, "Maximum number of results (0 = all)")
	fs.StringArray("sort", nil, "Sort by `field` (prefix with - for descending, repeatable)")

	return &Command{
		Flags:   fs,
		Usage:   "find <class> [flags]",
		Short:   "Query documents, one JSON object per line",
		Group:   groupQueries,
		MinArgs: 1,
		Long: `Query documents of <class> and its descendants. Object values in
--where are operators, for example:
  txcore find tracker:class:Issue -w 'estimate={"$gte":3}' --sort -modifiedOn`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execFind(ctx, io, ws, fs, args)
		},
	}
}

func execFind(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet, args []string) error {
	query, err := getAssignments(fs, "where")
	if err != nil {
		return err
	}

	limit, _ := fs.GetInt("limit")
	sorts, _ := fs.GetStringArray("sort")

	opts := &core.FindOptions{Limit: limit}

	for _, s := range sorts {
		field, desc := strings.CutPrefix(s, "-")
		opts.Sort = append(opts.Sort, core.SortKey{Field: field, Desc: desc})
	}

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	docs, err := a.Ops.FindAll(ctx, core.Ref(args[0]), core.Query(query), opts)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}

	return printDocs(io, docs)
}
