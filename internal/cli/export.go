package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

// snapshot is the export file layout.
type snapshot struct {
	Account core.Ref    `json:"account"`
	Docs    []*core.Doc `json:"docs"`
}

// ExportCmd returns the export command.
func ExportCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.String("class", "", "Only documents whose class derives from `ref`")

	return &Command{
		Flags:   fs,
		Usage:   "export <path> [flags]",
		Short:   "Write a JSON snapshot of all documents",
		Group:   groupWorkspace,
		MinArgs: 1,
		Long: `Write every live document, model documents included, to <path> as one
JSON object. The file is replaced atomically.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execExport(ctx, io, ws, fs, args)
		},
	}
}

func execExport(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet, args []string) error {
	class, _ := fs.GetString("class")

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	h := a.Engine.Hierarchy()
	out := snapshot{Account: a.Ops.Factory().Account(), Docs: []*core.Doc{}}

	for _, doc := range a.Engine.Model().Snapshot() {
		if class != "" && !h.IsDerived(doc.Class, core.Ref(class)) {
			continue
		}

		out.Docs = append(out.Docs, doc)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	err = atomic.WriteFile(args[0], bytes.NewReader(append(data, '\n')))
	if err != nil {
		return fmt.Errorf("export: write %s: %w", args[0], err)
	}

	io.Printf("Exported %d documents to %s\n", len(out.Docs), args[0])

	return nil
}
