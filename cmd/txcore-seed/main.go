// Package main provides txcore-seed, a tool that seeds workspaces on every
// storage backend and reports write, reopen and search timings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/txcore/internal/app"
	"github.com/calvinalkan/txcore/internal/config"
	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

const seedModel = `
classes:
  - id: seed:class:Issue
    collaborators: [assignee]
    presenter: {text: title}
    attributes:
      - {name: title, type: string, index: fulltext}
      - {name: estimate, type: number, index: indexed}
      - {name: assignee, type: "ref(core:class:Account)"}
docs:
  - {class: core:class:Account, id: seed:account:writer, attributes: {name: writer, email: writer@example.com}}
  - {class: core:class:Account, id: seed:account:owner, attributes: {name: owner, email: owner@example.com}}
notificationTypes:
  - id: seed:notification:Assigned
    objectClass: seed:class:Issue
    txClasses: [core:class:TxCreateDoc]
    providers: {platform: true}
    templates: {text: "{sender} assigned {doc}", subject: "Assigned: {doc}"}
`

const classIssue core.Ref = "seed:class:Issue"

// result holds the timings of one backend run.
type result struct {
	Backend string
	Count   int
	Write   time.Duration
	Reopen  time.Duration
	Search  time.Duration
	Hits    int
}

func main() {
	backends := flag.StringSlice("backends", []string{config.StorageMemory, config.StorageFile, config.StorageSQLite, config.StorageBadger}, "Storage backends to seed")
	count := flag.Int("count", 1000, "Documents to create per backend")
	root := flag.String("root", filepath.Join(os.TempDir(), "txcore-seed"), "Data root directory (recreated)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, *root, *backends, *count)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, root string, backends []string, count int) error {
	_ = os.RemoveAll(root)

	err := os.MkdirAll(root, 0o750)
	if err != nil {
		return fmt.Errorf("creating root: %w", err)
	}

	modelPath := filepath.Join(root, "seed.yaml")

	err = os.WriteFile(modelPath, []byte(seedModel), 0o600)
	if err != nil {
		return fmt.Errorf("writing model: %w", err)
	}

	results := make([]result, 0, len(backends))

	for _, backend := range backends {
		cfg := config.Default()
		cfg.Storage = backend
		cfg.Account = "seed:account:writer"
		cfg.Email = config.EmailNone
		cfg.EffectiveCwd = root
		cfg.DataDirAbs = filepath.Join(root, backend)
		cfg.ModelFilesAbs = []string{modelPath}

		res, err := seed(ctx, cfg, count)
		if err != nil {
			return fmt.Errorf("%s: %w", backend, err)
		}

		results = append(results, res)
	}

	printResults(results)

	return nil
}

func seed(ctx context.Context, cfg config.Config, count int) (result, error) {
	res := result{Backend: cfg.Storage, Count: count}
	logger := zerolog.Nop()

	a, err := app.Open(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		return res, err
	}

	start := time.Now()

	for i := range count {
		attrs := map[string]any{
			"title":    "Seeded issue " + strconv.Itoa(i) + " " + words[i%len(words)],
			"estimate": i % 13,
		}

		if i%4 == 0 {
			attrs["assignee"] = "seed:account:owner"
		}

		_, err = a.Ops.CreateDoc(ctx, classIssue, core.SpaceWorkspace, attrs, "")
		if err != nil {
			_ = a.Close()

			return res, fmt.Errorf("create %d: %w", i, err)
		}
	}

	res.Write = time.Since(start)

	// Memory storage has nothing to reopen; search the live workspace.
	if cfg.Storage != config.StorageMemory {
		err = a.Close()
		if err != nil {
			return res, err
		}

		start = time.Now()

		a, err = app.Open(ctx, cfg, app.WithLogger(logger))
		if err != nil {
			return res, fmt.Errorf("reopen: %w", err)
		}

		res.Reopen = time.Since(start)
	}

	defer func() { _ = a.Close() }()

	start = time.Now()

	hits, err := a.Ops.FindAll(ctx, classIssue, core.Query{core.SearchKey: words[0]}, nil)
	if err != nil {
		return res, fmt.Errorf("search: %w", err)
	}

	res.Search = time.Since(start)
	res.Hits = len(hits)

	return res, nil
}

var words = []string{"rocket", "garden", "harbor", "lantern", "meadow", "signal", "timber"}

func printResults(results []result) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%-8s %8s %12s %12s %12s %8s\n", "backend", "docs", "write", "reopen", "search", "hits")

	for _, r := range results {
		fmt.Fprintf(&sb, "%-8s %8d %12s %12s %12s %8d\n",
			r.Backend, r.Count, r.Write.Round(time.Millisecond), r.Reopen.Round(time.Millisecond),
			r.Search.Round(time.Microsecond), r.Hits)
	}

	fmt.Print(sb.String())
}
