package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/txcore/internal/app"
	"github.com/calvinalkan/txcore/internal/config"

	flag "github.com/spf13/pflag"
)

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. A signal cancels the running command's context.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("txcore", flag.ContinueOnError)
	globals.SetOutput(io.Discard)
	globals.SetInterspersed(false)

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use specified config `file`")
	dataDir := globals.String("data-dir", "", "Override data_dir")
	storage := globals.String("storage", "", "Override storage: memory|file|sqlite|badger")
	account := globals.String("account", "", "Act as account `ref`")
	logLevel := globals.String("log-level", "", "Override log_level")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals, nil)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: *workDir,
		ConfigPath:      *configPath,
		Overrides: config.Overrides{
			DataDir:  *dataDir,
			Storage:  *storage,
			LogLevel: *logLevel,
			Account:  *account,
		},
		Env: env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger, err := app.NewLogger(errOut, cfg.LogLevel)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	ws := &workspace{cfg: &cfg, logger: logger}
	commands := allCommands(ws, in)

	rest := globals.Args()
	if *help || len(rest) == 0 {
		printUsage(out, globals, commands)

		return 0
	}

	cmd, ok := lookup(commands, rest[0])
	if !ok {
		fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut, globals, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	code := cmd.Run(ctx, o, rest[1:])

	closeErr := ws.Close()
	if closeErr != nil {
		fprintln(errOut, "error:", closeErr)

		return 1
	}

	if code != 0 {
		return code
	}

	return o.Finish()
}

// workspace opens the app on first use so commands that do not touch the
// data directory (print-config, help) never lock it.
type workspace struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   []app.Option
	app    *app.App
}

func (w *workspace) open(ctx context.Context) (*app.App, error) {
	if w.app != nil {
		return w.app, nil
	}

	opts := append([]app.Option{app.WithLogger(w.logger)}, w.opts...)

	a, err := app.Open(ctx, *w.cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	w.app = a

	return a, nil
}

func (w *workspace) Close() error {
	if w.app == nil {
		return nil
	}

	err := w.app.Close()
	w.app = nil

	return err
}

// allCommands returns the commands in help order.
func allCommands(ws *workspace, in io.Reader) []*Command {
	return append(baseCommands(ws), ShellCmd(ws, in))
}

// baseCommands returns fresh instances of every command except the shell.
// Flag sets keep state between parses, so each run needs new ones.
func baseCommands(ws *workspace) []*Command {
	return []*Command{
		CreateCmd(ws),
		UpdateCmd(ws),
		RmCmd(ws),
		MixinCmd(ws),
		AddCmd(ws),
		FindCmd(ws),
		SearchCmd(ws),
		LogCmd(ws),
		ReindexCmd(ws),
		ExportCmd(ws),
		PrintConfigCmd(ws.cfg),
	}
}

func lookup(commands []*Command, name string) (*Command, bool) {
	for _, c := range commands {
		if c.Name() == name {
			return c, true
		}
	}

	return nil, false
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `txcore - workspace document and transaction engine

Usage: txcore [options] <command> [args]

Options:`)

	var buf strings.Builder

	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(io.Discard)

	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	fprintln(w)

	for _, line := range helpLines(commands) {
		fprintln(w, line)
	}
}
