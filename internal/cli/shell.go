package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	flag "github.com/spf13/pflag"
)

const historyFileName = "shell_history"

// ShellCmd returns the shell command. in is the input stream; when it is the
// process's terminal the shell uses line editing and history.
func ShellCmd(ws *workspace, in io.Reader) *Command {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "shell",
		Short: "Interactive prompt over one open workspace",
		Group: groupWorkspace,
		Long: `Read commands line by line and run them against a single open
workspace, so the log and index are opened once. Type "help" for the
command list and "exit" to leave.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execShell(ctx, o, ws, in)
		},
	}
}

// lineReader yields one input line per call and io.EOF at the end.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

func execShell(ctx context.Context, o *IO, ws *workspace, in io.Reader) error {
	_, err := ws.open(ctx)
	if err != nil {
		return err
	}

	lines := newLineReader(in, filepath.Join(ws.cfg.DataDirAbs, historyFileName))
	defer func() { _ = lines.Close() }()

	for ctx.Err() == nil {
		line, err := lines.Prompt("txcore> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return nil
		}

		if err != nil {
			return err
		}

		words, err := splitLine(line)
		if err != nil {
			o.ErrPrintln("error:", err)

			continue
		}

		if len(words) == 0 {
			continue
		}

		// Fresh commands per line: flag sets keep state between parses.
		commands := baseCommands(ws)

		switch words[0] {
		case "exit", "quit":
			return nil
		case "help":
			for _, line := range helpLines(commands) {
				o.Println(line)
			}

			continue
		}

		cmd, ok := lookup(commands, words[0])
		if !ok {
			o.ErrPrintln("error: unknown command:", words[0])

			continue
		}

		cmd.Run(ctx, o, words[1:])
		o.Finish()
	}

	return ctx.Err()
}

func newLineReader(in io.Reader, historyPath string) lineReader {
	if in == os.Stdin && liner.TerminalSupported() {
		return newLinerReader(historyPath)
	}

	if in == nil {
		in = strings.NewReader("")
	}

	return &scanReader{scanner: bufio.NewScanner(in)}
}

// linerReader edits lines on a terminal and persists history under the data
// directory.
type linerReader struct {
	state       *liner.State
	historyPath string
}

func newLinerReader(historyPath string) *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	if f, err := os.Open(historyPath); err == nil {
		_, _ = state.ReadHistory(f)
		_ = f.Close()
	}

	return &linerReader{state: state, historyPath: historyPath}
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(line) != "" {
		r.state.AppendHistory(line)
	}

	return line, nil
}

func (r *linerReader) Close() error {
	if f, err := os.Create(r.historyPath); err == nil {
		_, _ = r.state.WriteHistory(f)
		_ = f.Close()
	}

	return r.state.Close()
}

// scanReader reads piped input without prompting.
type scanReader struct {
	scanner *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}

	err := r.scanner.Err()
	if err != nil {
		return "", err
	}

	return "", io.EOF
}

func (*scanReader) Close() error { return nil }
