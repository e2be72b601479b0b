package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestModel is the model file NewCLI writes: an issue class with a comment
// collection, two accounts and a notification type for assignments.
const TestModel = `
classes:
  - id: tracker:class:Issue
    label: Issue
    collaborators: [assignee]
    presenter: {text: title}
    attributes:
      - {name: title, type: string, index: fulltext}
      - {name: estimate, type: number, index: indexed}
      - {name: assignee, type: "ref(core:class:Account)"}
      - {name: labels, type: "arrOf(string)"}
      - {name: comments, type: "collection(tracker:class:Comment)"}
  - id: tracker:class:Comment
    attributes:
      - {name: text, type: markup, index: fulltext}
  - id: tracker:mixin:Flags
    kind: mixin
    extends: tracker:class:Issue
    attributes:
      - {name: urgent, type: boolean}
docs:
  - {class: core:class:Account, id: tracker:account:alice, attributes: {name: alice, email: alice@example.com}}
  - {class: core:class:Account, id: tracker:account:bob, attributes: {name: bob, email: bob@example.com}}
notificationTypes:
  - id: tracker:notification:Assigned
    objectClass: tracker:class:Issue
    txClasses: [core:class:TxCreateDoc]
    providers: {platform: true}
    templates: {text: "{sender} assigned {doc}", subject: "Assigned: {doc}"}
`

// CLI provides a clean interface for running CLI commands in tests.
// It manages a temp directory with a project config and model file.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI creates a test CLI in a temp directory using file storage, the
// sqlite full-text index and [TestModel], acting as alice.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	c := &CLI{
		t:   t,
		Dir: t.TempDir(),
		Env: map[string]string{},
	}

	c.WriteFile("model.yaml", TestModel)
	c.WriteFile(".txcore.json", `{
  // test workspace
  "data_dir": "data",
  "storage": "file",
  "fulltext": "sqlite",
  "model_files": ["model.yaml"],
  "account": "tracker:account:alice",
  "email": "none",
}`)

	return c
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "txcore" or "--cwd" - those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.RunWithInput(nil, args...)
}

// RunWithInput executes the CLI with stdin and returns stdout, stderr, and exit code.
// stdin must be nil, a string or an io.Reader; panics otherwise.
func (r *CLI) RunWithInput(stdin any, args ...string) (string, string, int) {
	var inReader io.Reader

	switch v := stdin.(type) {
	case nil:
	case string:
		inReader = strings.NewReader(v)
	case io.Reader:
		inReader = v
	default:
		panic(fmt.Sprintf("stdin must be string or io.Reader, got %T", stdin))
	}

	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"txcore", "--cwd", r.Dir}, args...)
	code := Run(inReader, &outBuf, &errBuf, fullArgs, r.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Also fails if stdout is not empty. Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	if stdout != "" {
		r.t.Fatalf("command %v failed but stdout should be empty\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// DataDir returns the path to the workspace data directory.
func (r *CLI) DataDir() string {
	return filepath.Join(r.Dir, "data")
}

// WriteFile writes content to a file relative to the CLI directory.
func (r *CLI) WriteFile(name, content string) {
	r.t.Helper()

	path := filepath.Join(r.Dir, name)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		r.t.Fatalf("failed to create dir for %s: %v", name, err)
	}

	err = os.WriteFile(path, []byte(content), 0o600)
	if err != nil {
		r.t.Fatalf("failed to write %s: %v", name, err)
	}
}

// ReadFile reads a file relative to the CLI directory.
func (r *CLI) ReadFile(name string) string {
	r.t.Helper()

	content, err := os.ReadFile(filepath.Join(r.Dir, name))
	if err != nil {
		r.t.Fatalf("failed to read %s: %v", name, err)
	}

	return string(content)
}
