package cli_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/txcore/internal/cli"
)

func Test_Shell_Runs_Commands_Against_One_Workspace(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	input := strings.Join([]string{
		`create tracker:class:Issue --id issue-1 -s "title=Launch day"`,
		"",
		`update tracker:class:Issue issue-1 -s estimate=8`,
		`find tracker:class:Issue -w _id=issue-1`,
		"bogus",
		"exit",
		"find tracker:class:Issue",
	}, "\n")

	stdout, stderr, code := c.RunWithInput(input, "shell")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stderr, "unknown command: bogus")

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "issue-1", lines[0])
	require.Contains(t, lines[2], `"title":"Launch day"`)
	require.Contains(t, lines[2], `"estimate":8`)
}

func Test_Shell_Reports_Errors_And_Continues(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout, stderr, code := c.RunWithInput("rm tracker:class:Issue nope\ncreate tracker:class:Issue --id x -s title=ok\n", "shell")
	require.Equal(t, 0, code)
	require.Contains(t, stderr, "document not found")
	require.Equal(t, "x", strings.TrimSpace(stdout))
}

func Test_Shell_Help_Lists_Commands(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout, _, code := c.RunWithInput("help\n", "shell")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "create <class> [flags]")
	require.Contains(t, stdout, "Documents:")
	require.NotContains(t, stdout, "  shell")
}
