package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Help groups, in listing order.
const (
	groupDocuments = "Documents"
	groupQueries   = "Queries"
	groupWorkspace = "Workspace"
)

var groupOrder = []string{groupDocuments, groupQueries, groupWorkspace}

// Command is one txcore subcommand: its flags, positional arity, help text
// and the function doing the work.
type Command struct {
	// Flags defines command-specific flags. Command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage follows "txcore" in help and starts with the command name,
	// e.g. "rm <class> <id>".
	Usage string

	// Short is the one-line description in listings.
	Short string

	// Long is the full description for "txcore <cmd> --help". Defaults to Short.
	Long string

	// Group places the command in the listing: documents, queries or
	// workspace maintenance. Empty means workspace.
	Group string

	// MinArgs is the number of positional arguments Exec needs. Run rejects
	// fewer before touching the workspace.
	MinArgs int

	// Exec runs the command after flags and arity are checked.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the listing line for c.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

func (c *Command) group() string {
	if c.Group == "" {
		return groupWorkspace
	}

	return c.Group
}

// helpLines lists commands under their group headings, keeping the given
// order within a group. Empty groups are left out.
func helpLines(commands []*Command) []string {
	var lines []string

	for _, g := range groupOrder {
		first := true

		for _, c := range commands {
			if c.group() != g {
				continue
			}

			if first {
				if len(lines) > 0 {
					lines = append(lines, "")
				}

				lines = append(lines, g+":")
				first = false
			}

			lines = append(lines, c.HelpLine())
		}
	}

	return lines
}

// argNames returns the required positional placeholders of Usage, such as
// "<class> <id>".
func (c *Command) argNames() string {
	var names []string

	for _, word := range strings.Fields(c.Usage)[1:] {
		if strings.HasPrefix(word, "<") {
			names = append(names, word)
		}
	}

	return strings.Join(names, " ")
}

// PrintHelp prints the full help output for "txcore <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: txcore", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags, checks arity and executes the command. Returns the
// exit code; errors are printed here for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)
			return 0
		}
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)
		return 1
	}

	rest := c.Flags.Args()
	if len(rest) < c.MinArgs {
		o.ErrPrintln("error:", fmt.Errorf("%w: %s %s", errMissingArgs, c.Name(), c.argNames()))
		return 1
	}

	if err := c.Exec(ctx, o, rest); err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	return 0
}
