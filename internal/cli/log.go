package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinalkan/txcore/pkg/core"

	flag "github.com/spf13/pflag"
)

var errLimitReached = errors.New("limit reached")

// LogCmd returns the log command.
func LogCmd(ws *workspace) *Command {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	fs.Int("limit", 0, "Print at most `n` transactions (0 = all)")
	fs.String("class", "", "Only transactions whose object class derives from `ref`")

	return &Command{
		Flags: fs,
		Usage: "log [flags]",
		Short: "Print the transaction log",
		Group: groupQueries,
		Long:  "Print persisted transactions in commit order, one JSON object per line.",
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			return execLog(ctx, io, ws, fs)
		},
	}
}

func execLog(ctx context.Context, io *IO, ws *workspace, fs *flag.FlagSet) error {
	limit, _ := fs.GetInt("limit")
	class, _ := fs.GetString("class")

	a, err := ws.open(ctx)
	if err != nil {
		return err
	}

	h := a.Store.Model().Hierarchy()
	printed := 0

	err = a.Store.History(ctx, func(tx core.Tx) error {
		if class != "" {
			cud := core.CUDOf(core.ExtractTx(tx))
			if cud == nil || !h.IsDerived(cud.ObjectClass, core.Ref(class)) {
				return nil
			}
		}

		data, err := core.MarshalTx(tx)
		if err != nil {
			return err
		}

		io.Println(string(data))

		printed++
		if limit > 0 && printed >= limit {
			return errLimitReached
		}

		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}
