package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/calvinalkan/txcore/internal/config"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Group: groupWorkspace,
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) error {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("data_dir=" + cfg.DataDirAbs)
	io.Println("storage=" + cfg.Storage)
	io.Println("fulltext=" + cfg.FullText)
	io.Println("log_level=" + cfg.LogLevel)
	io.Println("max_trigger_depth=" + strconv.Itoa(cfg.MaxTriggerDepth))
	io.Println("email=" + cfg.Email)

	if cfg.Account != "" {
		io.Println("account=" + cfg.Account)
	}

	if len(cfg.ModelFilesAbs) > 0 {
		io.Println("model_files=" + strings.Join(cfg.ModelFilesAbs, ","))
	}

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
