package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/txcore/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err = os.WriteFile(path, []byte(content), 0o600)
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func load(t *testing.T, input config.LoadInput) config.Config {
	t.Helper()

	cfg, err := config.Load(input)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	return cfg
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := load(t, config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})

	want := config.Default()
	want.EffectiveCwd = dir
	want.DataDirAbs = filepath.Join(dir, ".txcore")
	want.ModelFilesAbs = []string{}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Applies_Precedence_When_Every_Layer_Is_Set(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := filepath.Join(dir, "xdg")

	writeFile(t, filepath.Join(xdg, "txcore", "config.json"), `{
		// global
		"storage": "sqlite",
		"log_level": "debug",
		"account": "global-account",
		"max_trigger_depth": 4,
	}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{"storage": "badger", "model_files": ["model/tracker.yaml"]}`)

	cfg := load(t, config.LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
		Overrides:       config.Overrides{LogLevel: "error"},
	})

	if cfg.Storage != config.StorageBadger {
		t.Fatalf("storage = %q, project file should win over global", cfg.Storage)
	}

	if cfg.LogLevel != "error" {
		t.Fatalf("log_level = %q, CLI should win", cfg.LogLevel)
	}

	if cfg.Account != "global-account" || cfg.MaxTriggerDepth != 4 {
		t.Fatalf("global values lost: account=%q depth=%d", cfg.Account, cfg.MaxTriggerDepth)
	}

	if diff := cmp.Diff([]string{filepath.Join(dir, "model", "tracker.yaml")}, cfg.ModelFilesAbs); diff != "" {
		t.Fatalf("model files mismatch (-want +got):\n%s", diff)
	}

	if cfg.Sources.Global == "" || cfg.Sources.Project != filepath.Join(dir, config.FileName) {
		t.Fatalf("sources = %+v", cfg.Sources)
	}
}

func Test_Load_Uses_Explicit_File_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{"data_dir": "from-project"}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"fulltext": "memory"}`)

	cfg := load(t, config.LoadInput{WorkDirOverride: dir, ConfigPath: "custom.json"})

	if cfg.DataDirAbs != filepath.Join(dir, ".txcore") {
		t.Fatalf("data dir = %q, project file must not load with -c", cfg.DataDirAbs)
	}

	if cfg.FullText != config.FullTextMemory {
		t.Fatalf("fulltext = %q", cfg.FullText)
	}
}

func Test_Load_Returns_Error_When_Config_Is_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		input   config.LoadInput
		wantErr error
		wantMsg string
	}{
		{
			name:    "explicit file missing",
			input:   config.LoadInput{ConfigPath: "nope.json"},
			wantErr: config.ErrConfigFileNotFound,
		},
		{
			name:    "broken JSONC",
			file:    `{"storage": `,
			wantErr: config.ErrConfigInvalid,
			wantMsg: "invalid JSONC",
		},
		{
			name:    "explicitly empty data dir",
			file:    `{"data_dir": ""}`,
			wantErr: config.ErrDataDirEmpty,
		},
		{
			name:    "unknown field",
			file:    `{"index_dir": "x"}`,
			wantErr: config.ErrConfigInvalid,
			wantMsg: "index_dir",
		},
		{
			name:    "unknown storage from CLI",
			input:   config.LoadInput{Overrides: config.Overrides{Storage: "tape"}},
			wantErr: config.ErrConfigInvalid,
			wantMsg: "storage=tape",
		},
		{
			name:    "depth out of range",
			file:    `{"max_trigger_depth": 100}`,
			wantErr: config.ErrConfigInvalid,
			wantMsg: "max_trigger_depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if tt.file != "" {
				writeFile(t, filepath.Join(dir, config.FileName), tt.file)
			}

			input := tt.input
			input.WorkDirOverride = dir

			_, err := config.Load(input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}

			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("err = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func Test_Load_Ignores_Missing_Global_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := load(t, config.LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"HOME": filepath.Join(dir, "home")},
	})

	if cfg.Sources.Global != "" {
		t.Fatalf("global source = %q, want none", cfg.Sources.Global)
	}
}

func Test_Format_Omits_Resolved_Fields(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.DataDirAbs = "/abs"

	out, err := config.Format(cfg)
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	if strings.Contains(out, "/abs") || !strings.Contains(out, `"storage": "file"`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
