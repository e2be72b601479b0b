// Package config loads txcore configuration from JSONC files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tailscale/hujson"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrDataDirEmpty       = errors.New("data_dir cannot be empty")
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageBadger = "badger"
)

// Full-text backends.
const (
	FullTextMemory = "memory"
	FullTextSQLite = "sqlite"
)

// Email delivery modes. EmailNone leaves email notifications queued.
const (
	EmailNone = "none"
	EmailLog  = "log"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	DataDir         string   `json:"data_dir" validate:"required"`
	Storage         string   `json:"storage" validate:"oneof=memory file sqlite badger"`
	FullText        string   `json:"fulltext" validate:"oneof=memory sqlite"`
	ModelFiles      []string `json:"model_files,omitempty"`
	Account         string   `json:"account,omitempty"`
	LogLevel        string   `json:"log_level" validate:"oneof=trace debug info warn error disabled"`
	MaxTriggerDepth int      `json:"max_trigger_depth" validate:"gte=1,lte=64"`
	Email           string   `json:"email" validate:"oneof=none log"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd  string   `json:"-"`
	DataDirAbs    string   `json:"-"`
	ModelFilesAbs []string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:         ".txcore",
		Storage:         StorageFile,
		FullText:        FullTextSQLite,
		LogLevel:        "warn",
		MaxTriggerDepth: 8,
		Email:           EmailLog,
	}
}

// FileName is the default project config file name.
const FileName = ".txcore.json"

// globalPath returns $XDG_CONFIG_HOME/txcore/config.json, falling back to
// ~/.config/txcore/config.json. Empty if neither variable is set.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "txcore", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "txcore", "config.json")
	}

	return ""
}

// Overrides are CLI flag values. Empty fields do not override.
type Overrides struct {
	DataDir  string
	Storage  string
	LogLevel string
	Account  string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // CLI overrides
	Env             map[string]string // environment variables
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")

		return name
	})

	return v
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/txcore/config.json)
// 3. Project config file (.txcore.json, if exists)
// 4. Explicit config file via ConfigPath (replaces the project file)
// 5. CLI overrides.
//
// All paths in the returned Config are resolved to absolute paths.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	globalCfg, globalFile, err := loadOptional(globalPath(input.Env))
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalFile
	cfg = merge(cfg, globalCfg)

	projectCfg, projectFile, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectFile
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, Config{
		DataDir:  input.Overrides.DataDir,
		Storage:  input.Overrides.Storage,
		LogLevel: input.Overrides.LogLevel,
		Account:  input.Overrides.Account,
	})

	err = validate.Struct(&cfg)
	if err != nil {
		return Config{}, describe(err)
	}

	cfg.EffectiveCwd = workDir
	cfg.DataDirAbs = absolute(workDir, cfg.DataDir)

	cfg.ModelFilesAbs = make([]string, len(cfg.ModelFiles))
	for i, p := range cfg.ModelFiles {
		cfg.ModelFilesAbs[i] = absolute(workDir, p)
	}

	return cfg, nil
}

func absolute(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

// loadOptional loads path if it exists. Returns the path when loaded.
func loadOptional(path string) (Config, string, error) {
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadProject loads the explicit config file, which must exist, or the
// optional project file in workDir.
func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		return loadOptional(filepath.Join(workDir, FileName))
	}

	path := absolute(workDir, configPath)

	_, statErr := os.Stat(path)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile loads a config file. If mustExist is false, missing files return
// a zero config and loaded=false.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse parses one JSONC config file. Unset fields stay zero. An explicitly
// empty data_dir is an error rather than "unset".
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["data_dir"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, ErrDataDirEmpty
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.Storage != "" {
		base.Storage = overlay.Storage
	}

	if overlay.FullText != "" {
		base.FullText = overlay.FullText
	}

	if overlay.ModelFiles != nil {
		base.ModelFiles = overlay.ModelFiles
	}

	if overlay.Account != "" {
		base.Account = overlay.Account
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.MaxTriggerDepth != 0 {
		base.MaxTriggerDepth = overlay.MaxTriggerDepth
	}

	if overlay.Email != "" {
		base.Email = overlay.Email
	}

	return base
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fe := verrs[0]
	field := fe.Field()

	if fe.Tag() == "required" && field == "data_dir" {
		return ErrDataDirEmpty
	}

	if fe.Param() != "" {
		return fmt.Errorf("%w: %s=%v must satisfy %s=%s", ErrConfigInvalid, field, fe.Value(), fe.Tag(), fe.Param())
	}

	return fmt.Errorf("%w: %s=%v must satisfy %s", ErrConfigInvalid, field, fe.Value(), fe.Tag())
}

// Format renders cfg as indented JSON, the way it would be written to a
// config file.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}
