package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds the runtime configuration, merged from an optional YAML file,
// STUDYTEST_* environment variables and command-line flags (highest wins).
type Config struct {
	Server   ServerConfig   `koanf:"server" validate:"required"`
	Database DatabaseConfig `koanf:"database" validate:"required"`
	Progress ProgressConfig `koanf:"progress" validate:"required"`
	Sync     SyncConfig     `koanf:"sync" validate:"required"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type ProgressConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type SyncConfig struct {
	CacheDir string `koanf:"cache_dir" validate:"required"`
	OnStart  bool   `koanf:"on_start"`
}

// Flags returns the flag set understood by Load. Flag defaults double as the
// configuration defaults.
func Flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("studytest", pflag.ExitOnError)
	f.String("config", "", "Path to a YAML config file")
	f.String("server.addr", ":8080", "HTTP listen address")
	f.String("database.path", "studytest.db", "Path to the SQLite database file")
	f.String("progress.path", "progress.json", "Path to the learning progress file")
	f.String("sync.cache_dir", "repos", "Directory for cloned git deck sources")
	f.Bool("sync.on_start", false, "Run a deck source sync on startup")
	return f
}

// Load merges the config file (if any), environment and flags, then
// validates the result.
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// The config tree is one section deep, so only the first underscore
	// separates section from leaf; later underscores belong to the leaf key.
	// STUDYTEST_SYNC_CACHE_DIR -> sync.cache_dir
	err := k.Load(env.Provider("STUDYTEST_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "STUDYTEST_")), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to read flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadFromArgs parses args with the standard flag set and loads the config.
func LoadFromArgs(args []string) (*Config, error) {
	f := Flags()
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	return Load(f)
}
