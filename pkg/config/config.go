package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/kjall/promptfold/pkg/resolve"
	"github.com/kjall/promptfold/pkg/transform"
)

// ConfigFile is the optional local configuration file, read from the
// working directory.
const ConfigFile = "promptfold.toml"

// Config holds all configuration: the engine toggles plus the CLI and
// sidecar knobs.
type Config struct {
	Enabled         bool   `koanf:"enabled"`
	Prune           bool   `koanf:"prune"`
	Debug           bool   `koanf:"debug"`
	Verbose         bool   `koanf:"verbose"`
	ConstClassTypes string `koanf:"const_class_types"`

	Serve    bool   `koanf:"serve"`
	Port     int    `koanf:"port"`
	Watch    bool   `koanf:"watch"`
	Schema   string `koanf:"schema"`
	JSONLogs bool   `koanf:"json_logs"`
}

// Options converts the engine-relevant fields into transform options.
func (c *Config) Options() transform.Options {
	return transform.Options{
		Enabled:         c.Enabled,
		Prune:           c.Prune,
		Verbose:         c.Verbose,
		ConstClassTypes: c.ConstClassTypes,
	}
}

// Load loads configuration from defaults, config file, environment
// variables, and flags.
// Priority: Flags > Env (PROMPTFOLD_ over legacy GCF_) > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"enabled":           true,
		"prune":             false,
		"debug":             false,
		"verbose":           false,
		"const_class_types": resolve.DefaultConstClassPattern,
		"serve":             false,
		"port":              8188,
		"watch":             false,
		"schema":            "",
		"json_logs":         false,
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional) - promptfold.toml
	// Errors are ignored as the file might not exist
	_ = k.Load(file.Provider(ConfigFile), toml.Parser())

	// 3. Environment Variables
	// Legacy shorthand first (GCF_PRUNE=1), then the full prefix
	// (PROMPTFOLD_PRUNE=1), so the full prefix wins on conflict.
	for _, prefix := range []string{"GCF_", "PROMPTFOLD_"} {
		if err := k.Load(env.Provider(prefix, ".", envKeyMapper(prefix)), nil); err != nil {
			return nil, fmt.Errorf("failed to load env vars: %w", err)
		}
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// envKeyMapper lowercases PREFIX_CONST_CLASS_TYPES to
// const_class_types. Keys are flat, so underscores are kept.
func envKeyMapper(prefix string) func(string) string {
	return func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, prefix))
	}
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
