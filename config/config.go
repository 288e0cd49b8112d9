// Package config loads bridge configuration from a YAML file, with working
// defaults when the file is absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s"
// or "5m" as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Provider configures one provider CLI.
type Provider struct {
	// Path is the binary path or name; empty means the adapter default.
	Path string `yaml:"path"`
	// Model is the default model flag; empty means the CLI default.
	Model string `yaml:"model"`
}

// Config is the bridge configuration.
type Config struct {
	// Claude and Codex configure the provider CLIs.
	Claude Provider `yaml:"claude"`
	Codex  Provider `yaml:"codex"`

	// DefaultProvider selects the provider for channels without an override.
	DefaultProvider string `yaml:"default_provider"`

	// DefaultPermissionMode is the mode for channels without an override.
	DefaultPermissionMode string `yaml:"default_permission_mode"`

	// WorkDir is the default working directory for runs.
	WorkDir string `yaml:"workdir"`

	// RunTimeout bounds one provider run end to end.
	RunTimeout Duration `yaml:"run_timeout"`

	// ApprovalTimeout bounds a single tool approval; PlanTimeout bounds a
	// whole-plan approval.
	ApprovalTimeout Duration `yaml:"approval_timeout"`
	PlanTimeout     Duration `yaml:"plan_timeout"`

	// RelayListen is the approval relay's HTTP listen address.
	RelayListen string `yaml:"relay_listen"`

	// StorePath is the SQLite database path.
	StorePath string `yaml:"store_path"`

	// LogPath is the log file; empty logs to stderr. Debug raises verbosity.
	LogPath string `yaml:"log_path"`
	Debug   bool   `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DefaultProvider:       "claude",
		DefaultPermissionMode: string(stream.PermissionModeApprove),
		RunTimeout:            Duration(5 * time.Minute),
		ApprovalTimeout:       Duration(60 * time.Second),
		PlanTimeout:           Duration(10 * time.Minute),
		RelayListen:           "127.0.0.1:8377",
		StorePath:             filepath.Join(dataDir(), "bridge.db"),
	}
}

// Load reads the config file at path, layering it over the defaults. A
// missing file yields the defaults; a malformed or invalid file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.DefaultProvider {
	case "claude", "codex":
	default:
		return fmt.Errorf("unknown default_provider %q", c.DefaultProvider)
	}
	if !stream.ValidPermissionMode(c.DefaultPermissionMode) {
		return fmt.Errorf("unknown default_permission_mode %q", c.DefaultPermissionMode)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("run_timeout must be positive")
	}
	if c.ApprovalTimeout <= 0 || c.PlanTimeout <= 0 {
		return fmt.Errorf("approval timeouts must be positive")
	}
	return nil
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".ai-discord-bot")
}
