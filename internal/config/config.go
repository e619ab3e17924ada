// Package config loads pergit settings from a .pergit.yaml file at the
// workspace root. A missing file yields the defaults; a present file
// only needs the keys it wants to override.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up at the workspace root.
const FileName = ".pergit.yaml"

// Config holds the per-workspace settings.
type Config struct {
	P4      string   `yaml:"p4"`      // p4 executable
	Depot   string   `yaml:"depot"`   // depot view to sync, e.g. //depot/main/...
	Grace   Duration `yaml:"grace"`   // SIGTERM-to-SIGKILL grace on interrupt
	Color   string   `yaml:"color"`   // "auto" | "always" | "never"
	Journal *bool    `yaml:"journal"` // record sync runs under .git/pergit
}

// Path returns the config file path for a workspace root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		P4:    "p4",
		Depot: "//...",
		Grace: Duration{5 * time.Second},
		Color: "auto",
	}
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns the defaults and no error. Keys left out of the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// JournalEnabled reports whether sync runs are recorded to the
// journal. Unset means enabled.
func (c *Config) JournalEnabled() bool {
	return c.Journal == nil || *c.Journal
}

// Validate checks that the configuration is well-formed.
func (c *Config) Validate() error {
	if c.P4 == "" {
		return fmt.Errorf("p4 must not be empty")
	}
	if !strings.HasPrefix(c.Depot, "//") {
		return fmt.Errorf("depot %q is invalid: must be a depot path like //depot/main/...", c.Depot)
	}
	if c.Grace.Duration <= 0 {
		return fmt.Errorf("grace must be positive, got %s", c.Grace.Duration)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("color must be \"auto\", \"always\", or \"never\", got %q", c.Color)
	}
	return nil
}

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "10s", "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
