// Package config loads the daemon/CLI configuration from a YAML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgeline/forgeline/internal/merge"
)

// Config is the top-level configuration.
type Config struct {
	// Database is the path to the sqlite database file.
	Database string `yaml:"database"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log,omitempty"`

	// Policy configures merge policy per project.
	Policy PolicyConfig `yaml:"policy,omitempty"`

	// Mirror configures the optional upstream reconciler.
	Mirror MirrorConfig `yaml:"mirror,omitempty"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`

	// Development switches to the human-oriented console encoder.
	Development bool `yaml:"development,omitempty"`
}

// PolicyConfig is the file form of the merge policy.
type PolicyConfig struct {
	// DefaultBranch is the branch work items are closed against.
	// Defaults to main.
	DefaultBranch string `yaml:"default_branch,omitempty"`

	// FastForwardOnly lists projects that reject merge commits.
	FastForwardOnly []string `yaml:"fast_forward_only,omitempty"`

	// TrainRefsDisabled lists projects with dry-run merges switched off.
	TrainRefsDisabled []string `yaml:"train_refs_disabled,omitempty"`

	// ProtectedBranches lists branches no actor may delete, as
	// project/branch pairs.
	ProtectedBranches []ProtectedBranch `yaml:"protected_branches,omitempty"`
}

// ProtectedBranch names one branch deletion is refused for.
type ProtectedBranch struct {
	Project string `yaml:"project"`
	Branch  string `yaml:"branch"`
}

// MirrorConfig configures upstream reconciliation.
type MirrorConfig struct {
	// Enabled switches the reconciler on.
	Enabled bool `yaml:"enabled,omitempty"`

	// BaseURL is the upstream API base, e.g. https://gitlab.example.com.
	BaseURL string `yaml:"base_url,omitempty"`

	// Token authenticates against the upstream API.
	Token string `yaml:"token,omitempty"`

	// Interval is the polling interval. Defaults to 1m.
	Interval time.Duration `yaml:"interval,omitempty"`
}

// Load reads and parses a configuration file. Unknown fields are
// rejected to catch typos.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Database: "forgeline.db"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Policy.DefaultBranch == "" {
		c.Policy.DefaultBranch = "main"
	}
	if c.Mirror.Interval == 0 {
		c.Mirror.Interval = time.Minute
	}
}

func (c *Config) validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Mirror.Enabled {
		if c.Mirror.BaseURL == "" {
			return fmt.Errorf("mirror.base_url is required when mirror is enabled")
		}
		if c.Mirror.Token == "" {
			return fmt.Errorf("mirror.token is required when mirror is enabled")
		}
	}
	for _, pb := range c.Policy.ProtectedBranches {
		if pb.Project == "" || pb.Branch == "" {
			return fmt.Errorf("protected branch entries need both project and branch")
		}
	}
	return nil
}

// MergePolicy converts the file policy into the runtime policy provider.
func (c *Config) MergePolicy() *merge.StaticPolicy {
	p := merge.NewStaticPolicy()
	p.DefaultBranchName = c.Policy.DefaultBranch
	p.FastForwardOnlyProjects = make(map[string]bool, len(c.Policy.FastForwardOnly))
	for _, project := range c.Policy.FastForwardOnly {
		p.FastForwardOnlyProjects[project] = true
	}
	p.TrainRefsDisabled = make(map[string]bool, len(c.Policy.TrainRefsDisabled))
	for _, project := range c.Policy.TrainRefsDisabled {
		p.TrainRefsDisabled[project] = true
	}
	p.ProtectedBranches = make(map[string]bool, len(c.Policy.ProtectedBranches))
	for _, pb := range c.Policy.ProtectedBranches {
		p.ProtectedBranches[pb.Project+":"+pb.Branch] = true
	}
	return p
}
