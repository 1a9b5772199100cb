// Package config loads the project-level configuration from
// .auto-claude/config.yaml, layering environment overrides on top of
// defaults. Missing files yield defaults; malformed files fail loudly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the config file location relative to the workspace.
const ConfigFileName = ".auto-claude/config.yaml"

// Config holds all Auto-Claude configuration.
type Config struct {
	// Project identity
	Name string `yaml:"name"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// GitHub access for discovery searches
	GitHub GitHubConfig `yaml:"github"`

	// Discovery engine settings
	Discovery DiscoveryConfig `yaml:"discovery"`

	// QA completion promise settings
	QA QAConfig `yaml:"qa"`

	// Agent session settings
	Session SessionConfig `yaml:"session"`

	// Improvement loop settings
	Improvement ImprovementConfig `yaml:"improvement"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// GitHubConfig configures GitHub API access.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// DiscoveryConfig configures the discovery engine.
type DiscoveryConfig struct {
	// Minimum relevance score to keep a result
	MinRelevance float64 `yaml:"min_relevance"`

	// Per-source result cache lifetime
	CacheTTL string `yaml:"cache_ttl"`
}

// QAConfig configures completion promise checking.
type QAConfig struct {
	// Maximum fix iterations before giving up
	MaxIterations int `yaml:"max_iterations"`

	// Timeout for a single promise command run
	CommandTimeout string `yaml:"command_timeout"`
}

// SessionConfig configures how agent sessions are launched.
type SessionConfig struct {
	// Agent binary invoked for fix and work sessions
	Command string `yaml:"command"`

	// Extra arguments passed before the prompt
	Args []string `yaml:"args"`

	// Timeout for a single session
	Timeout string `yaml:"timeout"`
}

// ImprovementConfig configures the improvement loop.
type ImprovementConfig struct {
	// Maximum loop iterations per goal
	MaxIterations int `yaml:"max_iterations"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "auto-claude",

		Logging: LoggingConfig{
			DebugMode:  false,
			Categories: map[string]bool{},
			Level:      "info",
		},

		Discovery: DiscoveryConfig{
			MinRelevance: 0.3,
			CacheTTL:     "1h",
		},

		QA: QAConfig{
			MaxIterations:  50,
			CommandTimeout: "300s",
		},

		Session: SessionConfig{
			Command: "claude",
			Timeout: "30m",
		},

		Improvement: ImprovementConfig{
			MaxIterations: 10,
		},
	}
}

// Load reads configuration for a workspace. A missing file returns
// defaults; a file that exists but does not parse is an error.
func Load(workspaceDir string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspaceDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back to the workspace.
func (c *Config) Save(workspaceDir string) error {
	path := filepath.Join(workspaceDir, ConfigFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if cmd := os.Getenv("AUTO_CLAUDE_AGENT"); cmd != "" {
		c.Session.Command = cmd
	}
	if os.Getenv("AUTO_CLAUDE_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

// GetCacheTTL returns the discovery cache lifetime as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Discovery.CacheTTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// GetCommandTimeout returns the QA promise command timeout as a duration.
func (c *Config) GetCommandTimeout() time.Duration {
	d, err := time.ParseDuration(c.QA.CommandTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetSessionTimeout returns the session timeout as a duration.
func (c *Config) GetSessionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Session.Timeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.QA.MaxIterations <= 0 {
		return fmt.Errorf("qa.max_iterations must be positive, got %d", c.QA.MaxIterations)
	}
	if c.Improvement.MaxIterations <= 0 {
		return fmt.Errorf("improvement.max_iterations must be positive, got %d", c.Improvement.MaxIterations)
	}
	if c.Discovery.MinRelevance < 0 || c.Discovery.MinRelevance > 1 {
		return fmt.Errorf("discovery.min_relevance must be in [0,1], got %v", c.Discovery.MinRelevance)
	}
	if c.Session.Command == "" {
		return fmt.Errorf("session.command must not be empty")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	return nil
}
