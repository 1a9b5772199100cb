package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "auto-claude", cfg.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 0.3, cfg.Discovery.MinRelevance)
	assert.Equal(t, 50, cfg.QA.MaxIterations)
	assert.Equal(t, "claude", cfg.Session.Command)
	assert.Equal(t, 10, cfg.Improvement.MaxIterations)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `name: my-project
logging:
  debug_mode: true
  level: debug
  categories:
    discovery: true
discovery:
  min_relevance: 0.5
  cache_ttl: 30m
qa:
  max_iterations: 12
  command_timeout: 60s
session:
  command: my-agent
  args: ["--print"]
  timeout: 10m
improvement:
  max_iterations: 4
`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".auto-claude"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "my-project", cfg.Name)
	assert.True(t, cfg.Logging.DebugMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Categories["discovery"])
	assert.Equal(t, 0.5, cfg.Discovery.MinRelevance)
	assert.Equal(t, 30*time.Minute, cfg.GetCacheTTL())
	assert.Equal(t, 12, cfg.QA.MaxIterations)
	assert.Equal(t, time.Minute, cfg.GetCommandTimeout())
	assert.Equal(t, "my-agent", cfg.Session.Command)
	assert.Equal(t, []string{"--print"}, cfg.Session.Args)
	assert.Equal(t, 10*time.Minute, cfg.GetSessionTimeout())
	assert.Equal(t, 4, cfg.Improvement.MaxIterations)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".auto-claude"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(":\nnot yaml ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("AUTO_CLAUDE_AGENT", "other-agent")
	t.Setenv("AUTO_CLAUDE_DEBUG", "1")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, "other-agent", cfg.Session.Command)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Name = "saved-project"
	cfg.GitHub.Token = "tok"
	require.NoError(t, cfg.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "saved-project", loaded.Name)
	assert.Equal(t, "tok", loaded.GitHub.Token)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discovery.CacheTTL = "bogus"
	cfg.QA.CommandTimeout = ""
	cfg.Session.Timeout = "nope"

	assert.Equal(t, time.Hour, cfg.GetCacheTTL())
	assert.Equal(t, 300*time.Second, cfg.GetCommandTimeout())
	assert.Equal(t, 30*time.Minute, cfg.GetSessionTimeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero qa iterations", func(c *Config) { c.QA.MaxIterations = 0 }, "qa.max_iterations"},
		{"zero loop iterations", func(c *Config) { c.Improvement.MaxIterations = -1 }, "improvement.max_iterations"},
		{"relevance out of range", func(c *Config) { c.Discovery.MinRelevance = 1.5 }, "min_relevance"},
		{"empty session command", func(c *Config) { c.Session.Command = "" }, "session.command"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
