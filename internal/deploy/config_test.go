package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("VERCEL_TOKEN", "tok")
	t.Setenv("VERCEL_PROJECT_ID", "prj_123")
	t.Setenv("VERCEL_TEAM_ID", "team_1")
	t.Setenv("VERCEL_AUTO_FIX", "true")

	cfg := ConfigFromEnv()
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, "prj_123", cfg.ProjectID)
	assert.Equal(t, "team_1", cfg.TeamID)
	assert.True(t, cfg.AutoFixEnabled)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultPollTimeout, cfg.PollTimeout)
	assert.Equal(t, DefaultMaxFixAttempts, cfg.MaxFixAttempts)
}

func TestConfigAutoFixSpellings(t *testing.T) {
	for _, value := range []string{"true", "1", "yes"} {
		t.Setenv("VERCEL_AUTO_FIX", value)
		assert.True(t, ConfigFromEnv().AutoFixEnabled, value)
	}
	for _, value := range []string{"", "false", "0", "no"} {
		t.Setenv("VERCEL_AUTO_FIX", value)
		assert.False(t, ConfigFromEnv().AutoFixEnabled, value)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.Validate(), "VERCEL_TOKEN")

	cfg.Token = "tok"
	assert.ErrorContains(t, cfg.Validate(), "VERCEL_PROJECT_ID")

	cfg.ProjectID = "prj"
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Enabled())
}

func TestDeploymentStateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	state := &DeploymentState{
		DeploymentID: "dep1",
		CommitSHA:    "abc1234",
		Status:       StatusError,
		ErrorMessage: "Build failed",
		Errors:       []BuildError{{ErrorType: "typescript", Message: "Bad argument"}},
	}
	state.RecordFixAttempt(false, nil, "fixer crashed")
	require.NoError(t, state.Save(dir))

	loaded := LoadState(dir)
	require.NotNil(t, loaded)
	assert.Equal(t, "dep1", loaded.DeploymentID)
	assert.Equal(t, 1, loaded.FixAttempts)
	require.Len(t, loaded.FixHistory, 1)
	assert.Equal(t, "fixer crashed", loaded.FixHistory[0].Error)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadStateMissingOrCorrupt(t *testing.T) {
	assert.Nil(t, LoadState(t.TempDir()))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vercel_deployment.json"), []byte("{broken"), 0o644))
	assert.Nil(t, LoadState(dir))
}

func TestDeploymentStatePredicates(t *testing.T) {
	assert.True(t, (&DeploymentState{Status: StatusReady}).IsReady())
	assert.True(t, (&DeploymentState{Status: StatusError}).IsFailed())
	assert.True(t, (&DeploymentState{Status: StatusQueued}).IsBuilding())
	assert.True(t, (&DeploymentState{Status: StatusBuilding}).IsBuilding())
	assert.False(t, (&DeploymentState{Status: StatusReady}).IsBuilding())

	state := &DeploymentState{FixAttempts: 4}
	assert.True(t, state.CanRetryFix(5))
	assert.False(t, state.CanRetryFix(4))
}
