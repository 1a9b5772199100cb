// Package deploy monitors Vercel deployments for a project, parses build
// failures into structured errors, and drives an automated fix loop until
// the build goes green or attempts run out.
package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Deployment status values reported by the Vercel API.
const (
	StatusQueued   = "QUEUED"
	StatusBuilding = "BUILDING"
	StatusReady    = "READY"
	StatusError    = "ERROR"
	StatusCanceled = "CANCELED"
)

const (
	// DefaultPollInterval is the delay between deployment status checks.
	DefaultPollInterval = 30 * time.Second

	// DefaultPollTimeout bounds how long one deployment is monitored.
	DefaultPollTimeout = 15 * time.Minute

	// DefaultMaxFixAttempts bounds the fix loop.
	DefaultMaxFixAttempts = 5

	// stateFileName is the per-spec deployment state file.
	stateFileName = ".vercel_deployment.json"
)

// Config holds Vercel integration settings, read from the environment.
type Config struct {
	Token          string
	ProjectID      string
	TeamID         string
	AutoFixEnabled bool
	PollInterval   time.Duration
	PollTimeout    time.Duration
	MaxFixAttempts int
}

// ConfigFromEnv reads VERCEL_TOKEN, VERCEL_PROJECT_ID, VERCEL_TEAM_ID and
// VERCEL_AUTO_FIX.
func ConfigFromEnv() *Config {
	autoFix := os.Getenv("VERCEL_AUTO_FIX")
	return &Config{
		Token:          os.Getenv("VERCEL_TOKEN"),
		ProjectID:      os.Getenv("VERCEL_PROJECT_ID"),
		TeamID:         os.Getenv("VERCEL_TEAM_ID"),
		AutoFixEnabled: autoFix == "true" || autoFix == "1" || autoFix == "yes",
		PollInterval:   DefaultPollInterval,
		PollTimeout:    DefaultPollTimeout,
		MaxFixAttempts: DefaultMaxFixAttempts,
	}
}

// Validate fails fast when the minimum required settings are missing.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("VERCEL_TOKEN is not set")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("VERCEL_PROJECT_ID is not set")
	}
	return nil
}

// Enabled reports whether the integration has the minimum configuration to
// run at all.
func (c *Config) Enabled() bool {
	return c.Token != "" && c.ProjectID != ""
}

// BuildError is one structured error extracted from a build log.
type BuildError struct {
	ErrorType  string `json:"error_type"` // typescript, eslint, build, dependency, unknown
	Message    string `json:"message"`
	FilePath   string `json:"file_path,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
	Column     int    `json:"column,omitempty"`
	Context    string `json:"context,omitempty"`
}

// FixAttempt records one pass of the fix loop.
type FixAttempt struct {
	Attempt     int       `json:"attempt"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	ErrorsFixed []string  `json:"errors_fixed"`
	Error       string    `json:"error,omitempty"`
}

// DeploymentState tracks one deployment and its fix history, persisted in
// the spec directory so a restarted monitor resumes where it left off.
type DeploymentState struct {
	DeploymentID string       `json:"deployment_id,omitempty"`
	CommitSHA    string       `json:"commit_sha,omitempty"`
	Status       string       `json:"status"`
	URL          string       `json:"url,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Errors       []BuildError `json:"errors,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at,omitempty"`
	FixAttempts  int          `json:"fix_attempts"`
	FixHistory   []FixAttempt `json:"fix_history,omitempty"`
}

// Save writes the state into the spec directory.
func (s *DeploymentState) Save(specDir string) error {
	s.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal deployment state: %w", err)
	}
	path := filepath.Join(specDir, stateFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write deployment state: %w", err)
	}
	return nil
}

// LoadState reads the persisted state from a spec directory. Missing or
// corrupt state returns nil with no error.
func LoadState(specDir string) *DeploymentState {
	data, err := os.ReadFile(filepath.Join(specDir, stateFileName))
	if err != nil {
		return nil
	}
	var state DeploymentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil
	}
	return &state
}

// RecordFixAttempt appends one fix pass to the history.
func (s *DeploymentState) RecordFixAttempt(success bool, errorsFixed []string, errMsg string) {
	s.FixAttempts++
	s.FixHistory = append(s.FixHistory, FixAttempt{
		Attempt:     s.FixAttempts,
		Timestamp:   time.Now(),
		Success:     success,
		ErrorsFixed: errorsFixed,
		Error:       errMsg,
	})
}

// IsReady reports a successful deployment.
func (s *DeploymentState) IsReady() bool { return s.Status == StatusReady }

// IsFailed reports a failed build.
func (s *DeploymentState) IsFailed() bool { return s.Status == StatusError }

// IsBuilding reports an in-flight deployment.
func (s *DeploymentState) IsBuilding() bool {
	return s.Status == StatusQueued || s.Status == StatusBuilding
}

// CanRetryFix reports whether another fix attempt is allowed.
func (s *DeploymentState) CanRetryFix(maxAttempts int) bool {
	return s.FixAttempts < maxAttempts
}
