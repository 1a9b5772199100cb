// Package qa implements completion-promise checking: a task may declare a
// shell command that objectively verifies the work is done, and the loop
// keeps running fix sessions until the command succeeds or iterations run
// out.
package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

const (
	// DefaultMaxIterations bounds the promise loop when the task metadata
	// does not set its own limit.
	DefaultMaxIterations = 50

	// DefaultCommandTimeout bounds a single promise command run.
	DefaultCommandTimeout = 300 * time.Second

	// consolePreviewLen is how much command output is shown inline.
	consolePreviewLen = 500

	// persistedOutputLen is how much command output is kept in the result
	// file.
	persistedOutputLen = 2000
)

// ErrNoPromise is returned when the task metadata declares no completion
// promise.
var ErrNoPromise = errors.New("no completion promise declared")

// Promise is a task's declared completion check.
type Promise struct {
	Command       string
	MaxIterations int
	WorkDir       string
	Timeout       time.Duration
}

type taskMetadata struct {
	CompletionPromise string `json:"completionPromise"`
	MaxIterations     int    `json:"maxIterations"`
}

// LoadPromise reads the completion promise from task_metadata.json in the
// spec directory. Returns ErrNoPromise when the file is absent or declares
// no promise.
func LoadPromise(specDir string) (*Promise, error) {
	data, err := os.ReadFile(filepath.Join(specDir, "task_metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoPromise
		}
		return nil, fmt.Errorf("read task_metadata.json: %w", err)
	}

	var meta taskMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse task_metadata.json: %w", err)
	}
	if meta.CompletionPromise == "" {
		return nil, ErrNoPromise
	}

	maxIter := meta.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	return &Promise{
		Command:       meta.CompletionPromise,
		MaxIterations: maxIter,
		WorkDir:       specDir,
		Timeout:       DefaultCommandTimeout,
	}, nil
}

// CheckResult is the outcome of one promise command run.
type CheckResult struct {
	Fulfilled bool      `json:"fulfilled"`
	ExitCode  int       `json:"exit_code"`
	Output    string    `json:"output"`
	TimedOut  bool      `json:"timed_out"`
	CheckedAt time.Time `json:"checked_at"`
}

// Check runs the promise command through the shell. Exit 0 means the
// promise is fulfilled; any other exit, including a timeout, means more
// work is needed. Only real execution failures return an error.
func (p *Promise) Check(ctx context.Context) (*CheckResult, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
	cmd.Dir = p.WorkDir
	out, err := cmd.CombinedOutput()

	result := &CheckResult{
		Output:    string(out),
		CheckedAt: time.Now(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		logging.QA("promise check timed out after %s", timeout)
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			logging.QA("promise check exited %d", result.ExitCode)
			return result, nil
		}
		return nil, fmt.Errorf("run promise command: %w", err)
	}

	result.Fulfilled = true
	logging.QA("promise fulfilled")
	return result, nil
}

// Preview returns the truncated output suitable for console display.
func (r *CheckResult) Preview() string {
	if len(r.Output) <= consolePreviewLen {
		return r.Output
	}
	return r.Output[:consolePreviewLen] + "..."
}

// SaveResult persists the check outcome to completion_promise_result.json
// in the spec directory, truncating the captured output.
func SaveResult(specDir string, r *CheckResult) error {
	persisted := *r
	if len(persisted.Output) > persistedOutputLen {
		persisted.Output = persisted.Output[:persistedOutputLen]
	}

	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal promise result: %w", err)
	}
	path := filepath.Join(specDir, "completion_promise_result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write promise result: %w", err)
	}
	return nil
}
