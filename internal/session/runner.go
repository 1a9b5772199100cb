// Package session runs agent work sessions through an external CLI and
// reports their outcome. Higher-level loops (QA promise checking, deploy
// fixing) depend only on the Runner interface so tests can substitute
// scripted runners.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

// Status is the terminal outcome of one session.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Result is what a finished session produced.
type Result struct {
	Status     Status
	Transcript string
	ExitCode   int
	Duration   time.Duration
}

// Runner executes one agent session with the given prompt.
type Runner interface {
	RunSession(ctx context.Context, prompt string) (*Result, error)
}

// DefaultTimeout bounds a single session.
const DefaultTimeout = 30 * time.Minute

// CommandRunner runs sessions by invoking an external agent CLI. The
// prompt is appended as the final argument.
type CommandRunner struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// NewCommandRunner builds a runner for the given agent binary, working in
// dir.
func NewCommandRunner(command, dir string, args ...string) *CommandRunner {
	return &CommandRunner{
		Command: command,
		Args:    args,
		Dir:     dir,
		Timeout: DefaultTimeout,
	}
}

// Available reports whether the agent binary can be found on PATH.
func (r *CommandRunner) Available() bool {
	_, err := exec.LookPath(r.Command)
	return err == nil
}

// RunSession invokes the agent CLI with the prompt and captures combined
// output. A context deadline or the runner's own timeout turns into
// StatusTimeout rather than an error, so callers can decide whether to
// retry.
func (r *CommandRunner) RunSession(ctx context.Context, prompt string) (*Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, r.Args...), prompt)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	logging.Session("starting session: %s (%d prompt chars)", r.Command, len(prompt))
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		Transcript: buf.String(),
		Duration:   elapsed,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.Status = StatusTimeout
		result.ExitCode = -1
		logging.SessionError("session timed out after %s", elapsed.Round(time.Second))
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = StatusFailed
			result.ExitCode = exitErr.ExitCode()
			logging.SessionError("session exited %d after %s", result.ExitCode, elapsed.Round(time.Second))
			return result, nil
		}
		return nil, fmt.Errorf("run session: %w", err)
	}

	result.Status = StatusCompleted
	logging.Session("session completed in %s (%d output chars)", elapsed.Round(time.Second), buf.Len())
	return result, nil
}

// Summarize trims a transcript to maxLen for console display, keeping the
// tail since failures surface at the end of output.
func Summarize(transcript string, maxLen int) string {
	transcript = strings.TrimSpace(transcript)
	if len(transcript) <= maxLen {
		return transcript
	}
	return "..." + transcript[len(transcript)-maxLen:]
}
