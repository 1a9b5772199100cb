package deploy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
	"github.com/taskmasterpeace/Auto-Claude/internal/session"
)

const (
	fixRequestFileName = "VERCEL_FIX_REQUEST.md"
	escalationFileName = "VERCEL_ESCALATION.md"
)

// DeploymentWaiter is the slice of the API client the fix loop needs,
// separated so tests can script deployment outcomes.
type DeploymentWaiter interface {
	WaitForDeployment(ctx context.Context, commitSHA string) (*DeploymentState, error)
}

// FixLoop drives automated repair of failing Vercel builds: parse errors,
// write a fix request, run a fixer session, push, wait for the next
// deployment, repeat.
type FixLoop struct {
	client     DeploymentWaiter
	config     *Config
	runner     session.Runner
	projectDir string
	specDir    string

	// headCommit is swappable for tests; defaults to git rev-parse.
	headCommit func() (string, error)
}

// NewFixLoop builds a fix loop for a project and spec directory.
func NewFixLoop(client DeploymentWaiter, config *Config, runner session.Runner, projectDir, specDir string) *FixLoop {
	l := &FixLoop{
		client:     client,
		config:     config,
		runner:     runner,
		projectDir: projectDir,
		specDir:    specDir,
	}
	l.headCommit = l.gitHead
	return l
}

// Monitor waits for the deployment of a commit and, when the build fails
// and auto-fix is enabled, enters the fix loop. Returns true when the
// deployment (eventually) succeeds.
func (l *FixLoop) Monitor(ctx context.Context, commitSHA string) (bool, error) {
	if !l.config.Enabled() {
		logging.Deploy("vercel integration not configured, skipping monitor")
		return true, nil
	}

	state, err := l.client.WaitForDeployment(ctx, commitSHA)
	if err != nil {
		return false, err
	}
	if saveErr := state.Save(l.specDir); saveErr != nil {
		logging.DeployWarn("persist deployment state: %v", saveErr)
	}

	if state.IsReady() {
		return true, nil
	}
	if state.IsFailed() {
		logging.Deploy("deployment failed, entering fix loop")
		return l.Run(ctx, state)
	}

	logging.DeployWarn("deployment ended with status %s: %s", state.Status, state.ErrorMessage)
	return false, nil
}

// Run executes fix attempts until the build succeeds, errors run out, or
// the attempt budget is exhausted. In manual mode (auto-fix disabled) it
// stops after the first fix so the user can review and push.
func (l *FixLoop) Run(ctx context.Context, state *DeploymentState) (bool, error) {
	var lastErrors []BuildError

	for attempt := state.FixAttempts + 1; attempt <= l.config.MaxFixAttempts; attempt++ {
		logging.Deploy("fix attempt %d/%d", attempt, l.config.MaxFixAttempts)

		errors := state.Errors
		if len(errors) == 0 && state.ErrorMessage != "" {
			errors = []BuildError{{ErrorType: "build", Message: state.ErrorMessage}}
		}
		if len(errors) == 0 {
			logging.DeployWarn("no errors to fix, stopping")
			break
		}
		lastErrors = errors

		if err := l.writeFixRequest(errors, attempt, state.DeploymentID); err != nil {
			return false, err
		}

		result, err := l.runner.RunSession(ctx, l.fixerPrompt(attempt))
		if err != nil {
			return false, fmt.Errorf("fixer session %d: %w", attempt, err)
		}
		if result.Status != session.StatusCompleted {
			logging.DeployError("fixer session ended %s", result.Status)
			state.RecordFixAttempt(false, nil, session.Summarize(result.Transcript, 200))
			if saveErr := state.Save(l.specDir); saveErr != nil {
				logging.DeployWarn("persist deployment state: %v", saveErr)
			}
			continue
		}

		fixed := make([]string, 0, 5)
		for i, e := range errors {
			if i >= 5 {
				break
			}
			fixed = append(fixed, e.Message)
		}

		if !l.config.AutoFixEnabled {
			// Manual mode: the user reviews, commits and pushes, then
			// re-runs the monitor.
			state.RecordFixAttempt(true, fixed, "")
			if saveErr := state.Save(l.specDir); saveErr != nil {
				logging.DeployWarn("persist deployment state: %v", saveErr)
			}
			logging.Deploy("auto-fix disabled, waiting for user to commit and push")
			return false, nil
		}

		if err := l.commitAndPush(ctx, attempt); err != nil {
			logging.DeployError("commit and push failed: %v", err)
			state.RecordFixAttempt(false, nil, err.Error())
			if saveErr := state.Save(l.specDir); saveErr != nil {
				logging.DeployWarn("persist deployment state: %v", saveErr)
			}
			continue
		}
		state.RecordFixAttempt(true, fixed, "")

		os.Remove(filepath.Join(l.specDir, fixRequestFileName))

		newCommit, err := l.headCommit()
		if err != nil {
			return false, fmt.Errorf("resolve HEAD after fix: %w", err)
		}

		next, err := l.client.WaitForDeployment(ctx, newCommit)
		if err != nil {
			return false, err
		}
		next.FixAttempts = state.FixAttempts
		next.FixHistory = state.FixHistory
		state = next
		if saveErr := state.Save(l.specDir); saveErr != nil {
			logging.DeployWarn("persist deployment state: %v", saveErr)
		}

		if state.IsReady() {
			logging.Deploy("deployment succeeded after %d fix attempt(s)", attempt)
			return true, nil
		}
		logging.DeployWarn("deployment still failing after attempt %d", attempt)
	}

	if err := l.writeEscalation(state, lastErrors); err != nil {
		logging.DeployError("write escalation file: %v", err)
	}
	logging.DeployError("fix loop exhausted after %d attempts", state.FixAttempts)
	return false, nil
}

func (l *FixLoop) writeFixRequest(errors []BuildError, attempt int, deploymentID string) error {
	var b strings.Builder
	b.WriteString(FormatErrorsForFixer(errors))
	fmt.Fprintf(&b, "\n\n---\n\n**Fix Attempt**: %d\n", attempt)
	fmt.Fprintf(&b, "**Deployment ID**: %s\n", deploymentID)
	autoFix := "Disabled"
	if l.config.AutoFixEnabled {
		autoFix = "Enabled"
	}
	fmt.Fprintf(&b, "**Auto-Fix Mode**: %s\n", autoFix)

	path := filepath.Join(l.specDir, fixRequestFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write fix request: %w", err)
	}
	return nil
}

func (l *FixLoop) fixerPrompt(attempt int) string {
	return fmt.Sprintf(
		"Read %s in %s and fix every build error it lists. This is fix attempt %d. "+
			"Make the minimal changes needed for the build to pass.",
		fixRequestFileName, l.specDir, attempt)
}

func (l *FixLoop) writeEscalation(state *DeploymentState, errors []BuildError) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Vercel Build Fix Escalation\n\n")
	fmt.Fprintf(&b, "The Vercel fix loop was unable to resolve build errors after %d attempts.\n\n", l.config.MaxFixAttempts)
	b.WriteString("## Last Known Errors\n\n")
	if len(errors) > 0 {
		b.WriteString(FormatErrorsForFixer(errors))
	} else {
		b.WriteString("No specific errors captured.\n")
	}
	b.WriteString("\n## Fix Attempt History\n\n")
	for _, a := range state.FixHistory {
		outcome := "Failed"
		if a.Success {
			outcome = "Success"
		}
		fmt.Fprintf(&b, "- Attempt %d: %s\n", a.Attempt, outcome)
		if a.Error != "" {
			msg := a.Error
			if len(msg) > 200 {
				msg = msg[:200]
			}
			fmt.Fprintf(&b, "  Error: %s\n", msg)
		}
	}
	b.WriteString(`
## Recommended Actions

1. Review the build logs in the Vercel dashboard
2. Check for environment variable issues
3. Verify all dependencies are correctly installed
4. Consider reverting recent changes if the issue persists
`)

	path := filepath.Join(l.specDir, escalationFileName)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func (l *FixLoop) commitAndPush(ctx context.Context, attempt int) error {
	steps := [][]string{
		{"git", "add", "-A"},
		{"git", "commit", "-m", fmt.Sprintf("fix: Vercel build errors (auto-fix attempt %d)", attempt)},
		{"git", "push"},
	}
	for _, step := range steps {
		cmd := exec.CommandContext(ctx, step[0], step[1:]...)
		cmd.Dir = l.projectDir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %w: %s", strings.Join(step, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func (l *FixLoop) gitHead() (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = l.projectDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
