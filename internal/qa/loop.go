package qa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
	"github.com/taskmasterpeace/Auto-Claude/internal/session"
)

// LoopOutcome classifies how a promise loop finished.
type LoopOutcome string

const (
	OutcomeFulfilled     LoopOutcome = "fulfilled"
	OutcomeMaxIterations LoopOutcome = "max_iterations"
	OutcomeAborted       LoopOutcome = "aborted"
)

// LoopResult summarizes a finished promise loop.
type LoopResult struct {
	Outcome    LoopOutcome
	Iterations int
	LastCheck  *CheckResult
}

// PromiseLoop alternates fix sessions with promise checks until the
// promise command succeeds or iterations are exhausted.
type PromiseLoop struct {
	runner  session.Runner
	promise *Promise
}

// NewPromiseLoop builds a loop for the given promise, using runner to
// execute fix sessions.
func NewPromiseLoop(runner session.Runner, promise *Promise) *PromiseLoop {
	return &PromiseLoop{runner: runner, promise: promise}
}

// Run checks the promise first since the work may already be done, then
// iterates: fix session, re-check. Every check result is persisted so the
// latest evidence survives a crash mid-loop.
func (l *PromiseLoop) Run(ctx context.Context) (*LoopResult, error) {
	check, err := l.promise.Check(ctx)
	if err != nil {
		return nil, err
	}
	if saveErr := SaveResult(l.promise.WorkDir, check); saveErr != nil {
		logging.QAError("persist promise result: %v", saveErr)
	}
	if check.Fulfilled {
		return &LoopResult{Outcome: OutcomeFulfilled, Iterations: 0, LastCheck: check}, nil
	}

	for i := 1; i <= l.promise.MaxIterations; i++ {
		if ctx.Err() != nil {
			return &LoopResult{Outcome: OutcomeAborted, Iterations: i - 1, LastCheck: check}, ctx.Err()
		}

		logging.QA("promise iteration %d/%d", i, l.promise.MaxIterations)
		sessionResult, err := l.runner.RunSession(ctx, l.fixPrompt(check, i))
		if err != nil {
			return nil, fmt.Errorf("fix session %d: %w", i, err)
		}
		if sessionResult.Status == session.StatusTimeout {
			logging.QAError("fix session %d timed out, re-checking anyway", i)
		}

		check, err = l.promise.Check(ctx)
		if err != nil {
			return nil, err
		}
		if saveErr := SaveResult(l.promise.WorkDir, check); saveErr != nil {
			logging.QAError("persist promise result: %v", saveErr)
		}
		if check.Fulfilled {
			logging.QA("promise fulfilled after %d iterations", i)
			return &LoopResult{Outcome: OutcomeFulfilled, Iterations: i, LastCheck: check}, nil
		}
	}

	logging.QAError("promise not fulfilled after %d iterations", l.promise.MaxIterations)
	return &LoopResult{
		Outcome:    OutcomeMaxIterations,
		Iterations: l.promise.MaxIterations,
		LastCheck:  check,
	}, nil
}

// fixPrompt describes the failing check to the fix session.
func (l *PromiseLoop) fixPrompt(check *CheckResult, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The completion check command failed (iteration %d).\n\n", iteration)
	fmt.Fprintf(&b, "Command: %s\n", l.promise.Command)
	if check.TimedOut {
		fmt.Fprintf(&b, "Result: timed out after %s\n", l.promise.Timeout.Round(time.Second))
	} else {
		fmt.Fprintf(&b, "Exit code: %d\n", check.ExitCode)
	}
	if out := strings.TrimSpace(check.Preview()); out != "" {
		fmt.Fprintf(&b, "\nOutput:\n%s\n", out)
	}
	b.WriteString("\nFix the underlying problems so the command exits successfully, then stop.")
	return b.String()
}
