package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/qa"
)

var promiseCmd = &cobra.Command{
	Use:   "promise",
	Short: "Verify completion promises for a task",
	Long: `A task's metadata may declare a completion promise: a shell command
that objectively verifies the work is done (tests pass, the binary builds,
an endpoint responds). "check" runs it once; "run" alternates fix sessions
with checks until the command exits 0 or iterations run out.`,
}

var promiseCheckCmd = &cobra.Command{
	Use:   "check [spec-dir]",
	Short: "Run the promise command once and report the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		promise, err := qa.LoadPromise(args[0])
		if err != nil {
			if errors.Is(err, qa.ErrNoPromise) {
				fmt.Println("No completion promise declared for this task.")
				return nil
			}
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		result, err := promise.Check(ctx)
		if err != nil {
			return err
		}
		if err := qa.SaveResult(args[0], result); err != nil {
			return err
		}

		if result.Fulfilled {
			fmt.Println("Promise fulfilled.")
			return nil
		}
		if result.TimedOut {
			fmt.Println("Promise check timed out.")
		} else {
			fmt.Printf("Promise not fulfilled (exit %d).\n", result.ExitCode)
		}
		if out := result.Preview(); out != "" {
			fmt.Printf("\n%s\n", out)
		}
		return nil
	},
}

var promiseRunCmd = &cobra.Command{
	Use:   "run [spec-dir]",
	Short: "Run fix sessions until the promise is fulfilled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		promise, err := qa.LoadPromise(args[0])
		if err != nil {
			if errors.Is(err, qa.ErrNoPromise) {
				fmt.Println("No completion promise declared for this task.")
				return nil
			}
			return err
		}
		promise.Timeout = cfg.GetCommandTimeout()

		runner := newSessionRunner(cfg)
		if !runner.Available() {
			return fmt.Errorf("agent binary %q not found on PATH", cfg.Session.Command)
		}

		ctx, cancel := signalContext()
		defer cancel()

		result, err := qa.NewPromiseLoop(runner, promise).Run(ctx)
		if err != nil {
			return err
		}

		switch result.Outcome {
		case qa.OutcomeFulfilled:
			fmt.Printf("Promise fulfilled after %d iteration(s).\n", result.Iterations)
		case qa.OutcomeMaxIterations:
			fmt.Printf("Promise not fulfilled after %d iterations; manual intervention required.\n", result.Iterations)
		case qa.OutcomeAborted:
			fmt.Printf("Promise loop aborted after %d iteration(s).\n", result.Iterations)
		}
		if result.LastCheck != nil && !result.LastCheck.Fulfilled {
			if out := result.LastCheck.Preview(); out != "" {
				fmt.Printf("\nLast check output:\n%s\n", out)
			}
		}
		return nil
	},
}

func init() {
	promiseCmd.AddCommand(promiseCheckCmd)
	promiseCmd.AddCommand(promiseRunCmd)
}
