package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
	"github.com/taskmasterpeace/Auto-Claude/internal/improvement/discovery"
)

var (
	improveGoalID        string
	improveMaxIterations int
	improveIteration     int
)

var improveCmd = &cobra.Command{
	Use:   "improve",
	Short: "Run the goal-directed improvement loop",
	Long: `The improvement loop analyzes current metrics, checks goal
achievement, and proposes improvement cards. It never acts without
approval: when cards are proposed the loop yields with status
awaiting_user. Review them with "autoclaude cards", then continue with
"autoclaude improve resume" or let "autoclaude improve watch" continue
automatically as you review.`,
}

var improveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the loop for a goal",
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, goal, err := buildLoop()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		result, err := loop.Run(ctx, goal, improveMaxIterations)
		if err != nil {
			return err
		}
		printLoopResult(result)
		return nil
	},
}

var improveResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the loop after reviewing cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, goal, err := buildLoop()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		result, err := loop.ResumeAfterUserAction(ctx, goal, improveIteration, improveMaxIterations)
		if err != nil {
			return err
		}
		printLoopResult(result)
		return nil
	},
}

var improveWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for card reviews and continue the loop automatically",
	Long: `Watches the card store and resumes the loop each time cards
change, so approving or dismissing cards from another terminal or the UI
drives the goal forward without manual resume calls. Stops when the loop
reaches a terminal status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, goal, err := buildLoop()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()

		improvementDir := filepath.Join(resolveWorkspace(), ".auto-claude", "improvement")
		if err := watcher.Add(improvementDir); err != nil {
			return fmt.Errorf("watch %s: %w", improvementDir, err)
		}

		result, err := loop.Run(ctx, goal, improveMaxIterations)
		if err != nil {
			return err
		}
		printLoopResult(result)
		if result.Status != improvement.StatusAwaitingUser {
			return nil
		}

		iteration := result.Iterations
		fmt.Println("\nWatching for card reviews (ctrl-c to stop)...")

		// Burst suppression: editors and the store both write multiple
		// times per save.
		var debounce <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != "cards.json" || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				debounce = time.After(500 * time.Millisecond)

			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("watcher error", zap.Error(watchErr))

			case <-debounce:
				debounce = nil
				result, err := loop.ResumeAfterUserAction(ctx, goal, iteration, improveMaxIterations)
				if err != nil {
					return err
				}
				printLoopResult(result)
				if result.Status != improvement.StatusAwaitingUser {
					return nil
				}
				iteration += result.Iterations
				fmt.Println("\nWatching for card reviews (ctrl-c to stop)...")
			}
		}
	},
}

// buildLoop wires the store, reflection engine and discovery engine for
// the configured goal.
func buildLoop() (*improvement.Loop, *improvement.Goal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	goal, err := store.GetGoal(improveGoalID)
	if err != nil {
		return nil, nil, err
	}
	if goal == nil {
		return nil, nil, fmt.Errorf("goal not found: %s", improveGoalID)
	}

	reflection := improvement.NewReflectionEngine(store)
	engine := discovery.NewEngine(store, discovery.WithGitHubToken(cfg.GitHub.Token))
	return improvement.NewLoop(store, reflection, engine), goal, nil
}

func printLoopResult(r *improvement.LoopResult) {
	fmt.Printf("\nStatus:     %s\n", r.Status)
	fmt.Printf("Iterations: %d\n", r.Iterations)
	if r.CardsProposed > 0 {
		fmt.Printf("Proposed:   %d cards\n", r.CardsProposed)
	}
	fmt.Printf("Message:    %s\n", r.Message)
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func init() {
	for _, c := range []*cobra.Command{improveRunCmd, improveResumeCmd, improveWatchCmd} {
		c.Flags().StringVar(&improveGoalID, "goal", "", "Goal ID (required)")
		c.Flags().IntVar(&improveMaxIterations, "max-iterations", improvement.DefaultMaxIterations, "Iteration budget")
		c.MarkFlagRequired("goal")
	}
	improveResumeCmd.Flags().IntVar(&improveIteration, "iteration", 1, "Iterations already consumed")

	improveCmd.AddCommand(improveRunCmd)
	improveCmd.AddCommand(improveResumeCmd)
	improveCmd.AddCommand(improveWatchCmd)
}
