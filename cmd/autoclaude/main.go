package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskmasterpeace/Auto-Claude/internal/config"
	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
	"github.com/taskmasterpeace/Auto-Claude/internal/session"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "autoclaude",
	Short: "Auto-Claude - self-improvement toolkit for autonomous coding agents",
	Long: `Auto-Claude closes the loop on agent performance: it reflects on
completed tasks, detects recurring failure patterns, discovers external
tools worth adopting, and drives goal-directed improvement with the user
approving every proposed change.

Subcommands cover the full cycle:
  reflect   analyze a finished task and generate improvement cards
  goals     define and inspect improvement goals
  improve   run the goal-directed improvement loop
  cards     review, approve, dismiss and apply improvement cards
  discover  search external sources for tools and packages
  metrics   inspect aggregate performance metrics
  promise   verify completion promises for a task
  deploy    monitor Vercel deployments and auto-fix build errors`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(resolveWorkspace()); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	rootCmd.AddCommand(goalsCmd)
	rootCmd.AddCommand(cardsCmd)
	rootCmd.AddCommand(improveCmd)
	rootCmd.AddCommand(reflectCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(promiseCmd)
	rootCmd.AddCommand(deployCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the workspace directory, defaulting to the
// current directory.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// openStore opens the improvement store for the workspace.
func openStore() (*improvement.Store, error) {
	return improvement.NewStore(resolveWorkspace())
}

// loadConfig loads workspace configuration with env overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveWorkspace())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSessionRunner builds the agent session runner from configuration.
func newSessionRunner(cfg *config.Config) *session.CommandRunner {
	runner := session.NewCommandRunner(cfg.Session.Command, resolveWorkspace(), cfg.Session.Args...)
	runner.Timeout = cfg.GetSessionTimeout()
	return runner
}
