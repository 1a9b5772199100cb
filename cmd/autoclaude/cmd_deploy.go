package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/deploy"
)

var deploySpecDir string

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Monitor Vercel deployments and auto-fix build errors",
}

var deployMonitorCmd = &cobra.Command{
	Use:   "monitor [commit-sha]",
	Short: "Wait for the deployment of a commit and fix build failures",
	Long: `Polls Vercel until the deployment for the given commit reaches a
terminal state. On build failure the build log is parsed into structured
errors and, when VERCEL_AUTO_FIX is enabled, a fixer session repairs,
commits and pushes until the build passes or attempts run out.

Requires VERCEL_TOKEN and VERCEL_PROJECT_ID in the environment;
VERCEL_TEAM_ID and VERCEL_AUTO_FIX are optional.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vercelCfg := deploy.ConfigFromEnv()
		if err := vercelCfg.Validate(); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		specDir := deploySpecDir
		if specDir == "" {
			specDir = resolveWorkspace()
		}

		client := deploy.NewClient(vercelCfg)
		runner := newSessionRunner(cfg)
		loop := deploy.NewFixLoop(client, vercelCfg, runner, resolveWorkspace(), specDir)

		ctx, cancel := signalContext()
		defer cancel()

		ok, err := loop.Monitor(ctx, args[0])
		if err != nil {
			return err
		}
		if ok {
			fmt.Println("Deployment succeeded.")
			return nil
		}

		state := deploy.LoadState(specDir)
		if state != nil && state.ErrorMessage != "" {
			fmt.Printf("Deployment did not succeed: %s\n", state.ErrorMessage)
		} else {
			fmt.Println("Deployment did not succeed; see the deployment state file for details.")
		}
		return nil
	},
}

var deployStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded deployment state",
	RunE: func(cmd *cobra.Command, args []string) error {
		specDir := deploySpecDir
		if specDir == "" {
			specDir = resolveWorkspace()
		}

		state := deploy.LoadState(specDir)
		if state == nil {
			fmt.Println("No deployment state recorded.")
			return nil
		}

		fmt.Printf("Deployment:   %s\n", state.DeploymentID)
		fmt.Printf("Commit:       %s\n", state.CommitSHA)
		fmt.Printf("Status:       %s\n", state.Status)
		if state.URL != "" {
			fmt.Printf("URL:          https://%s\n", state.URL)
		}
		if state.ErrorMessage != "" {
			fmt.Printf("Error:        %s\n", state.ErrorMessage)
		}
		fmt.Printf("Fix attempts: %d\n", state.FixAttempts)
		for _, e := range state.Errors {
			location := e.FilePath
			if e.LineNumber > 0 {
				location = fmt.Sprintf("%s:%d", e.FilePath, e.LineNumber)
			}
			fmt.Printf("  [%s] %s %s\n", e.ErrorType, location, e.Message)
		}
		return nil
	},
}

func init() {
	deployCmd.PersistentFlags().StringVar(&deploySpecDir, "spec-dir", "", "Spec directory for state files (default: workspace)")

	deployCmd.AddCommand(deployMonitorCmd)
	deployCmd.AddCommand(deployStatusCmd)
}
