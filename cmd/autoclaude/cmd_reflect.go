package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
)

var (
	reflectWorked          []string
	reflectFailed          []string
	reflectRecommendations []string
)

var reflectCmd = &cobra.Command{
	Use:   "reflect [spec-dir]",
	Short: "Analyze a finished task and generate improvement cards",
	Long: `Gathers metrics from a task's spec directory (implementation plan,
QA report, fix requests), stores a reflection, detects recurring issue
patterns across recent tasks, and proposes improvement cards when a
pattern crosses the occurrence threshold.

Insights are read from memory/session_insights.md in the spec directory
when present; the --worked/--failed/--recommend flags add to them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specDir := args[0]

		store, err := openStore()
		if err != nil {
			return err
		}

		worked, failed, recommendations := improvement.LoadSessionInsights(specDir)
		worked = append(worked, reflectWorked...)
		failed = append(failed, reflectFailed...)
		recommendations = append(recommendations, reflectRecommendations...)

		engine := improvement.NewReflectionEngine(store)
		reflection, err := engine.RunPostTaskReflection(specDir, worked, failed, recommendations)
		if err != nil {
			return err
		}

		fmt.Printf("Recorded reflection %s\n", reflection.TaskID)
		fmt.Printf("  success:       %v\n", reflection.Success)
		fmt.Printf("  qa iterations: %d\n", reflection.QAIterations)
		fmt.Printf("  issues found:  %d\n", len(reflection.IssuesFound))
		if len(reflection.IssueTypes) > 0 {
			fmt.Printf("  issue types:   %v\n", reflection.IssueTypes)
		}

		proposed, err := store.GetCards(improvement.CardProposed)
		if err == nil && len(proposed) > 0 {
			fmt.Printf("\n%d proposed card(s) awaiting review; see \"autoclaude cards list --status proposed\"\n", len(proposed))
		}
		return nil
	},
}

func init() {
	reflectCmd.Flags().StringSliceVar(&reflectWorked, "worked", nil, "Something that worked well")
	reflectCmd.Flags().StringSliceVar(&reflectFailed, "failed", nil, "Something that failed")
	reflectCmd.Flags().StringSliceVar(&reflectRecommendations, "recommend", nil, "Recommendation for future tasks")
}
