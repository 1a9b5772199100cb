package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
)

var metricsLimit int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect aggregate performance metrics",
}

var metricsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarize recent task performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		summary, err := improvement.GetMetricsSummary(store, metricsLimit)
		if err != nil {
			return err
		}
		if summary.TotalTasks == 0 {
			fmt.Println("No reflections recorded yet.")
			return nil
		}

		fmt.Printf("Tasks:             %d\n", summary.TotalTasks)
		fmt.Printf("Success rate:      %.1f%%\n", summary.SuccessRate*100)
		fmt.Printf("Avg QA iterations: %.2f\n", summary.AvgQAIterations)
		fmt.Printf("Avg duration:      %.0fs\n", summary.AvgDurationSeconds)
		if len(summary.CommonIssueTypes) > 0 {
			fmt.Println("Common issues:")
			for _, it := range summary.CommonIssueTypes {
				fmt.Printf("  %-16s %d\n", it.Type, it.Count)
			}
		}
		return nil
	},
}

var metricsRecalcCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Recompute the aggregate metrics from stored data",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		m, err := store.RecalculateMetrics()
		if err != nil {
			return err
		}
		fmt.Printf("Recalculated: %d tasks, %.1f%% success, %.2f avg QA iterations, %d patterns\n",
			m.TotalTasks, m.SuccessRate(), m.AvgQAIterations, m.RecurringPatternsCount)
		return nil
	},
}

func init() {
	metricsShowCmd.Flags().IntVar(&metricsLimit, "limit", 20, "How many recent reflections to summarize")

	metricsCmd.AddCommand(metricsShowCmd)
	metricsCmd.AddCommand(metricsRecalcCmd)
}
