package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
)

var (
	goalStatusFilter string
	goalUnit         string
	goalDescription  string
)

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Define and inspect improvement goals",
}

var goalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		goals, err := store.GetGoals(improvement.GoalStatus(goalStatusFilter))
		if err != nil {
			return err
		}
		if len(goals) == 0 {
			fmt.Println("No goals found.")
			return nil
		}
		for _, g := range goals {
			fmt.Printf("%s  [%s/%s]  %.0f%%  %s\n", g.ID, g.Type, g.Status, g.Progress(), g.Target)
		}
		return nil
	},
}

var goalsShowCmd = &cobra.Command{
	Use:   "show [goal-id]",
	Short: "Show one goal in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		goal, err := store.GetGoal(args[0])
		if err != nil {
			return err
		}
		if goal == nil {
			return fmt.Errorf("goal not found: %s", args[0])
		}

		fmt.Printf("ID:          %s\n", goal.ID)
		fmt.Printf("Type:        %s\n", goal.Type)
		fmt.Printf("Status:      %s\n", goal.Status)
		fmt.Printf("Target:      %s\n", goal.Target)
		fmt.Printf("Description: %s\n", goal.Description)
		fmt.Printf("Progress:    %.1f%%\n", goal.Progress())
		if goal.Metric != nil {
			fmt.Printf("Metric:      %s %.2f -> %.2f %s\n",
				goal.Metric.Name, goal.Metric.Current, goal.Metric.Target, goal.Metric.Unit)
		}
		if goal.Type == improvement.GoalDiscovery {
			fmt.Printf("Discovered:  %d/%d\n", goal.DiscoveredSoFar, goal.DiscoveryCount)
		}
		if len(goal.CardIDs) > 0 {
			fmt.Printf("Cards:       %v\n", goal.CardIDs)
		}
		return nil
	},
}

var goalsAddMetricCmd = &cobra.Command{
	Use:   "add-metric [name] [current] [target]",
	Short: "Create a metric goal (avg_qa_iterations, success_rate, avg_task_duration)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid current value: %s", args[1])
		}
		target, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid target value: %s", args[2])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		goal := improvement.NewMetricGoal(args[0], current, target, goalUnit, goalDescription)
		if err := store.SaveGoal(goal); err != nil {
			return err
		}
		fmt.Printf("Created metric goal %s: %s\n", goal.ID, goal.Target)
		return nil
	},
}

var goalsAddDiscoveryCmd = &cobra.Command{
	Use:   "add-discovery [count]",
	Short: "Create a discovery goal to find N relevant tools",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[0])
		if err != nil || count <= 0 {
			return fmt.Errorf("invalid count: %s", args[0])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		goal := improvement.NewDiscoveryGoal(count, goalDescription)
		if err := store.SaveGoal(goal); err != nil {
			return err
		}
		fmt.Printf("Created discovery goal %s: %s\n", goal.ID, goal.Target)
		return nil
	},
}

var goalsAddPatternFixCmd = &cobra.Command{
	Use:   "add-pattern-fix",
	Short: "Create a goal to eliminate high-severity recurring patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		goal := improvement.NewPatternFixGoal(goalDescription)
		if err := store.SaveGoal(goal); err != nil {
			return err
		}
		fmt.Printf("Created pattern-fix goal %s: %s\n", goal.ID, goal.Target)
		return nil
	},
}

func init() {
	goalsListCmd.Flags().StringVar(&goalStatusFilter, "status", "", "Filter by status (active, achieved, abandoned)")
	goalsAddMetricCmd.Flags().StringVar(&goalUnit, "unit", "", "Metric unit label")

	for _, c := range []*cobra.Command{goalsAddMetricCmd, goalsAddDiscoveryCmd, goalsAddPatternFixCmd} {
		c.Flags().StringVar(&goalDescription, "description", "", "Goal description")
	}

	goalsCmd.AddCommand(goalsListCmd)
	goalsCmd.AddCommand(goalsShowCmd)
	goalsCmd.AddCommand(goalsAddMetricCmd)
	goalsCmd.AddCommand(goalsAddDiscoveryCmd)
	goalsCmd.AddCommand(goalsAddPatternFixCmd)
}
