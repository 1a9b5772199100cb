// memquery is the subprocess interface the UI uses to read agent memory.
// Every command prints exactly one JSON line to stdout with the shape
// {"success": bool, "data": ..., "error": ...} and exits 0 on success,
// 1 on failure, so callers can spawn it and parse a single line.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/memoryquery"
)

var limit int

func withQuerier(fn func(q *memoryquery.Querier, args []string) *memoryquery.Result) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		querier, err := memoryquery.NewQuerier(args[0])
		var result *memoryquery.Result
		if err != nil {
			result = &memoryquery.Result{Success: false, Error: err.Error()}
		} else {
			result = fn(querier, args)
		}
		os.Exit(result.Write(os.Stdout))
	}
}

var rootCmd = &cobra.Command{
	Use:           "memquery",
	Short:         "Query agent memory as JSON",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var statusCmd = &cobra.Command{
	Use:   "get-status [project-dir]",
	Short: "Report memory store status",
	Args:  cobra.ExactArgs(1),
	Run: withQuerier(func(q *memoryquery.Querier, args []string) *memoryquery.Result {
		return q.GetStatus()
	}),
}

var memoriesCmd = &cobra.Command{
	Use:   "get-memories [project-dir]",
	Short: "List recent memories",
	Args:  cobra.ExactArgs(1),
	Run: withQuerier(func(q *memoryquery.Querier, args []string) *memoryquery.Result {
		return q.GetMemories(limit)
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search [project-dir] [query]",
	Short: "Search memories by keyword",
	Args:  cobra.ExactArgs(2),
	Run: withQuerier(func(q *memoryquery.Querier, args []string) *memoryquery.Result {
		return q.Search(args[1], limit)
	}),
}

var entitiesCmd = &cobra.Command{
	Use:   "get-entities [project-dir]",
	Short: "List pattern-level memory entities",
	Args:  cobra.ExactArgs(1),
	Run: withQuerier(func(q *memoryquery.Querier, args []string) *memoryquery.Result {
		return q.GetEntities(limit)
	}),
}

func init() {
	for _, c := range []*cobra.Command{memoriesCmd, searchCmd, entitiesCmd} {
		c.Flags().IntVar(&limit, "limit", memoryquery.DefaultLimit, "Maximum results")
	}

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(entitiesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		result := &memoryquery.Result{Success: false, Error: err.Error()}
		os.Exit(result.Write(os.Stdout))
	}
}
