package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement/discovery"
)

var (
	discoverQuery   string
	discoverTypes   []string
	discoverLimit   int
	discoverAsCards bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search external sources for tools and packages",
	Long: `Searches MCP server registries, GitHub, npm and curated awesome
lists for tools relevant to this project's tech stack. Results are scored
for relevance and can be promoted into improvement cards for review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}

		engine := discovery.NewEngine(store, discovery.WithGitHubToken(cfg.GitHub.Token))

		var sourceTypes []discovery.SourceType
		for _, t := range discoverTypes {
			sourceTypes = append(sourceTypes, discovery.SourceType(t))
		}

		ctx, cancel := signalContext()
		defer cancel()

		discoveries, err := engine.Discover(ctx, sourceTypes, discoverQuery, discoverLimit)
		if err != nil {
			return err
		}
		if len(discoveries) == 0 {
			fmt.Println("No relevant discoveries found.")
			return nil
		}

		for _, d := range discoveries {
			fmt.Printf("%.2f  [%s]  %s\n      %s\n      %s\n", d.RelevanceScore, d.Type, d.Name, d.Description, d.URL)
		}

		if discoverAsCards {
			for _, d := range discoveries {
				card, err := engine.CreateDiscoveryCard(d, nil)
				if err != nil {
					return err
				}
				fmt.Printf("Created card %s: %s\n", card.ID, card.Title)
			}
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverQuery, "query", "q", "", "Search query (default: derived from project stack)")
	discoverCmd.Flags().StringSliceVar(&discoverTypes, "type", nil, "Source types (mcp_servers, github_repos, npm_packages, awesome_lists)")
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 10, "Maximum results")
	discoverCmd.Flags().BoolVar(&discoverAsCards, "cards", false, "Promote results into improvement cards")
}
