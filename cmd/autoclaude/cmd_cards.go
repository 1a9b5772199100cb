package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
)

var cardStatusFilter string

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Review, approve, dismiss and apply improvement cards",
}

var cardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cards, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		cards, err := store.GetCards(improvement.CardStatus(cardStatusFilter))
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			fmt.Println("No cards found.")
			return nil
		}
		for _, c := range cards {
			fmt.Printf("%s  [%s/%s]  %s\n", c.ID, c.Type, c.Status, c.Title)
		}
		return nil
	},
}

var cardsShowCmd = &cobra.Command{
	Use:   "show [card-id]",
	Short: "Show one card in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		card, err := store.GetCard(args[0])
		if err != nil {
			return err
		}
		if card == nil {
			return fmt.Errorf("card not found: %s", args[0])
		}

		fmt.Printf("ID:          %s\n", card.ID)
		fmt.Printf("Type:        %s\n", card.Type)
		fmt.Printf("Status:      %s\n", card.Status)
		fmt.Printf("Title:       %s\n", card.Title)
		fmt.Printf("Description: %s\n", card.Description)
		fmt.Printf("Action:      %s (%s effort)\n", card.SuggestedAction.Type, card.SuggestedAction.Effort)
		fmt.Printf("Details:     %s\n", card.SuggestedAction.Details)
		if card.SuggestedAction.Command != nil {
			fmt.Printf("Command:     %s\n", *card.SuggestedAction.Command)
		}
		if card.GoalID != nil {
			fmt.Printf("Goal:        %s\n", *card.GoalID)
		}
		if card.Evidence.Occurrences > 0 {
			fmt.Printf("Occurrences: %d\n", card.Evidence.Occurrences)
		}
		for _, example := range card.Evidence.Examples {
			fmt.Printf("  - %s\n", example)
		}
		return nil
	},
}

func cardStatusCommand(use, short string, status improvement.CardStatus, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			card, err := store.UpdateCardStatus(args[0], status)
			if err != nil {
				return err
			}
			fmt.Printf("%s card %s: %s\n", verb, card.ID, card.Title)
			return nil
		},
	}
}

func init() {
	cardsListCmd.Flags().StringVar(&cardStatusFilter, "status", "", "Filter by status (proposed, approved, applied, dismissed)")

	cardsCmd.AddCommand(cardsListCmd)
	cardsCmd.AddCommand(cardsShowCmd)
	cardsCmd.AddCommand(cardStatusCommand("approve [card-id]", "Approve a proposed card", improvement.CardApproved, "Approved"))
	cardsCmd.AddCommand(cardStatusCommand("dismiss [card-id]", "Dismiss a proposed card", improvement.CardDismissed, "Dismissed"))
	cardsCmd.AddCommand(cardStatusCommand("apply [card-id]", "Mark an approved card as applied", improvement.CardApplied, "Applied"))
}
