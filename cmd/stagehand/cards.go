package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stagehand/internal/cards"
)

var (
	cardsFramework string
	cardsOut       string
	cardsNoCache   bool
)

func cardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards <script-file>",
		Short: "Generate a dialogue card deck from a teaching script",
		Args:  cobra.ExactArgs(1),
		RunE:  runCards,
	}
	cmd.Flags().StringVar(&cardsFramework, "framework", cards.StructuredID, "Generation strategy (template or structured)")
	cmd.Flags().StringVarP(&cardsOut, "out", "o", "", "Write the deck markdown to this file instead of stdout")
	cmd.Flags().BoolVar(&cardsNoCache, "no-cache", false, "Bypass the analysis cache")
	return cmd
}

func runCards(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	if err := rt.requireGenerator(); err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	script := string(raw)

	analysis, err := rt.svc.Analyze(ctx, script, cardsNoCache)
	if err != nil {
		return err
	}

	progress := func(done, total int) {
		fmt.Fprintf(os.Stderr, "stage %d/%d\n", done, total)
	}
	deck, err := rt.svc.GenerateCards(ctx, cardsFramework, analysis, script, progress)
	if err != nil {
		return err
	}

	rendered := cards.RenderDeck(deck)
	if cardsOut == "" {
		fmt.Print(rendered)
		return nil
	}
	if err := os.WriteFile(cardsOut, []byte(rendered), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d cards to %s\n", len(deck), cardsOut)
	return nil
}
