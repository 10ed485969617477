package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stagehand/internal/cards"
)

var (
	simulatePersona string
	simulateReport  string
)

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <deck-file>",
		Short: "Play a card deck against a simulated student and score the session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulate,
	}
	cmd.Flags().StringVar(&simulatePersona, "persona", "average", "Student persona id")
	cmd.Flags().StringVarP(&simulateReport, "report", "o", "", "Write the evaluation report markdown to this file")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	if err := rt.requireSimulation(); err != nil {
		return err
	}
	if err := rt.requireEvaluator(); err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	deck, err := cards.ParseDeck(string(raw))
	if err != nil {
		return err
	}

	session, report, err := rt.svc.SimulateAndEvaluate(ctx, deck, simulatePersona)
	if err != nil {
		return err
	}

	fmt.Println(session.Transcript())
	if session.Truncated {
		fmt.Fprintln(os.Stderr, "note: the session hit the turn cap and was truncated")
	}
	fmt.Printf("\nsession %s: score %.1f\n", session.ID, report.Aggregate)

	if simulateReport != "" {
		if err := os.WriteFile(simulateReport, []byte(report.Markdown()), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote report to %s\n", simulateReport)
	}
	return nil
}
