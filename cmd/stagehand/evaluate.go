package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stagehand/internal/dialogue"
)

var (
	evaluateOut      string
	evaluateMarkdown bool
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <session-file>",
		Short: "Score a saved session log against the rubric",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluate,
	}
	cmd.Flags().StringVarP(&evaluateOut, "out", "o", "", "Write the report JSON to this file")
	cmd.Flags().BoolVar(&evaluateMarkdown, "markdown", false, "Print the report as markdown instead of a summary line")
	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	if err := rt.requireEvaluator(); err != nil {
		return err
	}

	session, err := dialogue.LoadSession(args[0])
	if err != nil {
		return err
	}

	report, err := rt.evaluator.Evaluate(ctx, session)
	if err != nil {
		return err
	}

	if evaluateMarkdown {
		fmt.Print(report.Markdown())
	} else {
		fmt.Printf("session %s: score %.1f\n", report.SessionID, report.Aggregate)
		for _, d := range report.Dimensions {
			fmt.Printf("  %-32s %6.1f  (weight %.2f)\n", d.Name, d.Score, d.Weight)
		}
	}

	if evaluateOut != "" {
		if err := report.Save(evaluateOut); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote report to %s\n", evaluateOut)
	}
	return nil
}
