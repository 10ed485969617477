package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	analyzeNoCache bool
	analyzeJSON    bool
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <script-file>",
		Short: "Segment a teaching script into stages",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	cmd.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "Bypass the analysis cache")
	cmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the analysis as JSON")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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

	analysis, err := rt.svc.Analyze(ctx, string(raw), analyzeNoCache)
	if err != nil {
		return err
	}

	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}

	if analysis.Truncated {
		fmt.Fprintln(os.Stderr, "note: the script was truncated before analysis")
	}
	fmt.Printf("%d stages:\n", len(analysis.Stages))
	for _, st := range analysis.Stages {
		fmt.Printf("  %2d. %-30s role=%-24s rounds=%d\n", st.ID, st.Title, st.Role, st.InteractionRounds)
	}
	return nil
}
