// Command stagehand is the closed-loop teaching simulation pipeline: script
// analysis, card deck generation, simulated dialogue, evaluation and demo
// optimization.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "stagehand",
		Short:        "Teaching-script simulation and optimization pipeline",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "stagehand.yaml", "path to the YAML configuration file")

	root.AddCommand(analyzeCmd())
	root.AddCommand(cardsCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(optimizeCmd())
	root.AddCommand(trainsetCmd())
	root.AddCommand(personasCmd())
	root.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
