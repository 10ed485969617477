package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"stagehand/internal/optimize"
	"stagehand/internal/trainset"
)

var (
	optimizeTrainset string
	optimizeSource   string
	optimizeRounds   int
	optimizePersonas []string
	optimizeOut      string
)

func optimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search for the best few-shot demos for the structured strategy",
		Args:  cobra.NoArgs,
		RunE:  runOptimize,
	}
	cmd.Flags().StringVar(&optimizeTrainset, "trainset", "", "Trainset file (default <workspace>/trainset.json)")
	cmd.Flags().StringVar(&optimizeSource, "source", "", "Source id of the training example (default: most recently added)")
	cmd.Flags().IntVar(&optimizeRounds, "rounds", 0, "Number of optimization rounds (default from config)")
	cmd.Flags().StringSliceVar(&optimizePersonas, "personas", nil, "Persona panel (default from config, then the built-in presets)")
	cmd.Flags().StringVarP(&optimizeOut, "out", "o", "", "Output directory (default <workspace>/optimize)")
	return cmd
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	if err := rt.requireGenerator(); err != nil {
		return err
	}
	if err := rt.requireSimulation(); err != nil {
		return err
	}
	if err := rt.requireEvaluator(); err != nil {
		return err
	}

	store := trainset.NewStore(trainsetPath(rt))
	example, err := pickExample(store)
	if err != nil {
		return err
	}

	cfg := optimize.Config{
		MaxRounds:  rt.cfg.Optimizer.MaxRounds,
		MaxDemos:   rt.cfg.Optimizer.MaxDemos,
		EarlyStop:  rt.cfg.Optimizer.EarlyStop,
		PersonaIDs: rt.cfg.Optimizer.Personas,
		OutDir:     optimizeOut,
	}
	if optimizeRounds > 0 {
		cfg.MaxRounds = optimizeRounds
	}
	if len(optimizePersonas) > 0 {
		cfg.PersonaIDs = optimizePersonas
	}
	if len(cfg.PersonaIDs) == 0 {
		cfg.PersonaIDs = []string{"excellent", "average", "struggling"}
	}
	if cfg.OutDir == "" {
		cfg.OutDir = filepath.Join(rt.cfg.Workspace.Dir, "optimize")
	}

	opt := optimize.New(rt.svc, rt.structured, cfg)
	defer opt.Close()
	opt.Progress = func(round optimize.Round, best float64) {
		if round.Err != "" {
			fmt.Fprintf(os.Stderr, "round %d failed: %s\n", round.Number, round.Err)
			return
		}
		marker := ""
		if round.Adopted {
			marker = "  (adopted)"
		}
		fmt.Fprintf(os.Stderr, "round %d: mean %.1f, best %.1f%s\n", round.Number, round.Mean, best, marker)
	}

	result, err := opt.Run(ctx, example)
	if err != nil {
		return err
	}

	fmt.Printf("best deck from round %d with panel score %.1f\n", result.BestRound, result.BestScore)
	fmt.Printf("artifacts in %s\n", cfg.OutDir)
	return nil
}

func trainsetPath(rt *runtime) string {
	if optimizeTrainset != "" {
		return optimizeTrainset
	}
	return filepath.Join(rt.cfg.Workspace.Dir, "trainset.json")
}

func pickExample(store *trainset.Store) (trainset.Example, error) {
	if optimizeSource != "" {
		ex, ok, err := store.Get(optimizeSource)
		if err != nil {
			return trainset.Example{}, err
		}
		if !ok {
			return trainset.Example{}, fmt.Errorf("trainset has no example %q", optimizeSource)
		}
		return ex, nil
	}

	ex, ok, err := store.Latest()
	if err != nil {
		return trainset.Example{}, err
	}
	if !ok {
		return trainset.Example{}, fmt.Errorf("the trainset is empty, add an example with `stagehand trainset add`")
	}
	return ex, nil
}
