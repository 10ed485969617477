package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"stagehand/internal/trainset"
)

var (
	trainsetFile  string
	trainsetAddID string
)

func trainsetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trainset",
		Short: "Manage training examples for the optimizer",
	}
	cmd.PersistentFlags().StringVar(&trainsetFile, "trainset", "", "Trainset file (default <workspace>/trainset.json)")
	cmd.AddCommand(trainsetAddCmd())
	cmd.AddCommand(trainsetListCmd())
	return cmd
}

func trainsetAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <script-file>",
		Short: "Analyze a script and store it as a training example",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrainsetAdd,
	}
	cmd.Flags().StringVar(&trainsetAddID, "id", "", "Source id (default: the file's base name)")
	return cmd
}

func runTrainsetAdd(cmd *cobra.Command, args []string) error {
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

	analysis, err := rt.svc.Analyze(ctx, script, false)
	if err != nil {
		return err
	}

	id := trainsetAddID
	if id == "" {
		id = filepath.Base(args[0])
	}

	store := trainset.NewStore(trainsetStorePath(rt))
	if err := store.Put(trainset.Example{
		SourceID:   id,
		FullScript: script,
		Stages:     analysis.Stages,
	}); err != nil {
		return err
	}
	fmt.Printf("stored %q with %d stages\n", id, len(analysis.Stages))
	return nil
}

func trainsetListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored training examples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			store := trainset.NewStore(trainsetStorePath(rt))
			examples, err := store.List()
			if err != nil {
				return err
			}
			if len(examples) == 0 {
				fmt.Println("the trainset is empty")
				return nil
			}
			for _, ex := range examples {
				fmt.Printf("%-32s stages=%-3d added=%s hash=%.12s\n",
					ex.SourceID, len(ex.Stages), ex.AddedAt.Format("2006-01-02 15:04"), ex.SourceHash)
			}
			return nil
		},
	}
}

func trainsetStorePath(rt *runtime) string {
	if trainsetFile != "" {
		return trainsetFile
	}
	return filepath.Join(rt.cfg.Workspace.Dir, "trainset.json")
}
