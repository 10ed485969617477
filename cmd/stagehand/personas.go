package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func personasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List available student personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			for _, p := range rt.personas.List() {
				fmt.Printf("%-24s %-20s comprehension=%-8s engagement=%s\n",
					p.ID, p.Name, p.ComprehensionLevel, p.EngagementLevel)
			}
			return nil
		},
	}
}
