package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MJE43/zkpoh/internal/puzzle"
)

func puzzleCmd() *cobra.Command {
	var (
		seed int32
		grid bool
	)
	cmd := &cobra.Command{
		Use:   "puzzle",
		Short: "Print the puzzle for a seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("seed") {
				seed = puzzle.SeedFromTime(time.Now())
			}
			p := puzzle.Generate(seed)
			if grid {
				fmt.Fprint(cmd.OutOrStdout(), renderGrid(p))
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	cmd.Flags().Int32Var(&seed, "seed", 0, "Puzzle seed (defaults to the current time)")
	cmd.Flags().BoolVar(&grid, "grid", false, "Print the board as text, targets marked with *")
	return cmd
}

func renderGrid(p puzzle.Puzzle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  target: %s\n", p.ID, p.Target)
	for i, t := range p.Tiles {
		mark := " "
		if p.IsTarget(i) {
			mark = "*"
		}
		fmt.Fprintf(&b, "%-9s", string(t)+mark)
		if (i+1)%puzzle.GridSize == 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
