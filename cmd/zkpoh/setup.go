package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MJE43/zkpoh/internal/circuit"
)

func setupCmd(g *globals) *cobra.Command {
	var (
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the circuit and write development artifacts",
		Long: `Compile the humanity circuit and run a single-party Groth16 setup,
writing the constraint program, proving key and verifying key. Keys from a
single-party setup are for development only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			if out == "" {
				out = cfg.ArtifactsDir
			}
			vk := filepath.Join(out, circuit.VerifyingKeyName)
			if _, err := os.Stat(vk); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", vk)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			start := time.Now()
			keys, err := circuit.Setup()
			if err != nil {
				return err
			}
			if err := circuit.WriteArtifacts(out, keys); err != nil {
				return err
			}
			log.Info().
				Str("dir", out).
				Int("constraints", keys.ConstraintSystem.GetNbConstraints()).
				Dur("took", time.Since(start)).
				Msg("artifacts_written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (defaults to artifacts_dir)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing artifacts")
	return cmd
}
