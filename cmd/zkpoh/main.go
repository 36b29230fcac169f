package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MJE43/zkpoh/internal/api"
	"github.com/MJE43/zkpoh/internal/config"
	"github.com/MJE43/zkpoh/internal/logging"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

// load reads configuration and builds the logger. Flags win over the file
// and the environment.
func (g *globals) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath, os.Getenv)
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	return cfg, log, nil
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "zkpoh",
		Short: "Zero-knowledge proof-of-humanity gate",
		Long: `zkpoh - a tile-matching challenge whose behavioural score is proven in
zero knowledge and checked by a verification server.

Commands:
  serve    Run the verification server
  setup    Generate circuit artifacts
  puzzle   Print a puzzle as JSON
  demo     Solve a puzzle as a human or a bot and request verification
  ledger   Operate the compute ledger`,
		Version:       fmt.Sprintf("%s (%s)", api.Version, api.GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (console or json)")

	root.AddCommand(serveCmd(g))
	root.AddCommand(setupCmd(g))
	root.AddCommand(puzzleCmd())
	root.AddCommand(demoCmd(g))
	root.AddCommand(ledgerCmd(g))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
