package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/MJE43/zkpoh/internal/api"
	"github.com/MJE43/zkpoh/internal/config"
	"github.com/MJE43/zkpoh/internal/ledger"
	"github.com/MJE43/zkpoh/internal/metrics"
	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/store"
	"github.com/MJE43/zkpoh/internal/verifier"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(g *globals) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the verification server",
		Long: `Serve puzzles, proof verification, circuit artifacts and the ledger
gateway over HTTP. The ledger gateway is enabled when ledger.broker_url is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	m := metrics.New()

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}

	src := prover.DirSource{Dir: cfg.ArtifactsDir}
	ver, err := verifier.Load(ctx, src, cfg.VerifyingKey, log)
	if err != nil {
		st.Close()
		if errors.Is(err, prover.ErrArtifactNotFound) {
			return fmt.Errorf("%w (run `zkpoh setup` first)", err)
		}
		return err
	}

	opts := api.Options{
		Verifier:  ver,
		Store:     st,
		Artifacts: src,
		Metrics:   m,
		Logger:    log,
	}
	if cfg.Ledger.BrokerURL != "" {
		gw, err := newGateway(cfg, m, log)
		if err != nil {
			st.Close()
			return err
		}
		opts.Ledger = gw
		log.Info().Str("address", gw.Address()).Str("broker", cfg.Ledger.BrokerURL).Msg("ledger_enabled")
	} else {
		log.Warn().Msg("ledger gateway disabled: no broker_url configured")
	}

	srv := api.NewServer(opts)
	if err := srv.Start(cfg.Listen); err != nil {
		st.Close()
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	log.Info().Str("url", "http://"+srv.Addr().String()).Msg("zkpoh ready")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return multierr.Combine(srv.Shutdown(sctx), st.Close())
}

// newGateway builds the ledger gateway from the keyring-held operator key.
func newGateway(cfg config.Config, obs ledger.Observer, log zerolog.Logger) (*ledger.Gateway, error) {
	ks := ledger.NewKeyringStore(cfg.Ledger.KeyringService, cfg.Ledger.FallbackPath)
	signer, err := ks.Signer(cfg.Ledger.Account)
	if err != nil {
		return nil, fmt.Errorf("ledger signer: %w", err)
	}
	broker := ledger.NewHTTPBroker(ledger.Config{BaseURL: cfg.Ledger.BrokerURL}, signer)
	return ledger.NewGateway(broker, obs, log), nil
}
