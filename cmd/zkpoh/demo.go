package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/zkpoh/internal/config"
	"github.com/MJE43/zkpoh/internal/gate"
	"github.com/MJE43/zkpoh/internal/metrics"
	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/puzzle"
	"github.com/MJE43/zkpoh/internal/session"
	"github.com/MJE43/zkpoh/internal/verifier"
)

type demoOptions struct {
	mode       string
	seed       int32
	scriptPath string
	miss       bool
	timeout    time.Duration
}

func demoCmd(g *globals) *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Solve a puzzle as a human or a bot and request verification",
		Long: `Drive one challenge end to end: solve the puzzle, prove the score and
post the proof to the verification server (verifier_url, or the local
listen address). Human mode selects the target tiles; bot mode runs the
simulated bot, optionally from a JavaScript planner given with --script.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				opts.seed = puzzle.SeedFromTime(time.Now())
			}
			d, err := runDemo(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "human", "human or bot")
	cmd.Flags().Int32Var(&opts.seed, "seed", 0, "Puzzle seed (defaults to the current time)")
	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "Bot planner script (bot mode)")
	cmd.Flags().BoolVar(&opts.miss, "miss", false, "Human mode: leave one target unselected first")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Give up after this long")
	return cmd
}

// stateLogger prints session state changes at debug level.
type stateLogger struct{ log zerolog.Logger }

func (s stateLogger) EmitState(snap session.Snapshot) {
	s.log.Debug().
		Uint64("epoch", snap.Epoch).
		Str("status", string(snap.Status)).
		Ints("selected", snap.Selected).
		Msg("session_state")
}

func (s stateLogger) EmitScore(ev session.ScoreEvent) {
	s.log.Info().Str("puzzle_id", ev.PuzzleID).Int("score", ev.Score).Msg("session_scored")
}

func runDemo(ctx context.Context, cfg config.Config, log zerolog.Logger, opts demoOptions) (gate.Decision, error) {
	mode, ok := session.ParseMode(opts.mode)
	if !ok {
		return gate.Decision{}, fmt.Errorf("unknown mode %q", opts.mode)
	}
	if bot, isBot := mode.(session.SimulatedBot); isBot && opts.scriptPath != "" {
		src, err := os.ReadFile(opts.scriptPath)
		if err != nil {
			return gate.Decision{}, fmt.Errorf("read script: %w", err)
		}
		bot.Script = string(src)
		mode = bot
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	m := metrics.New()
	var src prover.ArtifactSource = prover.DirSource{Dir: cfg.ArtifactsDir}
	if cfg.ArtifactBaseURL != "" {
		src = prover.NewHTTPSource(cfg.ArtifactBaseURL)
	}
	engine := prover.NewEngine(src, prover.Config{
		ConstraintProgram: cfg.ConstraintProgram,
		ProvingKey:        cfg.ProvingKey,
		Timeout:           cfg.ProveTimeout,
		DisableWorker:     cfg.DisableWorker,
		Logger:            log,
		Observer:          m,
	})
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := engine.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("prover_shutdown_failed")
		}
	}()
	go func() {
		if err := engine.Preload(ctx); err != nil {
			log.Warn().Err(err).Msg("artifact_preload_failed")
		}
	}()

	client := verifier.NewClient(verifier.ClientConfig{BaseURL: cfg.VerifierBaseURL()})
	decided := make(chan gate.Decision, 1)
	emitter := gate.NewEmitter(4, stateLogger{log: log})
	runner := gate.NewRunner(gate.New(engine, client, m, log), emitter, func(d gate.Decision) {
		select {
		case decided <- d:
		default:
		}
	})

	timings := session.DefaultTimings()
	timings.VerifyDelay = cfg.VerifyDelay
	sess := session.New(session.Config{
		Timings: timings,
		Seed:    func() int32 { return opts.seed },
		Emitter: emitter,
		Logger:  log,
	})
	defer sess.Close()

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		runner.Run(gctx, sess.Epoch)
		return nil
	})

	var result gate.Decision
	grp.Go(func() error {
		defer cancel()
		if err := play(gctx, sess, mode, opts.miss); err != nil {
			return err
		}
		select {
		case result = <-decided:
			return nil
		case <-gctx.Done():
			return errors.New("timed out waiting for a decision")
		}
	})
	if err := grp.Wait(); err != nil {
		return gate.Decision{}, err
	}
	return result, nil
}

// play drives the session until a score is emitted.
func play(ctx context.Context, sess *session.Session, mode session.Mode, miss bool) error {
	if _, isBot := mode.(session.SimulatedBot); isBot {
		_, err := sess.SetMode(mode)
		return err
	}

	snap, err := sess.NewPuzzle()
	if err != nil {
		return err
	}
	targets := snap.Puzzle.TargetIndices
	if miss {
		if err := selectAll(sess, targets[1:]); err != nil {
			return err
		}
		if err := submitAndWait(ctx, sess, session.StatusMismatch); err != nil {
			return err
		}
		if _, err := sess.Toggle(targets[0]); err != nil {
			return err
		}
	} else if err := selectAll(sess, targets); err != nil {
		return err
	}
	_, err = sess.Submit()
	return err
}

func selectAll(sess *session.Session, indices []int) error {
	for _, idx := range indices {
		if _, err := sess.Toggle(idx); err != nil {
			return err
		}
	}
	return nil
}

// submitAndWait submits and polls until the session reaches want.
func submitAndWait(ctx context.Context, sess *session.Session, want session.Status) error {
	if _, err := sess.Submit(); err != nil {
		return err
	}
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if sess.Snapshot().Status == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
