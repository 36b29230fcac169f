// Package prover turns a behavioural score into a Groth16 humanity proof.
//
// An Engine owns one worker goroutine, the table of in-flight requests and
// the parsed circuit artifacts. Proof computation runs on the worker; when
// the worker is disabled, crashed or shut down mid-request, the request is
// failed out of the table and computed inline instead.
package prover

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MJE43/zkpoh/internal/circuit"
)

var (
	// ErrEngineClosed is returned once Shutdown has been called.
	ErrEngineClosed = errors.New("proof engine is shut down")

	errWorkerCrashed = errors.New("prover worker terminated")
)

// Observer receives proof outcomes. metrics.Metrics implements it.
type Observer interface {
	ObserveProof(outcome string, d time.Duration)
}

// Config holds Engine settings.
type Config struct {
	ConstraintProgram string        // artifact name of the constraint program
	ProvingKey        string        // artifact name of the proving key
	Timeout           time.Duration // per-request deadline, 0 disables
	DisableWorker     bool          // always compute inline

	Logger   zerolog.Logger
	Observer Observer
}

// defaultFetchTimeout bounds a shared artifact fetch when no request
// timeout is configured.
const defaultFetchTimeout = 2 * time.Minute

// DefaultConfig returns the stable artifact names and a 60s timeout.
func DefaultConfig() Config {
	return Config{
		ConstraintProgram: circuit.ConstraintProgramName,
		ProvingKey:        circuit.ProvingKeyName,
		Timeout:           60 * time.Second,
	}
}

type pendingCall struct {
	w  *worker
	ch chan response
}

// Engine proves humanity claims. It is safe for concurrent use.
type Engine struct {
	cfg   Config
	src   ArtifactSource
	log   zerolog.Logger
	prove proveFunc

	fetches singleflight.Group
	cacheMu sync.RWMutex
	cache   map[string]any

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]*pendingCall
	worker  *worker
	starts  int
}

// NewEngine creates an engine reading artifacts from src. No goroutine is
// started until the first proof request.
func NewEngine(src ArtifactSource, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.ConstraintProgram == "" {
		cfg.ConstraintProgram = def.ConstraintProgram
	}
	if cfg.ProvingKey == "" {
		cfg.ProvingKey = def.ProvingKey
	}
	return &Engine{
		cfg:     cfg,
		src:     src,
		log:     cfg.Logger.With().Str("component", "prover").Logger(),
		prove:   groth16Prove,
		cache:   make(map[string]any),
		pending: make(map[uint64]*pendingCall),
	}
}

// Preload fetches and parses both artifacts ahead of need. Concurrent calls
// share one fetch per artifact. Failures are returned for logging only;
// ProveHumanity retries the fetch on its own.
func (e *Engine) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range []string{e.cfg.ConstraintProgram, e.cfg.ProvingKey} {
		g.Go(func() error {
			_, err := e.artifact(ctx, name)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Warn().Err(err).Msg("preload_failed")
		return err
	}
	e.log.Debug().Msg("preload_completed")
	return nil
}

// Preloaded reports whether both artifacts are cached.
func (e *Engine) Preloaded() bool {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	_, a := e.cache[e.cfg.ConstraintProgram]
	_, b := e.cache[e.cfg.ProvingKey]
	return a && b
}

func (e *Engine) artifact(ctx context.Context, name string) (any, error) {
	e.cacheMu.RLock()
	v, ok := e.cache[name]
	e.cacheMu.RUnlock()
	if ok {
		return v, nil
	}

	ch := e.fetches.DoChan(name, func() (any, error) {
		e.cacheMu.RLock()
		v, ok := e.cache[name]
		e.cacheMu.RUnlock()
		if ok {
			return v, nil
		}

		// The flight is shared, so it must outlive whichever caller started it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.fetchTimeout())
		defer cancel()
		data, err := e.src.Fetch(fctx, name)
		if err != nil {
			return nil, err
		}
		parsed, err := e.parse(name, data)
		if err != nil {
			return nil, err
		}

		e.cacheMu.Lock()
		e.cache[name] = parsed
		e.cacheMu.Unlock()
		e.log.Debug().Str("artifact", name).Int("bytes", len(data)).Msg("artifact_loaded")
		return parsed, nil
	})

	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) fetchTimeout() time.Duration {
	if e.cfg.Timeout > 0 {
		return e.cfg.Timeout
	}
	return defaultFetchTimeout
}

func (e *Engine) parse(name string, data []byte) (any, error) {
	switch name {
	case e.cfg.ConstraintProgram:
		return circuit.ReadConstraintSystem(data)
	case e.cfg.ProvingKey:
		return circuit.ReadProvingKey(data)
	}
	return nil, fmt.Errorf("unknown artifact %q", name)
}

func (e *Engine) loadArtifacts(ctx context.Context) (*artifacts, error) {
	ccs, err := e.artifact(ctx, e.cfg.ConstraintProgram)
	if err != nil {
		return nil, err
	}
	pk, err := e.artifact(ctx, e.cfg.ProvingKey)
	if err != nil {
		return nil, err
	}
	arts := &artifacts{}
	arts.ccs, _ = ccs.(constraint.ConstraintSystem)
	arts.pk, _ = pk.(groth16.ProvingKey)
	if arts.ccs == nil || arts.pk == nil {
		return nil, errors.New("artifact cache holds unexpected types")
	}
	return arts, nil
}

// ValidateScore rounds score half away from zero and checks it against the
// circuit's range. A nil rejection means the score may be proven.
func ValidateScore(score float64) (int64, *Rejection) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, &Rejection{Kind: KindInvalidInput, Reason: MsgInvalidInput}
	}
	s := math.Round(score)
	if s < circuit.ScoreMin || s > circuit.ScoreMax {
		return 0, &Rejection{Kind: KindOutOfRange, Reason: MsgOutOfRange}
	}
	return int64(s), nil
}

// ProveHumanity validates score and, when it lies in range, proves it. It
// never panics and never returns an error; every failure is a Rejected
// result.
func (e *Engine) ProveHumanity(ctx context.Context, score float64) Result {
	start := time.Now()
	res := e.proveHumanity(ctx, score)

	outcome := "proved"
	if res.Rejected != nil {
		outcome = string(res.Rejected.Kind)
		e.log.Info().Str("kind", outcome).Str("reason", res.Rejected.Reason).Msg("proof_rejected")
	} else {
		e.log.Info().Dur("elapsed", time.Since(start)).Msg("proof_generated")
	}
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveProof(outcome, time.Since(start))
	}
	return res
}

func (e *Engine) proveHumanity(ctx context.Context, score float64) Result {
	s, rej := ValidateScore(score)
	if rej != nil {
		return Result{Rejected: rej}
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return rejected(KindUnavailable, ErrEngineClosed.Error())
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	arts, err := e.loadArtifacts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return rejected(KindTimeout, "Timed out loading circuit artifacts.")
		}
		return rejected(KindArtifact, fmt.Sprintf("Failed to load circuit artifacts: %v", err))
	}

	if !e.cfg.DisableWorker {
		resp, err := e.dispatch(ctx, arts, s)
		switch {
		case err == nil:
			return e.toResult(resp)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return rejected(KindTimeout, "Proof generation timed out.")
		case errors.Is(err, ErrEngineClosed):
			return rejected(KindUnavailable, err.Error())
		}
		e.log.Warn().Err(err).Msg("worker_fallback")
	}

	resp, err := e.proveInline(ctx, arts, s)
	if err != nil {
		return rejected(KindTimeout, "Proof generation timed out.")
	}
	return e.toResult(resp)
}

func (e *Engine) toResult(resp response) Result {
	if resp.err != nil {
		return rejected(KindProver, fmt.Sprintf("Proof generation failed: %v", resp.err))
	}
	return proved(resp.proof, resp.signals)
}

// proveInline runs the computation on a fresh goroutine so the deadline
// still applies. A panic becomes a prover error.
func (e *Engine) proveInline(ctx context.Context, arts *artifacts, score int64) (response, error) {
	out := make(chan response, 1)
	go func() {
		out <- e.compute(arts, score)
	}()
	select {
	case resp := <-out:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (e *Engine) compute(arts *artifacts, score int64) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			resp = response{err: fmt.Errorf("prover panic: %v", r)}
		}
	}()
	p, signals, err := e.prove(arts, score)
	return response{proof: p, signals: signals, err: err}
}

// Shutdown fails every pending request, stops the worker and waits for it
// to exit or for ctx to expire. Later requests are rejected.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	w := e.worker
	e.worker = nil
	n := e.failPendingLocked(nil, ErrEngineClosed)
	e.mu.Unlock()

	if n > 0 {
		e.log.Info().Int("pending", n).Msg("pending_requests_cancelled")
	}
	if w == nil {
		return nil
	}
	close(w.quit)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for prover worker: %w", ctx.Err())
	}
}
