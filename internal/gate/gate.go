// Package gate turns a scored attempt into an access decision: prove the
// score, then ask the verifier about the proof.
package gate

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/session"
	"github.com/MJE43/zkpoh/internal/verifier"
)

// Decision reasons.
const (
	MsgVerifierUnavailable = "Verification service unavailable. Please try again."
	MsgProofRejected       = "Proof rejected by verifier."
	MsgGranted             = "Human verified."
)

// Prover is implemented by *prover.Engine.
type Prover interface {
	ProveHumanity(ctx context.Context, score float64) prover.Result
}

// Verifier is implemented by *verifier.Client.
type Verifier interface {
	Verify(ctx context.Context, proof prover.Proof, publicSignals []string) verifier.Outcome
}

// Observer receives one outcome per decision.
type Observer interface {
	ObserveDecision(outcome string)
}

// Decision is the outcome of one scored attempt.
type Decision struct {
	SessionID string `json:"sessionId"`
	Epoch     uint64 `json:"epoch"`
	PuzzleID  string `json:"puzzleId"`
	Mode      string `json:"mode"`
	Score     int    `json:"score"`
	Proved    bool   `json:"proved"`
	Asked     bool   `json:"asked"`
	Verified  bool   `json:"verified"`
	Granted   bool   `json:"granted"`
	Reason    string `json:"reason"`
}

// Gate wires the prover to the verifier.
type Gate struct {
	prover   Prover
	verifier Verifier
	observer Observer
	log      zerolog.Logger
}

// New creates a Gate. observer may be nil.
func New(p Prover, v Verifier, observer Observer, log zerolog.Logger) *Gate {
	return &Gate{
		prover:   p,
		verifier: v,
		observer: observer,
		log:      log.With().Str("component", "gate").Logger(),
	}
}

// Decide proves ev's score and verifies the proof exactly once. A rejected
// proof makes no verifier call. current reports the session's live epoch;
// when it no longer matches ev the result is discarded and ok is false.
func (g *Gate) Decide(ctx context.Context, ev session.ScoreEvent, current func() uint64) (d Decision, ok bool) {
	d = Decision{
		SessionID: ev.SessionID,
		Epoch:     ev.Epoch,
		PuzzleID:  ev.PuzzleID,
		Score:     ev.Score,
	}
	if ev.Mode != nil {
		d.Mode = ev.Mode.String()
	}
	stale := func(stage string) bool {
		if current != nil && current() != ev.Epoch {
			g.log.Debug().Uint64("epoch", ev.Epoch).Str("stage", stage).Msg("stale_result_discarded")
			g.observe("stale")
			return true
		}
		return false
	}

	res := g.prover.ProveHumanity(ctx, float64(ev.Score))
	if stale("prove") {
		return Decision{}, false
	}
	if !res.Proved() {
		d.Reason = res.Rejected.Reason
		g.log.Info().Str("puzzle_id", ev.PuzzleID).Str("reason", d.Reason).Msg("access_denied")
		g.observe("rejected")
		return d, true
	}
	d.Proved = true

	out := g.verifier.Verify(ctx, *res.Proof, res.PublicSignals)
	d.Asked = true
	if stale("verify") {
		return Decision{}, false
	}

	switch {
	case !out.OK:
		d.Reason = MsgVerifierUnavailable
		g.log.Warn().Str("error", out.Error).Msg("verify_unavailable")
		g.observe("unavailable")
	case !out.Verified:
		d.Reason = MsgProofRejected
		g.log.Info().Str("puzzle_id", ev.PuzzleID).Msg("access_denied")
		g.observe("denied")
	default:
		d.Verified = true
		d.Granted = true
		d.Reason = MsgGranted
		g.log.Info().Str("puzzle_id", ev.PuzzleID).Msg("access_granted")
		g.observe("granted")
	}
	return d, true
}

func (g *Gate) observe(outcome string) {
	if g.observer != nil {
		g.observer.ObserveDecision(outcome)
	}
}
