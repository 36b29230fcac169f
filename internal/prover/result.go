package prover

import "fmt"

// RejectKind classifies why no proof was produced.
type RejectKind string

const (
	// KindInvalidInput and KindOutOfRange are terminal validation outcomes;
	// the prover is never invoked for them.
	KindInvalidInput RejectKind = "invalid_input"
	KindOutOfRange   RejectKind = "out_of_range"

	KindArtifact    RejectKind = "artifact"
	KindProver      RejectKind = "prover"
	KindTimeout     RejectKind = "timeout"
	KindUnavailable RejectKind = "unavailable"
)

// Messages surfaced to users for the validation outcomes.
const (
	MsgInvalidInput = "Invalid input: score must be a number."
	MsgOutOfRange   = "Score out of valid human range. Proof not generated."
)

// Proof is the wire form of a Groth16 proof. Data holds the gnark binary
// encoding, base64 (std) encoded.
type Proof struct {
	Protocol string `json:"protocol"`
	Curve    string `json:"curve"`
	Data     string `json:"data"`
}

// Rejection explains a failed proof attempt.
type Rejection struct {
	Kind   RejectKind `json:"kind"`
	Reason string     `json:"reason"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}

// Result is either a proof with its public signals, or a rejection.
type Result struct {
	Proof         *Proof     `json:"proof,omitempty"`
	PublicSignals []string   `json:"publicSignals,omitempty"`
	Rejected      *Rejection `json:"rejected,omitempty"`
}

// Proved reports whether r carries a proof.
func (r Result) Proved() bool {
	return r.Rejected == nil && r.Proof != nil
}

func proved(p Proof, signals []string) Result {
	return Result{Proof: &p, PublicSignals: signals}
}

func rejected(kind RejectKind, reason string) Result {
	return Result{Rejected: &Rejection{Kind: kind, Reason: reason}}
}
