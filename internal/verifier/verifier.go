// Package verifier checks humanity proofs on the server and submits them
// from the client side.
package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/rs/zerolog"

	"github.com/MJE43/zkpoh/internal/circuit"
	"github.com/MJE43/zkpoh/internal/prover"
)

// ErrMalformed marks input that cannot be decoded into a proof or public
// witness. It maps to a 400 on the HTTP surface.
var ErrMalformed = errors.New("malformed proof payload")

// Verifier checks Groth16 humanity proofs against a fixed verifying key.
type Verifier struct {
	vk  groth16.VerifyingKey
	log zerolog.Logger
}

// New returns a Verifier for vk.
func New(vk groth16.VerifyingKey, log zerolog.Logger) *Verifier {
	return &Verifier{vk: vk, log: log.With().Str("component", "verifier").Logger()}
}

// Load fetches and parses the verifying key named name from src.
func Load(ctx context.Context, src prover.ArtifactSource, name string, log zerolog.Logger) (*Verifier, error) {
	data, err := src.Fetch(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load verifying key: %w", err)
	}
	vk, err := circuit.ReadVerifyingKey(data)
	if err != nil {
		return nil, err
	}
	return New(vk, log), nil
}

// Verify reports whether proof is valid for publicSignals and attests
// isHuman = 1. Undecodable input returns an error wrapping ErrMalformed; a
// well-formed proof that fails verification returns false and a nil error.
func (v *Verifier) Verify(proof prover.Proof, publicSignals []string) (bool, error) {
	if proof.Protocol != prover.ProtocolGroth16 || proof.Curve != prover.CurveBN254 {
		return false, fmt.Errorf("%w: unsupported protocol %q on curve %q", ErrMalformed, proof.Protocol, proof.Curve)
	}
	raw, err := base64.StdEncoding.DecodeString(proof.Data)
	if err != nil {
		return false, fmt.Errorf("%w: proof data: %v", ErrMalformed, err)
	}
	p := groth16.NewProof(circuit.Curve)
	if _, err := p.ReadFrom(bytes.NewReader(raw)); err != nil {
		return false, fmt.Errorf("%w: proof encoding: %v", ErrMalformed, err)
	}

	isHuman, err := parseSignals(publicSignals)
	if err != nil {
		return false, err
	}
	pub, err := frontend.NewWitness(&circuit.HumanityCircuit{IsHuman: isHuman}, circuit.Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("%w: public witness: %v", ErrMalformed, err)
	}

	if err := groth16.Verify(p, v.vk, pub); err != nil {
		v.log.Info().Err(err).Msg("proof_invalid")
		return false, nil
	}
	if isHuman.Cmp(big.NewInt(1)) != 0 {
		v.log.Info().Str("is_human", isHuman.String()).Msg("proof_not_human")
		return false, nil
	}
	return true, nil
}

// parseSignals expects exactly one canonical decimal field element.
func parseSignals(signals []string) (*big.Int, error) {
	if len(signals) != 1 {
		return nil, fmt.Errorf("%w: expected 1 public signal, got %d", ErrMalformed, len(signals))
	}
	n, ok := new(big.Int).SetString(signals[0], 10)
	if !ok || n.Sign() < 0 || n.Cmp(circuit.Curve.ScalarField()) >= 0 {
		return nil, fmt.Errorf("%w: public signal %q is not a field element", ErrMalformed, signals[0])
	}
	return n, nil
}
