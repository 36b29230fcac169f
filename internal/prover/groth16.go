package prover

import (
	"encoding/base64"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/MJE43/zkpoh/internal/circuit"
)

// Wire tags carried by every Proof.
const (
	ProtocolGroth16 = "groth16"
	CurveBN254      = "bn254"
)

// artifacts are the parsed, immutable inputs to the prover.
type artifacts struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// proveFunc computes a proof for an already validated score.
type proveFunc func(arts *artifacts, score int64) (Proof, []string, error)

func groth16Prove(arts *artifacts, score int64) (Proof, []string, error) {
	w, err := frontend.NewWitness(circuit.Assignment(score), circuit.Curve.ScalarField())
	if err != nil {
		return Proof{}, nil, fmt.Errorf("build witness: %w", err)
	}
	p, err := groth16.Prove(arts.ccs, arts.pk, w)
	if err != nil {
		return Proof{}, nil, fmt.Errorf("groth16 prove: %w", err)
	}
	pub, err := w.Public()
	if err != nil {
		return Proof{}, nil, fmt.Errorf("public witness: %w", err)
	}
	signals, err := PublicSignals(pub)
	if err != nil {
		return Proof{}, nil, err
	}
	data, err := circuit.Marshal(p)
	if err != nil {
		return Proof{}, nil, fmt.Errorf("encode proof: %w", err)
	}
	return Proof{
		Protocol: ProtocolGroth16,
		Curve:    CurveBN254,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, signals, nil
}

// PublicSignals renders a public witness as decimal field element strings,
// in circuit declaration order.
func PublicSignals(pub witness.Witness) ([]string, error) {
	vec, ok := pub.Vector().(fr.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected witness vector %T", pub.Vector())
	}
	out := make([]string, len(vec))
	for i := range vec {
		out[i] = vec[i].String()
	}
	return out, nil
}
