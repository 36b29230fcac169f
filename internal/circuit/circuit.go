// Package circuit defines the humanity range circuit and its Groth16 setup.
//
// The circuit proves that a private behavioural score lies in
// [ScoreMin, ScoreMax] and exposes a single public output, IsHuman. The same
// bounds drive the prover's local validation, so both sides stay in lockstep.
package circuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
)

const (
	// ScoreMin and ScoreMax bound the human-acceptance range (inclusive).
	ScoreMin = -4000
	ScoreMax = 6000

	// scoreOffset shifts any int32 score into [0, 2^32).
	scoreOffset = 1 << 31
	scoreBits   = 32
)

// Curve is the pairing curve every artifact is produced for.
var Curve = ecc.BN254

// HumanityCircuit: IsHuman = 1 iff ScoreMin <= Score <= ScoreMax.
type HumanityCircuit struct {
	Score   frontend.Variable `gnark:",secret"`
	IsHuman frontend.Variable `gnark:",public"`
}

// Define implements frontend.Circuit.
func (c *HumanityCircuit) Define(api frontend.API) error {
	shifted := api.Add(c.Score, scoreOffset)
	// Bounds the shifted score to 32 bits so field wrap-around cannot fake a
	// small value.
	api.ToBinary(shifted, scoreBits)

	lo := ScoreMin + scoreOffset
	hi := ScoreMax + scoreOffset

	// Cmp yields -1, 0 or 1.
	below := api.IsZero(api.Add(api.Cmp(shifted, lo), 1))
	above := api.IsZero(api.Sub(api.Cmp(shifted, hi), 1))
	inRange := api.Mul(api.Sub(1, below), api.Sub(1, above))

	api.AssertIsBoolean(c.IsHuman)
	api.AssertIsEqual(c.IsHuman, inRange)
	return nil
}

// InRange reports whether score satisfies the circuit's range predicate.
func InRange(score int64) bool {
	return score >= ScoreMin && score <= ScoreMax
}

// Assignment builds a full witness assignment for score. IsHuman is derived
// from the same predicate the circuit enforces.
func Assignment(score int64) *HumanityCircuit {
	isHuman := 0
	if InRange(score) {
		isHuman = 1
	}
	return &HumanityCircuit{
		Score:   FieldElement(score),
		IsHuman: isHuman,
	}
}

// FieldElement reduces a signed integer into the scalar field, so negative
// scores become p - |score|.
func FieldElement(v int64) *big.Int {
	return new(big.Int).Mod(big.NewInt(v), Curve.ScalarField())
}
