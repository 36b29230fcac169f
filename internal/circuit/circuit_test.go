package circuit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInRange(t *testing.T) {
	tests := []struct {
		score int64
		want  bool
	}{
		{ScoreMin - 1, false},
		{ScoreMin, true},
		{0, true},
		{2003, true},
		{ScoreMax, true},
		{ScoreMax + 1, false},
		{-4328, false},
		{7000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InRange(tt.score), "score %d", tt.score)
	}
}

func TestCircuitSolvedForHonestAssignment(t *testing.T) {
	scores := []int64{
		math.MinInt32, -4328, ScoreMin - 1, ScoreMin, -1, 0, 1,
		2003, ScoreMax, ScoreMax + 1, 7000, math.MaxInt32,
	}
	for _, s := range scores {
		t.Run(fmt.Sprint(s), func(t *testing.T) {
			err := test.IsSolved(&HumanityCircuit{}, Assignment(s), Curve.ScalarField())
			require.NoError(t, err)
		})
	}
}

func TestCircuitRejectsForgedOutput(t *testing.T) {
	for _, s := range []int64{-4328, ScoreMin, 2003, ScoreMax, 7000} {
		t.Run(fmt.Sprint(s), func(t *testing.T) {
			forged := Assignment(s)
			if InRange(s) {
				forged.IsHuman = 0
			} else {
				forged.IsHuman = 1
			}
			err := test.IsSolved(&HumanityCircuit{}, forged, Curve.ScalarField())
			assert.Error(t, err)
		})
	}
}

func TestCircuitRejectsNonBooleanOutput(t *testing.T) {
	a := Assignment(2003)
	a.IsHuman = 2
	assert.Error(t, test.IsSolved(&HumanityCircuit{}, a, Curve.ScalarField()))
}

// Scores outside int32 overflow the 32-bit decomposition and cannot be proven
// at all, in either direction.
func TestCircuitRejectsWideScores(t *testing.T) {
	for _, s := range []int64{math.MaxInt32 + 1, math.MinInt32 - 1, 1 << 40} {
		a := Assignment(s)
		assert.Error(t, test.IsSolved(&HumanityCircuit{}, a, Curve.ScalarField()), "score %d", s)
	}
}

func TestFieldElementNegative(t *testing.T) {
	fe := FieldElement(-1)
	want := Curve.ScalarField()
	want.Sub(want, fe)
	assert.Equal(t, int64(1), want.Int64())
}

func TestSetupProveVerifyRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup in short mode")
	}
	keys, err := DevKeys()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteArtifacts(dir, keys))

	read := func(name string) []byte {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NotEmpty(t, data)
		return data
	}
	ccs, err := ReadConstraintSystem(read(ConstraintProgramName))
	require.NoError(t, err)
	pk, err := ReadProvingKey(read(ProvingKeyName))
	require.NoError(t, err)
	vk, err := ReadVerifyingKey(read(VerifyingKeyName))
	require.NoError(t, err)

	w, err := frontend.NewWitness(Assignment(2003), Curve.ScalarField())
	require.NoError(t, err)
	proof, err := groth16.Prove(ccs, pk, w)
	require.NoError(t, err)

	pub, err := w.Public()
	require.NoError(t, err)
	require.NoError(t, groth16.Verify(proof, vk, pub))
}

type failingWriterTo struct{ err error }

func (f failingWriterTo) WriteTo(w io.Writer) (int64, error) {
	n, _ := w.Write([]byte("partial"))
	return int64(n), f.err
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("writes everything through the buffer", func(t *testing.T) {
		path := filepath.Join(dir, "big.bin")
		data := bytes.Repeat([]byte{0xab}, 3*4096+17)
		require.NoError(t, writeFile(path, bytes.NewReader(data)))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("returns the writer error", func(t *testing.T) {
		boom := errors.New("boom")
		err := writeFile(filepath.Join(dir, "fail.bin"), failingWriterTo{err: boom})
		require.ErrorIs(t, err, boom)
	})

	t.Run("missing directory", func(t *testing.T) {
		err := writeFile(filepath.Join(dir, "nope", "x.bin"), bytes.NewReader(nil))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
