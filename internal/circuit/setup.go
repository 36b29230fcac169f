package circuit

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"go.uber.org/multierr"
)

// Stable artifact names. Clients fetch them by these names, so renaming one
// breaks every deployed prover.
const (
	ConstraintProgramName = "captcha.r1cs"
	ProvingKeyName        = "captcha_final.pk"
	VerifyingKeyName      = "captcha.vk"
)

// Keys holds the compiled constraint system and the Groth16 key pair.
type Keys struct {
	ConstraintSystem constraint.ConstraintSystem
	ProvingKey       groth16.ProvingKey
	VerifyingKey     groth16.VerifyingKey
}

// Compile compiles HumanityCircuit to R1CS.
func Compile() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, &HumanityCircuit{})
	if err != nil {
		return nil, fmt.Errorf("compile circuit: %w", err)
	}
	return ccs, nil
}

// Setup compiles the circuit and runs a single-party Groth16 setup. The
// toxic waste is not retained, but a single-party setup is still only fit
// for development; production deployments should import ceremony keys.
func Setup() (*Keys, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	return &Keys{ConstraintSystem: ccs, ProvingKey: pk, VerifyingKey: vk}, nil
}

var (
	devKeys   *Keys
	devKeysMu sync.Mutex
)

// DevKeys returns a process-wide setup, running it on first call. Tests and
// the demo share it to avoid repeating the setup.
func DevKeys() (*Keys, error) {
	devKeysMu.Lock()
	defer devKeysMu.Unlock()

	if devKeys != nil {
		return devKeys, nil
	}
	k, err := Setup()
	if err != nil {
		return nil, err
	}
	devKeys = k
	return devKeys, nil
}

// WriteArtifacts writes the three artifacts into dir under their stable names.
func WriteArtifacts(dir string, k *Keys) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	files := []struct {
		name string
		w    io.WriterTo
	}{
		{ConstraintProgramName, k.ConstraintSystem},
		{ProvingKeyName, k.ProvingKey},
		{VerifyingKeyName, k.VerifyingKey},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.w); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

func writeFile(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	if _, err := w.WriteTo(bw); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err := bw.Flush(); err != nil {
		return multierr.Append(err, f.Close())
	}
	return f.Close()
}

// ReadConstraintSystem parses a serialized constraint program.
func ReadConstraintSystem(data []byte) (constraint.ConstraintSystem, error) {
	ccs := groth16.NewCS(Curve)
	if _, err := ccs.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read constraint system: %w", err)
	}
	return ccs, nil
}

// ReadProvingKey parses a serialized proving key.
func ReadProvingKey(data []byte) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(Curve)
	if _, err := pk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read proving key: %w", err)
	}
	return pk, nil
}

// ReadVerifyingKey parses a serialized verifying key.
func ReadVerifyingKey(data []byte) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(Curve)
	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	return vk, nil
}

// Marshal serializes any artifact into memory.
func Marshal(w io.WriterTo) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
