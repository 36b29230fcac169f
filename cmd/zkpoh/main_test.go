package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/zkpoh/internal/api"
	"github.com/MJE43/zkpoh/internal/circuit"
	"github.com/MJE43/zkpoh/internal/config"
	"github.com/MJE43/zkpoh/internal/gate"
	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/puzzle"
	"github.com/MJE43/zkpoh/internal/store"
	"github.com/MJE43/zkpoh/internal/verifier"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestPuzzleCommand(t *testing.T) {
	out, err := execute(t, "puzzle", "--seed", "42")
	require.NoError(t, err)

	var p puzzle.Puzzle
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "pzl_0000002a", p.ID)
	assert.Equal(t, []int{0, 5, 7, 11, 15}, p.TargetIndices)
}

func TestPuzzleGrid(t *testing.T) {
	out, err := execute(t, "puzzle", "--seed", "42", "--grid")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 1+puzzle.GridSize)
	assert.Contains(t, lines[0], "pzl_0000002a")
	assert.Equal(t, 5, strings.Count(out, "*"))
}

func TestSetupRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, circuit.VerifyingKeyName), []byte("x"), 0o600))

	_, err := execute(t, "setup", "--out", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestLedgerCommandErrors(t *testing.T) {
	t.Setenv("ZKPOH_BROKER_URL", "")

	_, err := execute(t, "ledger", "deposit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount must be a positive number")

	_, err = execute(t, "ledger", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker_url")
}

func TestDemoRejectsUnknownMode(t *testing.T) {
	_, err := runDemo(context.Background(), config.Default(), zerolog.Nop(), demoOptions{mode: "robot", timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "robot")
}

// startVerifier writes development artifacts into a temp dir and serves
// them with a live verification server.
func startVerifier(t *testing.T) config.Config {
	t.Helper()
	keys, err := circuit.DevKeys()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, circuit.WriteArtifacts(dir, keys))

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "demo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := api.NewServer(api.Options{
		Verifier:  verifier.New(keys.VerifyingKey, zerolog.Nop()),
		Store:     st,
		Artifacts: prover.DirSource{Dir: dir},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	cfg := config.Default()
	cfg.ArtifactsDir = dir
	cfg.VerifierURL = "http://" + srv.Addr().String()
	cfg.VerifyDelay = 10 * time.Millisecond
	cfg.DisableWorker = true
	return cfg
}

func TestDemoEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a Groth16 setup")
	}
	cfg := startVerifier(t)

	t.Run("human is granted", func(t *testing.T) {
		d, err := runDemo(context.Background(), cfg, zerolog.Nop(), demoOptions{mode: "human", seed: 42, timeout: time.Minute})
		require.NoError(t, err)
		assert.True(t, d.Granted)
		assert.True(t, d.Verified)
		assert.Equal(t, "pzl_0000002a", d.PuzzleID)
		assert.Equal(t, gate.MsgGranted, d.Reason)
	})

	t.Run("human after a miss is granted", func(t *testing.T) {
		d, err := runDemo(context.Background(), cfg, zerolog.Nop(), demoOptions{mode: "human", seed: 7, miss: true, timeout: time.Minute})
		require.NoError(t, err)
		assert.True(t, d.Granted)
	})

	t.Run("bot is denied without asking", func(t *testing.T) {
		d, err := runDemo(context.Background(), cfg, zerolog.Nop(), demoOptions{mode: "bot", seed: 42, timeout: time.Minute})
		require.NoError(t, err)
		assert.False(t, d.Granted)
		assert.False(t, d.Proved)
		assert.False(t, d.Asked)
		assert.Equal(t, "bot", d.Mode)
	})

	t.Run("artifacts over http", func(t *testing.T) {
		httpCfg := cfg
		httpCfg.ArtifactBaseURL = cfg.VerifierURL + "/zk/"
		httpCfg.ArtifactsDir = ""
		d, err := runDemo(context.Background(), httpCfg, zerolog.Nop(), demoOptions{mode: "human", seed: 42, timeout: time.Minute})
		require.NoError(t, err)
		assert.True(t, d.Granted)
	})
}
