package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "127.0.0.1:17890", cfg.Listen)
	assert.Equal(t, "captcha.r1cs", cfg.ConstraintProgram)
	assert.Equal(t, "captcha_final.pk", cfg.ProvingKey)
	assert.Equal(t, "captcha.vk", cfg.VerifyingKey)
	assert.Equal(t, 60*time.Second, cfg.ProveTimeout)
	assert.Equal(t, 450*time.Millisecond, cfg.VerifyDelay)
	assert.Equal(t, "http://127.0.0.1:17890", cfg.VerifierBaseURL())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkpoh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 0.0.0.0:9000
artifacts_dir: /srv/zk
prove_timeout: 5s
ledger:
  broker_url: https://broker.example
log:
  format: json
`), 0o600))

	cfg, err := Load(path, envMap(map[string]string{
		"ZKPOH_LISTEN":          "127.0.0.1:9100",
		"ZKPOH_VERIFY_DELAY_MS": "0",
		"ZKPOH_DISABLE_WORKER":  "1",
		"ZKPOH_VERIFIER_URL":    "https://verify.example",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Listen)
	assert.Equal(t, "/srv/zk", cfg.ArtifactsDir)
	assert.Equal(t, 5*time.Second, cfg.ProveTimeout)
	assert.Equal(t, time.Duration(0), cfg.VerifyDelay)
	assert.True(t, cfg.DisableWorker)
	assert.Equal(t, "https://broker.example", cfg.Ledger.BrokerURL)
	assert.Equal(t, "operator", cfg.Ledger.Account)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://verify.example", cfg.VerifierBaseURL())
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := Load(path, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne: oops\n"), 0o600))

	_, err := Load(path, envMap(nil))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
	assert.Error(t, err)
}

func TestMalformedEnvKeepsDefault(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{"ZKPOH_PROVE_TIMEOUT_MS": "soon"}))
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.ProveTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = " " }},
		{"no artifacts", func(c *Config) { c.ArtifactsDir = "" }},
		{"empty key name", func(c *Config) { c.VerifyingKey = "" }},
		{"empty db", func(c *Config) { c.DBPath = "" }},
		{"zero timeout", func(c *Config) { c.ProveTimeout = 0 }},
		{"negative delay", func(c *Config) { c.VerifyDelay = -time.Millisecond }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.ArtifactsDir = ""
	cfg.ArtifactBaseURL = "http://127.0.0.1:17890/zk/"
	assert.NoError(t, cfg.Validate())
}
