// Package config loads server and client settings from an optional YAML
// file and ZKPOH_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MJE43/zkpoh/internal/circuit"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "ZKPOH_"

// Config is the full application configuration.
type Config struct {
	Listen string `yaml:"listen"`

	// ArtifactsDir holds the circuit artifacts on disk.
	ArtifactsDir string `yaml:"artifacts_dir"`
	// ArtifactBaseURL, when set, makes the prover fetch artifacts over HTTP
	// (e.g. http://127.0.0.1:17890/zk/) instead of reading ArtifactsDir.
	ArtifactBaseURL   string `yaml:"artifact_base_url"`
	ConstraintProgram string `yaml:"constraint_program"`
	ProvingKey        string `yaml:"proving_key"`
	VerifyingKey      string `yaml:"verifying_key"`

	DBPath string `yaml:"db_path"`

	ProveTimeout  time.Duration `yaml:"prove_timeout"`
	VerifyDelay   time.Duration `yaml:"verify_delay"`
	DisableWorker bool          `yaml:"disable_worker"`

	// VerifierURL is the verification server the client side posts to.
	VerifierURL string `yaml:"verifier_url"`

	Ledger LedgerConfig `yaml:"ledger"`
	Log    LogConfig    `yaml:"log"`
}

// LedgerConfig configures the ledger gateway. An empty BrokerURL disables it.
type LedgerConfig struct {
	BrokerURL      string `yaml:"broker_url"`
	Account        string `yaml:"account"`
	KeyringService string `yaml:"keyring_service"`
	FallbackPath   string `yaml:"fallback_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:            "127.0.0.1:17890",
		ArtifactsDir:      "./zk",
		ConstraintProgram: circuit.ConstraintProgramName,
		ProvingKey:        circuit.ProvingKeyName,
		VerifyingKey:      circuit.VerifyingKeyName,
		DBPath:            "./zkpoh.db",
		ProveTimeout:      60 * time.Second,
		VerifyDelay:       450 * time.Millisecond,
		Ledger: LedgerConfig{
			Account:        "operator",
			KeyringService: "zkpoh",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides from getenv. A nil getenv uses os.Getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + k)); v != "" {
			*dst = v
		}
	}
	str("LISTEN", &c.Listen)
	str("ARTIFACTS_DIR", &c.ArtifactsDir)
	str("ARTIFACT_BASE_URL", &c.ArtifactBaseURL)
	str("CONSTRAINT_PROGRAM", &c.ConstraintProgram)
	str("PROVING_KEY", &c.ProvingKey)
	str("VERIFYING_KEY", &c.VerifyingKey)
	str("DB_PATH", &c.DBPath)
	str("VERIFIER_URL", &c.VerifierURL)
	str("BROKER_URL", &c.Ledger.BrokerURL)
	str("LEDGER_ACCOUNT", &c.Ledger.Account)
	str("KEYRING_SERVICE", &c.Ledger.KeyringService)
	str("KEYRING_FALLBACK", &c.Ledger.FallbackPath)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	c.ProveTimeout = envMillis(getenv, "PROVE_TIMEOUT_MS", c.ProveTimeout)
	c.VerifyDelay = envMillis(getenv, "VERIFY_DELAY_MS", c.VerifyDelay)
	if envInt(getenv, "DISABLE_WORKER", 0) != 0 {
		c.DisableWorker = true
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Listen) == "":
		return errors.New("config: listen address is required")
	case c.ArtifactsDir == "" && c.ArtifactBaseURL == "":
		return errors.New("config: artifacts_dir or artifact_base_url is required")
	case c.ConstraintProgram == "" || c.ProvingKey == "" || c.VerifyingKey == "":
		return errors.New("config: artifact names must not be empty")
	case c.DBPath == "":
		return errors.New("config: db_path is required")
	case c.ProveTimeout <= 0:
		return fmt.Errorf("config: prove_timeout must be positive, got %s", c.ProveTimeout)
	case c.VerifyDelay < 0:
		return fmt.Errorf("config: verify_delay must not be negative, got %s", c.VerifyDelay)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// VerifierBaseURL is VerifierURL, or the local listen address.
func (c Config) VerifierBaseURL() string {
	if c.VerifierURL != "" {
		return c.VerifierURL
	}
	return "http://" + c.Listen
}

func envInt(getenv func(string) string, k string, def int) int {
	if s := getenv(EnvPrefix + k); s != "" {
		var v int
		if _, err := fmt.Sscanf(s, "%d", &v); err == nil {
			return v
		}
	}
	return def
}

func envMillis(getenv func(string) string, k string, def time.Duration) time.Duration {
	ms := envInt(getenv, k, -1)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
