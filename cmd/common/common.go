// Package common provides shared utilities for cipherpool CLI commands:
// YAML configuration loading, Ed25519 key handling and attestation provider
// selection.
package common

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cipherpool/cipherpool/crypto"
	"github.com/cipherpool/cipherpool/tdx"
)

// AttestationConfig selects the attestation provider.
type AttestationConfig struct {
	UseTDX       bool   `yaml:"use_tdx"`
	TDXRemoteURL string `yaml:"tdx_remote_url"`
}

// LedgerConfig bounds the ledger.
type LedgerConfig struct {
	Owner        string        `yaml:"owner"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	MaxBatches   int           `yaml:"max_batches"`
	MinInterval  time.Duration `yaml:"min_interval"`
}

// PostgresConfig holds the journal database settings. An empty host selects
// the in-memory journal.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Config is the shared YAML configuration for the service binaries.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	EnablePprof bool   `yaml:"enable_pprof"`

	// SigningKey is a hex-encoded Ed25519 seed. Empty generates a fresh key.
	SigningKey string `yaml:"signing_key"`

	// OracleURL points at a remote oracle service. Empty runs an in-process
	// oracle.
	OracleURL string `yaml:"oracle_url"`

	// CallbackURL is the externally reachable decryptions base URL handed to
	// the oracle, e.g. "http://gateway:8080/ledger/decryptions".
	CallbackURL string `yaml:"callback_url"`

	Ledger      LedgerConfig      `yaml:"ledger"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Attestation AttestationConfig `yaml:"attestation"`
}

// DefaultConfig returns a config suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: ":8080",
	}
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// NewAttestationProvider selects the TEE provider: TDXProvider or
// RemoteDCAPProvider when use_tdx is set, DummyProvider otherwise.
func NewAttestationProvider(cfg AttestationConfig) tdx.Provider {
	if cfg.UseTDX {
		if cfg.TDXRemoteURL != "" {
			return &tdx.RemoteDCAPProvider{URL: cfg.TDXRemoteURL, Timeout: 30 * time.Second}
		}
		return &tdx.TDXProvider{}
	}
	return &tdx.DummyProvider{}
}

// NewLogger builds the process-wide structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}
