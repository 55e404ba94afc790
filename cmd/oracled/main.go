// Command oracled runs a standalone cipherpool decryption oracle.
//
// The oracle holds the decryption capability: it registers ciphertext sets
// on behalf of the ledger gateway, decrypts them, signs the answers and
// delivers them to the gateway's callback endpoint. When attestation is
// enabled it also serves a TDX quote binding its proof-verification key.
//
// # Configuration File
//
//	http_addr: ":8081"
//	metrics_addr: ":9091"
//	signing_key: "<hex ed25519 private key>"
//	attestation:
//	  use_tdx: false
//
// # Endpoints
//
//   - GET /oracle/key - Proof-verification key
//   - POST /oracle/requests - Register a ciphertext set
//   - GET /oracle/attestation - TDX quote over the verification key
//
// # Usage
//
//	go run ./cmd/oracled --config=oracle.yaml
//	go run ./cmd/oracled --addr=:8081
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cipherpool/cipherpool/api/httpserver"
	cmdcommon "github.com/cipherpool/cipherpool/cmd/common"
	"github.com/cipherpool/cipherpool/common"
	"github.com/cipherpool/cipherpool/crypto"
	"github.com/cipherpool/cipherpool/oracle"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", "", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address")
		useTDX      = flag.Bool("tdx", false, "Serve real TDX attestations")
	)
	flag.Parse()

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *useTDX {
		cfg.Attestation.UseTDX = true
	}

	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath string) (*cmdcommon.Config, error) {
	if configPath != "" {
		return cmdcommon.LoadConfig(configPath)
	}
	cfg := cmdcommon.DefaultConfig()
	cfg.HTTPAddr = ":8081"
	return cfg, nil
}

func run(cfg *cmdcommon.Config) error {
	log := cmdcommon.NewLogger()

	signingKey, err := cmdcommon.LoadOrGenerateSigningKey(cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	scheme := crypto.NewAdditiveScheme()
	orc, err := oracle.NewLocalOracleWithKey(oracle.AdditiveDecryptor(scheme), signingKey)
	if err != nil {
		return fmt.Errorf("creating oracle: %w", err)
	}

	attestor := cmdcommon.NewAttestationProvider(cfg.Attestation)
	service := oracle.NewService(orc, attestor, log)

	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:               cfg.HTTPAddr,
		MetricsAddr:              cfg.MetricsAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, service)
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	srv.RunInBackground()
	log.Info("oracle started",
		"version", common.Version,
		"addr", cfg.HTTPAddr,
		"key", orc.PublicKey().String(),
		"attestation", attestor.AttestationType(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down oracle")
	srv.Shutdown()
	return nil
}
