// Command ledgerd runs the cipherpool ledger gateway.
//
// The gateway exposes the aggregation ledger over HTTP: batch lifecycle,
// encrypted submissions, access control and the two-phase decryption
// handshake with the oracle.
//
// # Configuration File
//
// Create a YAML file with gateway settings:
//
//	http_addr: ":8080"
//	metrics_addr: ":9090"
//	oracle_url: "http://oracle:8081"
//	callback_url: "http://gateway:8080/ledger/decryptions"
//	ledger:
//	  owner: "<hex ed25519 public key>"
//	  max_batch_size: 64
//	  max_batches: 1024
//	  min_interval: 30s
//	postgres:
//	  host: "localhost"
//	  port: 5432
//	  user: "cipherpool"
//	  password: "secret"
//	  database: "cipherpool"
//
// # Usage
//
//	go run ./cmd/ledgerd --config=ledger.yaml
//	go run ./cmd/ledgerd --addr=:8080 --owner=<hex pubkey>
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
	"github.com/cipherpool/cipherpool/ledger"
	"github.com/cipherpool/cipherpool/oracle"
	"github.com/cipherpool/cipherpool/server"
	"github.com/cipherpool/cipherpool/store"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", "", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address")
		owner       = flag.String("owner", "", "Ledger owner address (hex ed25519 public key)")
		oracleURL   = flag.String("oracle-url", "", "Remote oracle service URL")
		callbackURL = flag.String("callback-url", "", "Externally reachable decryptions base URL")
		enablePprof = flag.Bool("pprof", false, "Enable pprof debugging API")
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
	if *owner != "" {
		cfg.Ledger.Owner = *owner
	}
	if *oracleURL != "" {
		cfg.OracleURL = *oracleURL
	}
	if *callbackURL != "" {
		cfg.CallbackURL = *callbackURL
	}
	if *enablePprof {
		cfg.EnablePprof = true
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
	return cmdcommon.DefaultConfig(), nil
}

func run(cfg *cmdcommon.Config) error {
	log := cmdcommon.NewLogger()
	scheme := crypto.NewAdditiveScheme()

	// Without a configured owner the gateway generates one, which is only
	// useful for demos since nobody holds the key.
	ownerAddr := cfg.Ledger.Owner
	if ownerAddr == "" {
		pub, _, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		ownerAddr = pub.String()
		log.Warn("no owner configured, generated a throwaway owner address", "owner", ownerAddr)
	}

	orc, err := newOracle(cfg, scheme)
	if err != nil {
		return fmt.Errorf("setting up oracle: %w", err)
	}

	journal, err := newJournal(cfg)
	if err != nil {
		return fmt.Errorf("setting up journal: %w", err)
	}
	defer journal.Close()

	l, err := ledger.New(ownerAddr, ledger.Config{
		MaxBatchSize: cfg.Ledger.MaxBatchSize,
		MaxBatches:   cfg.Ledger.MaxBatches,
		MinInterval:  cfg.Ledger.MinInterval,
	}, scheme, orc,
		ledger.WithLogger(log),
		ledger.WithSink(store.Sink(journal, log)),
		ledger.WithCallback(oracle.CallbackRef(cfg.CallbackURL)),
	)
	if err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}

	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:               cfg.HTTPAddr,
		MetricsAddr:              cfg.MetricsAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, server.NewHandler(l, journal, log))
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	srv.RunInBackground()
	log.Info("ledger gateway started", "version", common.Version, "addr", cfg.HTTPAddr, "owner", ownerAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down ledger gateway")
	srv.Shutdown()
	return nil
}

func newOracle(cfg *cmdcommon.Config, scheme *crypto.AdditiveScheme) (oracle.Oracle, error) {
	if cfg.OracleURL != "" {
		return oracle.NewHTTPOracle(cfg.OracleURL)
	}
	return oracle.NewLocalOracle(oracle.AdditiveDecryptor(scheme))
}

func newJournal(cfg *cmdcommon.Config) (store.Journal, error) {
	if cfg.Postgres.Host == "" {
		return store.NewMemoryJournal(), nil
	}
	return store.NewPostgresJournal(&store.PostgresConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	})
}
