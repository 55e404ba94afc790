// Package metrics exposes the process's Prometheus endpoint and the
// ledger-specific counters.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Ledger counters, incremented by the HTTP gateway.
var (
	SubmissionsAccepted  = metrics.NewCounter("cipherpool_submissions_accepted_total")
	SubmissionsRejected  = metrics.NewCounter("cipherpool_submissions_rejected_total")
	DecryptionsRequested = metrics.NewCounter("cipherpool_decryptions_requested_total")
	DecryptionsCompleted = metrics.NewCounter("cipherpool_decryptions_completed_total")
	CallbacksRejected    = metrics.NewCounter("cipherpool_callbacks_rejected_total")
	CooldownRejections   = metrics.NewCounter("cipherpool_cooldown_rejections_total")
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name. An empty addr
// returns a server whose ListenAndServe is a no-op.
func New(name, addr string) (*MetricsServer, error) {
	if name == "" {
		return nil, fmt.Errorf("metrics service name cannot be empty")
	}
	if addr == "" {
		return &MetricsServer{}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	if m.srv == nil {
		return nil
	}
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the scrape endpoint.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
