package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cipherpool/cipherpool/tdx"
)

// callbackPayload is the body delivered to the ledger gateway's callback
// endpoint. It mirrors the gateway's expectation: the proof authenticates
// the answer, so the delivery itself is unsigned.
type callbackPayload struct {
	Cleartext []byte `json:"cleartext"`
	Proof     []byte `json:"proof"`
}

// Service exposes a LocalOracle over HTTP: the verification key, the request
// intake and, when configured, a hardware attestation over the key. Answers
// are computed and delivered to each request's callback in the background.
type Service struct {
	oracle     *LocalOracle
	attestor   tdx.Provider
	log        *slog.Logger
	httpClient *http.Client
}

// NewService wraps a local oracle. The attestor may be nil, disabling the
// attestation endpoint.
func NewService(orc *LocalOracle, attestor tdx.Provider, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		oracle:     orc,
		attestor:   attestor,
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// RegisterRoutes mounts the oracle endpoints under /oracle.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/oracle/key", s.key)
	r.Post("/oracle/requests", s.request)
	r.Get("/oracle/attestation", s.attestation)
}

func (s *Service) key(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OracleKeyResponse{PublicKey: s.oracle.PublicKey().String()})
}

func (s *Service) request(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req DecryptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("parsing request: %v", err), http.StatusBadRequest)
		return
	}

	id, err := s.oracle.RequestDecryption(r.Context(), req.Ciphertexts, req.Callback)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The answer is computed and delivered out of band; the caller only
	// learns the id here.
	go s.deliver(id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DecryptionTicket{RequestID: id})
}

func (s *Service) attestation(w http.ResponseWriter, r *http.Request) {
	if s.attestor == nil {
		http.Error(w, "attestation not configured", http.StatusNotFound)
		return
	}

	quote, err := s.attestor.Attest(tdx.ReportDataForKey(s.oracle.PublicKey()))
	if err != nil {
		http.Error(w, fmt.Sprintf("generating quote: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(quote)
}

// deliver answers the request and POSTs the result to its callback. A
// missing callback leaves the answer to be fetched via Answer by whoever
// drives the oracle in-process.
func (s *Service) deliver(id RequestID) {
	callback, ok := s.oracle.Callback(id)
	if !ok || callback == "" {
		return
	}

	cleartext, proof, err := s.oracle.Answer(id)
	if err != nil {
		s.log.Error("answering decryption request failed", "request", string(id), "err", err)
		return
	}

	if err := s.postCallback(context.Background(), callback, id, cleartext, proof); err != nil {
		s.log.Error("callback delivery failed", "request", string(id), "callback", string(callback), "err", err)
		return
	}
	s.log.Info("delivered decryption answer", "request", string(id))
}

// postCallback POSTs the answer to <callback>/<id>/callback, the gateway's
// callback route shape.
func (s *Service) postCallback(ctx context.Context, callback CallbackRef, id RequestID, cleartext, proof []byte) error {
	body, err := json.Marshal(callbackPayload{Cleartext: cleartext, Proof: proof})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/callback", callback, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
