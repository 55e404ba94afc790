// Package server exposes the ledger over HTTP. Mutating calls arrive as
// signed envelopes; the recovered signer is the acting ledger address. The
// decryption callback is the one unsigned mutation, since the oracle proof
// carries its own authentication.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cipherpool/cipherpool/ledger"
	"github.com/cipherpool/cipherpool/metrics"
	"github.com/cipherpool/cipherpool/oracle"
	"github.com/cipherpool/cipherpool/protocol"
	"github.com/cipherpool/cipherpool/store"
)

// Handler is the ledger HTTP gateway.
type Handler struct {
	ledger  *ledger.Ledger
	journal store.Journal
	log     *slog.Logger
}

// NewHandler creates a gateway over the ledger. The journal may be nil, in
// which case the events endpoint reports an empty log.
func NewHandler(l *ledger.Ledger, journal store.Journal, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: l, journal: journal, log: log}
}

// RegisterRoutes mounts the gateway under /ledger.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ledger/status", h.status)

	r.Post("/ledger/owner", h.transferOwnership)
	r.Post("/ledger/providers", h.addProvider)
	r.Post("/ledger/providers/remove", h.removeProvider)
	r.Post("/ledger/pause", h.setPaused)
	r.Post("/ledger/cooldown", h.setCooldown)
	r.Post("/ledger/model-version", h.bumpModelVersion)

	r.Post("/ledger/batches", h.openBatch)
	r.Get("/ledger/batches/{id}", h.batch)
	r.Post("/ledger/batches/close", h.closeBatch)
	r.Post("/ledger/submissions", h.submit)

	r.Post("/ledger/decryptions", h.requestDecryption)
	r.Get("/ledger/decryptions/{id}", h.decryption)
	r.Post("/ledger/decryptions/{id}/callback", h.callback)

	r.Get("/ledger/events", h.events)
}

// recoverSigned decodes a signed envelope from the request body and returns
// the object plus the signer's address.
func recoverSigned[T any](r *http.Request) (*T, string, error) {
	signed, err := protocol.DecodeMessage[protocol.Signed[T]](r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parsing envelope: %w", err)
	}
	obj, signer, err := signed.Recover()
	if err != nil {
		return nil, "", fmt.Errorf("recovering signer: %w", err)
	}
	return obj, signer.String(), nil
}

// statusFor maps ledger sentinels onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotOwner), errors.Is(err, ledger.ErrNotProvider):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrBatchClosed), errors.Is(err, ledger.ErrBatchFull),
		errors.Is(err, ledger.ErrReplayDetected), errors.Is(err, ledger.ErrStaleWrite):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidRequest), errors.Is(err, ledger.ErrInvalidDecryption):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if errors.Is(err, ledger.ErrCooldownActive) {
		metrics.CooldownRejections.Inc()
	}
	http.Error(w, err.Error(), code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response failed", "err", err)
	}
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Owner:            h.ledger.Owner(),
		Paused:           h.ledger.Paused(),
		ModelVersion:     h.ledger.ModelVersion(),
		CurrentBatch:     h.ledger.CurrentBatch(),
		TotalSubmissions: h.ledger.TotalSubmissions(),
	})
}

func (h *Handler) transferOwnership(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[TransferOwnershipRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.ledger.TransferOwnership(caller, req.NewOwner); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusMessage{Status: "success"})
}

func (h *Handler) addProvider(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[ProviderRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.ledger.AddProvider(caller, req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusMessage{Status: "success"})
}

func (h *Handler) removeProvider(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[ProviderRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.ledger.RemoveProvider(caller, req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusMessage{Status: "success"})
}

func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[PauseRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.ledger.SetPaused(caller, req.Paused); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusMessage{Status: "success"})
}

func (h *Handler) setCooldown(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[CooldownRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.ledger.SetCooldown(caller, req.Address, req.Interval); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusMessage{Status: "success"})
}

func (h *Handler) bumpModelVersion(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	_, caller, err := recoverSigned[struct{}](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	version, err := h.ledger.BumpModelVersion(caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ModelVersionResponse{ModelVersion: version})
}

func (h *Handler) openBatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	_, caller, err := recoverSigned[OpenBatchRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	id, err := h.ledger.OpenBatch(caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, BatchResponse{BatchID: id})
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid batch id: %v", err), http.StatusBadRequest)
		return
	}

	info, err := h.ledger.Batch(ledger.BatchID(id))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) closeBatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[CloseBatchRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.ledger.CloseBatch(caller, req.BatchID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusMessage{Status: "success"})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[SubmitRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if len(req.Ciphertext) == 0 {
		http.Error(w, "missing ciphertext", http.StatusBadRequest)
		return
	}

	if err := h.ledger.Submit(caller, req.BatchID, req.Ciphertext); err != nil {
		metrics.SubmissionsRejected.Inc()
		h.writeError(w, err)
		return
	}
	metrics.SubmissionsAccepted.Inc()
	h.writeJSON(w, http.StatusOK, statusMessage{Status: "success"})
}

func (h *Handler) requestDecryption(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, caller, err := recoverSigned[DecryptionRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	requestID, err := h.ledger.RequestDecryption(r.Context(), caller, req.BatchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	metrics.DecryptionsRequested.Inc()
	h.writeJSON(w, http.StatusCreated, DecryptionTicket{RequestID: requestID})
}

func (h *Handler) decryption(w http.ResponseWriter, r *http.Request) {
	info, err := h.ledger.Request(oracle.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	requestID := oracle.RequestID(chi.URLParam(r, "id"))

	req, err := protocol.DecodeMessage[CallbackRequest](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("parsing callback: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.ledger.CompleteDecryption(requestID, req.Cleartext, req.Proof)
	if err != nil {
		metrics.CallbacksRejected.Inc()
		h.writeError(w, err)
		return
	}
	metrics.DecryptionsCompleted.Inc()
	h.writeJSON(w, http.StatusOK, CallbackResponse{RequestID: requestID, Result: result.String()})
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeJSON(w, http.StatusOK, []ledger.Event{})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := h.journal.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	h.writeJSON(w, http.StatusOK, events)
}
