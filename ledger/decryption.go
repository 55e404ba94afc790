package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cipherpool/cipherpool/crypto"
	"github.com/cipherpool/cipherpool/oracle"
)

// RequestState is a one-way flag: a request is created pending and flips to
// completed exactly once, by its matching callback. A failed callback leaves
// the request pending and retryable; there is no terminal rejected state.
type RequestState uint8

const (
	// RequestPending awaits the oracle's answer.
	RequestPending RequestState = iota + 1
	// RequestCompleted accepted exactly one valid callback.
	RequestCompleted
)

// String returns the state name.
func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestCompleted:
		return "completed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// decryptionContext pins everything a callback must still match: the batch,
// the accumulator fingerprint at request time, and the model version at
// request time. Contexts are never deleted; an unanswered request stays
// pending forever, which is an accepted trade-off since the context is small
// and fixed-size.
type decryptionContext struct {
	requestID        oracle.RequestID
	batchID          BatchID
	versionAtRequest uint64
	fingerprint      crypto.Fingerprint
	state            RequestState
	requester        string
	requestedAt      time.Time
}

// DecryptionInfo is a read-only snapshot of a decryption request.
type DecryptionInfo struct {
	RequestID        oracle.RequestID `json:"request_id"`
	BatchID          BatchID          `json:"batch_id"`
	VersionAtRequest uint64           `json:"version_at_request"`
	Fingerprint      string           `json:"fingerprint"`
	Processed        bool             `json:"processed"`
	Requester        string           `json:"requester"`
	RequestedAt      time.Time        `json:"requested_at"`
}

func (c *decryptionContext) snapshot() DecryptionInfo {
	return DecryptionInfo{
		RequestID:        c.requestID,
		BatchID:          c.batchID,
		VersionAtRequest: c.versionAtRequest,
		Fingerprint:      c.fingerprint.String(),
		Processed:        c.state == RequestCompleted,
		Requester:        c.requester,
		RequestedAt:      c.requestedAt,
	}
}

// RequestDecryption opens the request phase of the decryption handshake for
// a sealed batch.
//
// Any address may call it while the ledger is not paused, throttled by the
// fixed MinInterval (never the per-address override). The batch must hold at
// least one contribution (ErrInvalidRequest: no meaningful aggregate exists)
// and must be sealed (ErrBatchClosed: decrypting a moving target is
// refused). The accumulator fingerprint and the current model version are
// snapshotted into the persisted context; a later callback must still match
// both.
//
// The oracle assigns the request id. If the oracle call fails nothing is
// written, not even the cooldown stamp.
func (l *Ledger) RequestDecryption(ctx context.Context, caller string, id BatchID) (oracle.RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return "", ErrPaused
	}
	if err := l.checkCooldown(caller, l.cfg.MinInterval); err != nil {
		return "", err
	}

	b, ok := l.batches[id]
	if !ok || b.submissionCount == 0 {
		return "", fmt.Errorf("%w: batch %d has no aggregate to decrypt", ErrInvalidRequest, id)
	}
	if b.state == BatchActive {
		return "", fmt.Errorf("%w: batch %d still accepts submissions", ErrBatchClosed, id)
	}

	serialized := l.scheme.Serialize(b.accumulator)
	fingerprint := crypto.ComputeFingerprint(serialized)

	// The lock is held across the oracle call: the fingerprint and the
	// persisted context must describe the same accumulator state, and every
	// transition is all-or-nothing. A remote oracle's latency stalls other
	// ledger operations for the duration; bound it with ctx.
	requestID, err := l.oracle.RequestDecryption(ctx, [][]byte{serialized}, l.callback)
	if err != nil {
		return "", fmt.Errorf("oracle request: %w", err)
	}
	if _, exists := l.requests[requestID]; exists {
		return "", fmt.Errorf("%w: oracle reissued request id %s", ErrInvalidRequest, requestID)
	}

	l.requests[requestID] = &decryptionContext{
		requestID:        requestID,
		batchID:          id,
		versionAtRequest: l.modelVersion,
		fingerprint:      fingerprint,
		state:            RequestPending,
		requester:        caller,
		requestedAt:      l.now(),
	}
	l.stampCooldown(caller)

	l.emit(Event{Type: EventDecryptionRequested, RequestID: requestID, BatchID: id, Address: caller})
	return requestID, nil
}

// CompleteDecryption is the callback entry point of the handshake. Anyone
// may deliver it; authenticity comes from the proof, not the caller.
//
// Validation order: the context must exist and be pending, else
// ErrReplayDetected (a completed request is final — no second callback ever
// succeeds). The version snapshot must equal the current model version, else
// ErrStaleWrite (an answer computed under superseded rules is refused). The
// batch's current accumulator fingerprint must equal the snapshot, else
// ErrInvalidDecryption (the ciphertext changed under the in-flight request;
// impossible once sealed, checked anyway since sealing freezes submissions,
// not storage). The proof must verify through the oracle capability, else
// ErrInvalidDecryption with no state change.
//
// On success the request flips to completed and the decoded plaintext result
// is returned and emitted.
func (l *Ledger) CompleteDecryption(requestID oracle.RequestID, cleartext, proof []byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.requests[requestID]
	if !ok || c.state != RequestPending {
		return nil, fmt.Errorf("%w: request %s", ErrReplayDetected, requestID)
	}

	if c.versionAtRequest != l.modelVersion {
		return nil, fmt.Errorf("%w: request %s issued at version %d, current %d",
			ErrStaleWrite, requestID, c.versionAtRequest, l.modelVersion)
	}

	b, ok := l.batches[c.batchID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %d missing", ErrInvalidDecryption, c.batchID)
	}
	current := crypto.ComputeFingerprint(l.scheme.Serialize(b.accumulator))
	if current != c.fingerprint {
		return nil, fmt.Errorf("%w: accumulator changed since request %s", ErrInvalidDecryption, requestID)
	}

	if !l.oracle.VerifySignatures(requestID, cleartext, proof) {
		return nil, fmt.Errorf("%w: proof verification failed for request %s", ErrInvalidDecryption, requestID)
	}

	result := new(big.Int).SetBytes(cleartext)
	c.state = RequestCompleted

	l.emit(Event{
		Type:            EventDecryptionCompleted,
		RequestID:       requestID,
		BatchID:         c.batchID,
		PlaintextResult: result.String(),
	})
	return result, nil
}

// Request returns a snapshot of the decryption request, or
// ErrInvalidRequest if unknown.
func (l *Ledger) Request(id oracle.RequestID) (DecryptionInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.requests[id]
	if !ok {
		return DecryptionInfo{}, fmt.Errorf("%w: unknown request %s", ErrInvalidRequest, id)
	}
	return c.snapshot(), nil
}
