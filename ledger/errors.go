package ledger

import "errors"

// Every failure mode of the ledger is one of these named conditions. An
// operation that fails leaves all state untouched; none of these are retried
// internally.
var (
	// ErrNotOwner rejects owner-only operations from any other caller.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotProvider rejects submissions from addresses without provider
	// rights.
	ErrNotProvider = errors.New("caller is not a registered provider")

	// ErrPaused rejects submissions and decryption requests while the
	// global pause flag is set.
	ErrPaused = errors.New("ledger is paused")

	// ErrBatchClosed rejects submissions into an inactive batch, closing an
	// already-closed batch, and decryption requests against a still-active
	// batch.
	ErrBatchClosed = errors.New("batch is closed")

	// ErrBatchFull rejects submissions at the per-batch cap and opening a
	// batch past the lifetime batch cap.
	ErrBatchFull = errors.New("batch is full")

	// ErrInvalidRequest rejects decryption requests with no meaningful
	// aggregate to decrypt.
	ErrInvalidRequest = errors.New("invalid decryption request")

	// ErrCooldownActive rejects rate-limited actions inside the caller's
	// cooldown interval.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrReplayDetected rejects a duplicate submission within a batch and a
	// duplicate callback for a completed request.
	ErrReplayDetected = errors.New("replay detected")

	// ErrStaleWrite rejects a callback whose request predates a model
	// version bump.
	ErrStaleWrite = errors.New("stale write: model version changed since request")

	// ErrInvalidDecryption rejects a callback whose accumulator fingerprint
	// no longer matches, or whose proof does not verify.
	ErrInvalidDecryption = errors.New("invalid decryption")
)
