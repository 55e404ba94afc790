package ledger

import (
	"fmt"

	"github.com/cipherpool/cipherpool/crypto"
)

// Submit folds one encrypted contribution into the batch accumulator.
//
// The caller must hold provider rights, the ledger must not be paused, and
// the caller must be outside its effective cooldown interval. Then, in
// order: the batch must exist and be active (ErrBatchClosed), the batch must
// be below the submission cap (ErrBatchFull), and the caller must not have
// contributed to this batch before (ErrReplayDetected). The first failing
// check wins and nothing is written.
//
// On success the accumulator is replaced by add(accumulator, ciphertext),
// the caller is recorded in the batch submitter set, the cooldown timestamp
// is stamped, and a contribution event carrying the serialized ciphertext is
// emitted. The plaintext never appears anywhere: the contribution is opaque
// ciphertext throughout.
func (l *Ledger) Submit(caller string, id BatchID, contribution crypto.Ciphertext) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.providers[caller]; !ok {
		return fmt.Errorf("%w: %s", ErrNotProvider, caller)
	}
	if l.paused {
		return ErrPaused
	}
	if err := l.checkCooldown(caller, l.effectiveInterval(caller)); err != nil {
		return err
	}

	b, ok := l.batches[id]
	if !ok || b.state != BatchActive {
		return fmt.Errorf("%w: batch %d", ErrBatchClosed, id)
	}
	if b.submissionCount >= l.cfg.MaxBatchSize {
		return fmt.Errorf("%w: batch %d at cap %d", ErrBatchFull, id, l.cfg.MaxBatchSize)
	}
	if _, submitted := b.submitters[caller]; submitted {
		return fmt.Errorf("%w: %s already contributed to batch %d", ErrReplayDetected, caller, id)
	}

	// The accumulator is initialized to zero() at open time, so there is no
	// lazy-init branch here.
	combined, err := l.scheme.Add(b.accumulator, contribution)
	if err != nil {
		return fmt.Errorf("combining contribution: %w", err)
	}

	b.accumulator = combined
	b.submissionCount++
	b.submitters[caller] = struct{}{}
	l.totalSubmissions++
	l.stampCooldown(caller)

	l.emit(Event{
		Type:       EventContribution,
		Address:    caller,
		BatchID:    id,
		Ciphertext: l.scheme.Serialize(contribution),
	})
	return nil
}
