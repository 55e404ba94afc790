package ledger

import (
	"fmt"
	"time"

	"github.com/cipherpool/cipherpool/crypto"
)

// BatchID identifies a collection window. Ids are monotonically assigned
// starting at 1.
type BatchID uint64

// BatchState is a one-way flag: a batch opens active and may transition to
// closed exactly once. There is no path back to active.
type BatchState uint8

const (
	// BatchActive accepts submissions and refuses decryption requests.
	BatchActive BatchState = iota + 1
	// BatchSealed refuses submissions and accepts decryption requests.
	BatchSealed
)

// String returns the state name.
func (s BatchState) String() string {
	switch s {
	case BatchActive:
		return "active"
	case BatchSealed:
		return "sealed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// batch is the ledger-internal record of one collection window. Batches are
// never deleted; they persist as an audit trail.
type batch struct {
	id              BatchID
	state           BatchState
	createdAt       time.Time
	closedAt        time.Time
	submissionCount int
	accumulator     crypto.Ciphertext
	submitters      map[string]struct{}
}

// BatchInfo is a read-only snapshot of a batch handed to callers.
type BatchInfo struct {
	ID              BatchID           `json:"id"`
	State           BatchState        `json:"-"`
	Active          bool              `json:"active"`
	CreatedAt       time.Time         `json:"created_at"`
	ClosedAt        time.Time         `json:"closed_at"`
	SubmissionCount int               `json:"submission_count"`
	Accumulator     crypto.Ciphertext `json:"accumulator"`
}

func (b *batch) snapshot() BatchInfo {
	return BatchInfo{
		ID:              b.id,
		State:           b.state,
		Active:          b.state == BatchActive,
		CreatedAt:       b.createdAt,
		ClosedAt:        b.closedAt,
		SubmissionCount: b.submissionCount,
		Accumulator:     b.accumulator.Clone(),
	}
}

// OpenBatch allocates the next batch id and initializes its accumulator to
// the encryption of zero. Owner-only. Fails with ErrBatchFull once the
// lifetime batch cap is reached.
func (l *Ledger) OpenBatch(caller string) (BatchID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return 0, err
	}
	return l.openBatchLocked()
}

func (l *Ledger) openBatchLocked() (BatchID, error) {
	if l.batchCounter >= uint64(l.cfg.MaxBatches) {
		return 0, fmt.Errorf("%w: lifetime cap of %d batches reached", ErrBatchFull, l.cfg.MaxBatches)
	}

	l.batchCounter++
	id := BatchID(l.batchCounter)
	l.batches[id] = &batch{
		id:          id,
		state:       BatchActive,
		createdAt:   l.now(),
		accumulator: l.scheme.Zero(),
		submitters:  make(map[string]struct{}),
	}

	l.emit(Event{Type: EventBatchOpened, BatchID: id})
	return id, nil
}

// CloseBatch seals an active batch. Owner-only. Once sealed, submissions are
// refused forever and decryption requests become possible. Fails with
// ErrBatchClosed if the batch is unknown or already sealed.
func (l *Ledger) CloseBatch(caller string, id BatchID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	b, ok := l.batches[id]
	if !ok || b.state != BatchActive {
		return fmt.Errorf("%w: batch %d", ErrBatchClosed, id)
	}

	b.state = BatchSealed
	b.closedAt = l.now()

	l.emit(Event{Type: EventBatchClosed, BatchID: id, Address: caller})
	return nil
}

// Batch returns a snapshot of the batch, or ErrInvalidRequest if unknown.
func (l *Ledger) Batch(id BatchID) (BatchInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.batches[id]
	if !ok {
		return BatchInfo{}, fmt.Errorf("%w: unknown batch %d", ErrInvalidRequest, id)
	}
	return b.snapshot(), nil
}

// HasSubmitted reports whether addr already contributed to the batch.
func (l *Ledger) HasSubmitted(id BatchID, addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.batches[id]
	if !ok {
		return false
	}
	_, submitted := b.submitters[addr]
	return submitted
}

// CurrentBatch returns the most recently opened batch id, 0 if none.
func (l *Ledger) CurrentBatch() BatchID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return BatchID(l.batchCounter)
}
