// Package store persists the ledger's audit journal: every committed event,
// in commit order, queryable for inspection and replay. A journal plugs into
// the ledger as an event sink.
package store

import (
	"log/slog"
	"sync"

	"github.com/cipherpool/cipherpool/ledger"
)

// Journal is an append-only record of committed ledger events.
type Journal interface {
	// Append persists one event.
	Append(ev ledger.Event) error

	// Recent returns up to limit events, newest first.
	Recent(limit int) ([]ledger.Event, error)

	// BatchEvents returns every event recorded for the batch, oldest first.
	BatchEvents(id ledger.BatchID) ([]ledger.Event, error)

	// Close releases the journal's resources.
	Close() error
}

// Sink adapts a journal to the ledger's sink interface. Append failures are
// logged and swallowed: the journal is an observer, a persistence hiccup must
// never fail the ledger transition that triggered it.
func Sink(j Journal, log *slog.Logger) ledger.Sink {
	if log == nil {
		log = slog.Default()
	}
	return ledger.SinkFunc(func(ev ledger.Event) {
		if err := j.Append(ev); err != nil {
			log.Error("journal append failed", "err", err, "type", string(ev.Type))
		}
	})
}

// MemoryJournal keeps the event log in memory. Used in tests and
// single-process deployments without a database.
type MemoryJournal struct {
	mu     sync.Mutex
	events []ledger.Event
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append records the event.
func (j *MemoryJournal) Append(ev ledger.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

// Recent returns up to limit events, newest first.
func (j *MemoryJournal) Recent(limit int) ([]ledger.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 || limit > len(j.events) {
		limit = len(j.events)
	}
	out := make([]ledger.Event, 0, limit)
	for i := len(j.events) - 1; i >= len(j.events)-limit; i-- {
		out = append(out, j.events[i])
	}
	return out, nil
}

// BatchEvents returns the batch's events, oldest first.
func (j *MemoryJournal) BatchEvents(id ledger.BatchID) ([]ledger.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []ledger.Event
	for _, ev := range j.events {
		if ev.BatchID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Close is a no-op.
func (j *MemoryJournal) Close() error { return nil }
