package ledger

import (
	"time"

	"github.com/cipherpool/cipherpool/oracle"
)

// EventType names an observable ledger transition.
type EventType string

const (
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventProviderAdded        EventType = "provider_added"
	EventProviderRemoved      EventType = "provider_removed"
	EventPausedSet            EventType = "paused_set"
	EventCooldownUpdated      EventType = "cooldown_updated"
	EventBatchOpened          EventType = "batch_opened"
	EventBatchClosed          EventType = "batch_closed"
	EventContribution         EventType = "contribution_submitted"
	EventDecryptionRequested  EventType = "decryption_requested"
	EventDecryptionCompleted  EventType = "decryption_completed"
	EventModelVersionUpdated  EventType = "model_version_updated"
)

// Event is an observable record of a committed state transition. Events are
// emitted only after every mutation of a successful operation; failed
// operations emit nothing. Contribution events carry the serialized
// ciphertext, never a plaintext.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// Address is the acting or affected address, depending on the event.
	Address   string           `json:"address,omitempty"`
	NewOwner  string           `json:"new_owner,omitempty"`
	BatchID   BatchID          `json:"batch_id,omitempty"`
	RequestID oracle.RequestID `json:"request_id,omitempty"`

	Paused          *bool         `json:"paused,omitempty"`
	Cooldown        time.Duration `json:"cooldown,omitempty"`
	ModelVersion    uint64        `json:"model_version,omitempty"`
	Ciphertext      []byte        `json:"ciphertext,omitempty"`
	PlaintextResult string        `json:"plaintext_result,omitempty"`
}

// Sink receives committed ledger events. Publish is called while the ledger
// transition is being committed, in transition order; implementations must
// not call back into the ledger.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Publish calls f.
func (f SinkFunc) Publish(ev Event) { f(ev) }

func (l *Ledger) emit(ev Event) {
	ev.Time = l.now()
	l.log.Info("ledger event",
		"type", string(ev.Type),
		"batch", uint64(ev.BatchID),
		"request", string(ev.RequestID),
		"address", ev.Address,
	)
	for _, s := range l.sinks {
		s.Publish(ev)
	}
}
