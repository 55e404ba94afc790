// Package ledger implements the batch-aggregation and decryption-oracle
// protocol: a permissioned component that collects confidential encrypted
// contributions from allow-listed submitters, folds them into per-batch
// homomorphic accumulators, and exposes the aggregate only through a
// verified two-phase decryption handshake with an external oracle.
//
// All state mutations happen under a single mutex, giving every operation
// the strict serial, all-or-nothing semantics of a ledger transition:
// validation completes before any write, and a failing operation leaves the
// state byte-for-byte untouched. Racing callers are serialized in some total
// order; the idempotency guards (per-batch submitter set, per-request
// processed flag) and consistency guards (accumulator fingerprint, model
// version snapshot) make the outcome correct for any such order.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cipherpool/cipherpool/crypto"
	"github.com/cipherpool/cipherpool/oracle"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxBatchSize = 64
	DefaultMaxBatches   = 1024
	DefaultMinInterval  = 30 * time.Second
)

// Config bounds the ledger. Zero fields take the defaults above.
type Config struct {
	// MaxBatchSize caps accepted contributions per batch.
	MaxBatchSize int

	// MaxBatches caps the number of batches ever opened.
	MaxBatches int

	// MinInterval is the default per-address cooldown between rate-limited
	// actions. The owner may override it per address.
	MinInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxBatches == 0 {
		c.MaxBatches = DefaultMaxBatches
	}
	if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
}

// Option customizes a Ledger at construction time.
type Option func(*Ledger)

// WithClock injects the time source. Used by tests to step through cooldown
// windows deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithSink registers an event sink in addition to the structured log.
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sinks = append(l.sinks, s) }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithCallback sets the callback reference handed to the oracle on each
// decryption request, typically the gateway's callback URL.
func WithCallback(ref oracle.CallbackRef) Option {
	return func(l *Ledger) { l.callback = ref }
}

// Ledger is the aggregation ledger. All exported methods are safe for
// concurrent use.
type Ledger struct {
	mu sync.Mutex

	cfg      Config
	scheme   crypto.Scheme
	oracle   oracle.Oracle
	callback oracle.CallbackRef
	log      *slog.Logger
	sinks    []Sink
	now      func() time.Time

	owner            string
	paused           bool
	providers        map[string]struct{}
	cooldownOverride map[string]time.Duration
	lastActionAt     map[string]time.Time

	batches      map[BatchID]*batch
	batchCounter uint64
	requests     map[oracle.RequestID]*decryptionContext
	modelVersion uint64

	totalSubmissions uint64
}

// New constructs a ledger owned by owner and opens batch #1.
func New(owner string, cfg Config, scheme crypto.Scheme, orc oracle.Oracle, opts ...Option) (*Ledger, error) {
	if owner == "" {
		return nil, errors.New("owner address cannot be empty")
	}
	if scheme == nil {
		return nil, errors.New("cipher scheme cannot be nil")
	}
	if orc == nil {
		return nil, errors.New("decryption oracle cannot be nil")
	}
	cfg.applyDefaults()
	if cfg.MaxBatchSize < 0 || cfg.MaxBatches < 0 || cfg.MinInterval < 0 {
		return nil, errors.New("config values cannot be negative")
	}

	l := &Ledger{
		cfg:              cfg,
		scheme:           scheme,
		oracle:           orc,
		log:              slog.Default(),
		now:              time.Now,
		owner:            owner,
		providers:        make(map[string]struct{}),
		cooldownOverride: make(map[string]time.Duration),
		lastActionAt:     make(map[string]time.Time),
		batches:          make(map[BatchID]*batch),
		requests:         make(map[oracle.RequestID]*decryptionContext),
		modelVersion:     1,
	}
	for _, opt := range opts {
		opt(l)
	}

	// The first batch opens at initialization.
	if _, err := l.openBatchLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// TransferOwnership hands the owner role to newOwner. Owner-only.
func (l *Ledger) TransferOwnership(caller, newOwner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == "" {
		return errors.New("new owner address cannot be empty")
	}

	old := l.owner
	l.owner = newOwner

	l.emit(Event{Type: EventOwnershipTransferred, Address: old, NewOwner: newOwner})
	return nil
}

// AddProvider grants submission rights to addr. Owner-only.
func (l *Ledger) AddProvider(caller, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	l.providers[addr] = struct{}{}
	l.emit(Event{Type: EventProviderAdded, Address: addr})
	return nil
}

// RemoveProvider revokes submission rights from addr. Owner-only.
func (l *Ledger) RemoveProvider(caller, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	delete(l.providers, addr)
	l.emit(Event{Type: EventProviderRemoved, Address: addr})
	return nil
}

// SetPaused sets the global submission/decryption-request freeze. Owner-only.
func (l *Ledger) SetPaused(caller string, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	l.paused = paused
	l.emit(Event{Type: EventPausedSet, Paused: &paused})
	return nil
}

// SetCooldown sets a per-address cooldown override. A zero duration removes
// the override, reverting addr to MinInterval. Owner-only.
func (l *Ledger) SetCooldown(caller, addr string, interval time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if interval < 0 {
		return errors.New("cooldown interval cannot be negative")
	}

	if interval == 0 {
		delete(l.cooldownOverride, addr)
	} else {
		l.cooldownOverride[addr] = interval
	}

	l.emit(Event{Type: EventCooldownUpdated, Address: addr, Cooldown: interval})
	return nil
}

// BumpModelVersion increments the model version counter, invalidating every
// in-flight decryption request issued under the previous version. Owner-only.
func (l *Ledger) BumpModelVersion(caller string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return 0, err
	}

	l.modelVersion++
	l.emit(Event{Type: EventModelVersionUpdated, ModelVersion: l.modelVersion})
	return l.modelVersion, nil
}

// Owner returns the current owner address.
func (l *Ledger) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// Paused reports the global freeze flag.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// IsProvider reports whether addr holds submission rights.
func (l *Ledger) IsProvider(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.providers[addr]
	return ok
}

// ModelVersion returns the current model version.
func (l *Ledger) ModelVersion() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.modelVersion
}

// TotalSubmissions returns the count of contributions accepted across all
// batches.
func (l *Ledger) TotalSubmissions() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSubmissions
}

func (l *Ledger) requireOwner(caller string) error {
	if caller != l.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}

// effectiveInterval is the caller's cooldown: the owner-set override when
// present, MinInterval otherwise.
func (l *Ledger) effectiveInterval(addr string) time.Duration {
	if override, ok := l.cooldownOverride[addr]; ok {
		return override
	}
	return l.cfg.MinInterval
}

// checkCooldown fails if addr acted within interval. The last-action
// timestamp is shared across every rate-limited action type, so a
// submission and a decryption request by the same address throttle each
// other.
func (l *Ledger) checkCooldown(addr string, interval time.Duration) error {
	last, ok := l.lastActionAt[addr]
	if !ok {
		return nil
	}
	if wait := last.Add(interval).Sub(l.now()); wait > 0 {
		return fmt.Errorf("%w: %s for another %s", ErrCooldownActive, addr, wait)
	}
	return nil
}

func (l *Ledger) stampCooldown(addr string) {
	l.lastActionAt[addr] = l.now()
}
