package testutil

import (
	"sync"
	"time"

	"github.com/cipherpool/cipherpool/crypto"
	"github.com/cipherpool/cipherpool/ledger"
)

// Clock is a manual time source. Inject its Now method into a ledger to step
// through cooldown windows deterministically.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current manual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// GenerateTestAddresses returns n distinct ledger addresses (hex pubkeys).
func GenerateTestAddresses(n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		pub, _, err := crypto.GenerateKeyPair()
		if err != nil {
			panic(err)
		}
		addrs[i] = pub.String()
	}
	return addrs
}

// ConfigOption modifies a test ledger config.
type ConfigOption func(*ledger.Config)

// WithMaxBatchSize sets the per-batch submission cap.
func WithMaxBatchSize(n int) ConfigOption {
	return func(cfg *ledger.Config) { cfg.MaxBatchSize = n }
}

// WithMaxBatches sets the lifetime batch cap.
func WithMaxBatches(n int) ConfigOption {
	return func(cfg *ledger.Config) { cfg.MaxBatches = n }
}

// WithMinInterval sets the default cooldown interval.
func WithMinInterval(d time.Duration) ConfigOption {
	return func(cfg *ledger.Config) { cfg.MinInterval = d }
}

// NewTestConfig returns a small config suitable for unit tests.
func NewTestConfig(options ...ConfigOption) ledger.Config {
	cfg := ledger.Config{
		MaxBatchSize: 8,
		MaxBatches:   8,
		MinInterval:  time.Minute,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// EventCollector is a ledger sink that records every published event.
type EventCollector struct {
	mu     sync.Mutex
	events []ledger.Event
}

// Publish records the event.
func (c *EventCollector) Publish(ev ledger.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the recorded events.
func (c *EventCollector) Events() []ledger.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ledger.Event, len(c.events))
	copy(out, c.events)
	return out
}

// LastOfType returns the most recent event of the given type, if any.
func (c *EventCollector) LastOfType(t ledger.EventType) (ledger.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == t {
			return c.events[i], true
		}
	}
	return ledger.Event{}, false
}
