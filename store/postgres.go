package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cipherpool/cipherpool/ledger"
	"github.com/cipherpool/cipherpool/oracle"
)

// PostgresJournal implements Journal with PostgreSQL persistence.
type PostgresJournal struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresJournal opens the database, verifies connectivity and applies
// the journal schema.
func NewPostgresJournal(config *PostgresConfig) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	j := &PostgresJournal{db: db}
	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return j, nil
}

func (j *PostgresJournal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_events (
		id BIGSERIAL PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
		address VARCHAR(128) NOT NULL DEFAULT '',
		new_owner VARCHAR(128) NOT NULL DEFAULT '',
		batch_id BIGINT NOT NULL DEFAULT 0,
		request_id VARCHAR(64) NOT NULL DEFAULT '',
		paused BOOLEAN,
		cooldown_ns BIGINT NOT NULL DEFAULT 0,
		model_version BIGINT NOT NULL DEFAULT 0,
		ciphertext BYTEA,
		plaintext_result TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_events_batch ON ledger_events(batch_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_events_type ON ledger_events(event_type);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Append persists one event.
func (j *PostgresJournal) Append(ev ledger.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var paused sql.NullBool
	if ev.Paused != nil {
		paused = sql.NullBool{Bool: *ev.Paused, Valid: true}
	}

	query := `
	INSERT INTO ledger_events
		(event_type, occurred_at, address, new_owner, batch_id, request_id, paused, cooldown_ns, model_version, ciphertext, plaintext_result)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := j.db.ExecContext(ctx, query,
		string(ev.Type),
		ev.Time,
		ev.Address,
		ev.NewOwner,
		int64(ev.BatchID),
		string(ev.RequestID),
		paused,
		int64(ev.Cooldown),
		int64(ev.ModelVersion),
		ev.Ciphertext,
		ev.PlaintextResult,
	)
	return err
}

// Recent returns up to limit events, newest first.
func (j *PostgresJournal) Recent(limit int) ([]ledger.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := j.db.QueryContext(ctx, selectEvents+" ORDER BY id DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// BatchEvents returns the batch's events, oldest first.
func (j *PostgresJournal) BatchEvents(id ledger.BatchID) ([]ledger.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := j.db.QueryContext(ctx, selectEvents+" WHERE batch_id = $1 ORDER BY id ASC", int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

const selectEvents = `
	SELECT event_type, occurred_at, address, new_owner, batch_id, request_id, paused, cooldown_ns, model_version, ciphertext, plaintext_result
	FROM ledger_events`

func scanEvents(rows *sql.Rows) ([]ledger.Event, error) {
	var out []ledger.Event
	for rows.Next() {
		var (
			eventType       string
			occurredAt      time.Time
			address         string
			newOwner        string
			batchID         int64
			requestID       string
			paused          sql.NullBool
			cooldownNS      int64
			modelVersion    int64
			ciphertext      []byte
			plaintextResult string
		)

		if err := rows.Scan(&eventType, &occurredAt, &address, &newOwner, &batchID, &requestID,
			&paused, &cooldownNS, &modelVersion, &ciphertext, &plaintextResult); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		ev := ledger.Event{
			Type:            ledger.EventType(eventType),
			Time:            occurredAt,
			Address:         address,
			NewOwner:        newOwner,
			BatchID:         ledger.BatchID(batchID),
			RequestID:       oracle.RequestID(requestID),
			Cooldown:        time.Duration(cooldownNS),
			ModelVersion:    uint64(modelVersion),
			Ciphertext:      ciphertext,
			PlaintextResult: plaintextResult,
		}
		if paused.Valid {
			ev.Paused = &paused.Bool
		}
		out = append(out, ev)
	}

	return out, rows.Err()
}

// Close closes the database connection.
func (j *PostgresJournal) Close() error {
	return j.db.Close()
}
