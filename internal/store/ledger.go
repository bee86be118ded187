// Package store persists a ledger of processed webhook deliveries. The
// platform redelivers events when the 200 acknowledgment is delayed or lost;
// the ledger lets dedup survive process restarts. It is best-effort: ledger
// failures degrade to in-memory dedup, they never fail the pipeline.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	message_id TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`

// Pipeline outcome labels recorded per processed event.
const (
	OutcomePending     = "pending"
	OutcomeScheduled   = "scheduled"
	OutcomeReplied     = "replied"
	OutcomeUnsupported = "unsupported"
	OutcomeFailed      = "failed"
	OutcomeDropped     = "dropped"
)

// Ledger records processed message IDs and their pipeline outcomes.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer at a time keeps modernc/sqlite happy under concurrency.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// MarkSeen records messageID and reports whether it had been seen before.
func (l *Ledger) MarkSeen(messageID, chatID string) (seen bool, err error) {
	res, err := l.db.Exec(
		`INSERT INTO events (message_id, chat_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		messageID, chatID, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("ledger mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger mark seen: %w", err)
	}
	return n == 0, nil
}

// RecordOutcome stores the terminal state of a pipeline run.
func (l *Ledger) RecordOutcome(messageID, outcome string) error {
	_, err := l.db.Exec(`UPDATE events SET outcome = ? WHERE message_id = ?`, outcome, messageID)
	if err != nil {
		return fmt.Errorf("ledger record outcome: %w", err)
	}
	return nil
}

// Outcome returns the recorded outcome for messageID, or "" when unknown.
func (l *Ledger) Outcome(messageID string) (string, error) {
	var outcome string
	err := l.db.QueryRow(`SELECT outcome FROM events WHERE message_id = ?`, messageID).Scan(&outcome)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger outcome: %w", err)
	}
	return outcome, nil
}

// Prune deletes entries older than the retention window and returns the
// number removed. Run periodically; dedup only needs recent history.
func (l *Ledger) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := l.db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
