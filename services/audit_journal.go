package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Session lifecycle event names recorded in the journal
const (
	EventLoginSuccess       = "login_success"
	EventSessionInvalidated = "session_invalidated"
	EventReloginTriggered   = "relogin_triggered"
	EventReloginSkipped     = "relogin_skipped"
	EventReloginFailed      = "relogin_failed"
)

// SessionEvent is one row of the local audit journal
type SessionEvent struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditJournal is an embedded, local-disk record of session lifecycle
// events. It exists for operators debugging "why did my session drop"; every
// write is best-effort and a nil journal is a valid no-op journal.
type AuditJournal struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenAuditJournal opens (and creates if needed) the journal database
func OpenAuditJournal(path string) (*AuditJournal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping audit journal: %w", err)
	}

	journal := &AuditJournal{db: db}
	if err := journal.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create audit tables: %w", err)
	}

	log.Printf("Audit journal opened at %s", path)
	return journal, nil
}

func (j *AuditJournal) createTables() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_account
			ON session_events(account_id, created_at);
	`)
	return err
}

// Record appends an event. Safe on a nil journal, and failures are only
// logged; the journal never fails a login or sweep operation.
func (j *AuditJournal) Record(accountID, event, detail string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO session_events (account_id, event, detail) VALUES (?, ?, ?)`,
		accountID, event, detail,
	)
	if err != nil {
		log.Printf("Audit journal write failed for account %s: %v", accountID, err)
	}
}

// RecentEvents returns the newest events, optionally filtered by account
func (j *AuditJournal) RecentEvents(accountID string, limit int) ([]SessionEvent, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT id, account_id, event, COALESCE(detail, ''), created_at
		FROM session_events`
	args := []interface{}{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var event SessionEvent
		if err := rows.Scan(&event.ID, &event.AccountID, &event.Event, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// PruneBefore removes events older than the cutoff and returns the count
func (j *AuditJournal) PruneBefore(cutoff time.Time) (int64, error) {
	if j == nil {
		return 0, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	result, err := j.db.Exec(`DELETE FROM session_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

// Close closes the underlying database
func (j *AuditJournal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
