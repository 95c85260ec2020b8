package journal

import (
	"database/sql"
	"errors"
	"time"
)

// Outcome of a reconciliation pass.
type Outcome string

const (
	Completed      Outcome = "completed"
	SkippedOffline Outcome = "skipped_offline"
	Failed         Outcome = "failed"
)

// Pass summarizes one reconciliation pass.
type Pass struct {
	ID               int64
	StartedAt        time.Time
	FinishedAt       time.Time
	Outcome          Outcome
	UsersSynced      int
	UsersFailed      int
	MessagesSynced   int
	MessagesFailed   int
	MessagesTerminal int
	Error            string
}

// Event is the outcome of replaying one record.
type Event struct {
	Kind     string // "user" or "message"
	RecordID string
	Result   string // "synced", "duplicate", "failed", "terminal"
	Attempts int
	Error    string
	At       time.Time
}

// RecordPass stores a pass and its record events atomically and returns the pass id.
func (db *DB) RecordPass(p Pass, events []Event) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO sync_passes (started_at, finished_at, outcome, users_synced, users_failed,
			messages_synced, messages_failed, messages_terminal, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.StartedAt.UnixMilli(), p.FinishedAt.UnixMilli(), string(p.Outcome), p.UsersSynced, p.UsersFailed,
		p.MessagesSynced, p.MessagesFailed, p.MessagesTerminal, p.Error)
	if err != nil {
		return 0, err
	}
	passID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, e := range events {
		if _, err := tx.Exec(`
			INSERT INTO record_events (pass_id, kind, record_id, result, attempts, error, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			passID, e.Kind, e.RecordID, e.Result, e.Attempts, e.Error, e.At.UnixMilli()); err != nil {
			return 0, err
		}
	}
	return passID, tx.Commit()
}

// RecentPasses returns the latest passes, newest first.
func (db *DB) RecentPasses(limit int) ([]Pass, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, started_at, finished_at, outcome, users_synced, users_failed,
			messages_synced, messages_failed, messages_terminal, error
		FROM sync_passes
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var passes []Pass
	for rows.Next() {
		var p Pass
		var started, finished int64
		var outcome string
		if err := rows.Scan(&p.ID, &started, &finished, &outcome, &p.UsersSynced, &p.UsersFailed,
			&p.MessagesSynced, &p.MessagesFailed, &p.MessagesTerminal, &p.Error); err != nil {
			return nil, err
		}
		p.StartedAt = time.UnixMilli(started)
		p.FinishedAt = time.UnixMilli(finished)
		p.Outcome = Outcome(outcome)
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// RecordHistory returns the events of one record, newest first.
func (db *DB) RecordHistory(kind, recordID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT kind, record_id, result, attempts, error, at
		FROM record_events
		WHERE kind = ? AND record_id = ?
		ORDER BY at DESC, id DESC
		LIMIT ?`, kind, recordID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.Kind, &e.RecordID, &e.Result, &e.Attempts, &e.Error, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes passes (and their events) that started before cutoff.
func (db *DB) Prune(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM sync_passes WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetCheckpoint updates a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint returns a sync checkpoint value, or "" if it was never set.
func (db *DB) Checkpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
