package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database for tab snapshot, focus-stat and push
// subscription persistence. Thread-safe for concurrent use from multiple
// goroutines within one process; multiple OS processes can safely read/write
// via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// SnapshotRow is one persisted tab in creation order.
type SnapshotRow struct {
	Position    int
	SessionID   string
	SessionName string
	SessionType string
}

// FocusRow holds accumulated focus time for one backend session.
type FocusRow struct {
	SessionID   string
	FocusMillis int64
	LastFocused time.Time
}

// PushSubscriptionRow is a stored web-push subscription.
type PushSubscriptionRow struct {
	Endpoint  string
	P256DH    string
	Auth      string
	CreatedAt time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	// Open-tab snapshot, ordered by position. Rewritten wholesale on every
	// structural tab mutation.
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tab_snapshots (
			position     INTEGER PRIMARY KEY,
			session_id   TEXT NOT NULL,
			session_name TEXT NOT NULL,
			session_type TEXT NOT NULL DEFAULT 'shell'
		)
	`); err != nil {
		return fmt.Errorf("statedb: create tab_snapshots: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS focus_stats (
			session_id   TEXT PRIMARY KEY,
			focus_ms     INTEGER NOT NULL DEFAULT 0,
			last_focused INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create focus_stats: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS push_subscriptions (
			endpoint   TEXT PRIMARY KEY,
			p256dh     TEXT NOT NULL,
			auth       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create push_subscriptions: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// IsEmpty returns true if the tab_snapshots table has no rows.
func (s *StateDB) IsEmpty() (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tab_snapshots").Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// --- Tab snapshots ---

// SaveSnapshot replaces the entire snapshot in a single transaction.
// The snapshot is write-through, not incremental: the caller always provides
// the full ordered set of open tabs.
func (s *StateDB) SaveSnapshot(rows []*SnapshotRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM tab_snapshots"); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO tab_snapshots (position, session_id, session_name, session_type)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.Exec(i, r.SessionID, r.SessionName, r.SessionType); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadSnapshot returns all snapshot rows ordered by position.
func (s *StateDB) LoadSnapshot() ([]*SnapshotRow, error) {
	rows, err := s.db.Query(`
		SELECT position, session_id, session_name, session_type
		FROM tab_snapshots ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SnapshotRow
	for rows.Next() {
		r := &SnapshotRow{}
		if err := rows.Scan(&r.Position, &r.SessionID, &r.SessionName, &r.SessionType); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Focus stats ---

// AddFocus adds elapsed focus time for a backend session.
func (s *StateDB) AddFocus(sessionID string, elapsed time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO focus_stats (session_id, focus_ms, last_focused)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			focus_ms = focus_ms + excluded.focus_ms,
			last_focused = excluded.last_focused
	`, sessionID, elapsed.Milliseconds(), time.Now().Unix())
	return err
}

// LoadFocusStats returns accumulated focus time for every known session.
func (s *StateDB) LoadFocusStats() ([]*FocusRow, error) {
	rows, err := s.db.Query(`
		SELECT session_id, focus_ms, last_focused
		FROM focus_stats ORDER BY focus_ms DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*FocusRow
	for rows.Next() {
		r := &FocusRow{}
		var last int64
		if err := rows.Scan(&r.SessionID, &r.FocusMillis, &last); err != nil {
			return nil, err
		}
		if last > 0 {
			r.LastFocused = time.Unix(last, 0)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteFocusStats removes focus accounting for a session.
func (s *StateDB) DeleteFocusStats(sessionID string) error {
	_, err := s.db.Exec("DELETE FROM focus_stats WHERE session_id = ?", sessionID)
	return err
}

// --- Push subscriptions ---

// UpsertPushSubscription inserts or replaces a subscription by endpoint.
func (s *StateDB) UpsertPushSubscription(sub *PushSubscriptionRow) error {
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO push_subscriptions (endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?)
	`, sub.Endpoint, sub.P256DH, sub.Auth, created.Unix())
	return err
}

// LoadPushSubscriptions returns all stored subscriptions.
func (s *StateDB) LoadPushSubscriptions() ([]*PushSubscriptionRow, error) {
	rows, err := s.db.Query(`
		SELECT endpoint, p256dh, auth, created_at
		FROM push_subscriptions ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PushSubscriptionRow
	for rows.Next() {
		r := &PushSubscriptionRow{}
		var created int64
		if err := rows.Scan(&r.Endpoint, &r.P256DH, &r.Auth, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(created, 0)
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeletePushSubscription removes a subscription by endpoint.
// Used when a push service reports the endpoint as gone (404/410).
func (s *StateDB) DeletePushSubscription(endpoint string) error {
	_, err := s.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
	return err
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Touch updates a metadata timestamp that other processes can poll to detect changes.
func (s *StateDB) Touch() error {
	return s.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from metadata.
func (s *StateDB) LastModified() (int64, error) {
	val, err := s.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
