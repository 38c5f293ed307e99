// Package snapshot persists the set of open tabs across restarts.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/statedb"
)

var snapLog = logging.ForComponent(logging.CompSnapshot)

// TabRecord is one restorable tab, in creation order.
type TabRecord struct {
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
	SessionType string `json:"session_type"`
}

// Store writes and reads tab snapshots through the state database.
// Saves are write-through: every call replaces the previous snapshot.
type Store struct {
	db *statedb.StateDB
}

func NewStore(db *statedb.StateDB) *Store {
	return &Store{db: db}
}

// Save overwrites the snapshot with the given records, preserving order.
func (s *Store) Save(records []TabRecord) error {
	rows := make([]*statedb.SnapshotRow, len(records))
	for i, r := range records {
		rows[i] = &statedb.SnapshotRow{
			Position:    i,
			SessionID:   r.SessionID,
			SessionName: r.SessionName,
			SessionType: r.SessionType,
		}
	}
	if err := s.db.SaveSnapshot(rows); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the persisted records in order. A missing or unreadable
// snapshot degrades to an empty list; restore must never be fatal.
func (s *Store) Load() []TabRecord {
	rows, err := s.db.LoadSnapshot()
	if err != nil {
		snapLog.Warn("snapshot_load_failed", slog.String("error", err.Error()))
		return nil
	}
	records := make([]TabRecord, len(rows))
	for i, row := range rows {
		records[i] = TabRecord{
			SessionID:   row.SessionID,
			SessionName: row.SessionName,
			SessionType: row.SessionType,
		}
	}
	return records
}

// legacyFile is the pre-sqlite snapshot format.
const legacyFile = "open_tabs.json"

// MigrateLegacy imports an old open_tabs.json from dir into the database,
// once, if the database snapshot is still empty. The file is renamed to
// open_tabs.json.migrated afterwards so the import never repeats.
func (s *Store) MigrateLegacy(dir string) error {
	path := filepath.Join(dir, legacyFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read legacy snapshot: %w", err)
	}

	empty, err := s.db.IsEmpty()
	if err != nil {
		return fmt.Errorf("check snapshot state: %w", err)
	}
	if !empty {
		// DB already has data; leave the file alone but don't import.
		snapLog.Info("legacy_snapshot_skipped", slog.String("path", path))
		return nil
	}

	var records []TabRecord
	if err := json.Unmarshal(data, &records); err != nil {
		snapLog.Warn("legacy_snapshot_unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}

	if err := s.Save(records); err != nil {
		return err
	}
	if err := os.Rename(path, path+".migrated"); err != nil {
		snapLog.Warn("legacy_snapshot_rename_failed", slog.String("error", err.Error()))
	}
	snapLog.Info("legacy_snapshot_migrated",
		slog.String("path", path),
		slog.Int("tabs", len(records)))
	return nil
}
