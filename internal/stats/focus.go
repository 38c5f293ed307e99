// Package stats holds the active-session observers: focus time tracking and
// web-push notifications for background session exits.
package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/statedb"
)

var statsLog = logging.ForComponent(logging.CompStats)

// FocusTracker accumulates how long each backend session has held focus and
// persists the totals in the state database.
type FocusTracker struct {
	db *statedb.StateDB

	mu      sync.Mutex
	current string
	since   time.Time

	now func() time.Time
}

func NewFocusTracker(db *statedb.StateDB) *FocusTracker {
	return &FocusTracker{db: db, now: time.Now}
}

// NotifyActive records the focus change. The previously focused session gets
// its elapsed time flushed; "" means no session holds focus.
func (f *FocusTracker) NotifyActive(backendSessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.flushLocked(now)
	f.current = backendSessionID
	f.since = now
}

// Flush persists the in-progress focus interval. Call on shutdown.
func (f *FocusTracker) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.flushLocked(now)
	f.since = now
}

func (f *FocusTracker) flushLocked(now time.Time) {
	if f.current == "" || f.since.IsZero() {
		return
	}
	elapsed := now.Sub(f.since)
	if elapsed <= 0 {
		return
	}
	if err := f.db.AddFocus(f.current, elapsed); err != nil {
		statsLog.Warn("focus_flush_failed",
			slog.String("session_id", f.current),
			slog.String("error", err.Error()))
	}
}

// Totals returns accumulated focus time per session, most recent first.
func (f *FocusTracker) Totals() ([]*statedb.FocusRow, error) {
	return f.db.LoadFocusStats()
}

// Forget drops the stored focus time for a session, typically after its
// definition is deleted.
func (f *FocusTracker) Forget(backendSessionID string) {
	if err := f.db.DeleteFocusStats(backendSessionID); err != nil {
		statsLog.Warn("focus_forget_failed",
			slog.String("session_id", backendSessionID),
			slog.String("error", err.Error()))
	}
}
