package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tabdeck/tabdeck/internal/config"
	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/snapshot"
	"github.com/tabdeck/tabdeck/internal/transport"
)

var tabsLog = logging.ForComponent(logging.CompTabs)

// ErrTabPinned is returned when a normal close hits a pinned tab.
// Force-close or unpin first.
var ErrTabPinned = errors.New("tab is pinned")

// ErrCloseDeclined is returned when the user declines the close confirmation.
var ErrCloseDeclined = errors.New("close declined")

// Observer is notified whenever the focused backend session changes.
// It receives "" when no tab is active. Calls are best-effort; an observer
// must not call back into the registry.
type Observer interface {
	NotifyActive(backendSessionID string)
}

// Settings are the two policy flags the registry reads. They are re-read on
// every decision so config hot-reload takes effect immediately.
type Settings struct {
	RestoreTabs  bool
	ConfirmClose bool
}

// Options configures a Registry.
type Options struct {
	Transport transport.Transport
	Snapshots *snapshot.Store
	Observers []Observer

	// Settings supplies policy flags. Nil falls back to the user config.
	Settings func() Settings

	// Confirm asks the user before closing a running tab. Nil approves.
	Confirm func(*Tab) bool

	// OnExit runs after a tab transitions to exited. Receives a copy of the
	// tab taken at transition time. Optional.
	OnExit func(Tab)

	// SessionConfig resolves extra per-session transport config (working
	// dir, command override) from a session definition id. Optional.
	SessionConfig func(sessionID string) map[string]string
}

// Registry owns the ordered tab list and the active-tab pointer, and routes
// inbound transport events to the owning tab. All mutations are serialized
// by one mutex; inbound events are consumed by a single Run loop.
type Registry struct {
	mu       sync.Mutex
	tabs     []*Tab
	activeID string

	transport transport.Transport
	snapshots *snapshot.Store
	observers []Observer

	settings      func() Settings
	confirm       func(*Tab) bool
	onExit        func(Tab)
	sessionConfig func(sessionID string) map[string]string
}

// NewRegistry builds a registry from the given options. Transport is
// required; everything else is optional.
func NewRegistry(opts Options) *Registry {
	settings := opts.Settings
	if settings == nil {
		settings = configSettings
	}
	return &Registry{
		transport:     opts.Transport,
		snapshots:     opts.Snapshots,
		observers:     opts.Observers,
		settings:      settings,
		confirm:       opts.Confirm,
		onExit:        opts.OnExit,
		sessionConfig: opts.SessionConfig,
	}
}

func configSettings() Settings {
	cfg, err := config.Load()
	if err != nil {
		tabsLog.Warn("config_load_failed", slog.String("error", err.Error()))
		return Settings{RestoreTabs: true, ConfirmClose: true}
	}
	return Settings{RestoreTabs: cfg.RestoreTabs, ConfirmClose: cfg.ConfirmClose}
}

// CreateTab appends a new tab, makes it active, and updates the snapshot.
// The backend session is not started yet; StartSession runs once the UI has
// a surface ready.
func (r *Registry) CreateTab(sessionID, sessionName, sessionType string) *Tab {
	tab := &Tab{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      sessionName,
		Type:      sessionType,
	}

	r.mu.Lock()
	r.tabs = append(r.tabs, tab)
	r.setActiveLocked(tab.ID)
	r.saveSnapshotLocked()
	r.mu.Unlock()

	r.notifyObservers(tab.ID)
	tabsLog.Info("tab_created",
		slog.String("tab_id", tab.ID),
		slog.String("session_id", sessionID),
		slog.String("type", sessionType))
	return tab
}

// SetActiveTab marks the given tab active and every other tab inactive.
// An unknown id is a caller bug; it is logged and ignored.
func (r *Registry) SetActiveTab(id string) {
	r.mu.Lock()
	ok := r.setActiveLocked(id)
	r.mu.Unlock()

	if !ok {
		tabsLog.Warn("set_active_unknown_tab", slog.String("tab_id", id))
		return
	}
	r.notifyObservers(id)
}

// setActiveLocked flips active flags and the active-id reference. Returns
// false if no tab matches.
func (r *Registry) setActiveLocked(id string) bool {
	target := r.findLocked(id)
	if target == nil {
		return false
	}
	for _, t := range r.tabs {
		t.Active = t.ID == id
	}
	r.activeID = id
	return true
}

// ActiveTab returns the active tab, or nil when no tabs are open.
func (r *Registry) ActiveTab() *Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(r.activeID)
}

// Tabs returns the tabs in creation order.
func (r *Registry) Tabs() []*Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Tab, len(r.tabs))
	copy(out, r.tabs)
	return out
}

// AttachSurface binds a rendering surface to a tab. Unknown ids are ignored.
func (r *Registry) AttachSurface(id string, s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tab := r.findLocked(id); tab != nil {
		tab.surface = s
	}
}

// CloseTab tears down one tab. Policy first: a pinned tab blocks a normal
// close, and a running tab may require user confirmation. Backend teardown
// is best-effort; local state is always cleaned up.
func (r *Registry) CloseTab(id string, force bool) error {
	r.mu.Lock()
	tab := r.findLocked(id)
	if tab == nil {
		r.mu.Unlock()
		return nil
	}
	if tab.Pinned && !force {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTabPinned, tab.Name)
	}
	needsConfirm := !force && !tab.Exited && r.settings().ConfirmClose && r.confirm != nil
	r.mu.Unlock()

	if needsConfirm && !r.confirm(tab) {
		return ErrCloseDeclined
	}

	r.mu.Lock()
	// Re-check: the tab may have been closed while confirmation was pending.
	tab = r.findLocked(id)
	if tab == nil {
		r.mu.Unlock()
		return nil
	}

	if !tab.Exited {
		if err := r.transport.Close(tab.ID); err != nil {
			tabsLog.Warn("backend_close_failed",
				slog.String("tab_id", tab.ID),
				slog.String("error", err.Error()))
		}
	}

	if tab.surface != nil {
		if err := tab.surface.Dispose(); err != nil {
			tabsLog.Warn("surface_dispose_failed",
				slog.String("tab_id", tab.ID),
				slog.String("error", err.Error()))
		}
		tab.surface = nil
	}

	wasActive := tab.Active
	r.removeLocked(id)

	var notify string
	notifyNeeded := false
	if wasActive && len(r.tabs) > 0 {
		// Fall back to the first tab in the remaining order.
		first := r.tabs[0]
		r.setActiveLocked(first.ID)
		notify, notifyNeeded = first.ID, true
	} else if len(r.tabs) == 0 {
		r.activeID = ""
		notify, notifyNeeded = "", true
	}
	r.saveSnapshotLocked()
	r.mu.Unlock()

	if notifyNeeded {
		r.notifyObservers(notify)
	}
	tabsLog.Info("tab_closed", slog.String("tab_id", id), slog.Bool("forced", force))
	return nil
}

// CloseOtherTabs closes every tab except the given one. Pin and confirmation
// policy applies per tab; tabs that decline stay open.
func (r *Registry) CloseOtherTabs(id string) {
	for _, otherID := range r.tabIDsExcept(id) {
		if err := r.CloseTab(otherID, false); err != nil {
			tabsLog.Info("close_other_skipped",
				slog.String("tab_id", otherID),
				slog.String("reason", err.Error()))
		}
	}
}

// CloseAllExited closes every tab whose backend has already exited.
func (r *Registry) CloseAllExited() {
	r.mu.Lock()
	var exited []string
	for _, t := range r.tabs {
		if t.Exited {
			exited = append(exited, t.ID)
		}
	}
	r.mu.Unlock()

	for _, id := range exited {
		if err := r.CloseTab(id, false); err != nil {
			tabsLog.Info("close_exited_skipped",
				slog.String("tab_id", id),
				slog.String("reason", err.Error()))
		}
	}
}

// RenameTab updates display metadata only. No transport call, no snapshot.
func (r *Registry) RenameTab(id, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tab := r.findLocked(id); tab != nil {
		tab.Name = newName
	}
}

// TogglePin flips a tab's pin flag.
func (r *Registry) TogglePin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tab := r.findLocked(id); tab != nil {
		tab.Pinned = !tab.Pinned
	}
}

// StartSession starts the backend session for a tab, sized to the given
// dimensions. Failure propagates so the UI can mark the tab as failed.
func (r *Registry) StartSession(ctx context.Context, id string, cols, rows int) error {
	r.mu.Lock()
	tab := r.findLocked(id)
	r.mu.Unlock()
	if tab == nil {
		return fmt.Errorf("start session: no tab %s", id)
	}

	var cfg map[string]string
	if r.sessionConfig != nil {
		cfg = r.sessionConfig(tab.SessionID)
	}
	spec := transport.StartSpec{
		SessionType: tab.Type,
		Config:      cfg,
		Cols:        cols,
		Rows:        rows,
	}
	if err := r.transport.Start(ctx, tab.ID, spec); err != nil {
		return fmt.Errorf("start session for tab %s: %w", tab.ID, err)
	}
	return nil
}

// WriteInput forwards keyboard input to a tab's backend session.
// Delivery is best-effort; failures are logged only.
func (r *Registry) WriteInput(id string, data []byte) {
	if err := r.transport.Write(id, data); err != nil {
		tabsLog.Warn("input_write_failed",
			slog.String("tab_id", id),
			slog.String("error", err.Error()))
	}
}

// ResizeSession forwards new dimensions to a tab's backend session.
// Best-effort, failures logged only.
func (r *Registry) ResizeSession(id string, cols, rows int) {
	if err := r.transport.Resize(id, cols, rows); err != nil {
		tabsLog.Warn("resize_failed",
			slog.String("tab_id", id),
			slog.String("error", err.Error()))
	}
}

// RestoreTabs recreates tabs from the last snapshot, in order, with fresh
// ids and no backend session started yet. Gated by the restore setting.
// Returns the restored tabs.
func (r *Registry) RestoreTabs() []*Tab {
	if !r.settings().RestoreTabs {
		return nil
	}
	if r.snapshots == nil {
		return nil
	}

	records := r.snapshots.Load()
	restored := make([]*Tab, 0, len(records))
	for _, rec := range records {
		restored = append(restored, r.CreateTab(rec.SessionID, rec.SessionName, rec.SessionType))
	}
	if len(restored) > 0 {
		tabsLog.Info("tabs_restored", slog.Int("count", len(restored)))
	}
	return restored
}

// Run consumes transport events until the context is cancelled or the
// transport shuts down its event channel. It is the single consumer loop;
// per-session event order is preserved.
func (r *Registry) Run(ctx context.Context) error {
	events := r.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case transport.EventData:
				r.handleData(ev.SessionID, ev.Data)
			case transport.EventExit:
				r.handleExit(ev.SessionID, ev.ExitCode)
			case transport.EventError:
				r.handleError(ev.SessionID, ev.Err)
			}
		}
	}
}

// handleData forwards session output to the owning tab's surface. Events for
// unknown or exited tabs are dropped; surface write failures are logged and
// never break delivery for other tabs.
func (r *Registry) handleData(sessionID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab := r.findLocked(sessionID)
	if tab == nil || tab.Exited {
		logging.Aggregate(logging.CompTabs, "data_dropped")
		return
	}
	if tab.surface == nil {
		return
	}
	if err := tab.surface.Write(data); err != nil {
		tabsLog.Warn("surface_write_failed",
			slog.String("tab_id", tab.ID),
			slog.String("error", err.Error()))
	}
}

// handleExit marks the tab exited and records the exit code. Idempotent:
// a repeated exit event overwrites the code, last write wins.
func (r *Registry) handleExit(sessionID string, exitCode int) {
	r.mu.Lock()
	tab := r.findLocked(sessionID)
	if tab == nil {
		r.mu.Unlock()
		return
	}
	firstExit := !tab.Exited
	tab.Exited = true
	tab.ExitCode = exitCode
	if tab.surface != nil {
		tab.surface.NotifyExit(exitCode)
	}
	if firstExit {
		// Exited tabs drop out of the snapshot.
		r.saveSnapshotLocked()
	}
	copied := *tab
	hook := r.onExit
	r.mu.Unlock()

	tabsLog.Info("session_exited",
		slog.String("tab_id", sessionID),
		slog.Int("exit_code", exitCode))
	if firstExit && hook != nil {
		hook(copied)
	}
}

// handleError logs transport-reported errors. They do not imply exit and
// mutate no tab state.
func (r *Registry) handleError(sessionID string, err error) {
	msg := "unknown"
	if err != nil {
		msg = err.Error()
	}
	tabsLog.Error("session_error",
		slog.String("tab_id", sessionID),
		slog.String("error", msg))
}

func (r *Registry) findLocked(id string) *Tab {
	if id == "" {
		return nil
	}
	for _, t := range r.tabs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *Registry) removeLocked(id string) {
	for i, t := range r.tabs {
		if t.ID == id {
			r.tabs = append(r.tabs[:i], r.tabs[i+1:]...)
			return
		}
	}
}

// tabIDsExcept snapshots the current tab ids, skipping one.
func (r *Registry) tabIDsExcept(keep string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tabs))
	for _, t := range r.tabs {
		if t.ID != keep {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// saveSnapshotLocked writes through the current non-exited tabs. Persistence
// failure is logged and never unwinds the mutation that triggered it.
func (r *Registry) saveSnapshotLocked() {
	if r.snapshots == nil {
		return
	}
	records := make([]snapshot.TabRecord, 0, len(r.tabs))
	for _, t := range r.tabs {
		if t.Exited {
			continue
		}
		records = append(records, snapshot.TabRecord{
			SessionID:   t.SessionID,
			SessionName: t.Name,
			SessionType: t.Type,
		})
	}
	if err := r.snapshots.Save(records); err != nil {
		tabsLog.Warn("snapshot_save_failed", slog.String("error", err.Error()))
	}
}

// notifyObservers tells every observer which backend session is focused now.
// Fire-and-forget.
func (r *Registry) notifyObservers(backendSessionID string) {
	for _, obs := range r.observers {
		obs.NotifyActive(backendSessionID)
	}
}
