package tabs

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabdeck/tabdeck/internal/snapshot"
	"github.com/tabdeck/tabdeck/internal/statedb"
	"github.com/tabdeck/tabdeck/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	started []string
	closed  []string
	written map[string][]byte

	startErr error
	closeErr error

	events chan transport.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		written: make(map[string][]byte),
		events:  make(chan transport.Event, 64),
	}
}

func (f *fakeTransport) Start(_ context.Context, sessionID string, _ transport.StartSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, sessionID)
	return nil
}

func (f *fakeTransport) Write(sessionID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[sessionID] = append(f.written[sessionID], data...)
	return nil
}

func (f *fakeTransport) Resize(string, int, int) error { return nil }

func (f *fakeTransport) Close(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, sessionID)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }
func (f *fakeTransport) Shutdown()                      { close(f.events) }

func (f *fakeTransport) closedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type fakeObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *fakeObserver) NotifyActive(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, id)
}

func (o *fakeObserver) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.calls) == 0 {
		return "<none>"
	}
	return o.calls[len(o.calls)-1]
}

type fakeSurface struct {
	buf      bytes.Buffer
	exitCode int
	exited   bool
	disposed bool

	writeErr   error
	disposeErr error
}

func (s *fakeSurface) Write(data []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.buf.Write(data)
	return nil
}

func (s *fakeSurface) NotifyExit(code int) {
	s.exited = true
	s.exitCode = code
}

func (s *fakeSurface) Dispose() error {
	s.disposed = true
	return s.disposeErr
}

func alwaysSettings(restore, confirm bool) func() Settings {
	return func() Settings {
		return Settings{RestoreTabs: restore, ConfirmClose: confirm}
	}
}

func newTestSnapshots(t *testing.T) *snapshot.Store {
	t.Helper()
	db, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return snapshot.NewStore(db)
}

// checkInvariants asserts the two structural invariants: pairwise distinct
// ids, and active count equal to min(1, number of tabs).
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	tabs := r.Tabs()
	seen := make(map[string]bool, len(tabs))
	activeCount := 0
	for _, tab := range tabs {
		assert.False(t, seen[tab.ID], "duplicate tab id %s", tab.ID)
		seen[tab.ID] = true
		if tab.Active {
			activeCount++
		}
	}
	want := 0
	if len(tabs) > 0 {
		want = 1
	}
	assert.Equal(t, want, activeCount, "active tab count")
}

func TestCreateTabMakesNewTabActive(t *testing.T) {
	snaps := newTestSnapshots(t)
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Snapshots: snaps,
		Settings:  alwaysSettings(true, false),
	})

	first := r.CreateTab("s1", "Local", "shell")
	second := r.CreateTab("s2", "Remote", "ssh")

	tabs := r.Tabs()
	require.Len(t, tabs, 2)
	assert.False(t, tabs[0].Active)
	assert.True(t, tabs[1].Active)
	assert.Equal(t, second.ID, r.ActiveTab().ID)
	assert.NotEqual(t, first.ID, second.ID)
	checkInvariants(t, r)

	records := snaps.Load()
	require.Len(t, records, 2)
	assert.Equal(t, "s1", records[0].SessionID)
	assert.Equal(t, "Local", records[0].SessionName)
	assert.Equal(t, "s2", records[1].SessionID)
	assert.Equal(t, "ssh", records[1].SessionType)
}

func TestSetActiveTabUnknownIDIsNoOp(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "Local", "shell")

	r.SetActiveTab("no-such-tab")

	assert.Equal(t, tab.ID, r.ActiveTab().ID)
	checkInvariants(t, r)
}

func TestSetActiveTabNotifiesObservers(t *testing.T) {
	obs := &fakeObserver{}
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Observers: []Observer{obs},
		Settings:  alwaysSettings(true, false),
	})

	a := r.CreateTab("s1", "A", "shell")
	b := r.CreateTab("s2", "B", "shell")
	r.SetActiveTab(a.ID)

	assert.Equal(t, []string{a.ID, b.ID, a.ID}, obs.calls)
}

func TestCloseActiveTabFallsBackToFirst(t *testing.T) {
	tr := newFakeTransport()
	r := NewRegistry(Options{
		Transport: tr,
		Settings:  alwaysSettings(true, false),
	})

	a := r.CreateTab("s1", "A", "shell")
	r.CreateTab("s2", "B", "shell")
	c := r.CreateTab("s3", "C", "shell")
	r.SetActiveTab(c.ID)

	require.NoError(t, r.CloseTab(c.ID, false))

	// Fall back to the first remaining tab, not the adjacent one.
	assert.Equal(t, a.ID, r.ActiveTab().ID)
	assert.Len(t, r.Tabs(), 2)
	assert.Equal(t, []string{c.ID}, tr.closedSessions())
	checkInvariants(t, r)
}

func TestCloseInactiveTabKeepsActive(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	a := r.CreateTab("s1", "A", "shell")
	b := r.CreateTab("s2", "B", "shell")

	require.NoError(t, r.CloseTab(a.ID, false))

	assert.Equal(t, b.ID, r.ActiveTab().ID)
	checkInvariants(t, r)
}

func TestCloseLastTabNotifiesEmptySentinel(t *testing.T) {
	obs := &fakeObserver{}
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Observers: []Observer{obs},
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")

	require.NoError(t, r.CloseTab(tab.ID, false))

	assert.Empty(t, r.Tabs())
	assert.Nil(t, r.ActiveTab())
	assert.Equal(t, "", obs.last())
}

func TestPinnedTabBlocksNormalClose(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")
	r.TogglePin(tab.ID)

	err := r.CloseTab(tab.ID, false)

	assert.ErrorIs(t, err, ErrTabPinned)
	require.Len(t, r.Tabs(), 1)
	assert.True(t, r.Tabs()[0].Pinned)

	// Force override closes it.
	require.NoError(t, r.CloseTab(tab.ID, true))
	assert.Empty(t, r.Tabs())
}

func TestConfirmDeclinedAbortsClose(t *testing.T) {
	confirmCalls := 0
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, true),
		Confirm: func(*Tab) bool {
			confirmCalls++
			return false
		},
	})
	tab := r.CreateTab("s1", "A", "shell")

	err := r.CloseTab(tab.ID, false)

	assert.ErrorIs(t, err, ErrCloseDeclined)
	assert.Equal(t, 1, confirmCalls)
	assert.Len(t, r.Tabs(), 1)
	checkInvariants(t, r)
}

func TestConfirmSkippedForExitedTab(t *testing.T) {
	confirmCalls := 0
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, true),
		Confirm: func(*Tab) bool {
			confirmCalls++
			return false
		},
	})
	tab := r.CreateTab("s1", "A", "shell")
	r.handleExit(tab.ID, 0)

	require.NoError(t, r.CloseTab(tab.ID, false))
	assert.Zero(t, confirmCalls)
	assert.Empty(t, r.Tabs())
}

func TestConfirmSkippedWhenPolicyDisabled(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
		Confirm: func(*Tab) bool {
			t.Fatal("confirm must not be called when the policy is off")
			return false
		},
	})
	tab := r.CreateTab("s1", "A", "shell")
	require.NoError(t, r.CloseTab(tab.ID, false))
}

func TestCloseTabSurvivesTransportFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.closeErr = errors.New("backend unreachable")
	r := NewRegistry(Options{
		Transport: tr,
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")

	// Teardown is best-effort: the tab goes away regardless.
	require.NoError(t, r.CloseTab(tab.ID, false))
	assert.Empty(t, r.Tabs())
}

func TestCloseTabSkipsBackendForExited(t *testing.T) {
	tr := newFakeTransport()
	r := NewRegistry(Options{
		Transport: tr,
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")
	r.handleExit(tab.ID, 2)

	require.NoError(t, r.CloseTab(tab.ID, false))
	assert.Empty(t, tr.closedSessions())
}

func TestCloseTabDisposesSurface(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")
	surface := &fakeSurface{disposeErr: errors.New("render teardown failed")}
	r.AttachSurface(tab.ID, surface)

	// Disposal errors are swallowed.
	require.NoError(t, r.CloseTab(tab.ID, false))
	assert.True(t, surface.disposed)
}

func TestCloseUnknownTabIsNoOp(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	require.NoError(t, r.CloseTab("missing", false))
}

func TestCloseOtherTabsRespectsPin(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	keep := r.CreateTab("s1", "Keep", "shell")
	pinned := r.CreateTab("s2", "Pinned", "shell")
	r.CreateTab("s3", "Gone", "shell")
	r.TogglePin(pinned.ID)

	r.CloseOtherTabs(keep.ID)

	tabs := r.Tabs()
	require.Len(t, tabs, 2)
	assert.Equal(t, keep.ID, tabs[0].ID)
	assert.Equal(t, pinned.ID, tabs[1].ID)
	checkInvariants(t, r)
}

func TestCloseAllExited(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	running := r.CreateTab("s1", "Running", "shell")
	deadA := r.CreateTab("s2", "DeadA", "shell")
	deadB := r.CreateTab("s3", "DeadB", "shell")
	r.handleExit(deadA.ID, 1)
	r.handleExit(deadB.ID, 0)

	r.CloseAllExited()

	tabs := r.Tabs()
	require.Len(t, tabs, 1)
	assert.Equal(t, running.ID, tabs[0].ID)
	checkInvariants(t, r)
}

func TestRenameAndTogglePin(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "Old", "shell")

	r.RenameTab(tab.ID, "New")
	r.TogglePin(tab.ID)
	assert.Equal(t, "New", r.Tabs()[0].Name)
	assert.True(t, r.Tabs()[0].Pinned)

	r.TogglePin(tab.ID)
	assert.False(t, r.Tabs()[0].Pinned)

	// Unknown ids are ignored.
	r.RenameTab("missing", "X")
	r.TogglePin("missing")
}

func TestHandleDataForwardsToSurface(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")
	surface := &fakeSurface{}
	r.AttachSurface(tab.ID, surface)

	r.handleData(tab.ID, []byte("hello "))
	r.handleData(tab.ID, []byte("world"))

	assert.Equal(t, "hello world", surface.buf.String())
}

func TestHandleDataUnknownSessionIsNoOp(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")
	surface := &fakeSurface{}
	r.AttachSurface(tab.ID, surface)

	r.handleData("unknown-id", []byte("hello"))

	assert.Zero(t, surface.buf.Len())
	require.Len(t, r.Tabs(), 1)
	assert.False(t, r.Tabs()[0].Exited)
}

func TestHandleDataDroppedAfterExit(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")
	surface := &fakeSurface{}
	r.AttachSurface(tab.ID, surface)

	r.handleExit(tab.ID, 0)
	r.handleData(tab.ID, []byte("late bytes"))

	assert.Zero(t, surface.buf.Len())
}

func TestHandleDataSurfaceErrorDoesNotSpread(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	broken := r.CreateTab("s1", "Broken", "shell")
	healthy := r.CreateTab("s2", "Healthy", "shell")
	r.AttachSurface(broken.ID, &fakeSurface{writeErr: errors.New("render error")})
	good := &fakeSurface{}
	r.AttachSurface(healthy.ID, good)

	r.handleData(broken.ID, []byte("x"))
	r.handleData(healthy.ID, []byte("ok"))

	assert.Equal(t, "ok", good.buf.String())
}

func TestHandleExitIdempotentLastWriteWins(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")

	r.handleExit(tab.ID, 1)
	r.handleExit(tab.ID, 9)

	got := r.Tabs()[0]
	assert.True(t, got.Exited)
	assert.Equal(t, 9, got.ExitCode)
}

func TestHandleExitRunsHookOnce(t *testing.T) {
	var hooked []Tab
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
		OnExit:    func(tab Tab) { hooked = append(hooked, tab) },
	})
	tab := r.CreateTab("s1", "A", "shell")

	r.handleExit(tab.ID, 3)
	r.handleExit(tab.ID, 4)

	require.Len(t, hooked, 1)
	assert.Equal(t, tab.ID, hooked[0].ID)
	assert.Equal(t, 3, hooked[0].ExitCode)
}

func TestExitRemovesTabFromSnapshot(t *testing.T) {
	snaps := newTestSnapshots(t)
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Snapshots: snaps,
		Settings:  alwaysSettings(true, false),
	})
	keep := r.CreateTab("s1", "Keep", "shell")
	dead := r.CreateTab("s2", "Dead", "shell")

	r.handleExit(dead.ID, 1)

	records := snaps.Load()
	require.Len(t, records, 1)
	assert.Equal(t, keep.SessionID, records[0].SessionID)
}

func TestRestoreTabsDisabled(t *testing.T) {
	snaps := newTestSnapshots(t)
	require.NoError(t, snaps.Save([]snapshot.TabRecord{
		{SessionID: "s1", SessionName: "Local", SessionType: "shell"},
	}))

	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Snapshots: snaps,
		Settings:  alwaysSettings(false, false),
	})

	assert.Empty(t, r.RestoreTabs())
	assert.Empty(t, r.Tabs())
}

func TestRestoreTabsRecreatesInOrder(t *testing.T) {
	snaps := newTestSnapshots(t)
	require.NoError(t, snaps.Save([]snapshot.TabRecord{
		{SessionID: "s1", SessionName: "Local", SessionType: "shell"},
		{SessionID: "s2", SessionName: "Remote", SessionType: "ssh"},
	}))

	tr := newFakeTransport()
	r := NewRegistry(Options{
		Transport: tr,
		Snapshots: snaps,
		Settings:  alwaysSettings(true, false),
	})

	restored := r.RestoreTabs()
	require.Len(t, restored, 2)
	assert.Equal(t, "Local", restored[0].Name)
	assert.Equal(t, "Remote", restored[1].Name)
	assert.NotEqual(t, restored[0].ID, restored[1].ID)
	// Backend sessions are not started during restore.
	assert.Empty(t, tr.started)
	checkInvariants(t, r)
}

func TestStartSessionPropagatesFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.startErr = errors.New("spawn failed")
	r := NewRegistry(Options{
		Transport: tr,
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")

	err := r.StartSession(context.Background(), tab.ID, 80, 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn failed")
}

func TestRunPumpsEventsUntilChannelCloses(t *testing.T) {
	tr := newFakeTransport()
	r := NewRegistry(Options{
		Transport: tr,
		Settings:  alwaysSettings(true, false),
	})
	tab := r.CreateTab("s1", "A", "shell")
	surface := &fakeSurface{}
	r.AttachSurface(tab.ID, surface)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	tr.events <- transport.Event{Kind: transport.EventData, SessionID: tab.ID, Data: []byte("output")}
	tr.events <- transport.Event{Kind: transport.EventError, SessionID: tab.ID, Err: errors.New("transient")}
	tr.events <- transport.Event{Kind: transport.EventExit, SessionID: tab.ID, ExitCode: 0}
	tr.Shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after channel close")
	}

	assert.Equal(t, "output", surface.buf.String())
	assert.True(t, surface.exited)
	assert.True(t, r.Tabs()[0].Exited)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := NewRegistry(Options{
		Transport: newFakeTransport(),
		Settings:  alwaysSettings(true, false),
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
