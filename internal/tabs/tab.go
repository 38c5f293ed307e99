// Package tabs owns the ordered list of open terminal tabs, the active-tab
// pointer, and the routing of backend session events to each tab's surface.
package tabs

// Surface is the rendering object bound to a tab. The UI layer attaches one
// after tab creation; the registry forwards session output to it and disposes
// it on close.
type Surface interface {
	// Write renders a chunk of session output.
	Write(data []byte) error
	// NotifyExit tells the surface the backend process terminated.
	NotifyExit(code int)
	// Dispose releases the surface. Called once, on tab close.
	Dispose() error
}

// Tab is one open terminal surface bound to exactly one backend session.
// The tab id doubles as the backend session id.
type Tab struct {
	ID        string
	SessionID string // session definition this tab was opened from
	Name      string
	Type      string

	Active   bool
	Exited   bool
	ExitCode int
	Pinned   bool

	surface Surface
}

// Surface returns the attached rendering surface, or nil.
func (t *Tab) Surface() Surface {
	return t.surface
}
