package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/tabdeck/tabdeck/internal/config"
	"github.com/tabdeck/tabdeck/internal/logging"
)

var ptyLog = logging.ForComponent(logging.CompTransport)

const eventBufferSize = 256

// PTYTransport runs backend sessions as local subprocesses under
// pseudo-terminals. One pty per session id.
type PTYTransport struct {
	shell config.ShellSettings

	mu       sync.Mutex
	sessions map[string]*ptySession
	shutdown bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

type ptySession struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
}

// NewPTYTransport creates a local pty-backed transport.
func NewPTYTransport(shell config.ShellSettings) *PTYTransport {
	return &PTYTransport{
		shell:    shell,
		sessions: make(map[string]*ptySession),
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
	}
}

// Start launches the configured shell (or a per-session command override)
// under a pty sized to the given dimensions.
func (t *PTYTransport) Start(_ context.Context, sessionID string, spec StartSpec) error {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return ErrShutdown
	}
	if _, exists := t.sessions[sessionID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	t.mu.Unlock()

	command := t.shell.ResolveCommand()
	args := t.shell.Args
	if override := spec.Config["command"]; override != "" {
		parts := strings.Fields(override)
		command = parts[0]
		args = parts[1:]
	}

	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), "TERM="+t.shell.ResolveTerm())
	for k, v := range t.shell.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if dir := spec.Config["dir"]; dir != "" {
		cmd.Dir = dir
	}

	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("start pty session %s: %w", sessionID, err)
	}

	sess := &ptySession{id: sessionID, cmd: cmd, ptmx: ptmx}

	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		sess.close()
		return ErrShutdown
	}
	t.sessions[sessionID] = sess
	t.mu.Unlock()

	t.wg.Add(1)
	go t.streamOutput(sess)

	ptyLog.Info("pty_session_started",
		slog.String("session_id", sessionID),
		slog.String("command", command))
	return nil
}

// streamOutput pumps pty output into the event channel until the process
// exits, then emits the exit event with the real exit code.
func (t *PTYTransport) streamOutput(sess *ptySession) {
	defer t.wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.emit(Event{Kind: EventData, SessionID: sess.id, Data: chunk})
			logging.Aggregate(logging.CompTransport, "pty_data_chunk")
		}
		if err != nil {
			// EIO is the normal pty read error after process exit
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) {
				t.emit(Event{Kind: EventError, SessionID: sess.id, Err: err})
			}
			break
		}
	}

	exitCode := 0
	if err := sess.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	t.mu.Lock()
	delete(t.sessions, sess.id)
	t.mu.Unlock()

	t.emit(Event{Kind: EventExit, SessionID: sess.id, ExitCode: exitCode})
	ptyLog.Info("pty_session_exited",
		slog.String("session_id", sess.id),
		slog.Int("exit_code", exitCode))
}

// Write sends input bytes to the session's pty.
func (t *PTYTransport) Write(sessionID string, data []byte) error {
	sess := t.lookup(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	_, err := sess.ptmx.Write(data)
	return err
}

// Resize updates the pty window size.
func (t *PTYTransport) Resize(sessionID string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	sess := t.lookup(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return pty.Setsize(sess.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close tears down a session's process group. The exit event still flows
// through the normal streamOutput path once the process dies.
func (t *PTYTransport) Close(sessionID string) error {
	sess := t.lookup(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.close()
	return nil
}

// Events returns the inbound event channel.
func (t *PTYTransport) Events() <-chan Event {
	return t.events
}

// Shutdown tears down all sessions, waits for their readers, and closes the
// event channel.
func (t *PTYTransport) Shutdown() {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return
	}
	t.shutdown = true
	sessions := make([]*ptySession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	// Unblock emitters before waiting for them
	close(t.done)
	for _, s := range sessions {
		s.close()
	}
	t.wg.Wait()
	close(t.events)
}

func (t *PTYTransport) lookup(sessionID string) *ptySession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[sessionID]
}

func (t *PTYTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (s *ptySession) close() {
	s.closeOnce.Do(func() {
		if s.ptmx != nil {
			_ = s.ptmx.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			pgid, err := syscall.Getpgid(s.cmd.Process.Pid)
			if err == nil {
				_ = syscall.Kill(-pgid, syscall.SIGTERM)
			} else {
				_ = s.cmd.Process.Kill()
			}
		}
	})
}
