package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tabdeck/tabdeck/internal/logging"
)

var wsLog = logging.ForComponent(logging.CompTransport)

const (
	wsWriteDeadline = 10 * time.Second
	wsDialTimeout   = 10 * time.Second
)

// wsClientMessage is a control frame sent to the backend.
type wsClientMessage struct {
	Type        string            `json:"type"` // start, input, resize, close, ping
	Data        string            `json:"data,omitempty"`
	Cols        int               `json:"cols,omitempty"`
	Rows        int               `json:"rows,omitempty"`
	SessionType string            `json:"sessionType,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
}

// wsServerMessage is a control frame received from the backend.
// Terminal output arrives as separate binary frames.
type wsServerMessage struct {
	Type      string    `json:"type"` // status, error
	Event     string    `json:"event,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	ExitCode  int       `json:"exitCode,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

// wsConnWriter serializes writes to a websocket connection.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return w.conn.WriteJSON(v)
}

// WSTransport reaches backend sessions over websockets, one connection per
// session id, against a remote tabdeck backend.
type WSTransport struct {
	baseURL string
	token   string
	limiter *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*wsSession
	shutdown bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

type wsSession struct {
	id     string
	conn   *websocket.Conn
	writer *wsConnWriter

	closeOnce sync.Once
}

// NewWSTransport creates a websocket transport for the given base URL
// (e.g. ws://host:8420). inputRatePerSec caps input frames per second.
func NewWSTransport(baseURL, token string, inputRatePerSec int) *WSTransport {
	if inputRatePerSec <= 0 {
		inputRatePerSec = 200
	}
	return &WSTransport{
		baseURL:  baseURL,
		token:    token,
		limiter:  rate.NewLimiter(rate.Limit(inputRatePerSec), inputRatePerSec),
		sessions: make(map[string]*wsSession),
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
	}
}

// Start dials the backend and requests a new session.
func (t *WSTransport) Start(ctx context.Context, sessionID string, spec StartSpec) error {
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

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	url := t.baseURL + "/ws/session/" + sessionID
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial session %s: %w (status %d)", sessionID, err, resp.StatusCode)
		}
		return fmt.Errorf("dial session %s: %w", sessionID, err)
	}

	sess := &wsSession{id: sessionID, conn: conn, writer: newWSConnWriter(conn)}

	if err := sess.writer.WriteJSON(wsClientMessage{
		Type:        "start",
		SessionType: spec.SessionType,
		Config:      spec.Config,
		Cols:        spec.Cols,
		Rows:        spec.Rows,
	}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("start session %s: %w", sessionID, err)
	}

	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		sess.close()
		return ErrShutdown
	}
	t.sessions[sessionID] = sess
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(sess)

	wsLog.Info("ws_session_started", slog.String("session_id", sessionID))
	return nil
}

// readLoop pumps inbound frames into the event channel until the connection
// drops or the backend reports session exit.
func (t *WSTransport) readLoop(sess *wsSession) {
	defer t.wg.Done()
	defer t.drop(sess)

	for {
		msgType, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				wsLog.Warn("ws_closed_unexpectedly",
					slog.String("session_id", sess.id),
					slog.String("error", err.Error()))
				t.emit(Event{Kind: EventError, SessionID: sess.id, Err: err})
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			t.emit(Event{Kind: EventData, SessionID: sess.id, Data: payload})
			logging.Aggregate(logging.CompTransport, "ws_data_chunk")
		case websocket.TextMessage:
			var msg wsServerMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				wsLog.Warn("ws_invalid_frame",
					slog.String("session_id", sess.id),
					slog.String("error", err.Error()))
				continue
			}
			switch {
			case msg.Type == "status" && msg.Event == "session_exited":
				// Drop before emitting so consumers acting on the exit
				// event never find a half-torn-down session.
				t.drop(sess)
				t.emit(Event{Kind: EventExit, SessionID: sess.id, ExitCode: msg.ExitCode})
				return
			case msg.Type == "error":
				t.emit(Event{
					Kind:      EventError,
					SessionID: sess.id,
					Err:       fmt.Errorf("backend error %s: %s", msg.Code, msg.Message),
				})
			}
		}
	}
}

// Write sends input to the backend, rate-limited to protect the connection.
func (t *WSTransport) Write(sessionID string, data []byte) error {
	sess := t.lookup(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := t.limiter.Wait(context.Background()); err != nil {
		return err
	}
	return sess.writer.WriteJSON(wsClientMessage{Type: "input", Data: string(data)})
}

// Resize forwards new terminal dimensions to the backend.
func (t *WSTransport) Resize(sessionID string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	sess := t.lookup(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.writer.WriteJSON(wsClientMessage{Type: "resize", Cols: cols, Rows: rows})
}

// Close asks the backend to tear down the session and drops the connection.
func (t *WSTransport) Close(sessionID string) error {
	sess := t.lookup(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	err := sess.writer.WriteJSON(wsClientMessage{Type: "close"})
	sess.close()
	return err
}

// Events returns the inbound event channel.
func (t *WSTransport) Events() <-chan Event {
	return t.events
}

// Shutdown drops all connections, waits for readers, and closes the event channel.
func (t *WSTransport) Shutdown() {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return
	}
	t.shutdown = true
	sessions := make([]*wsSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	close(t.done)
	for _, s := range sessions {
		s.close()
	}
	t.wg.Wait()
	close(t.events)
}

func (t *WSTransport) drop(sess *wsSession) {
	t.mu.Lock()
	delete(t.sessions, sess.id)
	t.mu.Unlock()
	sess.close()
}

func (t *WSTransport) lookup(sessionID string) *wsSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[sessionID]
}

func (t *WSTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
