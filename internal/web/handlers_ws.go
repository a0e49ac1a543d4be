package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/linkdeck/internal/events"
)

type wsClientMessage struct {
	Type      string `json:"type"`
	AccountID string `json:"accountId,omitempty"`
}

type wsServerMessage struct {
	Type      string        `json:"type"` // status, event, error
	Event     string        `json:"event,omitempty"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
	AccountID string        `json:"accountId,omitempty"`
	Payload   *events.Event `json:"payload,omitempty"`
	Time      time.Time     `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes; gorilla connections allow one writer.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

// handleEventsWS streams events over a websocket. Clients may send
// {"type":"subscribe","accountId":"..."} to narrow the stream and
// {"type":"ping"} to probe liveness.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := &wsConnWriter{conn: conn}
	filter := newAccountFilter(strings.TrimSpace(r.URL.Query().Get("account")))

	ch, cancel := s.hub.Subscribe("")
	defer cancel()

	_ = writer.WriteJSON(wsServerMessage{
		Type:      "status",
		Event:     "connected",
		AccountID: filter.get(),
		Time:      time.Now().UTC(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readWSClient(conn, writer, filter)
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !filter.match(e.AccountID) {
				continue
			}
			if err := writer.WriteJSON(wsServerMessage{
				Type:      "event",
				Event:     string(e.Type),
				AccountID: e.AccountID,
				Payload:   &e,
				Time:      e.Timestamp,
			}); err != nil {
				return
			}
		}
	}
}

func (s *Server) readWSClient(conn *websocket.Conn, writer *wsConnWriter, filter *accountFilter) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: "pong", Time: time.Now().UTC()})
		case "subscribe":
			filter.set(strings.TrimSpace(msg.AccountID))
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "status",
				Event:     "subscribed",
				AccountID: filter.get(),
				Time:      time.Now().UTC(),
			})
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping,subscribe",
				Time:    time.Now().UTC(),
			})
		}
	}
}

type accountFilter struct {
	mu sync.RWMutex
	id string
}

func newAccountFilter(id string) *accountFilter { return &accountFilter{id: id} }

func (f *accountFilter) set(id string) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

func (f *accountFilter) get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id
}

func (f *accountFilter) match(accountID string) bool {
	id := f.get()
	return id == "" || id == accountID
}
