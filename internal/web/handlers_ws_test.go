package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/linkdeck/internal/events"
)

func wsURL(baseURL, path string) string {
	if strings.HasPrefix(baseURL, "https://") {
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + path
	}
	return "ws://" + strings.TrimPrefix(baseURL, "http://") + path
}

func readWS(t *testing.T, conn *websocket.Conn) wsServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg wsServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return msg
}

func TestWSEndpointUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil, withToken("secret-token"))
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/events"), nil)
	if err == nil {
		t.Fatal("expected websocket dial error for unauthorized request")
	}
	if resp == nil {
		t.Fatal("expected HTTP response for unauthorized websocket upgrade")
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestWSStreamsEvents(t *testing.T) {
	env := newTestEnv(t, nil, withToken("secret-token"))
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/events?token=secret-token"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readWS(t, conn); msg.Type != "status" || msg.Event != "connected" {
		t.Fatalf("expected connected status, got %+v", msg)
	}

	if err := conn.WriteJSON(wsClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readWS(t, conn); msg.Event != "pong" {
		t.Fatalf("expected pong, got %+v", msg)
	}

	waitSubscribers(t, env.hub, 1)
	env.hub.Emit(events.Event{AccountID: "a1", Type: events.TypeAccountDisabled, Level: events.LevelCritical,
		Payload: map[string]any{"reason": "banned"}, Timestamp: time.Now()})

	msg := readWS(t, conn)
	if msg.Type != "event" || msg.Event != string(events.TypeAccountDisabled) || msg.AccountID != "a1" {
		t.Fatalf("unexpected event message: %+v", msg)
	}
	if msg.Payload == nil || msg.Payload.Level != events.LevelCritical {
		t.Fatalf("expected critical payload, got %+v", msg.Payload)
	}
}

func TestWSSubscribeNarrowsStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/events"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readWS(t, conn)

	if err := conn.WriteJSON(wsClientMessage{Type: "subscribe", AccountID: "a2"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if msg := readWS(t, conn); msg.Event != "subscribed" || msg.AccountID != "a2" {
		t.Fatalf("expected subscribed ack, got %+v", msg)
	}

	env.hub.Emit(events.Event{AccountID: "a1", Type: events.TypeReady, Level: events.LevelInfo})
	env.hub.Emit(events.Event{AccountID: "a2", Type: events.TypeReady, Level: events.LevelInfo})

	if msg := readWS(t, conn); msg.AccountID != "a2" {
		t.Fatalf("expected only a2's events, got %+v", msg)
	}
}

func TestWSRejectsUnknownMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/events"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readWS(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, conn); msg.Code != "INVALID_MESSAGE" {
		t.Fatalf("expected INVALID_MESSAGE, got %+v", msg)
	}

	if err := conn.WriteJSON(wsClientMessage{Type: "input"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, conn); msg.Code != "UNSUPPORTED_MESSAGE" {
		t.Fatalf("expected UNSUPPORTED_MESSAGE, got %+v", msg)
	}
}

func TestAllowWSOrigin(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.test", true},
		{"http://evil.test", false},
		{"::not a url", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://example.test/ws/events", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := allowWSOrigin(r); got != tc.want {
			t.Fatalf("origin %q: expected %v, got %v", tc.origin, tc.want, got)
		}
	}
}
