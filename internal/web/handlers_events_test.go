package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/events"
)

type sseFrame struct {
	event string
	data  string
}

// readSSE parses frames from the stream until ctx ends.
func readSSE(ctx context.Context, resp *http.Response) <-chan sseFrame {
	out := make(chan sseFrame, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		var cur sseFrame
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				cur.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.data = strings.TrimPrefix(line, "data: ")
			case line == "" && cur.event != "":
				select {
				case out <- cur:
				case <-ctx.Done():
					return
				}
				cur = sseFrame{}
			}
		}
	}()
	return out
}

func nextFrame(t *testing.T, frames <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("stream closed")
		}
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sse frame")
	}
	return sseFrame{}
}

func waitSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsUnauthorizedWhenTokenEnabled(t *testing.T) {
	env := newTestEnv(t, nil, withToken("secret-token"))

	rr := env.do(t, http.MethodGet, "/events", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"UNAUTHORIZED"`) {
		t.Fatalf("expected UNAUTHORIZED body, got: %s", rr.Body.String())
	}
}

func TestEventsStreamsHubEvents(t *testing.T) {
	env := newTestEnv(t, nil, withToken("secret-token"))
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?token=secret-token", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	frames := readSSE(ctx, resp)
	if f := nextFrame(t, frames); f.event != "status" {
		t.Fatalf("expected initial status frame, got %q", f.event)
	}

	waitSubscribers(t, env.hub, 1)
	env.hub.Emit(events.Event{
		AccountID: "a1",
		Type:      events.TypeCodeReady,
		Level:     events.LevelInfo,
		Payload:   map[string]any{"code": "2@abc"},
		Timestamp: time.Now(),
	})

	f := nextFrame(t, frames)
	if f.event != string(events.TypeCodeReady) {
		t.Fatalf("expected code-ready frame, got %q", f.event)
	}
	var e events.Event
	if err := json.Unmarshal([]byte(f.data), &e); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if e.AccountID != "a1" || e.Payload["code"] != "2@abc" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestEventsAccountFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?account=a2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	frames := readSSE(ctx, resp)
	nextFrame(t, frames)
	waitSubscribers(t, env.hub, 1)

	env.hub.Emit(events.Event{AccountID: "a1", Type: events.TypeReady, Level: events.LevelInfo})
	env.hub.Emit(events.Event{AccountID: "a2", Type: events.TypeDisconnected, Level: events.LevelWarning})

	f := nextFrame(t, frames)
	if f.event != string(events.TypeDisconnected) {
		t.Fatalf("expected only a2's event, got %q", f.event)
	}
}

func TestEventsUnsubscribeOnDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	waitSubscribers(t, env.hub, 1)

	cancel()
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription leaked after client disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
