// Package events carries account-attributed notifications from the core to
// outbound sinks (SSE, websocket, web push).
package events

import (
	"sync"
	"time"
)

// Type names an outbound event.
type Type string

const (
	TypeCodeReady           Type = "code-ready"
	TypeLoadingProgress     Type = "loading-progress"
	TypeAuthenticated       Type = "authenticated"
	TypeReady               Type = "ready"
	TypeAuthFailure         Type = "auth-failure"
	TypeDisconnected        Type = "disconnected"
	TypeGenericError        Type = "generic-error"
	TypeSoftTimeoutWarning  Type = "soft-timeout-warning"
	TypeHardTimeoutCritical Type = "hard-timeout-critical"
	TypeAccountDisabled     Type = "account-disabled"
	TypeStateChanged        Type = "state-changed"
	TypeMessage             Type = "message"
	TypeRetryScheduled      Type = "retry-scheduled"
	TypeRetryExhausted      Type = "retry-exhausted"
	TypeHandshakeFailed     Type = "handshake-failed"
)

// Level is the user-facing severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event is one notification. AccountID is never empty once routed.
type Event struct {
	AccountID string         `json:"accountId"`
	Type      Type           `json:"type"`
	Level     Level          `json:"level"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives routed events. Emit must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans out to every member in order.
type MultiSink []Sink

// Emit delivers e to each non-nil member.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Discard drops everything.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of one type.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
