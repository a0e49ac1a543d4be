// Package session defines the per-account automation session and the
// factory that builds one for a given strategy.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/isolation"
)

// Signal names a lifecycle notification emitted by a Session.
type Signal string

const (
	SignalCodeReady       Signal = "code-ready"
	SignalLoadingProgress Signal = "loading-progress"
	SignalAuthenticated   Signal = "authenticated"
	SignalReady           Signal = "ready"
	SignalAuthFailure     Signal = "auth-failure"
	SignalDisconnected    Signal = "disconnected"
	SignalGenericError    Signal = "generic-error"
	SignalMessage         Signal = "message"
)

var (
	// ErrReleased is returned by operations on a released session.
	ErrReleased = errors.New("session released")
	// ErrNotConnected is returned when the runtime is not connected yet.
	ErrNotConnected = errors.New("session not connected")
)

// InboundMessage is a message observed on the remote side.
type InboundMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	From           string    `json:"from"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// Conversation is one entry of the remote contact/chat list.
type Conversation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsGroup     bool   `json:"isGroup"`
	LastMessage string `json:"lastMessage,omitempty"`
	UnreadCount int    `json:"unreadCount"`
}

// Event is one signal with its payload. Only the fields relevant to the
// signal are set.
type Event struct {
	Signal  Signal
	Code    string
	Percent int
	Reason  string
	Err     error
	Message *InboundMessage
	At      time.Time
}

// Session is one live binding to an automation runtime, owned by exactly one
// account. After Release it never delivers further events.
type Session interface {
	ID() string
	AccountID() string
	Strategy() Strategy
	Subscribe(fn func(Event)) (unsubscribe func())
	Initialize(ctx context.Context) error
	Alive(ctx context.Context) bool
	SendMessage(ctx context.Context, destination, text string) error
	Conversations(ctx context.Context) ([]Conversation, error)
	Release(ctx context.Context) error
}

// Factory builds a fresh session bound only to accountID's namespaces.
// The caller owns releasing the returned session.
type Factory interface {
	Create(ctx context.Context, accountID string, paths isolation.Paths, s Strategy) (Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, accountID string, paths isolation.Paths, s Strategy) (Session, error)

// Create calls f.
func (f FactoryFunc) Create(ctx context.Context, accountID string, paths isolation.Paths, s Strategy) (Session, error) {
	return f(ctx, accountID, paths, s)
}
