// Package sessiontest provides a scriptable in-memory Session and Factory.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/asheshgoplani/linkdeck/internal/isolation"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

// Behavior scripts what a fake session does when initialized.
type Behavior struct {
	Code          string // emit code-ready with this code
	Authenticated bool   // emit authenticated + ready
	AuthFailure   string // emit auth-failure with this reason
	Disconnect    bool   // emit disconnected
	InitErr       error  // Initialize returns this error
	Dead          bool   // Alive reports false
	CreateErr     error  // Factory.Create fails
}

// Sent is one recorded SendMessage call.
type Sent struct {
	Destination string
	Text        string
}

// Session is a fake session.Session.
type Session struct {
	session.Emitter

	id        string
	accountID string
	paths     isolation.Paths
	strategy  session.Strategy
	behavior  Behavior

	mu            sync.Mutex
	alive         bool
	initialized   int
	released      int
	releaseErr    error
	sendErr       error
	sent          []Sent
	conversations []session.Conversation
}

// NewSession builds a standalone fake bound to accountID.
func NewSession(id, accountID string, st session.Strategy, b Behavior) *Session {
	return &Session{id: id, accountID: accountID, strategy: st, behavior: b, alive: !b.Dead}
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) AccountID() string          { return s.accountID }
func (s *Session) Strategy() session.Strategy { return s.strategy }
func (s *Session) Paths() isolation.Paths     { return s.paths }

func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	s.initialized++
	s.mu.Unlock()

	b := s.behavior
	if b.InitErr != nil {
		return b.InitErr
	}
	switch {
	case b.Code != "":
		s.Emit(session.Event{Signal: session.SignalCodeReady, Code: b.Code})
	case b.Authenticated:
		s.Emit(session.Event{Signal: session.SignalAuthenticated})
		s.Emit(session.Event{Signal: session.SignalReady})
	case b.AuthFailure != "":
		s.Emit(session.Event{Signal: session.SignalAuthFailure, Reason: b.AuthFailure})
	case b.Disconnect:
		s.Emit(session.Event{Signal: session.SignalDisconnected, Reason: "fake disconnect"})
	}
	return nil
}

func (s *Session) Alive(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && s.released == 0
}

// SetAlive changes the health probe result.
func (s *Session) SetAlive(alive bool) {
	s.mu.Lock()
	s.alive = alive
	s.mu.Unlock()
}

func (s *Session) SendMessage(ctx context.Context, destination, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released > 0 {
		return session.ErrReleased
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, Sent{Destination: destination, Text: text})
	return nil
}

// SetSendErr makes SendMessage fail.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

// Sent returns the recorded sends.
func (s *Session) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Session) Conversations(ctx context.Context) ([]session.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released > 0 {
		return nil, session.ErrReleased
	}
	return append([]session.Conversation(nil), s.conversations...), nil
}

// SetConversations sets the list returned by Conversations.
func (s *Session) SetConversations(c []session.Conversation) {
	s.mu.Lock()
	s.conversations = c
	s.mu.Unlock()
}

// SetReleaseErr makes Release report err.
func (s *Session) SetReleaseErr(err error) {
	s.mu.Lock()
	s.releaseErr = err
	s.mu.Unlock()
}

func (s *Session) Release(ctx context.Context) error {
	s.Emitter.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return s.releaseErr
}

// Released reports whether Release was called at least once.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released > 0
}

// Initialized returns how many times Initialize ran.
func (s *Session) Initialized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Factory hands out fake sessions scripted by Script.
type Factory struct {
	// Script picks the behavior for the n-th (1-based) session created
	// for an account. Nil means every session stays silent.
	Script func(accountID string, st session.Strategy, n int) Behavior

	mu       sync.Mutex
	sessions []*Session
	perAcct  map[string]int
}

// Create implements session.Factory.
func (f *Factory) Create(ctx context.Context, accountID string, paths isolation.Paths, st session.Strategy) (session.Session, error) {
	if accountID == "" {
		return nil, errors.New("fake factory: empty account id")
	}
	f.mu.Lock()
	if f.perAcct == nil {
		f.perAcct = make(map[string]int)
	}
	f.perAcct[accountID]++
	n := f.perAcct[accountID]
	f.mu.Unlock()

	var b Behavior
	if f.Script != nil {
		b = f.Script(accountID, st, n)
	}
	if b.CreateErr != nil {
		return nil, b.CreateErr
	}

	s := NewSession(fmt.Sprintf("%s-%d", accountID, n), accountID, st, b)
	s.paths = paths

	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// Sessions returns every session created so far, in order.
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// ForAccount returns the sessions created for one account.
func (f *Factory) ForAccount(accountID string) []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Session
	for _, s := range f.sessions {
		if s.accountID == accountID {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the newest session for an account, or nil.
func (f *Factory) Last(accountID string) *Session {
	all := f.ForAccount(accountID)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// StrategyNames returns the strategy of every created session, in order.
func (f *Factory) StrategyNames(accountID string) []string {
	var out []string
	for _, s := range f.ForAccount(accountID) {
		out = append(out, s.strategy.Name)
	}
	return out
}

// Calls returns how many times Create ran for an account, failures included.
func (f *Factory) Calls(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perAcct[accountID]
}
