package account

import (
	"context"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/handshake"
	"github.com/asheshgoplani/linkdeck/internal/isolation"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

// State is the connection state of one account.
type State string

const (
	StateCreated          State = "created"
	StateInitializing     State = "initializing"
	StateHandshakePending State = "handshake_pending"
	StateAuthenticated    State = "authenticated"
	StateReady            State = "ready"
	StateDisconnected     State = "disconnected"
	StateDisabled         State = "disabled"
)

// Active reports whether a connection is in progress or established.
func (s State) Active() bool {
	switch s {
	case StateInitializing, StateHandshakePending, StateAuthenticated, StateReady:
		return true
	}
	return false
}

// Presence is the short label shown next to an account.
func (s State) Presence() string {
	switch s {
	case StateReady:
		return "online"
	case StateAuthenticated:
		return "syncing"
	case StateInitializing, StateHandshakePending:
		return "connecting"
	case StateDisabled:
		return "disabled"
	}
	return "offline"
}

// Handshake statuses returned by BeginHandshake.
const (
	StatusCodeGenerated        = "code_generated"
	StatusAlreadyAuthenticated = "already_authenticated"
	StatusInitializing         = "initializing"
)

// CreateResult is returned by CreateAccount.
type CreateResult struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status"`
}

// HandshakeResult is returned by BeginHandshake.
type HandshakeResult struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// AccountView is returned by SwitchActive.
type AccountView struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	IsActive        bool   `json:"isActive"`
	UnreadCount     int    `json:"unreadCount"`
	State           State  `json:"state"`
}

// AccountSummary is one row of ListAccounts.
type AccountSummary struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	IsActive        bool      `json:"isActive"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	UnreadCount     int       `json:"unreadCount"`
	OnlineStatus    string    `json:"onlineStatus"`
	LastAccessed    time.Time `json:"lastAccessed"`
	State           State     `json:"state"`
	Selected        bool      `json:"selected"`
}

// StatusSummary counts accounts.
type StatusSummary struct {
	Total         int `json:"total"`
	Active        int `json:"active"`
	Authenticated int `json:"authenticated"`
}

// MessageRecord is one message in an account's buffer. AccountID is set on
// every record.
type MessageRecord struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId"`
	ConversationID string    `json:"conversationId"`
	Destination    string    `json:"destination,omitempty"`
	From           string    `json:"from,omitempty"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	Outgoing       bool      `json:"outgoing"`
}

// ConversationSummary is one row of ListConversations.
type ConversationSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsGroup     bool   `json:"isGroup"`
	LastMessage string `json:"lastMessage,omitempty"`
	UnreadCount int    `json:"unreadCount"`
}

// StateTransition is one entry of an account's state history.
type StateTransition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// StoredAccount holds the fields that survive a restart.
type StoredAccount struct {
	ID           string
	DisplayName  string
	Paths        isolation.Paths
	SortOrder    int
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Store persists the durable registry fields.
type Store interface {
	SaveAccount(ctx context.Context, a StoredAccount) error
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context) ([]StoredAccount, error)
	TouchAccounts(ctx context.Context, lastAccessed map[string]time.Time) error
	Heartbeat(ctx context.Context) error
}

// PathResolver provisions isolation namespaces.
type PathResolver interface {
	ResolveAndEnsure(accountID string) (isolation.Paths, error)
	Ensure(p isolation.Paths) error
}

// Waiter runs one handshake attempt.
type Waiter interface {
	Wait(ctx context.Context, sess session.Session, opts handshake.Options) handshake.Outcome
}
