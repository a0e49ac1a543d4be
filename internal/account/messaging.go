package account

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/linkdeck/internal/session"
)

// Message statuses.
const (
	MessageSent     = "sent"
	MessageReceived = "received"
)

// SendMessage delivers text through the account's session and records it in
// the account's own buffer. Only a Ready, authenticated account can send.
func (m *Manager) SendMessage(ctx context.Context, id, destination, text string) (MessageRecord, error) {
	destination = strings.TrimSpace(destination)

	m.mu.Lock()
	acc, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return MessageRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if destination == "" || strings.TrimSpace(text) == "" {
		m.mu.Unlock()
		return MessageRecord{}, fmt.Errorf("%w: destination and text are required", ErrInvalidInput)
	}
	if acc.state != StateReady || !acc.authenticated || acc.sess == nil {
		state := acc.state
		m.mu.Unlock()
		return MessageRecord{}, fmt.Errorf("%w: %s is %s", ErrNotReady, id, state)
	}
	sess := acc.sess
	acc.lastAccessed = m.clock.Now()
	m.mu.Unlock()

	if err := sess.SendMessage(ctx, destination, text); err != nil {
		acctLog.Warn("send_failed", slog.String("account", id), slog.String("error", err.Error()))
		return MessageRecord{}, fmt.Errorf("send message from %s: %w", id, err)
	}

	rec := MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: destination,
		Destination:    destination,
		Text:           text,
		Status:         MessageSent,
		Outgoing:       true,
	}

	m.mu.Lock()
	rec.Timestamp = m.clock.Now()
	rec.AccountID = id
	if cur, ok := m.accounts[id]; ok && cur == acc {
		m.appendLocked(acc, rec)
	}
	m.mu.Unlock()
	return rec, nil
}

func (m *Manager) appendInboundLocked(acc *account, msg session.InboundMessage) {
	rec := MessageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		From:           msg.From,
		Text:           msg.Text,
		Timestamp:      msg.Timestamp,
		Status:         MessageReceived,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.clock.Now()
	}
	m.appendLocked(acc, rec)
	if msg.ConversationID != acc.ui.selectedConversation || m.activeID != acc.id {
		acc.ui.unread++
	}
}

// appendLocked is the only writer of message buffers. It stamps the owning
// account on every record.
func (m *Manager) appendLocked(acc *account, rec MessageRecord) {
	rec.AccountID = acc.id
	conv := rec.ConversationID
	buf := append(acc.ui.messages[conv], rec)
	if over := len(buf) - m.cfg.MessageBufferSize; over > 0 {
		buf = slices.Clone(buf[over:])
	}
	acc.ui.messages[conv] = buf
}

// Messages returns the buffered messages of one conversation, oldest first.
func (m *Manager) Messages(id, conversationID string) ([]MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return slices.Clone(acc.ui.messages[conversationID]), nil
}

// SelectConversation sets the account's selected conversation and clears
// its unread counter.
func (m *Manager) SelectConversation(id, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	acc.ui.selectedConversation = conversationID
	acc.ui.unread = 0
	acc.lastAccessed = m.clock.Now()
	return nil
}

// ListConversations fetches the contact list of a Ready account. Accounts
// that are not Ready yield an empty list rather than an error.
func (m *Manager) ListConversations(ctx context.Context, id string) ([]ConversationSummary, error) {
	m.mu.Lock()
	acc, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	acc.lastAccessed = m.clock.Now()
	if acc.state != StateReady || !acc.authenticated || acc.sess == nil {
		m.mu.Unlock()
		return []ConversationSummary{}, nil
	}
	sess := acc.sess
	m.mu.Unlock()

	convs, err := sess.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", id, err)
	}
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationSummary{
			ID:          c.ID,
			Name:        c.Name,
			IsGroup:     c.IsGroup,
			LastMessage: c.LastMessage,
			UnreadCount: c.UnreadCount,
		})
	}

	m.mu.Lock()
	if cur, ok := m.accounts[id]; ok && cur == acc && acc.sess == sess {
		acc.ui.contacts = slices.Clone(out)
	}
	m.mu.Unlock()
	return out, nil
}

type conversationSource []ConversationSummary

func (s conversationSource) String(i int) string { return s[i].Name }
func (s conversationSource) Len() int            { return len(s) }

// SearchConversations fuzzy-matches query against contact names, best match
// first. An empty query returns the full list.
func (m *Manager) SearchConversations(ctx context.Context, id, query string) ([]ConversationSummary, error) {
	convs, err := m.ListConversations(ctx, id)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return convs, nil
	}
	matches := fuzzy.FindFrom(query, conversationSource(convs))
	out := make([]ConversationSummary, 0, len(matches))
	for _, match := range matches {
		out = append(out, convs[match.Index])
	}
	return out, nil
}
