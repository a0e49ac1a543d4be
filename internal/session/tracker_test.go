package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signals(events []Event) []Signal {
	out := make([]Signal, len(events))
	for i, ev := range events {
		out[i] = ev.Signal
	}
	return out
}

func TestTrackerCodeEmittedOncePerValue(t *testing.T) {
	tr := newTracker()

	ev, _ := tr.apply(observation{Code: "c1"})
	require.Len(t, ev, 1)
	assert.Equal(t, SignalCodeReady, ev[0].Signal)
	assert.Equal(t, "c1", ev[0].Code)

	ev, _ = tr.apply(observation{Code: "c1"})
	assert.Empty(t, ev)

	ev, _ = tr.apply(observation{Code: "c2"})
	require.Len(t, ev, 1)
	assert.Equal(t, "c2", ev[0].Code)
}

func TestTrackerProgress(t *testing.T) {
	tr := newTracker()
	ev, _ := tr.apply(observation{Progress: 0, HasProgress: true})
	assert.Equal(t, []Signal{SignalLoadingProgress}, signals(ev))
	ev, _ = tr.apply(observation{Progress: 0, HasProgress: true})
	assert.Empty(t, ev)
	ev, _ = tr.apply(observation{Progress: 40, HasProgress: true})
	require.Len(t, ev, 1)
	assert.Equal(t, 40, ev[0].Percent)
}

func TestTrackerReadyThenLogout(t *testing.T) {
	tr := newTracker()

	ev, authed := tr.apply(observation{Ready: true})
	assert.True(t, authed)
	assert.Equal(t, []Signal{SignalAuthenticated, SignalReady}, signals(ev))

	ev, authed = tr.apply(observation{Ready: true})
	assert.False(t, authed)
	assert.Empty(t, ev)

	ev, _ = tr.apply(observation{Code: "c1"})
	assert.Equal(t, []Signal{SignalDisconnected}, signals(ev))
	assert.Equal(t, "logged out", ev[0].Reason)
}

func TestTrackerAuthFailureOnce(t *testing.T) {
	tr := newTracker()
	ev, _ := tr.apply(observation{AuthFailure: true, Code: "c1"})
	assert.Equal(t, []Signal{SignalAuthFailure}, signals(ev))
	ev, _ = tr.apply(observation{AuthFailure: true})
	assert.Empty(t, ev)
}

func TestTrackerMessagesAfterPriming(t *testing.T) {
	tr := newTracker()
	rows := []Conversation{
		{ID: "c1", Name: "Alice", LastMessage: "old", UnreadCount: 1},
		{ID: "c2", Name: "Bob", LastMessage: "read", UnreadCount: 0},
	}
	ev, _ := tr.apply(observation{Ready: true, Rows: rows})
	assert.Equal(t, []Signal{SignalAuthenticated, SignalReady}, signals(ev))

	rows[0].LastMessage = "new"
	rows[0].UnreadCount = 2
	ev, _ = tr.apply(observation{Ready: true, Rows: rows})
	require.Len(t, ev, 1)
	assert.Equal(t, SignalMessage, ev[0].Signal)
	require.NotNil(t, ev[0].Message)
	assert.Equal(t, "c1", ev[0].Message.ConversationID)
	assert.Equal(t, "Alice", ev[0].Message.From)
	assert.Equal(t, "new", ev[0].Message.Text)
	assert.NotEmpty(t, ev[0].Message.ID)

	ev, _ = tr.apply(observation{Ready: true, Rows: rows})
	assert.Empty(t, ev)
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"42", 42, true},
		{"Loading chats 73%", 73, true},
		{"150", 100, true},
		{"", 0, false},
		{"loading", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePercent(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseUnread(t *testing.T) {
	assert.Equal(t, 3, parseUnread("3 unread messages"))
	assert.Equal(t, 12, parseUnread("12"))
	assert.Equal(t, 0, parseUnread(""))
}
