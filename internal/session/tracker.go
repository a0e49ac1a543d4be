package session

import "github.com/google/uuid"

// observation is one DOM poll result.
type observation struct {
	AuthFailure bool
	Ready       bool
	Code        string
	Progress    int
	HasProgress bool
	Rows        []Conversation
}

// tracker turns successive observations into signals, emitting each
// transition once.
type tracker struct {
	code          string
	progress      int
	authenticated bool
	failed        bool
	primed        bool
	seen          map[string]struct{}
}

func newTracker() *tracker {
	return &tracker{progress: -1, seen: make(map[string]struct{})}
}

// apply returns the events implied by o and whether the session just
// became authenticated.
func (t *tracker) apply(o observation) (events []Event, authenticated bool) {
	if o.AuthFailure {
		if !t.failed {
			t.failed = true
			t.authenticated = false
			events = append(events, Event{Signal: SignalAuthFailure, Reason: "authentication failure reported by page"})
		}
		return events, false
	}
	t.failed = false

	if o.Ready {
		if !t.authenticated {
			t.authenticated = true
			authenticated = true
			events = append(events,
				Event{Signal: SignalAuthenticated},
				Event{Signal: SignalReady})
		}
		events = append(events, t.newMessages(o.Rows)...)
		return events, authenticated
	}

	if t.authenticated {
		t.authenticated = false
		t.primed = false
		events = append(events, Event{Signal: SignalDisconnected, Reason: "logged out"})
		return events, false
	}

	if o.HasProgress && o.Progress != t.progress {
		t.progress = o.Progress
		events = append(events, Event{Signal: SignalLoadingProgress, Percent: o.Progress})
	}
	if o.Code != "" && o.Code != t.code {
		t.code = o.Code
		events = append(events, Event{Signal: SignalCodeReady, Code: o.Code})
	}
	return events, false
}

// newMessages reports unread rows whose last message has not been seen.
// The first ready poll only seeds the seen set.
func (t *tracker) newMessages(rows []Conversation) []Event {
	var events []Event
	for _, r := range rows {
		if r.UnreadCount == 0 || r.LastMessage == "" {
			continue
		}
		key := r.ID + "\x00" + r.Name + "\x00" + r.LastMessage
		if _, ok := t.seen[key]; ok {
			continue
		}
		t.seen[key] = struct{}{}
		if !t.primed {
			continue
		}
		conv := r.ID
		if conv == "" {
			conv = r.Name
		}
		events = append(events, Event{
			Signal: SignalMessage,
			Message: &InboundMessage{
				ID:             uuid.NewString(),
				ConversationID: conv,
				From:           r.Name,
				Text:           r.LastMessage,
			},
		})
	}
	t.primed = true
	return events
}
