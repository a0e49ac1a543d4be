package web

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/asheshgoplani/linkdeck/internal/events"
)

const subscriberBuffer = 64

// Hub fans events out to SSE and websocket subscribers. Emit never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscription]struct{}
	dropped atomic.Int64
}

type subscription struct {
	ch        chan events.Event
	accountID string
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscription]struct{})}
}

var _ events.Sink = (*Hub)(nil)

// Emit delivers e to every matching subscriber.
func (h *Hub) Emit(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.accountID != "" && sub.accountID != e.AccountID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			if h.dropped.Add(1)%100 == 1 {
				webLog.Warn("subscriber_lagging",
					slog.String("account", e.AccountID),
					slog.String("type", string(e.Type)),
					slog.Int64("dropped_total", h.dropped.Load()))
			}
		}
	}
}

// Subscribe registers a subscriber. accountID filters to one account; empty
// receives everything. The returned cancel closes the channel.
func (h *Hub) Subscribe(accountID string) (<-chan events.Event, func()) {
	sub := &subscription{ch: make(chan events.Event, subscriberBuffer), accountID: accountID}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers reports how many subscribers are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because of full buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
