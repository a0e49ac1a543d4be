package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/linkdeck/internal/events"
)

func TestHubFiltersByAccount(t *testing.T) {
	h := NewHub()
	all, cancelAll := h.Subscribe("")
	defer cancelAll()
	one, cancelOne := h.Subscribe("a1")
	defer cancelOne()

	h.Emit(events.Event{AccountID: "a1", Type: events.TypeReady})
	h.Emit(events.Event{AccountID: "a2", Type: events.TypeReady})

	assert.Len(t, all, 2)
	require.Len(t, one, 1)
	assert.Equal(t, "a1", (<-one).AccountID)
}

func TestHubDropsWhenSubscriberLags(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Emit(events.Event{AccountID: "a1", Type: events.TypeMessage})
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, int64(10), h.Dropped())
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("")
	require.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, ok := <-ch
	assert.False(t, ok)

	h.Emit(events.Event{AccountID: "a1", Type: events.TypeReady})
}
