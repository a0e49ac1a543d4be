package errlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepsMostRecentFifty(t *testing.T) {
	l := New(0)
	require.Equal(t, DefaultCapacity, l.Capacity())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 60 {
		l.Add(Entry{AccountID: "a1", Message: fmt.Sprintf("err-%d", i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	entries := l.Entries()
	require.Len(t, entries, 50)
	assert.Equal(t, 50, l.Len())
	assert.Equal(t, "err-59", entries[0].Message)
	assert.Equal(t, "err-10", entries[49].Message)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].Timestamp.After(entries[i].Timestamp))
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := New(5)
	l.Add(Entry{Message: "one"})
	got := l.Entries()
	got[0].Message = "mutated"
	assert.Equal(t, "one", l.Entries()[0].Message)
}

func TestAddStampsTimestamp(t *testing.T) {
	l := New(5)
	l.Add(Entry{Message: "x"})
	assert.False(t, l.Entries()[0].Timestamp.IsZero())
}

func TestForAccount(t *testing.T) {
	l := New(10)
	l.Add(Entry{AccountID: "a1", Message: "1"})
	l.Add(Entry{AccountID: "a2", Message: "2"})
	l.Add(Entry{AccountID: "a1", Message: "3"})

	got := l.ForAccount("a1")
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].Message)
	assert.Empty(t, l.ForAccount("zz"))
}

func TestPruneOlderThan(t *testing.T) {
	l := New(10)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l.Add(Entry{Message: "old", Timestamp: now.Add(-8 * 24 * time.Hour)})
	l.Add(Entry{Message: "edge", Timestamp: now.Add(-7 * 24 * time.Hour)})
	l.Add(Entry{Message: "new", Timestamp: now.Add(-time.Hour)})

	removed := l.PruneOlderThan(7*24*time.Hour, now)
	assert.Equal(t, 1, removed)

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "new", entries[0].Message)
	assert.Equal(t, "edge", entries[1].Message)
}

func TestConcurrentAdd(t *testing.T) {
	l := New(50)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				l.Add(Entry{AccountID: fmt.Sprintf("a%d", g), Message: fmt.Sprint(i)})
				_ = l.Entries()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}
