// Package errlog holds the bounded, most-recent-first log of background errors.
package errlog

import (
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 50

// Entry is one recorded background error.
type Entry struct {
	AccountID string    `json:"accountId"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	Class     string    `json:"class,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is a fixed-capacity buffer. Entries are ordered newest first.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// New creates a log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Add prepends e and evicts the oldest entry when over capacity.
func (l *Log) Add(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
}

// Entries returns a copy, newest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ForAccount returns the entries recorded for one account, newest first.
func (l *Log) ForAccount(accountID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

// PruneOlderThan drops entries older than age relative to now and returns
// how many were removed.
func (l *Log) PruneOlderThan(age time.Duration, now time.Time) int {
	cutoff := now.Add(-age)
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.entries) - len(kept)
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = Entry{}
	}
	l.entries = kept
	return removed
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the configured bound.
func (l *Log) Capacity() int { return l.capacity }
