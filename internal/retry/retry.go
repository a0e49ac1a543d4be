// Package retry owns the per-account retry counters and the delayed retry
// tasks issued for background errors.
package retry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/clock"
	"github.com/asheshgoplani/linkdeck/internal/errclass"
	"github.com/asheshgoplani/linkdeck/internal/logging"
)

var retryLog = logging.ForComponent(logging.CompRetry)

// Policy bounds and paces automatic retries.
type Policy struct {
	MaxRetries   int
	NetworkDelay time.Duration
	BaseDelay    time.Duration
}

// DefaultPolicy is 3 attempts: 5s apart for network errors, 10s/20s/40s otherwise.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, NetworkDelay: 5 * time.Second, BaseDelay: 10 * time.Second}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.NetworkDelay <= 0 {
		p.NetworkDelay = d.NetworkDelay
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	return p
}

// Delay returns the wait before the given 1-based attempt.
func (p Policy) Delay(class errclass.Class, attempt int) time.Duration {
	if class == errclass.NetworkTransient {
		return p.NetworkDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

// Decision reports what Schedule did.
type Decision struct {
	Class     errclass.Class
	Attempt   int
	Delay     time.Duration
	Exhausted bool
	Disable   bool
}

// Scheduled reports whether a retry task was issued.
func (d Decision) Scheduled() bool { return !d.Exhausted && !d.Disable }

type state struct {
	attempts int
	pending  clock.Timer
	gen      int
}

// Scheduler issues at most one live retry task per account.
type Scheduler struct {
	mu     sync.Mutex
	policy Policy
	clk    clock.Clock
	states map[string]*state
}

// New creates a scheduler. A nil clock uses real time.
func New(policy Policy, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		policy: policy.withDefaults(),
		clk:    clk,
		states: make(map[string]*state),
	}
}

// SetPolicy replaces the policy used for future decisions.
func (s *Scheduler) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p.withDefaults()
	s.mu.Unlock()
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Schedule decides and, when appropriate, issues a delayed call to retryFn.
// Critical errors and exhausted counters delete the account's state and
// schedule nothing. Any previously pending task for the account is stopped.
func (s *Scheduler) Schedule(accountID string, class errclass.Class, retryFn func()) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if class == errclass.Critical {
		s.dropLocked(accountID)
		retryLog.Warn("retry_disabled_critical", slog.String("account", accountID))
		return Decision{Class: class, Disable: true}
	}

	st, ok := s.states[accountID]
	if !ok {
		st = &state{}
		s.states[accountID] = st
	}
	if st.attempts >= s.policy.MaxRetries {
		attempts := st.attempts
		s.dropLocked(accountID)
		retryLog.Warn("retry_exhausted",
			slog.String("account", accountID),
			slog.String("class", class.String()),
			slog.Int("attempts", attempts))
		return Decision{Class: class, Attempt: attempts, Exhausted: true}
	}

	st.attempts++
	delay := s.policy.Delay(class, st.attempts)
	if st.pending != nil {
		st.pending.Stop()
	}
	st.gen++
	gen := st.gen
	st.pending = s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.states[accountID]
		if !ok || cur != st || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		cur.pending = nil
		s.mu.Unlock()
		retryFn()
	})

	retryLog.Info("retry_scheduled",
		slog.String("account", accountID),
		slog.String("class", class.String()),
		slog.Int("attempt", st.attempts),
		slog.Duration("delay", delay))
	return Decision{Class: class, Attempt: st.attempts, Delay: delay}
}

// Clear cancels any pending task and resets the counter (successful reconnect).
func (s *Scheduler) Clear(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(accountID)
}

func (s *Scheduler) dropLocked(accountID string) {
	st, ok := s.states[accountID]
	if !ok {
		return
	}
	if st.pending != nil {
		st.pending.Stop()
	}
	st.gen++
	delete(s.states, accountID)
}

// Attempts returns the current counter for the account (0 when cleared).
func (s *Scheduler) Attempts(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[accountID]; ok {
		return st.attempts
	}
	return 0
}

// Pending reports whether a retry task is waiting to fire.
func (s *Scheduler) Pending(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[accountID]
	return ok && st.pending != nil
}

// CancelAll stops every pending task and forgets all counters.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.states {
		s.dropLocked(id)
	}
}
