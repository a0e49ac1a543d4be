package account

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/events"
	"github.com/asheshgoplani/linkdeck/internal/handshake"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

// BeginHandshake runs the strategy cascade for id and returns as soon as one
// strategy yields a code or finds the account already signed in.
func (m *Manager) BeginHandshake(ctx context.Context, id string) (HandshakeResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return HandshakeResult{}, ErrClosed
	}
	acc, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return HandshakeResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if acc.authenticated {
		m.mu.Unlock()
		return HandshakeResult{}, fmt.Errorf("%w: %s", ErrAlreadyAuthenticated, id)
	}
	if acc.handshaking {
		m.mu.Unlock()
		return HandshakeResult{ID: id, Status: StatusInitializing}, nil
	}
	if acc.state == StateDisabled {
		m.setStateLocked(acc, StateCreated, "re-enabled by request")
	}
	acc.lastAccessed = m.clock.Now()
	stopTimer(&acc.reconnectTimer)
	m.mu.Unlock()

	m.retry.Clear(id)
	return m.runCascade(ctx, id, "request")
}

// runCascade tries each strategy in order. The previous session is released
// before the first attempt and after every failed one.
func (m *Manager) runCascade(ctx context.Context, id, trigger string) (HandshakeResult, error) {
	m.mu.Lock()
	acc, ok := m.accounts[id]
	if !ok || m.closed {
		m.mu.Unlock()
		return HandshakeResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if acc.handshaking {
		m.mu.Unlock()
		return HandshakeResult{ID: id, Status: StatusInitializing}, nil
	}
	acc.handshaking = true
	acc.handshakeGen++
	gen := acc.handshakeGen
	hctx, cancel := context.WithCancel(ctx)
	acc.cancelHandshake = cancel
	acc.codeSeen = false
	acc.lastCode = ""
	acc.authenticated = false
	prev := m.unbindLocked(acc)
	cascade := slices.Clone(m.cfg.Cascade)
	grace := m.cfg.InitGrace
	paths := acc.paths
	m.startWatchdogsLocked(acc, gen)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if acc.handshakeGen == gen {
			acc.handshaking = false
			acc.cancelHandshake = nil
		}
		m.mu.Unlock()
		cancel()
	}()

	log := acctLog.With(slog.String("account", id), slog.String("trigger", trigger))
	log.Info("handshake_start", slog.Int("strategies", len(cascade)))
	m.release(ctx, id, prev)

	var failures []StrategyFailure
	for _, st := range cascade {
		if hctx.Err() != nil {
			break
		}
		if !m.beginAttempt(acc, gen, st) {
			return HandshakeResult{}, m.supersededErr(acc, id)
		}

		started := time.Now()
		sess, err := m.factory.Create(hctx, id, paths, st)
		if err != nil {
			log.Warn("strategy_create_failed", slog.String("strategy", st.Name), slog.String("error", err.Error()))
			failures = append(failures, StrategyFailure{Strategy: st.Name, Reason: err.Error()})
			continue
		}
		if !m.bindSession(acc, gen, sess) {
			m.release(ctx, id, sess)
			return HandshakeResult{}, m.supersededErr(acc, id)
		}

		out := m.waiter.Wait(hctx, sess, handshake.OptionsFor(st, grace))
		log.Info("strategy_outcome",
			slog.String("strategy", st.Name),
			slog.String("outcome", out.Kind.String()),
			slog.String("reason", out.Reason),
			slog.Duration("elapsed", time.Since(started)))

		switch out.Kind {
		case handshake.CodeReady:
			m.mu.Lock()
			if acc.sess == sess {
				acc.codeSeen = true
				acc.lastCode = out.Code
				m.stopWatchdogsLocked(acc)
			}
			m.mu.Unlock()
			return HandshakeResult{ID: id, Status: StatusCodeGenerated, Code: out.Code, Strategy: st.Name}, nil

		case handshake.AlreadyAuthenticated:
			m.mu.Lock()
			if acc.sess == sess {
				m.markAuthenticatedLocked(acc, StateAuthenticated, "already authenticated")
			}
			m.mu.Unlock()
			return HandshakeResult{ID: id, Status: StatusAlreadyAuthenticated, Strategy: st.Name}, nil
		}

		m.mu.Lock()
		var owned session.Session
		if acc.sess == sess {
			owned = m.unbindLocked(acc)
		}
		m.mu.Unlock()
		m.release(ctx, id, owned)
		failures = append(failures, StrategyFailure{Strategy: st.Name, Reason: out.Reason})
	}

	if err := hctx.Err(); err != nil {
		m.mu.Lock()
		disabled := acc.state == StateDisabled
		m.mu.Unlock()
		if disabled {
			log.Warn("handshake_aborted_disabled")
			return HandshakeResult{}, fmt.Errorf("%w: %s", ErrDisabled, id)
		}
		log.Info("handshake_aborted", slog.String("error", err.Error()))
		return HandshakeResult{}, fmt.Errorf("handshake for %s aborted: %w", id, err)
	}

	herr := &HandshakeError{AccountID: id, Attempts: failures}
	m.mu.Lock()
	if m.currentLocked(acc, gen) {
		m.stopWatchdogsLocked(acc)
		m.setStateLocked(acc, StateCreated, "handshake cascade exhausted")
		m.router.Notify(id, events.TypeHandshakeFailed, events.LevelError, map[string]any{
			"attempts": len(failures),
			"reasons":  herr.Reasons(),
		})
	}
	m.mu.Unlock()
	log.Warn("handshake_failed", slog.Int("attempts", len(failures)))
	return HandshakeResult{}, herr
}

// supersededErr explains why a cascade stopped before its next step.
func (m *Manager) supersededErr(acc *account, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc.state == StateDisabled {
		return fmt.Errorf("%w: %s", ErrDisabled, id)
	}
	return fmt.Errorf("handshake for %s superseded", id)
}

func (m *Manager) currentLocked(acc *account, gen int) bool {
	return !m.closed && m.accounts[acc.id] == acc && acc.handshakeGen == gen && acc.state != StateDisabled
}

func (m *Manager) beginAttempt(acc *account, gen int, st session.Strategy) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(acc, gen) {
		return false
	}
	m.setStateLocked(acc, StateInitializing, "starting strategy "+st.Name)
	return true
}

// bindSession makes sess the account's only live session and starts routing
// its events.
func (m *Manager) bindSession(acc *account, gen int, sess session.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(acc, gen) {
		return false
	}
	acc.sess = sess
	acc.detach = m.router.Attach(acc.id, sess, func(id string, ev session.Event) {
		m.onSessionEvent(sess, id, ev)
	})
	m.setStateLocked(acc, StateHandshakePending, "waiting on "+sess.Strategy().Name)
	return true
}

func (m *Manager) startWatchdogsLocked(acc *account, gen int) {
	m.stopWatchdogsLocked(acc)
	soft, hard := m.cfg.SoftWarning, m.cfg.HardCritical
	acc.softTimer = m.clock.AfterFunc(soft, func() {
		m.watchdogFired(acc, gen, events.TypeSoftTimeoutWarning, events.LevelWarning, soft)
	})
	acc.hardTimer = m.clock.AfterFunc(hard, func() {
		m.watchdogFired(acc, gen, events.TypeHardTimeoutCritical, events.LevelCritical, hard)
	})
}

func (m *Manager) stopWatchdogsLocked(acc *account) {
	stopTimer(&acc.softTimer)
	stopTimer(&acc.hardTimer)
}

// watchdogFired only notifies; it never touches the cascade.
func (m *Manager) watchdogFired(acc *account, gen int, t events.Type, level events.Level, after time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.accounts[acc.id] != acc || acc.handshakeGen != gen {
		return
	}
	if acc.codeSeen || acc.authenticated {
		return
	}
	acctLog.Warn("handshake_watchdog",
		slog.String("account", acc.id),
		slog.String("type", string(t)),
		slog.Duration("after", after),
		slog.String("state", string(acc.state)))
	m.router.Notify(acc.id, t, level, map[string]any{
		"after": after.String(),
		"state": string(acc.state),
	})
}
