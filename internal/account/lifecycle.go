package account

import (
	"context"
	"errors"
	"log/slog"

	"github.com/asheshgoplani/linkdeck/internal/errclass"
	"github.com/asheshgoplani/linkdeck/internal/errlog"
	"github.com/asheshgoplani/linkdeck/internal/events"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

// onSessionEvent is the persistent listener for the account's bound session.
// It runs under the manager lock so one account's transitions follow the
// order its signals were observed.
func (m *Manager) onSessionEvent(sess session.Session, id string, ev session.Event) {
	m.mu.Lock()
	acc, ok := m.accounts[id]
	if !ok || acc.sess != sess || m.closed {
		m.mu.Unlock()
		acctLog.Debug("stale_event_dropped",
			slog.String("account", id),
			slog.String("session", sess.ID()),
			slog.String("signal", string(ev.Signal)))
		return
	}

	m.router.Forward(id, ev)

	var toRelease session.Session
	switch ev.Signal {
	case session.SignalCodeReady:
		acc.codeSeen = true
		acc.lastCode = ev.Code
		m.stopWatchdogsLocked(acc)

	case session.SignalAuthenticated:
		m.markAuthenticatedLocked(acc, StateAuthenticated, "authenticated")

	case session.SignalReady:
		m.markAuthenticatedLocked(acc, StateReady, "ready")

	case session.SignalMessage:
		if ev.Message != nil {
			m.appendInboundLocked(acc, *ev.Message)
		}

	case session.SignalDisconnected:
		if acc.handshaking {
			break
		}
		switch acc.state {
		case StateReady, StateAuthenticated:
			toRelease = m.disconnectLocked(acc, ev.Reason)
		case StateHandshakePending:
			toRelease = m.handleErrorLocked(acc, signalError(ev, "disconnected"), "session disconnected")
		}

	case session.SignalAuthFailure:
		if acc.handshaking {
			break
		}
		toRelease = m.handleErrorLocked(acc, signalError(ev, "authentication failure"), "auth failure")

	case session.SignalGenericError:
		if acc.handshaking {
			err := signalError(ev, "session error")
			class := errclass.Classify(err)
			m.recordErrorLocked(acc, err, "during handshake", class)
			if class == errclass.Critical {
				toRelease = m.disableLocked(acc, err)
			}
			break
		}
		toRelease = m.handleErrorLocked(acc, signalError(ev, "session error"), "session error")
	}
	m.mu.Unlock()

	m.release(context.Background(), id, toRelease)
}

func signalError(ev session.Event, fallback string) error {
	if ev.Err != nil {
		return ev.Err
	}
	if ev.Reason != "" {
		return errors.New(ev.Reason)
	}
	return errors.New(fallback)
}

// markAuthenticatedLocked is idempotent. Ready is always preceded by
// Authenticated in the history.
func (m *Manager) markAuthenticatedLocked(acc *account, to State, reason string) {
	if acc.state == StateDisabled {
		return
	}
	first := !acc.authenticated
	acc.authenticated = true
	m.stopWatchdogsLocked(acc)
	if to == StateReady && acc.state != StateAuthenticated && acc.state != StateReady {
		m.setStateLocked(acc, StateAuthenticated, reason)
	}
	if to == StateAuthenticated && acc.state == StateReady {
		return
	}
	m.setStateLocked(acc, to, reason)
	if first {
		m.retry.Clear(acc.id)
	}
}

// disconnectLocked handles a drop from an established connection and arms
// the reconnect timer.
func (m *Manager) disconnectLocked(acc *account, reason string) session.Session {
	acc.authenticated = false
	if reason == "" {
		reason = "disconnected"
	}
	m.setStateLocked(acc, StateDisconnected, reason)
	sess := m.unbindLocked(acc)

	stopTimer(&acc.reconnectTimer)
	delay := m.cfg.ReconnectDelay
	acc.reconnectTimer = m.clock.AfterFunc(delay, func() { m.reconnect(acc) })
	acctLog.Info("reconnect_scheduled", slog.String("account", acc.id), slog.Duration("delay", delay))
	return sess
}

func (m *Manager) reconnect(acc *account) {
	m.mu.Lock()
	if m.closed || m.accounts[acc.id] != acc || acc.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	acc.reconnectTimer = nil
	m.mu.Unlock()

	m.connectInBackground(acc, "reconnect")
}

// retryConnect is the task handed to the retry scheduler.
func (m *Manager) retryConnect(acc *account) {
	m.mu.Lock()
	if m.closed || m.accounts[acc.id] != acc || acc.state == StateDisabled {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.connectInBackground(acc, "retry")
}

// connectInBackground runs a cascade on the manager's lifetime context and
// feeds a failure back into error handling.
func (m *Manager) connectInBackground(acc *account, trigger string) {
	if _, err := m.runCascade(m.ctx, acc.id, trigger); err != nil {
		if m.ctx.Err() != nil || errors.Is(err, ErrNotFound) {
			return
		}
		var herr *HandshakeError
		if !errors.As(err, &herr) {
			return
		}
		m.mu.Lock()
		var toRelease session.Session
		if !m.closed && m.accounts[acc.id] == acc {
			toRelease = m.handleErrorLocked(acc, err, trigger+" failed")
		}
		m.mu.Unlock()
		m.release(context.Background(), acc.id, toRelease)
	}
}

func (m *Manager) recordErrorLocked(acc *account, err error, where string, class errclass.Class) {
	acctLog.Warn("account_error",
		slog.String("account", acc.id),
		slog.String("context", where),
		slog.String("class", class.String()),
		slog.String("error", err.Error()))
	m.errors.Add(errlog.Entry{
		AccountID: acc.id,
		Message:   err.Error(),
		Context:   where,
		Class:     class.String(),
		Timestamp: m.clock.Now(),
	})
}

// handleErrorLocked classifies a background error and either disables the
// account or hands it to the retry scheduler. It returns a session the caller
// must release after unlocking.
func (m *Manager) handleErrorLocked(acc *account, err error, where string) session.Session {
	class := classify(err)
	m.recordErrorLocked(acc, err, where, class)
	if acc.state == StateDisabled {
		return nil
	}
	if class == errclass.Critical {
		return m.disableLocked(acc, err)
	}

	dec := m.retry.Schedule(acc.id, class, func() { m.retryConnect(acc) })
	if dec.Exhausted {
		acc.authenticated = false
		sess := m.teardownLocked(acc)
		if acc.state.Active() {
			m.setStateLocked(acc, StateDisconnected, "retries exhausted")
		}
		m.router.Notify(acc.id, events.TypeRetryExhausted, events.LevelError, map[string]any{
			"attempts": dec.Attempt,
			"class":    class.String(),
			"error":    err.Error(),
		})
		return sess
	}
	m.router.Notify(acc.id, events.TypeRetryScheduled, events.Level(class.Level()), map[string]any{
		"attempt": dec.Attempt,
		"delayMs": dec.Delay.Milliseconds(),
		"class":   class.String(),
		"error":   err.Error(),
	})
	return nil
}

// classify reads a failed cascade by its strategy reasons only.
func classify(err error) errclass.Class {
	var herr *HandshakeError
	if errors.As(err, &herr) {
		return errclass.ClassifyMessage(herr.Cause())
	}
	return errclass.Classify(err)
}

// disableLocked moves the account to the terminal Disabled state.
func (m *Manager) disableLocked(acc *account, cause error) session.Session {
	acc.authenticated = false
	sess := m.teardownLocked(acc)
	m.retry.Clear(acc.id)
	m.setStateLocked(acc, StateDisabled, cause.Error())
	m.router.Notify(acc.id, events.TypeAccountDisabled, events.LevelCritical, map[string]any{
		"reason": cause.Error(),
	})
	return sess
}
