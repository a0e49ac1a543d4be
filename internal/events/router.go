package events

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/linkdeck/internal/logging"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

var eventsLog = logging.ForComponent(logging.CompEvents)

// ProgressRate caps loading-progress events per account.
const ProgressRate = rate.Limit(4)

// Router stamps every event with its owning account before it reaches the
// sink. Events without an account are dropped.
type Router struct {
	sink Sink
	now  func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRouter returns a router delivering to sink (nil means Discard).
func NewRouter(sink Sink) *Router {
	if sink == nil {
		sink = Discard
	}
	return &Router{
		sink:     sink,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Attach subscribes to sess and passes each of its events to h tagged with
// accountID. A session bound to a different account is refused.
func (r *Router) Attach(accountID string, sess session.Session, h func(accountID string, ev session.Event)) (detach func()) {
	if accountID == "" || sess.AccountID() != accountID {
		eventsLog.Error("attach_refused",
			slog.String("account", accountID),
			slog.String("session_account", sess.AccountID()))
		return func() {}
	}
	return sess.Subscribe(func(ev session.Event) {
		h(accountID, ev)
	})
}

// Forward translates a session event and delivers it.
func (r *Router) Forward(accountID string, ev session.Event) bool {
	e := Event{AccountID: accountID, Level: LevelInfo, Timestamp: ev.At}
	switch ev.Signal {
	case session.SignalCodeReady:
		e.Type = TypeCodeReady
		e.Payload = map[string]any{"code": ev.Code}
	case session.SignalLoadingProgress:
		e.Type = TypeLoadingProgress
		e.Payload = map[string]any{"percent": ev.Percent}
	case session.SignalAuthenticated:
		e.Type = TypeAuthenticated
	case session.SignalReady:
		e.Type = TypeReady
	case session.SignalAuthFailure:
		e.Type, e.Level = TypeAuthFailure, LevelError
		e.Payload = map[string]any{"reason": ev.Reason}
	case session.SignalDisconnected:
		e.Type, e.Level = TypeDisconnected, LevelWarning
		e.Payload = map[string]any{"reason": ev.Reason}
	case session.SignalGenericError:
		e.Type, e.Level = TypeGenericError, LevelError
		msg := ev.Reason
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		e.Payload = map[string]any{"error": msg}
	case session.SignalMessage:
		e.Type = TypeMessage
		if m := ev.Message; m != nil {
			e.Payload = map[string]any{
				"messageId":      m.ID,
				"conversationId": m.ConversationID,
				"from":           m.From,
				"text":           m.Text,
			}
		}
	default:
		eventsLog.Debug("unknown_signal_dropped", slog.String("account", accountID), slog.String("signal", string(ev.Signal)))
		return false
	}
	return r.Emit(e)
}

// Notify builds and delivers a core notification.
func (r *Router) Notify(accountID string, t Type, level Level, payload map[string]any) bool {
	return r.Emit(Event{AccountID: accountID, Type: t, Level: level, Payload: payload})
}

// Emit delivers e unless it lacks an account or is a throttled progress
// update. It reports whether the sink received it.
func (r *Router) Emit(e Event) bool {
	if e.AccountID == "" {
		eventsLog.Warn("unattributed_event_dropped", slog.String("type", string(e.Type)))
		return false
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if e.Type == TypeLoadingProgress && !r.limiter(e.AccountID).AllowN(e.Timestamp, 1) {
		logging.Aggregate(logging.CompEvents, "loading_progress_throttled", slog.String("account", e.AccountID))
		return false
	}
	r.deliver(e)
	return true
}

func (r *Router) deliver(e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			eventsLog.Error("sink_panic", slog.String("account", e.AccountID), slog.String("type", string(e.Type)), slog.Any("panic", rec))
		}
	}()
	r.sink.Emit(e)
}

func (r *Router) limiter(accountID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[accountID]
	if !ok {
		l = rate.NewLimiter(ProgressRate, 1)
		r.limiters[accountID] = l
	}
	return l
}

// Forget drops per-account throttle state.
func (r *Router) Forget(accountID string) {
	r.mu.Lock()
	delete(r.limiters, accountID)
	r.mu.Unlock()
}
