// Package handshake races a fresh session's lifecycle signals against a
// timeout and a liveness probe, resolving exactly once.
package handshake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asheshgoplani/linkdeck/internal/logging"
	"github.com/asheshgoplani/linkdeck/internal/session"
)

var hsLog = logging.ForComponent(logging.CompHandshake)

// Kind is the terminal result class of one handshake attempt.
type Kind int

const (
	Failure Kind = iota
	CodeReady
	AlreadyAuthenticated
)

func (k Kind) String() string {
	switch k {
	case CodeReady:
		return "code_ready"
	case AlreadyAuthenticated:
		return "already_authenticated"
	default:
		return "failure"
	}
}

// Failure reasons produced by the waiter itself.
const (
	ReasonTimedOut     = "timed out"
	ReasonUnresponsive = "unresponsive"
	ReasonDisconnected = "disconnected"
	ReasonCancelled    = "cancelled"
	ReasonAuthFailure  = "authentication failure"
)

// Outcome is what one attempt resolved to.
type Outcome struct {
	Kind   Kind
	Code   string
	Reason string
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Kind != Failure }

// Options bound one wait.
type Options struct {
	Timeout             time.Duration
	HealthCheckInterval time.Duration
	MaxHealthChecks     int
	// InitGrace is how long an Initialize error may be outlived by a
	// recovering runtime before it counts as failure.
	InitGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 5 * time.Second
	}
	if o.MaxHealthChecks <= 0 {
		o.MaxHealthChecks = 3
	}
	if o.InitGrace <= 0 {
		o.InitGrace = 3 * time.Second
	}
	return o
}

// OptionsFor derives wait options from a cascade strategy.
func OptionsFor(s session.Strategy, initGrace time.Duration) Options {
	return Options{
		Timeout:             s.Timeout,
		HealthCheckInterval: s.HealthCheckInterval,
		MaxHealthChecks:     s.MaxHealthChecks,
		InitGrace:           initGrace,
	}
}

// resolver is a single-fire completion: the first resolve wins, the rest
// are no-ops.
type resolver struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newResolver() *resolver {
	return &resolver{done: make(chan struct{})}
}

// resolve reports whether this call decided the outcome.
func (r *resolver) resolve(o Outcome) bool {
	won := false
	r.once.Do(func() {
		r.outcome = o
		won = true
		close(r.done)
	})
	return won
}

func (r *resolver) result() Outcome {
	<-r.done
	return r.outcome
}

// Waiter runs handshake waits. It holds no per-wait state.
type Waiter struct{}

// NewWaiter returns a Waiter.
func NewWaiter() *Waiter { return &Waiter{} }

// Wait subscribes to sess, starts its Initialize in the background and
// returns the first terminal outcome. On return the subscription, timers
// and probe are gone and the Initialize context is cancelled.
func (w *Waiter) Wait(ctx context.Context, sess session.Session, opts Options) Outcome {
	opts = opts.withDefaults()
	r := newResolver()
	log := hsLog.With(slog.String("account", sess.AccountID()), slog.String("strategy", sess.Strategy().Name))

	unsubscribe := sess.Subscribe(func(ev session.Event) {
		switch ev.Signal {
		case session.SignalCodeReady:
			r.resolve(Outcome{Kind: CodeReady, Code: ev.Code})
		case session.SignalAuthenticated, session.SignalReady:
			r.resolve(Outcome{Kind: AlreadyAuthenticated})
		case session.SignalAuthFailure:
			reason := ev.Reason
			if reason == "" {
				reason = ReasonAuthFailure
			}
			r.resolve(Outcome{Kind: Failure, Reason: reason})
		case session.SignalDisconnected:
			r.resolve(Outcome{Kind: Failure, Reason: ReasonDisconnected})
		}
	})
	defer unsubscribe()

	initCtx, cancelInit := context.WithCancel(ctx)
	defer cancelInit()
	initErr := make(chan error, 1)
	go func() {
		if err := sess.Initialize(initCtx); err != nil {
			initErr <- err
		}
	}()

	timeout := time.NewTimer(opts.Timeout)
	defer timeout.Stop()
	probe := time.NewTicker(opts.HealthCheckInterval)
	defer probe.Stop()

	var (
		grace     *time.Timer
		graceC    <-chan time.Time
		lastErr   error
		failedHCs int
	)
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	for {
		select {
		case <-r.done:
			out := r.result()
			log.Info("handshake_resolved", slog.String("kind", out.Kind.String()), slog.String("reason", out.Reason))
			return out

		case <-ctx.Done():
			r.resolve(Outcome{Kind: Failure, Reason: ReasonCancelled})

		case <-timeout.C:
			r.resolve(Outcome{Kind: Failure, Reason: ReasonTimedOut})

		case <-probe.C:
			probeCtx, cancel := context.WithTimeout(ctx, opts.HealthCheckInterval)
			alive := sess.Alive(probeCtx)
			cancel()
			if alive {
				continue
			}
			failedHCs++
			log.Warn("health_check_failed", slog.Int("failed", failedHCs), slog.Int("max", opts.MaxHealthChecks))
			if failedHCs > opts.MaxHealthChecks {
				r.resolve(Outcome{Kind: Failure, Reason: ReasonUnresponsive})
			}

		case err := <-initErr:
			lastErr = err
			log.Warn("initialize_failed_grace", slog.String("error", err.Error()), slog.Duration("grace", opts.InitGrace))
			grace = time.NewTimer(opts.InitGrace)
			graceC = grace.C

		case <-graceC:
			r.resolve(Outcome{Kind: Failure, Reason: fmt.Sprintf("initialize failed: %v", lastErr)})
		}
	}
}
