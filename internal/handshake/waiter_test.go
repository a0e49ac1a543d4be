package handshake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/linkdeck/internal/session"
	"github.com/asheshgoplani/linkdeck/internal/session/sessiontest"
)

func fastOptions() Options {
	return Options{
		Timeout:             2 * time.Second,
		HealthCheckInterval: 20 * time.Millisecond,
		MaxHealthChecks:     3,
		InitGrace:           100 * time.Millisecond,
	}
}

func newFake(b sessiontest.Behavior) *sessiontest.Session {
	return sessiontest.NewSession("s1", "a1", session.DefaultCascade()[0], b)
}

func TestWaitOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		b      sessiontest.Behavior
		kind   Kind
		code   string
		reason string
	}{
		{name: "code ready", b: sessiontest.Behavior{Code: "c1"}, kind: CodeReady, code: "c1"},
		{name: "already authenticated", b: sessiontest.Behavior{Authenticated: true}, kind: AlreadyAuthenticated},
		{name: "auth failure", b: sessiontest.Behavior{AuthFailure: "code rejected"}, kind: Failure, reason: "code rejected"},
		{name: "disconnected", b: sessiontest.Behavior{Disconnect: true}, kind: Failure, reason: ReasonDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFake(tt.b)
			out := NewWaiter().Wait(context.Background(), sess, fastOptions())

			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.code, out.Code)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, 0, sess.Subscribers(), "listener must be removed on resolution")
			assert.Equal(t, 1, sess.Initialized())
		})
	}
}

func TestWaitTimesOut(t *testing.T) {
	opts := fastOptions()
	opts.Timeout = 60 * time.Millisecond

	start := time.Now()
	out := NewWaiter().Wait(context.Background(), newFake(sessiontest.Behavior{}), opts)

	assert.Equal(t, Failure, out.Kind)
	assert.Equal(t, ReasonTimedOut, out.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitUnresponsiveAfterMaxHealthChecks(t *testing.T) {
	out := NewWaiter().Wait(context.Background(), newFake(sessiontest.Behavior{Dead: true}), fastOptions())
	assert.Equal(t, Failure, out.Kind)
	assert.Equal(t, ReasonUnresponsive, out.Reason)
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	out := NewWaiter().Wait(ctx, newFake(sessiontest.Behavior{}), fastOptions())
	assert.Equal(t, ReasonCancelled, out.Reason)
}

func TestWaitInitErrorAfterGrace(t *testing.T) {
	sess := newFake(sessiontest.Behavior{InitErr: errors.New("connect browser: refused")})
	out := NewWaiter().Wait(context.Background(), sess, fastOptions())

	assert.Equal(t, Failure, out.Kind)
	assert.Contains(t, out.Reason, "initialize failed")
	assert.Contains(t, out.Reason, "refused")
}

func TestWaitInitErrorRecoversWithinGrace(t *testing.T) {
	sess := newFake(sessiontest.Behavior{InitErr: errors.New("transient")})
	opts := fastOptions()
	opts.InitGrace = 500 * time.Millisecond

	go func() {
		time.Sleep(50 * time.Millisecond)
		sess.Emit(session.Event{Signal: session.SignalCodeReady, Code: "late"})
	}()
	out := NewWaiter().Wait(context.Background(), sess, opts)

	assert.Equal(t, CodeReady, out.Kind)
	assert.Equal(t, "late", out.Code)
}

func TestWaitIgnoresSignalsAfterResolution(t *testing.T) {
	sess := newFake(sessiontest.Behavior{Code: "first"})

	out := NewWaiter().Wait(context.Background(), sess, fastOptions())
	sess.Emit(session.Event{Signal: session.SignalAuthFailure, Reason: "late"})

	assert.Equal(t, CodeReady, out.Kind)
	assert.Equal(t, "first", out.Code)
	assert.Equal(t, 0, sess.Subscribers())
}

func TestResolverExactlyOnceUnderRace(t *testing.T) {
	for range 50 {
		r := newResolver()
		var winners atomic.Int32
		var winner atomic.Value
		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				o := Outcome{Kind: Kind(i % 3), Reason: string(rune('a' + i))}
				if r.resolve(o) {
					winners.Add(1)
					winner.Store(o)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), winners.Load())
		assert.Equal(t, winner.Load().(Outcome), r.result())
	}
}

func TestOptionsFor(t *testing.T) {
	s := session.DefaultCascade()[1]
	o := OptionsFor(s, 2*time.Second)
	assert.Equal(t, s.Timeout, o.Timeout)
	assert.Equal(t, s.HealthCheckInterval, o.HealthCheckInterval)
	assert.Equal(t, s.MaxHealthChecks, o.MaxHealthChecks)
	assert.Equal(t, 2*time.Second, o.InitGrace)

	d := Options{}.withDefaults()
	assert.Equal(t, 3*time.Second, d.InitGrace)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "code_ready", CodeReady.String())
	assert.Equal(t, "already_authenticated", AlreadyAuthenticated.String())
	assert.Equal(t, "failure", Failure.String())
}
