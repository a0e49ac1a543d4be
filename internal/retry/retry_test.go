package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/linkdeck/internal/clock"
	"github.com/asheshgoplani/linkdeck/internal/errclass"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// failingRetry re-reports the same class every time it fires, like a
// reconnect that keeps failing.
func failingRetry(s *Scheduler, f *clock.Fake, class errclass.Class) (start func() Decision, fired *[]time.Duration, last *Decision) {
	var offsets []time.Duration
	var final Decision
	var retry func()
	retry = func() {
		offsets = append(offsets, f.Now().Sub(epoch))
		final = s.Schedule("a1", class, retry)
	}
	return func() Decision { return s.Schedule("a1", class, retry) }, &offsets, &final
}

func TestNetworkRetriesThreeTimesAtFixedDelay(t *testing.T) {
	f := clock.NewFake(epoch)
	s := New(DefaultPolicy(), f)

	start, fired, last := failingRetry(s, f, errclass.NetworkTransient)
	first := start()
	assert.Equal(t, Decision{Class: errclass.NetworkTransient, Attempt: 1, Delay: 5 * time.Second}, first)

	f.Advance(time.Minute)

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, *fired)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, f.Delays())
	assert.True(t, last.Exhausted)
	assert.Equal(t, 0, s.Attempts("a1"))
	assert.False(t, s.Pending("a1"))
}

func TestGenericRetriesBackOffExponentially(t *testing.T) {
	f := clock.NewFake(epoch)
	s := New(DefaultPolicy(), f)

	start, fired, last := failingRetry(s, f, errclass.Generic)
	start()
	f.Advance(5 * time.Minute)

	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}, f.Delays())
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 70 * time.Second}, *fired)
	assert.True(t, last.Exhausted)
	assert.Equal(t, 0, f.Pending())
}

func TestSuccessClearsCounter(t *testing.T) {
	f := clock.NewFake(epoch)
	s := New(DefaultPolicy(), f)

	var retry func()
	calls := 0
	retry = func() {
		calls++
		if calls == 2 {
			s.Clear("a1")
			return
		}
		s.Schedule("a1", errclass.Generic, retry)
	}
	s.Schedule("a1", errclass.Generic, retry)

	f.Advance(10 * time.Second)
	assert.Equal(t, 2, s.Attempts("a1"))

	f.Advance(20 * time.Second)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, s.Attempts("a1"))
	assert.False(t, s.Pending("a1"))

	d := s.Schedule("a1", errclass.Generic, func() {})
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, 10*time.Second, d.Delay)
}

func TestCriticalDisablesWithoutScheduling(t *testing.T) {
	f := clock.NewFake(epoch)
	s := New(DefaultPolicy(), f)

	s.Schedule("a1", errclass.NetworkTransient, func() { t.Fatal("must not fire") })
	require.True(t, s.Pending("a1"))

	d := s.Schedule("a1", errclass.Critical, func() { t.Fatal("must not fire") })
	assert.True(t, d.Disable)
	assert.False(t, d.Scheduled())
	assert.Equal(t, 0, s.Attempts("a1"))
	assert.Equal(t, 0, f.Pending())

	f.Advance(time.Hour)
}

func TestReissueNeverLeavesTwoTimers(t *testing.T) {
	f := clock.NewFake(epoch)
	s := New(DefaultPolicy(), f)

	fired := 0
	s.Schedule("a1", errclass.Generic, func() { fired++ })
	s.Schedule("a1", errclass.Generic, func() { fired++ })

	assert.Equal(t, 1, f.Pending())
	assert.Equal(t, 2, s.Attempts("a1"))

	f.Advance(time.Hour)
	assert.Equal(t, 1, fired)
}

func TestAccountsAreIndependent(t *testing.T) {
	f := clock.NewFake(epoch)
	s := New(DefaultPolicy(), f)

	s.Schedule("a1", errclass.Generic, func() {})
	s.Schedule("a2", errclass.NetworkTransient, func() {})
	s.Clear("a1")

	assert.False(t, s.Pending("a1"))
	assert.True(t, s.Pending("a2"))
	assert.Equal(t, 1, f.Pending())
}

func TestCancelAll(t *testing.T) {
	f := clock.NewFake(epoch)
	s := New(DefaultPolicy(), f)
	for _, id := range []string{"a1", "a2", "a3"} {
		s.Schedule(id, errclass.Generic, func() { t.Fatal("cancelled task fired") })
	}
	s.CancelAll()
	assert.Equal(t, 0, f.Pending())
	f.Advance(time.Hour)
}

func TestSetPolicyAppliesDefaults(t *testing.T) {
	s := New(Policy{}, clock.NewFake(epoch))
	assert.Equal(t, DefaultPolicy(), s.Policy())

	s.SetPolicy(Policy{MaxRetries: 1, NetworkDelay: time.Second})
	p := s.Policy()
	assert.Equal(t, 1, p.MaxRetries)
	assert.Equal(t, time.Second, p.NetworkDelay)
	assert.Equal(t, 10*time.Second, p.BaseDelay)
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5*time.Second, p.Delay(errclass.NetworkTransient, 3))
	assert.Equal(t, 10*time.Second, p.Delay(errclass.Generic, 0))
	assert.Equal(t, 40*time.Second, p.Delay(errclass.Generic, 3))
}
