// Package timeutil provides timer helpers for the SIP core.
package timeutil

import (
	"sync"
	"time"
)

// Timer is a resettable one-shot timer with an absolute deadline.
// Unlike a bare [time.Timer] it exposes its remaining duration and
// tolerates Reset/Stop races from timer callbacks.
type Timer struct {
	mu       sync.Mutex
	deadline time.Time
	duration time.Duration
	callback func()
	inner    *time.Timer
	stopped  bool
}

// AfterFunc creates a started Timer that calls fn once d elapses.
func AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{
		deadline: time.Now().Add(d),
		duration: d,
		callback: fn,
	}
	t.inner = time.AfterFunc(d, t.fire)
	return t
}

func (t *Timer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	fn := t.callback
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Duration returns the duration the timer was last armed with.
func (t *Timer) Duration() time.Duration {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Left returns the time remaining until the deadline, zero when passed.
func (t *Timer) Left() time.Duration {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	left := time.Until(t.deadline)
	if left < 0 {
		return 0
	}
	return left
}

// Reset re-arms the timer with a new duration from now.
func (t *Timer) Reset(d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.duration = d
	t.deadline = time.Now().Add(d)
	t.stopped = false
	t.inner.Reset(d)
	t.mu.Unlock()
}

// Stop cancels the timer. It reports whether the call prevented the
// callback from firing.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return t.inner.Stop()
}
