package proctor

import (
	"fmt"
	"time"
)

// Adapter subscribes to one signal family for the lifetime of a session.
//
// Attach registers every subscription and timer through the scope; the
// monitor releases all of them when the session ends, including those made
// before an Attach that returned an error.
type Adapter interface {
	Name() string
	Attach(sc *Scope) error
}

// Scope is an adapter's handle on the session it is attached to.
type Scope struct {
	m       *Monitor
	sess    *session
	adapter string
}

// Config returns the session's configuration snapshot.
func (sc *Scope) Config() *Config { return sc.sess.cfg }

// Capabilities returns the platform feature flags.
func (sc *Scope) Capabilities() Capabilities { return sc.m.platform.Capabilities() }

// WindowMetrics samples the platform window geometry.
func (sc *Scope) WindowMetrics() (WindowMetrics, bool) { return sc.m.platform.WindowMetrics() }

// Now returns the monitor clock's time.
func (sc *Scope) Now() time.Time { return sc.m.clock.Now() }

// On subscribes fn to signals of kind for the session. fn runs under the
// monitor lock and only while the session is active.
func (sc *Scope) On(kind SignalKind, fn func(st *SessionState, sig Signal)) error {
	cancel, err := sc.m.platform.Subscribe(kind, func(sig Signal) {
		sc.m.deliver(sc.sess, sc.adapter, func() {
			fn(&sc.sess.state, sig)
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", kind, err)
	}
	sc.sess.releases = append(sc.sess.releases, cancel)
	return nil
}

// Raise classifies ev and records the resulting violation, if any. It must
// only be called from a handler or task of this scope.
func (sc *Scope) Raise(ev Event) {
	if ev.At.IsZero() {
		ev.At = sc.Now()
	}
	sc.m.raiseLocked(sc.sess, ev)
}

// Task is a session-scoped scheduled callback.
type Task struct {
	sc       *Scope
	fn       func(st *SessionState)
	interval time.Duration
	repeat   bool
	timer    Timer
	stopped  bool
	// armed numbers each arm; a callback from an earlier arm that was
	// already waiting on the lock when Reset ran is ignored.
	armed uint64
}

// After runs fn once after d.
func (sc *Scope) After(d time.Duration, fn func(st *SessionState)) *Task {
	return sc.schedule(d, false, fn)
}

// Every runs fn every d until the session ends.
func (sc *Scope) Every(d time.Duration, fn func(st *SessionState)) *Task {
	return sc.schedule(d, true, fn)
}

func (sc *Scope) schedule(d time.Duration, repeat bool, fn func(st *SessionState)) *Task {
	t := &Task{sc: sc, fn: fn, interval: d, repeat: repeat}
	t.arm(d)
	sc.sess.releases = append(sc.sess.releases, t.Stop)
	return t
}

func (t *Task) arm(d time.Duration) {
	t.armed++
	n := t.armed
	t.timer = t.sc.m.clock.AfterFunc(d, func() { t.fire(n) })
}

func (t *Task) fire(n uint64) {
	t.sc.m.deliver(t.sc.sess, t.sc.adapter, func() {
		if t.stopped || n != t.armed {
			return
		}
		if t.repeat {
			t.arm(t.interval)
		}
		t.fn(&t.sc.sess.state)
	})
}

// Reset re-arms a task to fire d from now. Must be called under the monitor
// lock, i.e. from a handler or task.
func (t *Task) Reset(d time.Duration) {
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.arm(d)
}

// Stop cancels the task. Safe to call more than once.
func (t *Task) Stop() {
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
