package proctor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotActive is returned for operations requiring an active session.
	ErrNotActive = errors.New("proctor: session not active")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("proctor: monitor closed")
)

// Observer receives monitor telemetry. Implementations must not block and
// must not call back into the monitor.
type Observer interface {
	SessionStarted(id string)
	SessionEnded(id string, duration time.Duration)
	ViolationRecorded(v Violation)
	Escalated(n Notice)
	AuditEvicted()
	AdapterFailed(adapter string)
}

// Options carries a Monitor's collaborators. Every field is optional.
type Options struct {
	// Clock drives timers. Defaults to SystemClock.
	Clock Clock

	// Logger receives diagnostics. Defaults to slog.Default.
	Logger *slog.Logger

	// OnViolation is invoked once per recorded violation with its message.
	OnViolation func(message string)

	// Notifier receives the escalation notice for every violation.
	Notifier Notifier

	// Observer receives telemetry.
	Observer Observer

	// Adapters overrides the default adapter set.
	Adapters []Adapter
}

// Monitor is the session state machine. It owns the current session and
// serialises every handler, timer and host call behind one lock.
type Monitor struct {
	mu sync.Mutex

	cfg      *Config
	platform Platform
	clock    Clock
	logger   *slog.Logger
	adapters []Adapter

	onViolation func(message string)
	notifier    Notifier
	observer    Observer

	current *session
	gen     uint64
	closed  bool

	subscribers []chan Violation

	// outbox holds host deliveries produced under mu; dispatching
	// serialises their delivery outside it.
	outbox      []delivery
	dispatching sync.Mutex
}

type delivery struct {
	violation Violation
	notice    Notice
}

// New creates a Monitor for the given platform.
func New(cfg *Config, platform Platform, opts Options) (*Monitor, error) {
	if platform == nil {
		return nil, errors.New("proctor: platform is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:         cfg.Clone(),
		platform:    platform,
		clock:       opts.Clock,
		logger:      opts.Logger,
		adapters:    opts.Adapters,
		onViolation: opts.OnViolation,
		notifier:    opts.Notifier,
		observer:    opts.Observer,
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "proctor")
	if m.adapters == nil {
		m.adapters = DefaultAdapters()
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	return m, nil
}

// DefaultAdapters returns one adapter per supported signal family.
func DefaultAdapters() []Adapter {
	return []Adapter{
		PresentationAdapter{},
		VisibilityAdapter{},
		FocusAdapter{},
		KeyboardAdapter{},
		PointerAdapter{},
		DevToolsAdapter{},
		TouchAdapter{},
		InactivityAdapter{},
		LivenessAdapter{},
	}
}

// SetConfig replaces the configuration. The running session keeps its
// snapshot; the next activation uses cfg.
func (m *Monitor) SetConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
	return nil
}

// SetActive is the host's activation flag. Activating an inactive monitor
// starts a brand-new session with zeroed counters and an empty audit log;
// deactivating releases every listener and timer of the current session.
//
// Activation registers every adapter even if some fail; the returned error
// joins their registration failures and the session stays active.
func (m *Monitor) SetActive(active bool) error {
	if active {
		return m.activate()
	}
	m.deactivate()
	return nil
}

func (m *Monitor) activate() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.current != nil && m.current.state.Active {
		m.mu.Unlock()
		return nil
	}

	m.gen++
	now := m.clock.Now()
	sess := newSession(uuid.NewString(), m.gen, m.cfg.Clone(), now)
	m.current = sess

	var errs []error
	for _, a := range m.adapters {
		if err := m.attach(sess, a); err != nil {
			m.logger.Warn("adapter registration failed", "adapter", a.Name(), "error", err)
			m.observer.AdapterFailed(a.Name())
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	sess.state.Watching = true
	if m.platform.Capabilities().Fullscreen {
		// The page may already be presenting when the session starts.
		sess.state.Fullscreen = m.platform.Fullscreen()
	}

	if sess.cfg.AutoFullscreen && m.platform.Capabilities().Fullscreen {
		m.scheduleFullscreen(sess)
	}

	m.observer.SessionStarted(sess.id)
	m.logger.Info("session activated",
		"session_id", sess.id,
		"adapters", len(m.adapters),
		"failed", len(errs),
	)
	m.mu.Unlock()

	return errors.Join(errs...)
}

// attach runs a.Attach, turning a panic into an error.
func (m *Monitor) attach(sess *session, a Adapter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during attach: %v", r)
		}
	}()
	return a.Attach(&Scope{m: m, sess: sess, adapter: a.Name()})
}

// scheduleFullscreen defers the first presentation-mode request. The
// request itself is made outside the monitor lock.
func (m *Monitor) scheduleFullscreen(sess *session) {
	t := m.clock.AfterFunc(sess.cfg.FullscreenDelay, func() {
		m.mu.Lock()
		live := m.current == sess && sess.state.Active
		m.mu.Unlock()
		if !live {
			return
		}
		if err := m.EnterFullscreen(); err != nil {
			m.logger.Debug("deferred fullscreen request failed", "session_id", sess.id, "error", err)
		}
	})
	sess.releases = append(sess.releases, func() { t.Stop() })
}

func (m *Monitor) deactivate() {
	m.mu.Lock()

	sess := m.current
	if sess == nil || !sess.state.Active {
		m.mu.Unlock()
		return
	}

	wasFullscreen := sess.state.Fullscreen
	sess.state.Active = false
	sess.state.Watching = false
	sess.state.Fullscreen = false
	sess.endedAt = m.clock.Now()
	sess.release()

	m.observer.SessionEnded(sess.id, sess.endedAt.Sub(sess.startedAt))
	m.logger.Info("session deactivated",
		"session_id", sess.id,
		"violations", sess.counters.Total(),
	)
	m.mu.Unlock()

	if wasFullscreen {
		if err := m.platform.ExitFullscreen(); err != nil {
			m.logger.Debug("exit fullscreen on teardown failed", "error", err)
		}
	}
}

// EnterFullscreen requests presentation mode for the active session.
// Recognised capability failures are logged and returned; any other failure
// is additionally recorded as a fullscreen warning.
func (m *Monitor) EnterFullscreen() error {
	m.mu.Lock()
	sess := m.current
	if sess == nil || !sess.state.Active {
		m.mu.Unlock()
		return ErrNotActive
	}
	if sess.state.Fullscreen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if !m.platform.Capabilities().Fullscreen {
		m.logger.Info("fullscreen not supported", "session_id", sess.id)
		return ErrFullscreenUnsupported
	}

	err := m.platform.RequestFullscreen()
	if err == nil {
		return nil
	}
	if capabilityError(err) {
		m.logger.Info("fullscreen request refused", "session_id", sess.id, "error", err)
		return err
	}

	m.logger.Warn("fullscreen request failed", "session_id", sess.id, "error", err)
	m.deliver(sess, "presentation", func() {
		m.raiseLocked(sess, Event{
			Type:   ViolationFullscreen,
			At:     m.clock.Now(),
			Detail: err.Error(),
		})
	})
	return err
}

// ExitFullscreen leaves presentation mode. While the session is active the
// resulting exit is a critical violation like any other.
func (m *Monitor) ExitFullscreen() error {
	return m.platform.ExitFullscreen()
}

// Acknowledge confirms the pending critical violation. It reports whether
// one was pending.
func (m *Monitor) Acknowledge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	return m.current.escalator.Acknowledge()
}

// Subscribe returns a channel receiving every recorded violation. Slow
// subscribers miss violations rather than block the monitor. The channel is
// closed by Close.
func (m *Monitor) Subscribe() <-chan Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Violation, m.cfg.SubscriberBuffer)
	if m.closed {
		close(ch)
		return ch
	}
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Close deactivates the monitor and closes subscriber channels.
func (m *Monitor) Close() error {
	m.deactivate()
	m.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	return nil
}

// deliver runs fn under the lock if sess is still the live session, then
// flushes host deliveries. A panic in fn is contained to this event.
func (m *Monitor) deliver(sess *session, adapter string, fn func()) {
	m.mu.Lock()
	if m.current != sess || !sess.state.Active {
		m.mu.Unlock()
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("adapter handler failed", "adapter", adapter, "panic", r)
				m.observer.AdapterFailed(adapter)
			}
		}()
		fn()
	}()
	m.mu.Unlock()

	m.flush()
}

// raiseLocked classifies ev and records the violation. Caller holds mu.
func (m *Monitor) raiseLocked(sess *session, ev Event) {
	if !sess.state.Active {
		return
	}
	v, ok := Classify(ev, sess.cfg.Thresholds())
	if !ok {
		return
	}
	v.ID = uuid.NewString()

	if sess.record(v) {
		m.observer.AuditEvicted()
	}
	notice := sess.escalator.Escalate(v)
	notice.SessionID = sess.id

	m.observer.ViolationRecorded(v)
	m.observer.Escalated(notice)
	m.logger.Debug("violation recorded",
		"session_id", sess.id,
		"type", v.Type,
		"severity", v.Severity,
		"treatment", notice.Treatment,
	)

	for _, ch := range m.subscribers {
		select {
		case ch <- v.clone():
		default:
			// Skip slow subscribers
		}
	}
	m.outbox = append(m.outbox, delivery{violation: v, notice: notice})
}

// flush delivers queued host callbacks in arrival order. Only one goroutine
// delivers at a time; a re-entrant call from inside a callback returns
// immediately and its deliveries are picked up by the outer loop.
func (m *Monitor) flush() {
	for {
		if !m.dispatching.TryLock() {
			return
		}
		for {
			m.mu.Lock()
			batch := m.outbox
			m.outbox = nil
			m.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, d := range batch {
				m.dispatch(d)
			}
		}
		m.dispatching.Unlock()

		m.mu.Lock()
		more := len(m.outbox) > 0
		m.mu.Unlock()
		if !more {
			return
		}
	}
}

func (m *Monitor) dispatch(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("host callback failed", "violation_id", d.violation.ID, "panic", r)
		}
	}()
	if m.onViolation != nil {
		m.onViolation(d.violation.Message)
	}
	if m.notifier != nil {
		m.notifier.Notify(d.notice)
	}
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string) {}
func (nopObserver) SessionEnded(string, time.Duration) {}
func (nopObserver) ViolationRecorded(Violation) {}
func (nopObserver) Escalated(Notice) {}
func (nopObserver) AuditEvicted() {}
func (nopObserver) AdapterFailed(string) {}
