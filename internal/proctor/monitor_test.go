package proctor_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctord/internal/proctor"
	"proctord/internal/signalbus"
)

var start = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	clock   *proctor.ManualClock
	bus     *signalbus.Bus
	mon     *proctor.Monitor
	cfg     *proctor.Config
	mu      sync.Mutex
	alerts  []string
	notices []proctor.Notice
}

func newHarness(t *testing.T, cfg *proctor.Config, caps proctor.Capabilities, adapters ...proctor.Adapter) *harness {
	t.Helper()
	if cfg == nil {
		cfg = proctor.DefaultConfig()
	}
	h := &harness{
		t:     t,
		clock: proctor.NewManualClock(start),
		bus:   signalbus.New(caps),
		cfg:   cfg,
	}
	h.bus.SetClock(h.clock.Now)

	opts := proctor.Options{
		Clock: h.clock,
		OnViolation: func(msg string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.alerts = append(h.alerts, msg)
		},
		Notifier: proctor.NotifierFunc(func(n proctor.Notice) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notices = append(h.notices, n)
		}),
	}
	if len(adapters) > 0 {
		opts.Adapters = adapters
	}

	mon, err := proctor.New(cfg, h.bus, opts)
	require.NoError(t, err)
	h.mon = mon
	t.Cleanup(func() { _ = mon.Close() })
	return h
}

func (h *harness) activate() {
	h.t.Helper()
	require.NoError(h.t, h.mon.SetActive(true))
}

func (h *harness) emit(sig proctor.Signal) signalbus.Outcome {
	return h.bus.Emit(sig)
}

func (h *harness) typesOf() []proctor.ViolationType {
	var out []proctor.ViolationType
	for _, v := range h.mon.Violations() {
		out = append(out, v.Type)
	}
	return out
}

func (h *harness) lastNotice() proctor.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.notices)
	return h.notices[len(h.notices)-1]
}

func noFullscreen() *proctor.Config {
	return proctor.DefaultConfig().WithAutoFullscreen(false)
}

func TestInactiveMonitorIgnoresSignals(t *testing.T) {
	h := newHarness(t, nil, signalbus.Desktop())

	out := h.emit(proctor.Signal{Kind: proctor.SignalVisibilityChange, Hidden: true})
	h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})
	h.emit(proctor.Signal{Kind: proctor.SignalKeyDown, Key: proctor.KeyPress{Key: "F12"}})
	h.clock.Advance(10 * time.Minute)

	assert.Equal(t, 0, out.Delivered)
	assert.Empty(t, h.mon.Violations())
	assert.Empty(t, h.alerts)
	assert.Equal(t, proctor.StateInactive, h.mon.Status().Phase)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestHiddenReturnEscalates(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	h.emit(proctor.Signal{Kind: proctor.SignalVisibilityChange, Hidden: true})
	h.clock.Advance(6000 * time.Millisecond)
	h.emit(proctor.Signal{Kind: proctor.SignalVisibilityChange, Hidden: false})

	vs := h.mon.Violations()
	require.Len(t, vs, 2)

	assert.Equal(t, proctor.ViolationTabSwitch, vs[0].Type)
	assert.Equal(t, proctor.SeverityWarning, vs[0].Severity)

	assert.Equal(t, proctor.ViolationTabSwitch, vs[1].Type)
	assert.Equal(t, proctor.SeverityCritical, vs[1].Severity)
	assert.Equal(t, "Page was hidden for 6.0s", vs[1].Message)
	assert.Equal(t, int64(6000), vs[1].Details["duration"])

	st := h.mon.Status()
	assert.Equal(t, 2, st.Counters[string(proctor.ViolationTabSwitch)])
	assert.Equal(t, 2, st.Readout.TabSwitches)
	assert.True(t, st.AwaitingAcknowledgment)
	assert.Equal(t, "Page was hidden for 6.0s", st.PendingMessage)

	assert.Equal(t, proctor.TreatmentAcknowledge, h.lastNotice().Treatment)
	assert.Equal(t, []string{"Tab switched or window minimized", "Page was hidden for 6.0s"}, h.alerts)
}

func TestHiddenShortReturnIsWarningOnly(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	h.emit(proctor.Signal{Kind: proctor.SignalVisibilityChange, Hidden: true})
	h.clock.Advance(4 * time.Second)
	h.emit(proctor.Signal{Kind: proctor.SignalPageShow})

	vs := h.mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, proctor.SeverityWarning, vs[0].Severity)
	assert.False(t, h.mon.Status().AwaitingAcknowledgment)
	assert.Equal(t, proctor.TreatmentToast, h.lastNotice().Treatment)
}

func TestBlurThreshold(t *testing.T) {
	tests := []struct {
		name  string
		away  time.Duration
		count int
	}{
		{"short blur", 2 * time.Second, 1},
		{"at threshold", 3 * time.Second, 2},
		{"long blur", 10 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, noFullscreen(), signalbus.Desktop())
			h.activate()

			h.emit(proctor.Signal{Kind: proctor.SignalBlur})
			h.emit(proctor.Signal{Kind: proctor.SignalBlur})
			h.clock.Advance(tt.away)
			h.emit(proctor.Signal{Kind: proctor.SignalFocus})
			h.emit(proctor.Signal{Kind: proctor.SignalFocus})

			vs := h.mon.Violations()
			require.Len(t, vs, tt.count)
			assert.Equal(t, "Interview window lost focus", vs[0].Message)
			if tt.count == 2 {
				assert.Equal(t, proctor.SeverityCritical, vs[1].Severity)
				assert.Equal(t, tt.away.Milliseconds(), vs[1].Details["duration"])
			}
			assert.Equal(t, tt.count, h.mon.Status().Readout.FocusLosses)
		})
	}
}

func TestAuditLogCapped(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	for i := 0; i < 51; i++ {
		h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})
	}

	lines := h.mon.AuditLog()
	assert.Len(t, lines, 50)
	assert.Len(t, h.mon.Violations(), 51)
	assert.Equal(t, 51, h.mon.Status().Readout.RightClicks)
	assert.Contains(t, lines[49], "RIGHT_CLICK: Right-click is disabled during the interview")
}

func TestRightClickTally(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	for i := 0; i < 3; i++ {
		out := h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})
		assert.True(t, out.Prevented)
	}

	vs := h.mon.Violations()
	require.Len(t, vs, 3)
	for i, v := range vs {
		assert.Equal(t, proctor.SeverityWarning, v.Severity)
		assert.Equal(t, i+1, v.Details["count"])
	}
	assert.Equal(t, 3, h.mon.Status().Counters[string(proctor.ViolationRightClick)])
}

func TestReactivationResetsSession(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()
	first, ok := h.mon.Session()
	require.True(t, ok)

	h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})
	require.NoError(t, h.mon.SetActive(false))

	ended := h.mon.Status()
	assert.False(t, ended.Active)
	assert.Equal(t, 1, ended.Readout.TotalViolations)
	assert.False(t, ended.EndedAt.IsZero())

	h.activate()
	second, _ := h.mon.Session()
	st := h.mon.Status()

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, st.Readout.TotalViolations)
	assert.Equal(t, 0, st.AuditEntries)
	assert.Empty(t, h.mon.AuditLog())
	assert.Empty(t, h.mon.Violations())

	h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})
	vs := h.mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, 1, vs[0].Details["count"], "right-click tally restarts")
}

func TestTeardownReleasesEverything(t *testing.T) {
	h := newHarness(t, nil, signalbus.Desktop())
	h.activate()
	assert.Positive(t, h.bus.Subscribers())
	assert.Positive(t, h.clock.Pending())

	h.clock.Advance(2 * time.Second)
	require.True(t, h.mon.Status().Fullscreen)

	require.NoError(t, h.mon.SetActive(false))

	assert.Equal(t, 0, h.bus.Subscribers())
	assert.Equal(t, 0, h.clock.Pending())
	assert.False(t, h.bus.Fullscreen(), "teardown leaves presentation mode")
	assert.Empty(t, h.mon.Violations(), "teardown exit is not a violation")

	h.clock.Advance(time.Hour)
	h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})
	assert.Empty(t, h.mon.Violations())

	// Deactivating twice is a no-op.
	require.NoError(t, h.mon.SetActive(false))
}

func TestFullscreenLifecycle(t *testing.T) {
	h := newHarness(t, nil, signalbus.Desktop())
	h.activate()

	st := h.mon.Status()
	assert.Equal(t, proctor.StateWatching, st.Phase)
	assert.True(t, st.FullscreenRequired)

	h.clock.Advance(1500 * time.Millisecond)
	st = h.mon.Status()
	assert.Equal(t, proctor.StateWatchingFullscreen, st.Phase)
	assert.False(t, st.FullscreenRequired)

	h.emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: false})
	// Prefixed duplicate of the same exit.
	h.emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: false})

	vs := h.mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, proctor.ViolationFullscreen, vs[0].Type)
	assert.Equal(t, proctor.SeverityCritical, vs[0].Severity)
	assert.Equal(t, "Exited fullscreen mode", vs[0].Message)

	st = h.mon.Status()
	assert.Equal(t, proctor.StateWatching, st.Phase)
	assert.True(t, st.FullscreenRequired)
	assert.True(t, st.AwaitingAcknowledgment)

	require.NoError(t, h.mon.EnterFullscreen())
	assert.True(t, h.mon.Status().Fullscreen)
}

func TestFullscreenExitWhileInactive(t *testing.T) {
	h := newHarness(t, nil, signalbus.Desktop())
	h.bus.Emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: true})
	h.bus.Emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: false})
	assert.Empty(t, h.mon.Violations())
}

func TestSessionStartedWhilePresenting(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: true})
	h.activate()

	st := h.mon.Status()
	assert.True(t, st.Fullscreen)
	assert.False(t, st.FullscreenRequired)
	assert.Equal(t, proctor.StateWatchingFullscreen, st.Phase)

	require.NoError(t, h.mon.EnterFullscreen())
	assert.True(t, h.mon.Status().Fullscreen)

	h.emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: false})
	vs := h.mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, proctor.ViolationFullscreen, vs[0].Type)
	assert.Equal(t, proctor.SeverityCritical, vs[0].Severity)
	assert.True(t, h.mon.Status().FullscreenRequired)
}

type failingController struct{ err error }

func (c failingController) RequestFullscreen() error { return c.err }
func (c failingController) ExitFullscreen() error    { return nil }

func TestEnterFullscreenFailures(t *testing.T) {
	t.Run("not active", func(t *testing.T) {
		h := newHarness(t, noFullscreen(), signalbus.Desktop())
		assert.ErrorIs(t, h.mon.EnterFullscreen(), proctor.ErrNotActive)
	})

	t.Run("unsupported", func(t *testing.T) {
		h := newHarness(t, noFullscreen(), signalbus.Mobile())
		h.activate()
		assert.ErrorIs(t, h.mon.EnterFullscreen(), proctor.ErrFullscreenUnsupported)
		assert.Empty(t, h.mon.Violations())
		assert.False(t, h.mon.Status().FullscreenRequired)
	})

	t.Run("denied", func(t *testing.T) {
		h := newHarness(t, noFullscreen(), signalbus.Desktop())
		h.bus.SetController(failingController{err: proctor.ErrFullscreenDenied})
		h.activate()
		assert.ErrorIs(t, h.mon.EnterFullscreen(), proctor.ErrFullscreenDenied)
		assert.Empty(t, h.mon.Violations())
		assert.True(t, h.mon.Active())
	})

	t.Run("unexpected", func(t *testing.T) {
		h := newHarness(t, noFullscreen(), signalbus.Desktop())
		h.bus.SetController(failingController{err: errors.New("element detached")})
		h.activate()
		assert.Error(t, h.mon.EnterFullscreen())

		vs := h.mon.Violations()
		require.Len(t, vs, 1)
		assert.Equal(t, proctor.ViolationFullscreen, vs[0].Type)
		assert.Equal(t, proctor.SeverityWarning, vs[0].Severity)
		assert.Equal(t, "Fullscreen request failed: element detached", vs[0].Message)
	})
}

func TestDevToolsEdgeTriggered(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.bus.SetWindowMetrics(proctor.WindowMetrics{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 720})
	h.activate()

	h.clock.Advance(2 * time.Second)
	assert.Empty(t, h.mon.Violations())

	h.bus.SetWindowMetrics(proctor.WindowMetrics{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 900, InnerHeight: 720})
	h.clock.Advance(5 * time.Second)

	vs := h.mon.Violations()
	require.Len(t, vs, 1, "panel left open raises once")
	assert.Equal(t, proctor.ViolationDevTools, vs[0].Type)
	assert.Equal(t, proctor.SeverityCritical, vs[0].Severity)
	assert.Equal(t, 380, vs[0].Details["width_delta"])

	// Close, then reopen through a resize signal.
	h.emit(proctor.Signal{
		Kind:   proctor.SignalResize,
		Window: &proctor.WindowMetrics{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 720},
	})
	h.clock.Advance(time.Second)
	h.emit(proctor.Signal{
		Kind:   proctor.SignalResize,
		Window: &proctor.WindowMetrics{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 500},
	})

	assert.Len(t, h.mon.Violations(), 2)
	assert.Equal(t, 2, h.mon.Status().Readout.DevToolsAttempts)
}

func TestKeyboardShortcutsBlocked(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	out := h.emit(proctor.Signal{Kind: proctor.SignalKeyDown, Key: proctor.KeyPress{Key: "I", Ctrl: true, Shift: true}})
	assert.True(t, out.Prevented)

	out = h.emit(proctor.Signal{Kind: proctor.SignalKeyDown, Key: proctor.KeyPress{Key: "a"}})
	assert.False(t, out.Prevented)

	vs := h.mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, proctor.ViolationKeyboard, vs[0].Type)
	assert.Equal(t, "Ctrl+Shift+I (developer tools)", vs[0].Details["combination"])
}

func TestUnloadPrompt(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	out := h.emit(proctor.Signal{Kind: proctor.SignalBeforeUnload})
	assert.True(t, out.Prevented)
	assert.Equal(t, h.cfg.UnloadMessage, out.UnloadPrompt)

	vs := h.mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, proctor.ViolationPageUnload, vs[0].Type)
	assert.Equal(t, proctor.SeverityCritical, vs[0].Severity)
}

func TestInactivity(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	h.clock.Advance(100 * time.Second)
	h.emit(proctor.Signal{Kind: proctor.SignalMouseMove})
	h.clock.Advance(100 * time.Second)
	assert.Empty(t, h.mon.Violations(), "activity re-arms the timer")

	h.clock.Advance(20 * time.Second)
	vs := h.mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, proctor.ViolationInactivity, vs[0].Type)
	assert.Equal(t, "No activity for 120.0s", vs[0].Message)

	h.clock.Advance(10 * time.Minute)
	assert.Len(t, h.mon.Violations(), 1, "idle timer does not repeat without activity")

	h.emit(proctor.Signal{Kind: proctor.SignalScroll})
	h.clock.Advance(2 * time.Minute)
	assert.Len(t, h.mon.Violations(), 2)
}

func TestSilentTreatment(t *testing.T) {
	cfg := noFullscreen().AddSilentType(proctor.ViolationInactivity)
	h := newHarness(t, cfg, signalbus.Desktop())
	h.activate()

	h.clock.Advance(2 * time.Minute)
	require.Len(t, h.mon.Violations(), 1)
	assert.Equal(t, proctor.TreatmentSilent, h.lastNotice().Treatment)
}

func TestAcknowledge(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	assert.False(t, h.mon.Acknowledge())
	h.emit(proctor.Signal{Kind: proctor.SignalBeforeUnload})
	assert.True(t, h.mon.Status().AwaitingAcknowledgment)

	assert.True(t, h.mon.Acknowledge())
	st := h.mon.Status()
	assert.False(t, st.AwaitingAcknowledgment)
	assert.Empty(t, st.PendingMessage)
}

func TestTouchSignals(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Mobile())
	h.activate()

	h.emit(proctor.Signal{Kind: proctor.SignalTouchStart, Touches: []proctor.TouchPoint{{X: 10, Y: 10}, {X: 50, Y: 50}}})

	h.emit(proctor.Signal{Kind: proctor.SignalTouchStart, Touches: []proctor.TouchPoint{{X: 300, Y: 100}}})
	h.emit(proctor.Signal{Kind: proctor.SignalTouchMove, Touches: []proctor.TouchPoint{{X: 250, Y: 100}}})
	h.emit(proctor.Signal{Kind: proctor.SignalTouchMove, Touches: []proctor.TouchPoint{{X: 150, Y: 100}}})
	h.emit(proctor.Signal{Kind: proctor.SignalTouchMove, Touches: []proctor.TouchPoint{{X: 50, Y: 100}}})

	h.emit(proctor.Signal{Kind: proctor.SignalOrientationChange, Orientation: "landscape"})
	out := h.emit(proctor.Signal{Kind: proctor.SignalPinch})
	assert.True(t, out.Prevented)

	assert.Equal(t, []proctor.ViolationType{
		proctor.ViolationMultiTouch,
		proctor.ViolationSwipeGesture,
		proctor.ViolationOrientationChange,
		proctor.ViolationIOSGesture,
	}, h.typesOf())

	vs := h.mon.Violations()
	assert.Equal(t, 2, vs[0].Details["touches"])
	assert.Equal(t, "left", vs[1].Details["direction"])
	assert.Equal(t, "Device orientation changed to landscape", vs[2].Message)
	assert.Equal(t, 4, h.mon.Status().Readout.MobileGestures)
}

func TestPlatformGesturesNotThrottled(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Mobile())
	h.activate()

	kinds := []proctor.SignalKind{
		proctor.SignalGestureStart,
		proctor.SignalGestureChange,
		proctor.SignalGestureChange,
		proctor.SignalGestureChange,
		proctor.SignalGestureStart,
		proctor.SignalPinch,
	}
	for _, k := range kinds {
		out := h.emit(proctor.Signal{Kind: k})
		assert.True(t, out.Prevented, k)
	}

	vs := h.mon.Violations()
	require.Len(t, vs, len(kinds))
	for i, v := range vs {
		assert.Equal(t, proctor.ViolationIOSGesture, v.Type)
		assert.Equal(t, string(kinds[i]), v.Details["gesture"])
	}
	assert.Equal(t, len(kinds), h.mon.Status().Counters[string(proctor.ViolationIOSGesture)])
}

func TestLivenessPulse(t *testing.T) {
	cfg := noFullscreen().WithLiveness(25*time.Second, 60*time.Second)
	h := newHarness(t, cfg, signalbus.Desktop(), proctor.LivenessAdapter{})
	h.activate()

	assert.True(t, h.mon.Status().LastPulse.IsZero())
	h.clock.Advance(24 * time.Second)
	assert.True(t, h.mon.Status().LastPulse.IsZero(), "no pulse before the lower bound")

	h.clock.Advance(36 * time.Second)
	first := h.mon.Status().LastPulse
	require.False(t, first.IsZero())
	assert.False(t, first.Before(start.Add(25*time.Second)))
	assert.False(t, first.After(start.Add(60*time.Second)))

	h.clock.Advance(60 * time.Second)
	second := h.mon.Status().LastPulse
	assert.True(t, second.After(first))
	assert.False(t, second.After(start.Add(120*time.Second)))
	assert.Empty(t, h.mon.Violations(), "the pulse never raises")

	require.NoError(t, h.mon.SetActive(false))
	assert.Equal(t, 0, h.clock.Pending())
	h.clock.Advance(5 * time.Minute)
	assert.Equal(t, second, h.mon.Status().LastPulse)
}

// heldClock records callbacks instead of running them and reports every
// timer as already fired, so a test can run a callback that lost the race
// with a Reset.
type heldClock struct {
	mu  sync.Mutex
	now time.Time
	fns []func()
}

type firedTimer struct{}

func (firedTimer) Stop() bool { return false }

func (c *heldClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *heldClock) AfterFunc(_ time.Duration, f func()) proctor.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, f)
	return firedTimer{}
}

func (c *heldClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *heldClock) callbacks() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]func(){}, c.fns...)
}

func TestResetIgnoresStaleTimer(t *testing.T) {
	clock := &heldClock{now: start}
	bus := signalbus.New(signalbus.Desktop())
	bus.SetClock(clock.Now)
	mon, err := proctor.New(noFullscreen().WithInactivityTimeout(time.Minute), bus, proctor.Options{
		Clock:    clock,
		Adapters: []proctor.Adapter{proctor.InactivityAdapter{}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Close() })
	require.NoError(t, mon.SetActive(true))
	require.Len(t, clock.callbacks(), 1)

	clock.advance(30 * time.Second)
	bus.Emit(proctor.Signal{Kind: proctor.SignalMouseMove})
	fns := clock.callbacks()
	require.Len(t, fns, 2)

	// The first arm fires after activity re-armed the task.
	fns[0]()
	assert.Empty(t, mon.Violations())

	clock.advance(time.Minute)
	fns[1]()
	vs := mon.Violations()
	require.Len(t, vs, 1)
	assert.Equal(t, "No activity for 60.0s", vs[0].Message)
}

func TestTouchIgnoredWithoutCapability(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	h.activate()

	h.emit(proctor.Signal{Kind: proctor.SignalTouchStart, Touches: []proctor.TouchPoint{{}, {}}})
	out := h.emit(proctor.Signal{Kind: proctor.SignalPinch})

	assert.Equal(t, 0, out.Delivered)
	assert.Empty(t, h.mon.Violations())
}

type failingAdapter struct{ subscribeFirst bool }

func (failingAdapter) Name() string { return "failing" }

func (a failingAdapter) Attach(sc *proctor.Scope) error {
	if a.subscribeFirst {
		if err := sc.On(proctor.SignalScroll, func(*proctor.SessionState, proctor.Signal) {}); err != nil {
			return err
		}
	}
	return errors.New("no such event source")
}

type panickingAdapter struct{}

func (panickingAdapter) Name() string { return "panicking" }

func (panickingAdapter) Attach(sc *proctor.Scope) error {
	return sc.On(proctor.SignalContextMenu, func(*proctor.SessionState, proctor.Signal) {
		panic("handler bug")
	})
}

func TestAdapterFailureIsolation(t *testing.T) {
	adapters := append([]proctor.Adapter{
		failingAdapter{subscribeFirst: true},
		panickingAdapter{},
	}, proctor.DefaultAdapters()...)
	h := newHarness(t, noFullscreen(), signalbus.Desktop(), adapters...)

	err := h.mon.SetActive(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")
	assert.True(t, h.mon.Active(), "session stays active")

	h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})
	h.emit(proctor.Signal{Kind: proctor.SignalKeyDown, Key: proctor.KeyPress{Key: "F12"}})
	assert.Equal(t, []proctor.ViolationType{proctor.ViolationRightClick, proctor.ViolationKeyboard}, h.typesOf())

	require.NoError(t, h.mon.SetActive(false))
	assert.Equal(t, 0, h.bus.Subscribers(), "partial registrations are released")
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, noFullscreen(), signalbus.Desktop())
	ch := h.mon.Subscribe()
	h.activate()

	h.emit(proctor.Signal{Kind: proctor.SignalContextMenu})

	select {
	case v := <-ch:
		assert.Equal(t, proctor.ViolationRightClick, v.Type)
		assert.NotEmpty(t, v.ID)
	default:
		t.Fatal("expected a violation on the subscriber channel")
	}

	require.NoError(t, h.mon.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.ErrorIs(t, h.mon.SetActive(true), proctor.ErrClosed)
}

func TestConcurrentSignals(t *testing.T) {
	bus := signalbus.New(signalbus.Desktop())
	mon, err := proctor.New(noFullscreen(), bus, proctor.Options{})
	require.NoError(t, err)
	defer mon.Close()
	require.NoError(t, mon.SetActive(true))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				bus.Emit(proctor.Signal{Kind: proctor.SignalContextMenu})
				_ = mon.Status()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, mon.Status().Readout.RightClicks)
	require.NoError(t, mon.SetActive(false))
	assert.Equal(t, 0, bus.Subscribers())
}
