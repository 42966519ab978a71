// Package signalbus provides an in-process proctor.Platform.
//
// The bus is the bridge between a host and the monitor: the host (a browser
// relay, a replay script or a test) emits normalised signals, and the bus
// fans them out to the monitor's adapters. It also holds the platform-side
// state the monitor queries: capabilities, window geometry and presentation
// mode.
package signalbus

import (
	"errors"
	"slices"
	"sync"
	"time"

	"proctord/internal/proctor"
)

// FullscreenController performs presentation-mode changes on behalf of the
// bus. A nil controller makes the bus simulate them locally.
type FullscreenController interface {
	RequestFullscreen() error
	ExitFullscreen() error
}

// Outcome reports what handlers did with an emitted signal.
type Outcome struct {
	// Delivered is the number of handlers that received the signal.
	Delivered int
	// Prevented is set when a handler suppressed the default action.
	Prevented bool
	// UnloadPrompt is the leave-page message a handler requested, if any.
	UnloadPrompt string
}

// Bus is a thread-safe, multi-subscriber signal registry.
type Bus struct {
	mu       sync.RWMutex
	caps     proctor.Capabilities
	handlers map[proctor.SignalKind]map[uint64]func(proctor.Signal)
	nextID   uint64

	metrics    proctor.WindowMetrics
	hasMetrics bool
	fullscreen bool

	controller FullscreenController
	now        func() time.Time
}

// New creates a bus advertising caps.
func New(caps proctor.Capabilities) *Bus {
	return &Bus{
		caps:     caps,
		handlers: make(map[proctor.SignalKind]map[uint64]func(proctor.Signal)),
		now:      time.Now,
	}
}

// Desktop returns the capabilities of a desktop browser.
func Desktop() proctor.Capabilities {
	return proctor.Capabilities{Fullscreen: true, WindowMetrics: true}
}

// Mobile returns the capabilities of a touch device with gesture events.
func Mobile() proctor.Capabilities {
	return proctor.Capabilities{Touch: true, GestureEvents: true, WindowMetrics: true}
}

// SetController delegates presentation-mode changes to c.
func (b *Bus) SetController(c FullscreenController) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controller = c
}

// SetClock sets the time source used to stamp emitted signals.
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetCapabilities replaces the advertised capabilities. Adapters read them
// on activation.
func (b *Bus) SetCapabilities(caps proctor.Capabilities) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = caps
}

// Capabilities implements proctor.Platform.
func (b *Bus) Capabilities() proctor.Capabilities {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caps
}

// Subscribe implements proctor.Platform.
func (b *Bus) Subscribe(kind proctor.SignalKind, fn func(proctor.Signal)) (func(), error) {
	if fn == nil {
		return nil, errors.New("signalbus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]func(proctor.Signal))
	}
	b.handlers[kind][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[kind], id)
			if len(b.handlers[kind]) == 0 {
				delete(b.handlers, kind)
			}
		})
	}, nil
}

// Subscribers returns the number of live handlers, across all kinds.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, hs := range b.handlers {
		n += len(hs)
	}
	return n
}

// Emit delivers sig to every handler subscribed to its kind, in
// subscription order. Window and fullscreen fields also update the bus's
// own state before delivery.
func (b *Bus) Emit(sig proctor.Signal) Outcome {
	b.mu.Lock()
	if sig.At.IsZero() {
		sig.At = b.now()
	}
	if sig.Window != nil {
		b.metrics = *sig.Window
		b.hasMetrics = true
	}
	if sig.Kind == proctor.SignalFullscreenChange {
		b.fullscreen = sig.Fullscreen
	}
	hs := b.snapshotLocked(sig.Kind)
	b.mu.Unlock()

	ctl := &control{}
	sig = sig.WithControl(ctl)
	for _, fn := range hs {
		fn(sig)
	}

	out := ctl.outcome()
	out.Delivered = len(hs)
	return out
}

func (b *Bus) snapshotLocked(kind proctor.SignalKind) []func(proctor.Signal) {
	hs := b.handlers[kind]
	ids := make([]uint64, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(proctor.Signal), len(ids))
	for i, id := range ids {
		out[i] = hs[id]
	}
	return out
}

// SetWindowMetrics records the current geometry without emitting a resize.
func (b *Bus) SetWindowMetrics(wm proctor.WindowMetrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = wm
	b.hasMetrics = true
}

// WindowMetrics implements proctor.Platform.
func (b *Bus) WindowMetrics() (proctor.WindowMetrics, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics, b.hasMetrics
}

// Fullscreen implements proctor.Platform. It reports the last announced
// presentation mode.
func (b *Bus) Fullscreen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fullscreen
}

// RequestFullscreen implements proctor.Platform. Without a controller the
// change is simulated and announced with a fullscreen_change signal.
func (b *Bus) RequestFullscreen() error {
	b.mu.RLock()
	caps, ctl := b.caps, b.controller
	b.mu.RUnlock()

	if !caps.Fullscreen {
		return proctor.ErrFullscreenUnsupported
	}
	if ctl != nil {
		return ctl.RequestFullscreen()
	}
	// Announced even when already engaged so a subscriber that missed the
	// original change learns the state.
	b.Emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: true})
	return nil
}

// ExitFullscreen implements proctor.Platform.
func (b *Bus) ExitFullscreen() error {
	b.mu.RLock()
	ctl, engaged := b.controller, b.fullscreen
	b.mu.RUnlock()

	if ctl != nil {
		return ctl.ExitFullscreen()
	}
	if engaged {
		b.Emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: false})
	}
	return nil
}

// control records handler actions for one emitted signal.
type control struct {
	mu        sync.Mutex
	prevented bool
	prompt    string
}

func (c *control) PreventDefault() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevented = true
}

func (c *control) PromptUnload(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = message
}

func (c *control) outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Outcome{Prevented: c.prevented, UnloadPrompt: c.prompt}
}
