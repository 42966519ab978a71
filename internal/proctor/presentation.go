package proctor

// PresentationAdapter tracks fullscreen presentation mode. Leaving
// presentation mode while the session is active is a critical violation;
// teardown exits are never observed because the subscription is released
// first.
type PresentationAdapter struct{}

// Name implements Adapter.
func (PresentationAdapter) Name() string { return "presentation" }

// Attach implements Adapter.
func (PresentationAdapter) Attach(sc *Scope) error {
	if !sc.Capabilities().Fullscreen {
		return nil
	}
	return sc.On(SignalFullscreenChange, func(st *SessionState, sig Signal) {
		if sig.Fullscreen {
			st.Fullscreen = true
			return
		}
		if !st.Fullscreen {
			// Duplicate exit notifications from prefixed event variants.
			return
		}
		st.Fullscreen = false
		sc.Raise(Event{Type: ViolationFullscreen})
	})
}
