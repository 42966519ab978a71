package proctor

// InactivityAdapter raises an inactivity warning when no mouse, keyboard,
// scroll or touch activity is seen for the configured timeout. Any activity
// re-arms the timer; an elapsed timer stays idle until the next activity.
type InactivityAdapter struct{}

// Name implements Adapter.
func (InactivityAdapter) Name() string { return "inactivity" }

// activitySignals reset the inactivity timer.
var activitySignals = []SignalKind{
	SignalMouseMove,
	SignalKeyDown,
	SignalScroll,
	SignalTouchStart,
	SignalTouchMove,
}

// Attach implements Adapter.
func (InactivityAdapter) Attach(sc *Scope) error {
	timeout := sc.Config().InactivityTimeout
	if timeout <= 0 {
		return nil
	}

	timer := sc.After(timeout, func(st *SessionState) {
		sc.Raise(Event{
			Type:     ViolationInactivity,
			Duration: sc.Now().Sub(st.LastActivityAt),
		})
	})

	for _, kind := range activitySignals {
		if err := sc.On(kind, func(st *SessionState, sig Signal) {
			st.LastActivityAt = sc.Now()
			timer.Reset(timeout)
		}); err != nil {
			return err
		}
	}
	return nil
}
