package proctor

import "time"

// FocusAdapter watches window blur and focus. Blur raises a window_focus
// warning; a refocus after the blur threshold raises a critical follow-up
// carrying the measured duration.
type FocusAdapter struct{}

// Name implements Adapter.
func (FocusAdapter) Name() string { return "focus" }

// Attach implements Adapter.
func (FocusAdapter) Attach(sc *Scope) error {
	if err := sc.On(SignalBlur, func(st *SessionState, sig Signal) {
		if !st.BlurredSince.IsZero() {
			return
		}
		st.BlurredSince = sc.Now()
		sc.Raise(Event{Type: ViolationWindowFocus, Phase: PhaseOnset, At: st.BlurredSince})
	}); err != nil {
		return err
	}

	return sc.On(SignalFocus, func(st *SessionState, sig Signal) {
		if st.BlurredSince.IsZero() {
			return
		}
		now := sc.Now()
		lost := now.Sub(st.BlurredSince)
		st.BlurredSince = time.Time{}
		sc.Raise(Event{
			Type:     ViolationWindowFocus,
			Phase:    PhaseReturn,
			At:       now,
			Duration: lost,
		})
	})
}
