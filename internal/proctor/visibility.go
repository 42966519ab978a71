package proctor

import "time"

// VisibilityAdapter watches document visibility and page-unload attempts.
//
// Hiding the page raises a tab_switch warning at once. When the page comes
// back, the hidden period is measured and a second, critical tab_switch is
// raised if it reached the hidden threshold.
type VisibilityAdapter struct{}

// Name implements Adapter.
func (VisibilityAdapter) Name() string { return "visibility" }

// Attach implements Adapter.
func (VisibilityAdapter) Attach(sc *Scope) error {
	returned := func(st *SessionState) {
		if st.HiddenSince.IsZero() {
			return
		}
		now := sc.Now()
		hidden := now.Sub(st.HiddenSince)
		st.HiddenSince = time.Time{}
		sc.Raise(Event{
			Type:     ViolationTabSwitch,
			Phase:    PhaseReturn,
			At:       now,
			Duration: hidden,
		})
	}

	if err := sc.On(SignalVisibilityChange, func(st *SessionState, sig Signal) {
		if !sig.Hidden {
			returned(st)
			return
		}
		if !st.HiddenSince.IsZero() {
			return
		}
		st.HiddenSince = sc.Now()
		sc.Raise(Event{Type: ViolationTabSwitch, Phase: PhaseOnset, At: st.HiddenSince})
	}); err != nil {
		return err
	}

	if err := sc.On(SignalPageShow, func(st *SessionState, sig Signal) {
		returned(st)
	}); err != nil {
		return err
	}

	return sc.On(SignalBeforeUnload, func(st *SessionState, sig Signal) {
		sig.PreventDefault()
		sig.PromptUnload(sc.Config().UnloadMessage)
		sc.Raise(Event{Type: ViolationPageUnload})
	})
}
