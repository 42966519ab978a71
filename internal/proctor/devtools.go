package proctor

// DevToolsAdapter is a heuristic for docked inspection panels: when the
// outer window is larger than the inner viewport by more than the
// configured threshold on either axis, a panel is assumed open.
//
// The geometry is polled and re-checked on resize. Only the closed-to-open
// transition raises, so a panel left open produces one violation rather than
// one per poll.
type DevToolsAdapter struct{}

// Name implements Adapter.
func (DevToolsAdapter) Name() string { return "devtools" }

// Attach implements Adapter.
func (DevToolsAdapter) Attach(sc *Scope) error {
	if !sc.Capabilities().WindowMetrics {
		return nil
	}
	threshold := sc.Config().DevToolsThreshold

	check := func(st *SessionState, wm WindowMetrics) {
		dw, dh := wm.Delta()
		open := dw > threshold || dh > threshold
		if open && !st.DevToolsOpen {
			sc.Raise(Event{
				Type: ViolationDevTools,
				Attrs: Details{
					"width_delta":  dw,
					"height_delta": dh,
				},
			})
		}
		st.DevToolsOpen = open
	}

	sc.Every(sc.Config().DevToolsPollInterval, func(st *SessionState) {
		if wm, ok := sc.WindowMetrics(); ok {
			check(st, wm)
		}
	})

	return sc.On(SignalResize, func(st *SessionState, sig Signal) {
		if sig.Window != nil {
			check(st, *sig.Window)
			return
		}
		if wm, ok := sc.WindowMetrics(); ok {
			check(st, wm)
		}
	})
}
