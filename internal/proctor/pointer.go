package proctor

// PointerAdapter suppresses the context menu and tallies right-clicks.
type PointerAdapter struct{}

// Name implements Adapter.
func (PointerAdapter) Name() string { return "pointer" }

// Attach implements Adapter.
func (PointerAdapter) Attach(sc *Scope) error {
	return sc.On(SignalContextMenu, func(st *SessionState, sig Signal) {
		sig.PreventDefault()
		st.RightClicks++
		sc.Raise(Event{Type: ViolationRightClick, Count: st.RightClicks})
	})
}
