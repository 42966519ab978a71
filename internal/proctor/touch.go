package proctor

import "math"

// TouchAdapter covers mobile signals. It is only attached when the platform
// reports touch support.
//
//   - two or more contacts on any touch event: multi_touch
//   - a single touch moving horizontally past the swipe threshold:
//     swipe_gesture, once per touch sequence
//   - device rotation: orientation_change
//   - pinch and platform gesture events: ios_gesture, every time
type TouchAdapter struct{}

// Name implements Adapter.
func (TouchAdapter) Name() string { return "touch" }

// Attach implements Adapter.
func (TouchAdapter) Attach(sc *Scope) error {
	caps := sc.Capabilities()
	if !caps.Touch {
		return nil
	}
	swipe := sc.Config().SwipeThreshold

	multi := func(sig Signal) bool {
		if len(sig.Touches) < 2 {
			return false
		}
		sc.Raise(Event{Type: ViolationMultiTouch, Count: len(sig.Touches)})
		return true
	}

	if err := sc.On(SignalTouchStart, func(st *SessionState, sig Signal) {
		st.TouchOrigin = nil
		st.SwipeRaised = false
		if multi(sig) || len(sig.Touches) == 0 {
			return
		}
		origin := sig.Touches[0]
		st.TouchOrigin = &origin
	}); err != nil {
		return err
	}

	if err := sc.On(SignalTouchMove, func(st *SessionState, sig Signal) {
		if multi(sig) || len(sig.Touches) == 0 || st.TouchOrigin == nil || st.SwipeRaised {
			return
		}
		dx := sig.Touches[0].X - st.TouchOrigin.X
		if math.Abs(dx) <= swipe {
			return
		}
		st.SwipeRaised = true
		direction := "right"
		if dx < 0 {
			direction = "left"
		}
		sc.Raise(Event{
			Type: ViolationSwipeGesture,
			Attrs: Details{
				"dx":        dx,
				"direction": direction,
			},
		})
	}); err != nil {
		return err
	}

	if err := sc.On(SignalOrientationChange, func(st *SessionState, sig Signal) {
		sc.Raise(Event{Type: ViolationOrientationChange, Detail: sig.Orientation})
	}); err != nil {
		return err
	}

	if !caps.GestureEvents {
		return nil
	}
	for _, kind := range []SignalKind{SignalPinch, SignalGestureStart, SignalGestureChange} {
		gesture := string(kind)
		if err := sc.On(kind, func(st *SessionState, sig Signal) {
			sig.PreventDefault()
			sc.Raise(Event{Type: ViolationIOSGesture, Detail: gesture})
		}); err != nil {
			return err
		}
	}
	return nil
}
