package signalbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proctord/internal/proctor"
)

// Player replays a script against a monitor on a manual clock. Timers
// scheduled by the monitor fire as the clock is advanced to each step, so a
// replay is deterministic.
type Player struct {
	Bus     *Bus
	Monitor *proctor.Monitor
	Clock   *proctor.ManualClock

	start time.Time
}

// NewPlayer creates a bus with caps and a monitor bound to it, both driven by
// a manual clock starting at start. opts.Clock is replaced.
func NewPlayer(cfg *proctor.Config, caps proctor.Capabilities, start time.Time, opts proctor.Options) (*Player, error) {
	clock := proctor.NewManualClock(start)
	bus := New(caps)
	bus.SetClock(clock.Now)

	opts.Clock = clock
	mon, err := proctor.New(cfg, bus, opts)
	if err != nil {
		return nil, err
	}
	return &Player{Bus: bus, Monitor: mon, Clock: clock, start: start}, nil
}

// Run applies steps in order. A failing step does not stop the replay; the
// failures are returned together once every step has run.
func (p *Player) Run(ctx context.Context, steps []Step) error {
	var errs []error
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		p.Clock.Set(p.start.Add(s.Offset()))
		if err := p.apply(s); err != nil {
			name := s.Action
			if name == "" {
				name = s.Event
			}
			errs = append(errs, fmt.Errorf("step %d (%s at %dms): %w", i+1, name, s.AtMS, err))
		}
	}
	return errors.Join(errs...)
}

// Advance moves the replay clock forward, firing due timers.
func (p *Player) Advance(d time.Duration) {
	p.Clock.Advance(d)
}

func (p *Player) apply(s Step) error {
	if s.Event != "" {
		sig, err := s.Signal()
		if err != nil {
			return err
		}
		p.Bus.Emit(sig)
		return nil
	}

	switch s.Action {
	case ActionActivate:
		return p.Monitor.SetActive(true)
	case ActionDeactivate:
		return p.Monitor.SetActive(false)
	case ActionAcknowledge:
		if !p.Monitor.Acknowledge() {
			return errors.New("nothing to acknowledge")
		}
		return nil
	case ActionEnterFullscreen:
		return p.Monitor.EnterFullscreen()
	case ActionExitFullscreen:
		return p.Monitor.ExitFullscreen()
	case ActionMetrics:
		if s.Window == nil {
			return errors.New("metrics step requires window")
		}
		p.Bus.SetWindowMetrics(*s.Window)
		return nil
	}
	return fmt.Errorf("unknown action %q", s.Action)
}
