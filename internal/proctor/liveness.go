package proctor

import (
	"math/rand/v2"
	"time"
)

// LivenessAdapter drives the status indicator's pulse at random intervals.
// It is cosmetic and never raises violations.
type LivenessAdapter struct{}

// Name implements Adapter.
func (LivenessAdapter) Name() string { return "liveness" }

// Attach implements Adapter.
func (LivenessAdapter) Attach(sc *Scope) error {
	cfg := sc.Config()
	if cfg.LivenessMax <= 0 {
		return nil
	}

	var task *Task
	task = sc.After(jitter(cfg.LivenessMin, cfg.LivenessMax), func(st *SessionState) {
		st.Pulses++
		st.LastPulse = sc.Now()
		task.Reset(jitter(cfg.LivenessMin, cfg.LivenessMax))
	})
	return nil
}

// jitter returns a uniformly random duration in [min, max].
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}
