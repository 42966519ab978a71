// Package health reports whether proctord can take interview sessions.
//
// A Checker holds named checks over the server's moving parts: the session
// store, open websocket sessions and the batch forwarder. Required checks
// gate readiness; optional ones can only degrade the report. Every request
// to a handler runs the checks afresh.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status is a check or overall health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result is the outcome of one check run.
type Result struct {
	Status   Status         `json:"status"`
	Required bool           `json:"required"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Took     time.Duration  `json:"took_ns"`
}

// Check inspects one dependency.
type Check func(ctx context.Context) Result

type check struct {
	name     string
	required bool
	run      Check
}

// Checker runs checks and serves their aggregate.
type Checker struct {
	// Timeout bounds each check run. Defaults to 5s.
	Timeout time.Duration

	mu      sync.RWMutex
	checks  []check
	serving bool
	started time.Time
}

// NewChecker returns an empty checker that is not yet serving.
func NewChecker() *Checker {
	return &Checker{Timeout: 5 * time.Second, started: time.Now()}
}

// Add registers p under name, replacing an earlier check of that name. A
// failing required check makes the service unhealthy and not ready.
func (c *Checker) Add(name string, required bool, p Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i] = check{name: name, required: required, run: p}
			return
		}
	}
	c.checks = append(c.checks, check{name: name, required: required, run: p})
}

// SetServing records whether the listener is accepting sessions.
func (c *Checker) SetServing(serving bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serving = serving
}

// Report is the body of the health endpoints.
type Report struct {
	Status    Status            `json:"status"`
	Ready     bool              `json:"ready"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Result `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Run executes every check concurrently and aggregates the results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]check(nil), c.checks...)
	serving := c.serving
	timeout := c.Timeout
	uptime := time.Since(c.started).Round(time.Second)
	c.mu.RUnlock()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, p := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, p, timeout)
		}()
	}
	wg.Wait()

	rep := Report{
		Status:    StatusHealthy,
		Uptime:    uptime.String(),
		Checks:    make(map[string]Result, len(checks)),
		Timestamp: time.Now(),
	}
	requiredOK := true
	for i, p := range checks {
		r := results[i]
		rep.Checks[p.name] = r
		switch {
		case r.Status == StatusHealthy:
		case p.required && r.Status == StatusUnhealthy:
			rep.Status = StatusUnhealthy
			requiredOK = false
		case rep.Status == StatusHealthy:
			rep.Status = StatusDegraded
		}
	}
	rep.Ready = serving && requiredOK
	return rep
}

func runCheck(ctx context.Context, p check, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- Result{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		out <- p.run(ctx)
	}()

	var r Result
	select {
	case r = <-out:
	case <-ctx.Done():
		r = Result{Status: StatusUnhealthy, Message: "check timed out"}
	}
	r.Required = p.required
	r.Took = time.Since(start)
	return r
}

// LiveHandler answers while the process is up.
func (c *Checker) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now()})
	})
}

// ReadyHandler answers 200 only while serving with every required check
// passing.
func (c *Checker) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := c.Run(r.Context())
		code := http.StatusOK
		if !rep.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"ready": rep.Ready, "status": rep.Status, "timestamp": rep.Timestamp})
	})
}

// Handler serves the full report. A degraded service still answers 200.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := c.Run(r.Context())
		code := http.StatusOK
		if rep.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// StoreCheck pings the session store.
func StoreCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Result{Status: StatusUnhealthy, Message: "store unreachable: " + err.Error()}
		}
		return Result{Status: StatusHealthy, Message: "store ok"}
	}
}

// SessionsCheck reports open sessions against limit. It is degraded once
// the limit is reached; a zero limit is unbounded.
func SessionsCheck(count func() int, limit int) Check {
	return func(ctx context.Context) Result {
		n := count()
		details := map[string]any{"open": n}
		if limit > 0 {
			details["limit"] = limit
			if n >= limit {
				return Result{Status: StatusDegraded, Message: fmt.Sprintf("%d sessions at limit", n), Details: details}
			}
		}
		return Result{Status: StatusHealthy, Message: fmt.Sprintf("%d sessions open", n), Details: details}
	}
}

// ForwarderCheck reports batch delivery. It is degraded when deliveries
// failed since the previous run or notices were dropped.
func ForwarderCheck(stats func() (delivered, failed, dropped int64)) Check {
	var (
		mu   sync.Mutex
		seen int64
	)
	return func(ctx context.Context) Result {
		delivered, failed, dropped := stats()

		mu.Lock()
		fresh := failed - seen
		seen = failed
		mu.Unlock()

		details := map[string]any{"delivered": delivered, "failed": failed, "dropped": dropped}
		switch {
		case fresh > 0:
			return Result{Status: StatusDegraded, Message: fmt.Sprintf("%d batch deliveries failed", fresh), Details: details}
		case dropped > 0:
			return Result{Status: StatusDegraded, Message: fmt.Sprintf("%d notices dropped", dropped), Details: details}
		}
		return Result{Status: StatusHealthy, Message: "forwarding ok", Details: details}
	}
}
