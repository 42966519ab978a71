package proctor

import "time"

// Counter keys for the composite tallies.
const (
	CounterMobileGestures = "mobile_gestures"
	CounterTotal          = "total"
)

// AuditLog is a bounded FIFO of formatted violation lines. The oldest line
// is dropped silently once capacity is reached.
type AuditLog struct {
	lines   []string
	start   int
	size    int
	evicted int
}

// NewAuditLog creates an audit log holding at most capacity lines.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &AuditLog{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when full. It reports whether an
// eviction happened.
func (l *AuditLog) Append(line string) bool {
	capacity := len(l.lines)
	if l.size < capacity {
		l.lines[(l.start+l.size)%capacity] = line
		l.size++
		return false
	}
	l.lines[l.start] = line
	l.start = (l.start + 1) % capacity
	l.evicted++
	return true
}

// Len returns the number of retained lines.
func (l *AuditLog) Len() int { return l.size }

// Cap returns the capacity.
func (l *AuditLog) Cap() int { return len(l.lines) }

// Evicted returns how many lines have been dropped.
func (l *AuditLog) Evicted() int { return l.evicted }

// Lines returns the retained lines, oldest first.
func (l *AuditLog) Lines() []string {
	out := make([]string, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.lines[(l.start+i)%len(l.lines)]
	}
	return out
}

// Counters tallies violations per type for one session.
type Counters struct {
	byType map[ViolationType]int
	mobile int
	total  int
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters {
	return &Counters{byType: make(map[ViolationType]int)}
}

// Record counts v, regardless of severity.
func (c *Counters) Record(v Violation) {
	c.byType[v.Type]++
	if v.Type.Mobile() {
		c.mobile++
	}
	c.total++
}

// Count returns the tally for t.
func (c *Counters) Count(t ViolationType) int { return c.byType[t] }

// Total returns the number of recorded violations.
func (c *Counters) Total() int { return c.total }

// Map returns every non-zero tally plus the composites, keyed by name.
func (c *Counters) Map() map[string]int {
	out := make(map[string]int, len(c.byType)+2)
	for t, n := range c.byType {
		out[string(t)] = n
	}
	out[CounterMobileGestures] = c.mobile
	out[CounterTotal] = c.total
	return out
}

// Readout is the compact status display.
type Readout struct {
	TabSwitches      int       `json:"tab_switches"`
	FocusLosses      int       `json:"focus_losses"`
	RightClicks      int       `json:"right_clicks"`
	DevToolsAttempts int       `json:"dev_tools_attempts"`
	MobileGestures   int       `json:"mobile_gestures"`
	TotalViolations  int       `json:"total_violations"`
	LastActivity     time.Time `json:"last_activity"`
}

// Readout summarises the counters for the status display.
func (c *Counters) Readout(lastActivity time.Time) Readout {
	return Readout{
		TabSwitches:      c.byType[ViolationTabSwitch],
		FocusLosses:      c.byType[ViolationWindowFocus],
		RightClicks:      c.byType[ViolationRightClick],
		DevToolsAttempts: c.byType[ViolationDevTools],
		MobileGestures:   c.mobile,
		TotalViolations:  c.total,
		LastActivity:     lastActivity,
	}
}
