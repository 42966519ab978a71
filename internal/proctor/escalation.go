package proctor

// Treatment is the user-facing handling chosen for a violation.
type Treatment string

const (
	// TreatmentSilent records the violation without notifying the candidate.
	TreatmentSilent Treatment = "silent"
	// TreatmentToast shows a transient, non-blocking notice.
	TreatmentToast Treatment = "toast"
	// TreatmentAcknowledge blocks progress until the candidate confirms.
	TreatmentAcknowledge Treatment = "acknowledge"
)

// Notice is one escalation action delivered to the host.
type Notice struct {
	SessionID string    `json:"session_id"`
	Treatment Treatment `json:"treatment"`
	Message   string    `json:"message"`
	Violation Violation `json:"violation"`
}

// Notifier receives escalation notices.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Escalator selects a treatment per violation and tracks the pending
// acknowledgment. Every critical violation yields exactly one
// TreatmentAcknowledge notice; while an acknowledgment is pending the most
// recent critical message is the one displayed.
type Escalator struct {
	silent  func(ViolationType) bool
	pending *Violation
	raised  int
	acked   int
}

// NewEscalator creates an escalator. silent may be nil.
func NewEscalator(silent func(ViolationType) bool) *Escalator {
	if silent == nil {
		silent = func(ViolationType) bool { return false }
	}
	return &Escalator{silent: silent}
}

// Escalate decides the treatment for v.
func (e *Escalator) Escalate(v Violation) Notice {
	n := Notice{Message: v.Message, Violation: v}
	switch {
	case v.Critical():
		n.Treatment = TreatmentAcknowledge
		e.pending = &v
		e.raised++
	case e.silent(v.Type):
		n.Treatment = TreatmentSilent
	default:
		n.Treatment = TreatmentToast
	}
	return n
}

// Pending returns the critical violation awaiting acknowledgment.
func (e *Escalator) Pending() (Violation, bool) {
	if e.pending == nil {
		return Violation{}, false
	}
	return *e.pending, true
}

// Acknowledge clears the pending acknowledgment. It reports whether one was
// pending.
func (e *Escalator) Acknowledge() bool {
	if e.pending == nil {
		return false
	}
	e.pending = nil
	e.acked++
	return true
}

// Stats returns how many acknowledgments were required and given.
func (e *Escalator) Stats() (raised, acknowledged int) {
	return e.raised, e.acked
}
