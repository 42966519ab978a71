package proctor

import (
	"testing"
	"time"
)

var testThresholds = Thresholds{Hidden: 5 * time.Second, Blur: 3 * time.Second}

// TestClassifyDurationConditioned checks the return-phase thresholds.
func TestClassifyDurationConditioned(t *testing.T) {
	tests := []struct {
		name     string
		ev       Event
		wantOK   bool
		severity Severity
		message  string
	}{
		{
			name:     "hidden onset",
			ev:       Event{Type: ViolationTabSwitch, Phase: PhaseOnset},
			wantOK:   true,
			severity: SeverityWarning,
			message:  "Tab switched or window minimized",
		},
		{
			name:   "hidden below threshold",
			ev:     Event{Type: ViolationTabSwitch, Phase: PhaseReturn, Duration: 4999 * time.Millisecond},
			wantOK: false,
		},
		{
			name:     "hidden at threshold",
			ev:       Event{Type: ViolationTabSwitch, Phase: PhaseReturn, Duration: 5 * time.Second},
			wantOK:   true,
			severity: SeverityCritical,
			message:  "Page was hidden for 5.0s",
		},
		{
			name:     "hidden six seconds",
			ev:       Event{Type: ViolationTabSwitch, Phase: PhaseReturn, Duration: 6 * time.Second},
			wantOK:   true,
			severity: SeverityCritical,
			message:  "Page was hidden for 6.0s",
		},
		{
			name:     "blur onset",
			ev:       Event{Type: ViolationWindowFocus, Phase: PhaseOnset},
			wantOK:   true,
			severity: SeverityWarning,
			message:  "Interview window lost focus",
		},
		{
			name:   "blur below threshold",
			ev:     Event{Type: ViolationWindowFocus, Phase: PhaseReturn, Duration: 2 * time.Second},
			wantOK: false,
		},
		{
			name:     "blur above threshold",
			ev:       Event{Type: ViolationWindowFocus, Phase: PhaseReturn, Duration: 3500 * time.Millisecond},
			wantOK:   true,
			severity: SeverityCritical,
			message:  "Window was out of focus for 3.5s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := Classify(tt.ev, testThresholds)
			if ok != tt.wantOK {
				t.Fatalf("Classify ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if v.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", v.Severity, tt.severity)
			}
			if v.Message != tt.message {
				t.Errorf("message = %q, want %q", v.Message, tt.message)
			}
		})
	}
}

func TestClassifyReturnCarriesDuration(t *testing.T) {
	v, ok := Classify(Event{
		Type:     ViolationTabSwitch,
		Phase:    PhaseReturn,
		Duration: 6 * time.Second,
	}, testThresholds)
	if !ok {
		t.Fatal("expected a violation")
	}
	if got := v.Details["duration"]; got != int64(6000) {
		t.Errorf("duration = %v, want 6000", got)
	}
}

func TestClassifySeverities(t *testing.T) {
	tests := []struct {
		ev       Event
		severity Severity
	}{
		{Event{Type: ViolationFullscreen}, SeverityCritical},
		{Event{Type: ViolationFullscreen, Detail: "boom"}, SeverityWarning},
		{Event{Type: ViolationKeyboard, Detail: "F12"}, SeverityWarning},
		{Event{Type: ViolationRightClick, Count: 1}, SeverityWarning},
		{Event{Type: ViolationDevTools}, SeverityCritical},
		{Event{Type: ViolationMultiTouch, Count: 2}, SeverityWarning},
		{Event{Type: ViolationSwipeGesture}, SeverityWarning},
		{Event{Type: ViolationOrientationChange, Detail: "landscape"}, SeverityWarning},
		{Event{Type: ViolationInactivity, Duration: 2 * time.Minute}, SeverityWarning},
		{Event{Type: ViolationPageUnload}, SeverityCritical},
		{Event{Type: ViolationIOSGesture, Detail: "pinch"}, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(string(tt.ev.Type), func(t *testing.T) {
			v, ok := Classify(tt.ev, testThresholds)
			if !ok {
				t.Fatal("expected a violation")
			}
			if v.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", v.Severity, tt.severity)
			}
			if v.Type != tt.ev.Type {
				t.Errorf("type = %s, want %s", v.Type, tt.ev.Type)
			}
			if v.Message == "" {
				t.Error("empty message")
			}
			if v.ID != "" {
				t.Error("classifier must not assign IDs")
			}
		})
	}
}

func TestClassifyDetails(t *testing.T) {
	v, _ := Classify(Event{Type: ViolationRightClick, Count: 3}, testThresholds)
	if v.Details["count"] != 3 {
		t.Errorf("count = %v, want 3", v.Details["count"])
	}

	v, _ = Classify(Event{Type: ViolationKeyboard, Detail: "Ctrl+Shift+I (developer tools)"}, testThresholds)
	if v.Message != "Blocked keyboard shortcut: Ctrl+Shift+I (developer tools)" {
		t.Errorf("message = %q", v.Message)
	}

	v, _ = Classify(Event{
		Type:  ViolationDevTools,
		Attrs: Details{"width_delta": 300},
	}, testThresholds)
	if v.Details["width_delta"] != 300 {
		t.Errorf("attrs not merged: %v", v.Details)
	}

	v, _ = Classify(Event{Type: ViolationDevTools}, testThresholds)
	if v.Details != nil {
		t.Errorf("expected nil details, got %v", v.Details)
	}
}

func TestClassifyUnknownType(t *testing.T) {
	if _, ok := Classify(Event{Type: "clipboard"}, testThresholds); ok {
		t.Error("unknown type should not classify")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	ev := Event{Type: ViolationTabSwitch, Phase: PhaseReturn, At: at, Duration: 7 * time.Second}
	a, _ := Classify(ev, testThresholds)
	b, _ := Classify(ev, testThresholds)
	if a.Message != b.Message || a.Severity != b.Severity || !a.Timestamp.Equal(b.Timestamp) {
		t.Errorf("Classify not deterministic: %+v vs %+v", a, b)
	}
	if !a.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", a.Timestamp, at)
	}
}

func TestAuditLine(t *testing.T) {
	v := Violation{
		Type:      ViolationRightClick,
		Message:   "Right-click is disabled during the interview",
		Timestamp: time.Date(2025, 1, 1, 14, 3, 9, 0, time.UTC),
	}
	want := "14:03:09 — RIGHT_CLICK: Right-click is disabled during the interview"
	if got := v.AuditLine(); got != want {
		t.Errorf("AuditLine = %q, want %q", got, want)
	}
}

func TestViolationTypeMobile(t *testing.T) {
	mobile := map[ViolationType]bool{
		ViolationMultiTouch:        true,
		ViolationSwipeGesture:      true,
		ViolationOrientationChange: true,
		ViolationIOSGesture:        true,
	}
	for _, vt := range ViolationTypes {
		if vt.Mobile() != mobile[vt] {
			t.Errorf("%s.Mobile() = %v", vt, vt.Mobile())
		}
		if !vt.Valid() {
			t.Errorf("%s not valid", vt)
		}
	}
	if ViolationType("nope").Valid() {
		t.Error("unknown type reported valid")
	}
}
