package proctor

import "strings"

// KeyCombo is a blocked key combination. Modifiers must match exactly.
type KeyCombo struct {
	Key         string `toml:"key" json:"key" yaml:"key"`
	Ctrl        bool   `toml:"ctrl" json:"ctrl,omitempty" yaml:"ctrl"`
	Meta        bool   `toml:"meta" json:"meta,omitempty" yaml:"meta"`
	Shift       bool   `toml:"shift" json:"shift,omitempty" yaml:"shift"`
	Alt         bool   `toml:"alt" json:"alt,omitempty" yaml:"alt"`
	Description string `toml:"description" json:"description" yaml:"description"`
}

// Matches reports whether k is this combination. Keys compare
// case-insensitively so Shift variants of letters still match.
func (c KeyCombo) Matches(k KeyPress) bool {
	return strings.EqualFold(c.Key, k.Key) &&
		c.Ctrl == k.Ctrl &&
		c.Meta == k.Meta &&
		c.Shift == k.Shift &&
		c.Alt == k.Alt
}

// String renders the combination, e.g. "Ctrl+Shift+I (developer tools)".
func (c KeyCombo) String() string {
	var parts []string
	if c.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if c.Meta {
		parts = append(parts, "Cmd")
	}
	if c.Alt {
		parts = append(parts, "Alt")
	}
	if c.Shift {
		parts = append(parts, "Shift")
	}
	key := c.Key
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	parts = append(parts, key)

	s := strings.Join(parts, "+")
	if c.Description != "" {
		s += " (" + c.Description + ")"
	}
	return s
}

// DefaultBlockedKeys returns the built-in block list, covering both the
// Ctrl (Windows/Linux) and Cmd (macOS) conventions.
func DefaultBlockedKeys() []KeyCombo {
	keys := []KeyCombo{
		{Key: "F5", Description: "refresh"},
		{Key: "F5", Ctrl: true, Description: "hard refresh"},
		{Key: "F12", Description: "developer tools"},
		{Key: "Tab", Alt: true, Description: "switch window"},
		{Key: "F4", Alt: true, Description: "close window"},
		{Key: "Tab", Ctrl: true, Description: "next tab"},
		{Key: "Tab", Ctrl: true, Shift: true, Description: "previous tab"},
		{Key: "i", Meta: true, Alt: true, Description: "developer tools"},
		{Key: "j", Meta: true, Alt: true, Description: "developer console"},
		{Key: "c", Meta: true, Alt: true, Description: "element inspector"},
		{Key: "u", Meta: true, Alt: true, Description: "view source"},
		{Key: "i", Ctrl: true, Shift: true, Description: "developer tools"},
		{Key: "j", Ctrl: true, Shift: true, Description: "developer console"},
		{Key: "c", Ctrl: true, Shift: true, Description: "element inspector"},
		{Key: "r", Ctrl: true, Shift: true, Description: "hard refresh"},
		{Key: "r", Meta: true, Shift: true, Description: "hard refresh"},
	}
	// Shortcuts shared by both modifier conventions.
	shared := []struct{ key, desc string }{
		{"r", "refresh"},
		{"u", "view source"},
		{"t", "new tab"},
		{"n", "new window"},
		{"w", "close tab"},
		{"p", "print"},
		{"s", "save page"},
		{"h", "history"},
		{"l", "address bar"},
	}
	for _, s := range shared {
		keys = append(keys,
			KeyCombo{Key: s.key, Ctrl: true, Description: s.desc},
			KeyCombo{Key: s.key, Meta: true, Description: s.desc},
		)
	}
	return keys
}

// KeyboardAdapter intercepts blocked key combinations.
type KeyboardAdapter struct{}

// Name implements Adapter.
func (KeyboardAdapter) Name() string { return "keyboard" }

// Attach implements Adapter.
func (KeyboardAdapter) Attach(sc *Scope) error {
	blocked := sc.Config().BlockedKeys
	if len(blocked) == 0 {
		return nil
	}
	return sc.On(SignalKeyDown, func(st *SessionState, sig Signal) {
		for _, combo := range blocked {
			if combo.Matches(sig.Key) {
				sig.PreventDefault()
				sc.Raise(Event{Type: ViolationKeyboard, Detail: combo.String()})
				return
			}
		}
	})
}
