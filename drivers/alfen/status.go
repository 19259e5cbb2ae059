package alfen

import "strings"

// Mode3State is the IEC 61851 mode-3 state reported at register 1201.
type Mode3State string

// ParseMode3State normalizes a raw state string (trimmed, upper-cased).
func ParseMode3State(raw string) Mode3State {
	return Mode3State(strings.ToUpper(strings.TrimSpace(raw)))
}

// Disconnected reports state A (no vehicle) or E (error, no power).
func (s Mode3State) Disconnected() bool {
	return len(s) == 0 || s[0] == 'A' || s[0] == 'E'
}

// Connected reports a vehicle present but not drawing power.
func (s Mode3State) Connected() bool {
	switch s {
	case "B1", "B2", "C1", "D1":
		return true
	}
	return false
}

// Charging reports active power transfer.
func (s Mode3State) Charging() bool {
	return s == "C2" || s == "D2"
}

// Known reports whether the state is one the driver recognizes.
func (s Mode3State) Known() bool {
	switch s {
	case "A", "A1", "A2", "B1", "B2", "C1", "C2", "D1", "D2", "E", "F":
		return true
	}
	return false
}
