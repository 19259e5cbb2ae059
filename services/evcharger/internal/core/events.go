package core

import (
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

// Event is a control mutation requested from outside the loop: a bus write
// callback or an HTTP handler. Callbacks only validate and enqueue; the
// loop applies the change, persists, and writes the charger.
type Event interface {
	event()
}

// SetMode selects MANUAL, AUTO, or SCHEDULED.
type SetMode struct {
	Mode types.Mode
	Done chan error
}

// SetStartStop flips the operator enable switch.
type SetStartStop struct {
	Enable types.StartStop
	Done   chan error
}

// SetCurrent updates the intended charging current in amps.
type SetCurrent struct {
	Amps float64
	Done chan error
}

// SetAutoStart toggles automatic charge start on vehicle connect.
type SetAutoStart struct {
	On   bool
	Done chan error
}

func (SetMode) event()      {}
func (SetStartStop) event() {}
func (SetCurrent) event()   {}
func (SetAutoStart) event() {}

func reply(done chan error, err error) {
	if done == nil {
		return
	}
	select {
	case done <- err:
	default:
	}
}
