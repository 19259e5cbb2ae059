package core

import (
	"github.com/rhernaus/victron-alfen-charger-sub000/drivers/alfen"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/policy"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

// StatusInput is everything the overlay needs for one sample.
type StatusInput struct {
	// Raw is the raw-mapped status of the current sample.
	Raw types.Status

	// PrevRaw is the raw-mapped status from before the current raw state
	// was entered (updated on raw transitions only). A Charging->Connected
	// transition with current still offered reads as a full battery, and
	// holds until the raw state changes again.
	PrevRaw types.Status

	Mode          types.Mode
	Enable        types.StartStop
	EffectiveAmps float64
	OutsideWindow bool // SCHEDULED mode, now outside every enabled window
	LowSOC        bool
}

// RawStatus maps the IEC 61851 mode-3 state to the coarse device status.
// Unknown states read as disconnected; the caller logs those.
func RawStatus(raw alfen.Mode3State) types.Status {
	switch {
	case raw.Charging():
		return types.StatusCharging
	case raw.Connected():
		return types.StatusConnected
	default:
		return types.StatusDisconnected
	}
}

// MapStatus applies the policy overlay on top of the raw mapping. The
// overlay only ever changes connected/charging states; a disconnected
// vehicle is always reported as disconnected.
func MapStatus(in StatusInput) types.Status {
	raw := in.Raw
	if raw == types.StatusDisconnected {
		return raw
	}
	if in.Enable != types.ChargeEnabled {
		return types.StatusWaitStart
	}
	if in.Mode == types.ModeAuto && in.EffectiveAmps < policy.MinCurrent {
		return types.StatusWaitSun
	}
	if in.Mode == types.ModeScheduled && in.OutsideWindow {
		return types.StatusWaitStart
	}
	if in.LowSOC {
		return types.StatusLowSOC
	}
	// Full battery: the vehicle stopped drawing while we still offer a
	// charging current.
	if raw == types.StatusConnected && in.PrevRaw == types.StatusCharging &&
		in.EffectiveAmps >= policy.MinCurrent {
		return types.StatusCharged
	}
	return raw
}
