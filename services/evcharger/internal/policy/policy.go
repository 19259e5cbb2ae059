// Package policy derives the effective charging current from operator
// intent, device limits, schedules, solar excess, and dynamic pricing. It
// is pure: no I/O, no clocks, no mutation of its inputs.
package policy

import (
	"fmt"
	"time"

	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/config"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
	"github.com/rhernaus/victron-alfen-charger-sub000/x/mathx"
)

// Hysteresis is the carried state of the AUTO-mode minimum-charge timer.
type Hysteresis struct {
	// InsufficientSolarSince is set when solar excess first drops below
	// the minimum charging current; zero while excess is sufficient.
	// Persisted for observability.
	InsufficientSolarSince time.Time

	// LastPositiveSendTime is the last time a set-point of at least
	// MinCurrent was written to the charger.
	LastPositiveSendTime time.Time
}

// Input is everything the derivation needs, captured at one instant.
type Input struct {
	Mode         types.Mode
	Enable       types.StartStop
	IntendedAmps float64

	StationMaxAmps float64
	MaxSetCurrent  float64
	ActivePhases   int

	Now       time.Time
	Location  *time.Location
	Schedules []config.ScheduleItem

	EVPowerW float64
	Solar    types.SolarObservables
	Strategy types.ESSStrategy

	// PriceOK is nil when no price provider is configured; otherwise it
	// gates the AUTO candidate.
	PriceOK *bool

	LowSOC bool

	MinChargeDuration time.Duration
	Hysteresis        Hysteresis
}

// Result carries the decision and the next hysteresis snapshot.
type Result struct {
	EffectiveAmps float64
	Explanation   string
	Hysteresis    Hysteresis
}

// Compute derives the effective current. Rules are evaluated in a fixed
// order; the returned value is always within
// [0, min(StationMaxAmps, MaxSetCurrent)].
func Compute(in Input) Result {
	hyst := in.Hysteresis

	if in.Enable != types.ChargeEnabled {
		return Result{0, "charging disabled", hyst}
	}
	if in.LowSOC {
		return Result{0, "low battery SOC", hyst}
	}

	var candidate float64
	var explanation string

	switch in.Mode {
	case types.ModeManual:
		candidate = in.IntendedAmps
		explanation = fmt.Sprintf("manual, intended %.2fA", in.IntendedAmps)

	case types.ModeScheduled:
		if WithinAnySchedule(in.Schedules, in.Now, in.Location) {
			candidate = in.IntendedAmps
			explanation = fmt.Sprintf("scheduled, within window, intended %.2fA", in.IntendedAmps)
		} else {
			candidate = 0
			explanation = "scheduled, outside all windows"
		}

	case types.ModeAuto:
		switch in.Strategy {
		case types.ESSBuying:
			candidate = in.StationMaxAmps
			explanation = "auto, grid import active, charging at station max"
		case types.ESSSelling:
			candidate = 0
			explanation = "auto, exporting to grid, preserving export"
		default:
			amps, excessW := ExcessSolarCurrent(in.Solar, in.EVPowerW, in.ActivePhases)
			candidate = amps
			explanation = fmt.Sprintf("auto, solar excess %.0fW -> %.2fA (%d-phase)",
				excessW, amps, normPhases(in.ActivePhases))
		}
		if in.PriceOK != nil && !*in.PriceOK {
			candidate = 0
			explanation += ", price not favourable"
		}

		candidate, explanation, hyst = applyMinChargeHysteresis(in, candidate, explanation, hyst)

	default:
		return Result{0, fmt.Sprintf("unknown mode %d", in.Mode), hyst}
	}

	limit := min(in.StationMaxAmps, in.MaxSetCurrent)
	clamped := mathx.Clamp(candidate, 0, limit)
	if clamped != candidate {
		explanation += fmt.Sprintf(", clamped %.2fA -> %.2fA", candidate, clamped)
	}
	return Result{clamped, explanation, hyst}
}

// applyMinChargeHysteresis keeps an AUTO-mode charge alive at MinCurrent
// for MinChargeDuration after the last meaningful set-point, so passing
// clouds do not flap the contactor.
func applyMinChargeHysteresis(in Input, candidate float64, explanation string, hyst Hysteresis) (float64, string, Hysteresis) {
	if candidate >= MinCurrent {
		hyst.InsufficientSolarSince = time.Time{}
		return candidate, explanation, hyst
	}
	held := !hyst.LastPositiveSendTime.IsZero() &&
		in.Now.Sub(hyst.LastPositiveSendTime) < in.MinChargeDuration
	if held {
		return MinCurrent, explanation + ", holding minimum charge duration", hyst
	}
	if hyst.InsufficientSolarSince.IsZero() {
		hyst.InsufficientSolarSince = in.Now
	}
	return 0, explanation + ", below minimum charging current", hyst
}

func normPhases(p int) int {
	if p == 1 {
		return 1
	}
	return 3
}
