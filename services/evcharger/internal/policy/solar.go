package policy

import (
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

const (
	// NominalVoltage converts excess watts to amps per phase.
	NominalVoltage = 230.0

	// MinCurrent is the smallest current at which the charger actually
	// charges; anything below it is treated as "no charge".
	MinCurrent = 6.0
)

// ExcessSolarCurrent converts the host-bus power observables into a
// charging current. The EV's own draw is removed from consumption so the
// charger does not starve itself; power flowing into the battery is
// reserved for the battery.
func ExcessSolarCurrent(obs types.SolarObservables, evPowerW float64, activePhases int) (amps, excessW float64) {
	if activePhases != 1 {
		activePhases = 3
	}
	consumption := obs.ConsumptionW - evPowerW
	battery := obs.BatteryW
	if battery < 0 {
		battery = 0
	}
	excessW = obs.PVTotalW - consumption - battery
	if excessW < 0 {
		excessW = 0
	}
	amps = excessW / (float64(activePhases) * NominalVoltage)
	return amps, excessW
}
