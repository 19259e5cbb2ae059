package types

// Shared value types for the EV charger gateway. These cross package
// boundaries (driver -> core -> publisher) and carry no behaviour beyond
// naming and formatting.

// Mode is the operator-selected control policy.
type Mode int

const (
	ModeManual    Mode = 0
	ModeAuto      Mode = 1
	ModeScheduled Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	case ModeScheduled:
		return "scheduled"
	}
	return "unknown"
}

// Valid reports whether m is one of the three defined modes.
func (m Mode) Valid() bool { return m >= ModeManual && m <= ModeScheduled }

// StartStop is the operator enable switch.
type StartStop int

const (
	ChargeDisabled StartStop = 0
	ChargeEnabled  StartStop = 1
)

func (s StartStop) String() string {
	if s == ChargeEnabled {
		return "enabled"
	}
	return "disabled"
}

// Status is the published charger status code.
type Status int

const (
	StatusDisconnected Status = 0
	StatusConnected    Status = 1
	StatusCharging     Status = 2
	StatusCharged      Status = 3
	StatusWaitSun      Status = 4
	StatusWaitStart    Status = 6
	StatusLowSOC       Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusCharging:
		return "charging"
	case StatusCharged:
		return "charged"
	case StatusWaitSun:
		return "wait_sun"
	case StatusWaitStart:
		return "wait_start"
	case StatusLowSOC:
		return "low_soc"
	}
	return "unknown"
}

// ESSStrategy classifies the site's current energy posture.
type ESSStrategy int

const (
	ESSIdle    ESSStrategy = 0
	ESSBuying  ESSStrategy = 1
	ESSSelling ESSStrategy = 2
)

func (e ESSStrategy) String() string {
	switch e {
	case ESSBuying:
		return "buying"
	case ESSSelling:
		return "selling"
	}
	return "idle"
}

// Telemetry is one decoded sample of the charger's electrical state.
type Telemetry struct {
	VoltageL1 float64
	VoltageL2 float64
	VoltageL3 float64
	CurrentL1 float64
	CurrentL2 float64
	CurrentL3 float64
	PowerL1   float64
	PowerL2   float64
	PowerL3   float64
	PowerW    float64 // total active power
	EnergyKWh float64 // lifetime active energy
}

// TotalCurrent sums the per-phase currents.
func (t Telemetry) TotalCurrent() float64 {
	return t.CurrentL1 + t.CurrentL2 + t.CurrentL3
}

// DeviceInfo is the static identity block read from the station unit.
type DeviceInfo struct {
	ProductName  string
	Manufacturer string
	Firmware     string
	Platform     string
	Serial       string
}

// SolarObservables is the host-bus snapshot the AUTO policy consumes.
// BatteryW is positive while the battery charges.
type SolarObservables struct {
	PVTotalW     float64
	ConsumptionW float64
	BatteryW     float64
	BatterySOC   float64
}
