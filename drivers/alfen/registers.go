// Package alfen provides register constants and a Modbus/TCP driver for
// Alfen NG9xx AC charging stations.
package alfen

// The station exposes two Modbus unit-ids on one TCP endpoint: the socket
// unit carries telemetry and the set-point, the station unit carries
// station-wide limits and identity strings.
const (
	UnitSocketDefault  = 1
	UnitStationDefault = 200
)

const (
	// --- Socket unit registers ---

	regVoltages = 306 // 6 regs, 3x float32, V L1/L2/L3
	lenVoltages = 6

	regCurrents = 320 // 6 regs, 3x float32, A L1/L2/L3
	lenCurrents = 6

	regPower = 344 // 8 regs, float64 total W in the first 4
	lenPower = 8

	regEnergy = 374 // 4 regs, float64, Wh
	lenEnergy = 4

	regSocketAvailability = 1200 // 1 reg, 1=operative
	regMode3State         = 1201 // 5 regs, ASCII IEC 61851 mode-3 state
	lenMode3State         = 5

	regSocketMaxCurrent = 1206 // 2 regs, float32
	regSetpoint         = 1210 // 2 regs, float32, R/W, amps
	lenSetpoint         = 2
	regSafeCurrent      = 1212 // 2 regs, float32

	// --- Station unit registers ---

	regActivePhases = 1215 // 1 reg, uint16, 1 or 3

	regProductName = 100 // 17 regs, ASCII "ALF_1000"
	lenProductName = 17

	regManufacturer = 117 // 5 regs, ASCII "Alfen NV"
	lenManufacturer = 5

	regFirmware = 123 // 17 regs, ASCII
	lenFirmware = 17

	regPlatformType = 140 // 17 regs, ASCII "NG910"
	lenPlatformType = 17

	regSerialNumber = 157 // 11 regs, ASCII
	lenSerialNumber = 11

	regStationMaxCurrent = 1100 // 2 regs, float32, amps
	lenStationMax        = 2
)

// Block is one contiguous register read.
type Block struct {
	Address uint16
	Count   uint16
}

// RegisterMap carries the addresses the driver touches, so a config file
// can override them for firmware variants. Defaults match the NG9xx map.
type RegisterMap struct {
	Voltages     Block
	Currents     Block
	Power        Block
	Energy       Block
	Mode3State   Block
	Setpoint     Block
	ActivePhases Block
	StationMax   Block
	ProductName  Block
	Manufacturer Block
	Firmware     Block
	PlatformType Block
	SerialNumber Block
}

// DefaultRegisterMap returns the stock NG9xx layout.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		Voltages:     Block{regVoltages, lenVoltages},
		Currents:     Block{regCurrents, lenCurrents},
		Power:        Block{regPower, lenPower},
		Energy:       Block{regEnergy, lenEnergy},
		Mode3State:   Block{regMode3State, lenMode3State},
		Setpoint:     Block{regSetpoint, lenSetpoint},
		ActivePhases: Block{regActivePhases, 1},
		StationMax:   Block{regStationMaxCurrent, lenStationMax},
		ProductName:  Block{regProductName, lenProductName},
		Manufacturer: Block{regManufacturer, lenManufacturer},
		Firmware:     Block{regFirmware, lenFirmware},
		PlatformType: Block{regPlatformType, lenPlatformType},
		SerialNumber: Block{regSerialNumber, lenSerialNumber},
	}
}
