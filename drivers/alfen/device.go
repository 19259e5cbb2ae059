package alfen

import (
	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

// Config selects the unit-ids, register map, and retry behaviour for one
// charger.
type Config struct {
	SocketUnit  byte
	StationUnit byte
	Registers   RegisterMap
	Retry       RetryPolicy
}

// Device reads and writes the Alfen register map over a Transport. Every
// call goes through the retry policy; decoding is delegated to the codec.
type Device struct {
	bus Transport
	cfg Config
	log zerolog.Logger
}

func NewDevice(bus Transport, cfg Config, log zerolog.Logger) *Device {
	if cfg.SocketUnit == 0 {
		cfg.SocketUnit = UnitSocketDefault
	}
	if cfg.StationUnit == 0 {
		cfg.StationUnit = UnitStationDefault
	}
	if cfg.Registers == (RegisterMap{}) {
		cfg.Registers = DefaultRegisterMap()
	}
	return &Device{bus: bus, cfg: cfg, log: log.With().Str("component", "alfen").Logger()}
}

// Bus exposes the underlying transport for connection management.
func (d *Device) Bus() Transport { return d.bus }

func (d *Device) readSocket(b Block) ([]uint16, error) {
	var regs []uint16
	err := d.cfg.Retry.Do(func() error {
		var e error
		regs, e = d.bus.ReadHolding(b.Address, b.Count, d.cfg.SocketUnit)
		return e
	})
	return regs, err
}

func (d *Device) readStation(b Block) ([]uint16, error) {
	var regs []uint16
	err := d.cfg.Retry.Do(func() error {
		var e error
		regs, e = d.bus.ReadHolding(b.Address, b.Count, d.cfg.StationUnit)
		return e
	})
	return regs, err
}

// ReadVoltages returns per-phase voltages in volts.
func (d *Device) ReadVoltages() ([3]float64, error) {
	regs, err := d.readSocket(d.cfg.Registers.Voltages)
	if err != nil {
		return [3]float64{}, err
	}
	f := DecodeFloat32Array(regs, 3)
	return [3]float64{float64(f[0]), float64(f[1]), float64(f[2])}, nil
}

// ReadCurrents returns per-phase currents in amps.
func (d *Device) ReadCurrents() ([3]float64, error) {
	regs, err := d.readSocket(d.cfg.Registers.Currents)
	if err != nil {
		return [3]float64{}, err
	}
	f := DecodeFloat32Array(regs, 3)
	return [3]float64{float64(f[0]), float64(f[1]), float64(f[2])}, nil
}

// ReadPowerW returns total active power in watts, decoded as a 64-bit
// float from the head of the 8-register power block. Per-phase power is
// derived from voltage and current by the caller.
func (d *Device) ReadPowerW() (float64, error) {
	regs, err := d.readSocket(d.cfg.Registers.Power)
	if err != nil {
		return 0, err
	}
	return DecodeFloat64(regs[:4]), nil
}

// ReadEnergyKWh returns the lifetime active energy in kWh (device reports Wh).
func (d *Device) ReadEnergyKWh() (float64, error) {
	regs, err := d.readSocket(d.cfg.Registers.Energy)
	if err != nil {
		return 0, err
	}
	return DecodeFloat64(regs) / 1000.0, nil
}

// ReadMode3State returns the raw IEC 61851 mode-3 state string, for example
// "A1", "B2", "C2".
func (d *Device) ReadMode3State() (string, error) {
	regs, err := d.readSocket(d.cfg.Registers.Mode3State)
	if err != nil {
		return "", err
	}
	return DecodeString(regs), nil
}

// ReadSetpoint returns the currently programmed set-point in amps.
func (d *Device) ReadSetpoint() (float64, error) {
	regs, err := d.readSocket(d.cfg.Registers.Setpoint)
	if err != nil {
		return 0, err
	}
	return float64(DecodeFloat32(regs)), nil
}

// WriteSetpoint programs the socket current set-point in amps. Verification
// is the caller's concern.
func (d *Device) WriteSetpoint(amps float64) error {
	return d.cfg.Retry.Do(func() error {
		return d.bus.WriteHolding(d.cfg.Registers.Setpoint.Address, EncodeFloat32(float32(amps)), d.cfg.SocketUnit)
	})
}

// ReadStationMaxCurrent returns the station-advertised maximum in amps.
// Zero or negative readings are rejected as read errors so callers can fall
// back to their configured default.
func (d *Device) ReadStationMaxCurrent() (float64, error) {
	regs, err := d.readStation(d.cfg.Registers.StationMax)
	if err != nil {
		return 0, err
	}
	max := float64(DecodeFloat32(regs))
	if max <= 0 {
		return 0, errcode.Wrap(errcode.ReadError, "station_max_current", nil)
	}
	return max, nil
}

// ReadActivePhases returns 1 or 3. The charger only does 1- or 3-phase
// charging; 2 reads as 3, anything else logs and defaults to 3.
func (d *Device) ReadActivePhases() (int, error) {
	regs, err := d.readStation(d.cfg.Registers.ActivePhases)
	if err != nil {
		return 3, err
	}
	switch regs[0] {
	case 1:
		return 1, nil
	case 2, 3:
		return 3, nil
	default:
		d.log.Warn().Uint16("phases", regs[0]).Msg("invalid phase count, defaulting to 3")
		return 3, nil
	}
}

// ReadInfo reads the static identity block from the station unit.
func (d *Device) ReadInfo() (types.DeviceInfo, error) {
	var info types.DeviceInfo
	blocks := []struct {
		block Block
		dst   *string
	}{
		{d.cfg.Registers.ProductName, &info.ProductName},
		{d.cfg.Registers.Manufacturer, &info.Manufacturer},
		{d.cfg.Registers.Firmware, &info.Firmware},
		{d.cfg.Registers.PlatformType, &info.Platform},
		{d.cfg.Registers.SerialNumber, &info.Serial},
	}
	var firstErr error
	for _, b := range blocks {
		regs, err := d.readStation(b.block)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		*b.dst = DecodeString(regs)
	}
	return info, firstErr
}
