// Package config loads and validates the gateway's YAML configuration.
// Validation is lenient: a bad field falls back to its default with a
// warning, and a missing or unparsable file yields the built-in defaults.
// Configuration never aborts boot.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is immutable after load.
type Config struct {
	Modbus      ModbusConfig    `yaml:"modbus"`
	Defaults    DefaultsConfig  `yaml:"defaults"`
	Controls    ControlsConfig  `yaml:"controls"`
	Registers   RegistersConfig `yaml:"registers"`
	Schedules   []ScheduleItem  `yaml:"schedules"`
	Timezone    string          `yaml:"timezone"`
	PollMs      int             `yaml:"poll_interval_ms"`
	Persistence PersistConfig   `yaml:"persistence"`
	Tibber      TibberConfig    `yaml:"tibber"`
	Web         WebConfig       `yaml:"web"`
	Logging     LoggingConfig   `yaml:"logging"`

	DeviceInstance int `yaml:"device_instance"`
}

type ModbusConfig struct {
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	SocketUnit     int     `yaml:"socket_unit_id"`
	StationUnit    int     `yaml:"station_unit_id"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Addr returns the dial address.
func (m ModbusConfig) Addr() string { return fmt.Sprintf("%s:%d", m.Host, m.Port) }

func (m ModbusConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds * float64(time.Second))
}

type DefaultsConfig struct {
	IntendedSetCurrent float64 `yaml:"intended_set_current"`
	StationMaxCurrent  float64 `yaml:"station_max_current"`
}

type ControlsConfig struct {
	CurrentTolerance     float64 `yaml:"current_tolerance"`
	UpdateDiffThreshold  float64 `yaml:"update_difference_threshold"`
	VerificationDelaySec float64 `yaml:"verification_delay"`
	RetryDelaySec        float64 `yaml:"retry_delay"`
	MaxRetries           int     `yaml:"max_retries"`
	WatchdogIntervalSec  float64 `yaml:"watchdog_interval"`
	MaxSetCurrent        float64 `yaml:"max_set_current"`
	MinChargeDurationSec int     `yaml:"min_charge_duration"`
	MinBatterySOC        float64 `yaml:"min_battery_soc"`
}

func (c ControlsConfig) VerificationDelay() time.Duration {
	return time.Duration(c.VerificationDelaySec * float64(time.Second))
}

func (c ControlsConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec * float64(time.Second))
}

func (c ControlsConfig) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSec * float64(time.Second))
}

func (c ControlsConfig) MinChargeDuration() time.Duration {
	return time.Duration(c.MinChargeDurationSec) * time.Second
}

// RegistersConfig optionally overrides individual register addresses for
// firmware variants. Zero values keep the driver defaults.
type RegistersConfig struct {
	Voltages   int `yaml:"voltages"`
	Currents   int `yaml:"currents"`
	Power      int `yaml:"power"`
	Energy     int `yaml:"energy"`
	Mode3State int `yaml:"socket_state"`
	Setpoint   int `yaml:"set_point"`
	StationMax int `yaml:"station_max_current"`
}

// ScheduleItem is one charging window. Bit 0 of DaysMask is Sunday.
// Windows wrap midnight when End <= Start.
type ScheduleItem struct {
	Enabled  bool   `yaml:"enabled"`
	DaysMask int    `yaml:"days_mask"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
}

type PersistConfig struct {
	Path string `yaml:"path"`
}

type TibberConfig struct {
	Enabled           bool   `yaml:"enabled"`
	AccessToken       string `yaml:"access_token"`
	ChargeOnCheap     bool   `yaml:"charge_on_cheap"`
	ChargeOnVeryCheap bool   `yaml:"charge_on_very_cheap"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Modbus: ModbusConfig{
			Host:           "192.168.1.100",
			Port:           502,
			SocketUnit:     1,
			StationUnit:    200,
			TimeoutSeconds: 5,
		},
		Defaults: DefaultsConfig{
			IntendedSetCurrent: 6,
			StationMaxCurrent:  32,
		},
		Controls: ControlsConfig{
			CurrentTolerance:     0.5,
			UpdateDiffThreshold:  0.1,
			VerificationDelaySec: 0.1,
			RetryDelaySec:        0.5,
			MaxRetries:           3,
			WatchdogIntervalSec:  30,
			MaxSetCurrent:        64,
			MinChargeDurationSec: 300,
			MinBatterySOC:        0,
		},
		Timezone: "UTC",
		PollMs:   1000,
		Persistence: PersistConfig{
			Path: "/data/alfen_driver_config.json",
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8088,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		DeviceInstance: 0,
	}
}

// Load reads path and merges it over the defaults. Errors are reported via
// the logger; the returned Config is always usable.
func Load(path string, log zerolog.Logger) Config {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config file not readable, using defaults")
		return cfg
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config file not parsable, using defaults")
		return Default()
	}
	cfg.Validate(log)
	return cfg
}

// Validate repairs invalid fields in place, logging each fallback.
func (c *Config) Validate(log zerolog.Logger) {
	def := Default()

	if c.Modbus.Host == "" {
		log.Warn().Msg("modbus.host missing, using default")
		c.Modbus.Host = def.Modbus.Host
	}
	if c.Modbus.Port <= 0 || c.Modbus.Port > 65535 {
		log.Warn().Int("port", c.Modbus.Port).Msg("modbus.port invalid, using default")
		c.Modbus.Port = def.Modbus.Port
	}
	if c.Modbus.SocketUnit <= 0 || c.Modbus.SocketUnit > 255 {
		c.Modbus.SocketUnit = def.Modbus.SocketUnit
	}
	if c.Modbus.StationUnit <= 0 || c.Modbus.StationUnit > 255 {
		c.Modbus.StationUnit = def.Modbus.StationUnit
	}
	if c.Modbus.TimeoutSeconds <= 0 {
		c.Modbus.TimeoutSeconds = def.Modbus.TimeoutSeconds
	}

	if c.Controls.MaxSetCurrent <= 0 || c.Controls.MaxSetCurrent > 64 {
		log.Warn().Float64("max_set_current", c.Controls.MaxSetCurrent).
			Msg("controls.max_set_current invalid, using default")
		c.Controls.MaxSetCurrent = def.Controls.MaxSetCurrent
	}
	if c.Controls.CurrentTolerance <= 0 {
		c.Controls.CurrentTolerance = def.Controls.CurrentTolerance
	}
	if c.Controls.UpdateDiffThreshold < 0 {
		c.Controls.UpdateDiffThreshold = def.Controls.UpdateDiffThreshold
	}
	if c.Controls.MaxRetries <= 0 {
		c.Controls.MaxRetries = def.Controls.MaxRetries
	}
	if c.Controls.RetryDelaySec < 0 {
		c.Controls.RetryDelaySec = def.Controls.RetryDelaySec
	}
	if c.Controls.WatchdogIntervalSec <= 0 {
		c.Controls.WatchdogIntervalSec = def.Controls.WatchdogIntervalSec
	}
	if c.Controls.MinChargeDurationSec < 0 {
		c.Controls.MinChargeDurationSec = def.Controls.MinChargeDurationSec
	}

	if c.Defaults.IntendedSetCurrent < 0 || c.Defaults.IntendedSetCurrent > c.Controls.MaxSetCurrent {
		log.Warn().Float64("intended", c.Defaults.IntendedSetCurrent).
			Msg("defaults.intended_set_current out of range, using default")
		c.Defaults.IntendedSetCurrent = def.Defaults.IntendedSetCurrent
	}
	if c.Defaults.StationMaxCurrent <= 0 {
		c.Defaults.StationMaxCurrent = def.Defaults.StationMaxCurrent
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		log.Warn().Str("timezone", c.Timezone).Msg("timezone unknown, using UTC")
		c.Timezone = "UTC"
	}
	if c.PollMs < 100 {
		log.Warn().Int("poll_interval_ms", c.PollMs).Msg("poll interval too small, using default")
		c.PollMs = def.PollMs
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = def.Persistence.Path
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		c.Web.Port = def.Web.Port
	}

	valid := c.Schedules[:0]
	for i, item := range c.Schedules {
		if _, err := ParseHHMM(item.Start); err != nil {
			log.Warn().Int("schedule", i).Str("start", item.Start).Msg("bad schedule start, dropping item")
			continue
		}
		if _, err := ParseHHMM(item.End); err != nil {
			log.Warn().Int("schedule", i).Str("end", item.End).Msg("bad schedule end, dropping item")
			continue
		}
		if item.DaysMask < 0 || item.DaysMask > 0x7F {
			log.Warn().Int("schedule", i).Int("days_mask", item.DaysMask).Msg("bad day mask, dropping item")
			continue
		}
		valid = append(valid, item)
	}
	c.Schedules = valid

	if c.Tibber.Enabled && c.Tibber.AccessToken == "" {
		log.Warn().Msg("tibber enabled without access token, disabling")
		c.Tibber.Enabled = false
	}
}

// Location resolves the configured timezone; Validate guarantees success.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PollInterval returns the tick period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// ParseHHMM converts "HH:MM" to minutes since midnight.
func ParseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad time %q: out of range", s)
	}
	return h*60 + m, nil
}
