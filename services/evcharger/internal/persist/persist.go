// Package persist stores the operator state that must survive a restart:
// mode, enable flag, intended current, hysteresis timestamps, and session
// counters. Writes are atomic; a missing or corrupt file yields defaults.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/session"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

// State is the on-disk document. Field names are stable; unknown fields in
// an existing file are ignored so downgrades stay safe.
type State struct {
	Mode       types.Mode      `json:"mode"`
	StartStop  types.StartStop `json:"start_stop"`
	SetCurrent float64         `json:"set_current"`

	ChargingStartTime      *time.Time `json:"charging_start_time,omitempty"`
	InsufficientSolarStart *time.Time `json:"insufficient_solar_start,omitempty"`

	Session session.State `json:"session"`
}

// DefaultState returns the state used when nothing was persisted yet.
func DefaultState(intendedAmps float64) State {
	return State{
		Mode:       types.ModeManual,
		StartStop:  types.ChargeEnabled,
		SetCurrent: intendedAmps,
	}
}

// Store reads and writes the state file.
type Store struct {
	path string
	log  zerolog.Logger
}

func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load returns the persisted state, falling back to defaults on any
// problem. Out-of-range values are repaired individually so one bad field
// does not discard the rest.
func (s *Store) Load(intendedAmps float64) State {
	def := DefaultState(intendedAmps)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("state file not readable, starting fresh")
		}
		return def
	}
	st := def
	if err := json.Unmarshal(raw, &st); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("state file corrupt, starting fresh")
		return def
	}
	if !st.Mode.Valid() {
		s.log.Warn().Int("mode", int(st.Mode)).Msg("persisted mode invalid, using MANUAL")
		st.Mode = types.ModeManual
	}
	if st.StartStop != types.ChargeDisabled && st.StartStop != types.ChargeEnabled {
		st.StartStop = types.ChargeEnabled
	}
	if st.SetCurrent < 0 {
		st.SetCurrent = def.SetCurrent
	}
	return st
}

// Save writes st atomically: temp file in the same directory, fsync,
// rename. A crash mid-write never corrupts the previous state.
func (s *Store) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errcode.Wrap(errcode.Persistence, "persist.mkdir", err)
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errcode.Wrap(errcode.Persistence, "persist.marshal", err)
	}
	if err := renameio.WriteFile(s.path, raw, 0o644); err != nil {
		return errcode.Wrap(errcode.Persistence, "persist.write", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }
