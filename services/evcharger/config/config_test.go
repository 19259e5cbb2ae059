package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"06:00", 360, false},
		{"22:00", 1320, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"nope", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseHHMM(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg := Load("/nonexistent/path.yaml", zerolog.Nop())
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "charger.yaml")
	doc := `
modbus:
  host: 10.0.0.7
  port: 1502
controls:
  max_set_current: 16
timezone: Europe/Amsterdam
schedules:
  - enabled: true
    days_mask: 127
    start: "22:00"
    end: "06:00"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg := Load(path, zerolog.Nop())
	assert.Equal(t, "10.0.0.7", cfg.Modbus.Host)
	assert.Equal(t, 1502, cfg.Modbus.Port)
	assert.Equal(t, 16.0, cfg.Controls.MaxSetCurrent)
	assert.Equal(t, "Europe/Amsterdam", cfg.Timezone)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.5, cfg.Controls.CurrentTolerance)
	assert.Equal(t, 1000, cfg.PollMs)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, 0x7F, cfg.Schedules[0].DaysMask)
}

func TestValidateRepairsBadFields(t *testing.T) {
	cfg := Default()
	cfg.Modbus.Port = 99999
	cfg.Controls.MaxSetCurrent = 500
	cfg.Timezone = "Mars/Olympus"
	cfg.PollMs = 1
	cfg.Schedules = []ScheduleItem{
		{Enabled: true, DaysMask: 0x7F, Start: "22:00", End: "06:00"},
		{Enabled: true, DaysMask: 0x7F, Start: "junk", End: "06:00"},
		{Enabled: true, DaysMask: 999, Start: "10:00", End: "11:00"},
	}
	cfg.Validate(zerolog.Nop())

	def := Default()
	assert.Equal(t, def.Modbus.Port, cfg.Modbus.Port)
	assert.Equal(t, def.Controls.MaxSetCurrent, cfg.Controls.MaxSetCurrent)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, def.PollMs, cfg.PollMs)
	assert.Len(t, cfg.Schedules, 1, "invalid schedule items dropped")
}

func TestTibberRequiresToken(t *testing.T) {
	cfg := Default()
	cfg.Tibber.Enabled = true
	cfg.Validate(zerolog.Nop())
	assert.False(t, cfg.Tibber.Enabled)

	cfg = Default()
	cfg.Tibber.Enabled = true
	cfg.Tibber.AccessToken = "token"
	cfg.Validate(zerolog.Nop())
	assert.True(t, cfg.Tibber.Enabled)
}

func TestUnparsableFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o644))
	cfg := Load(path, zerolog.Nop())
	assert.Equal(t, Default(), cfg)
}
