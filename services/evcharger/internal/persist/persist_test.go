package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/session"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "nested", "state.json"), zerolog.Nop())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := testStore(t)
	st := s.Load(6)
	assert.Equal(t, types.ModeManual, st.Mode)
	assert.Equal(t, types.ChargeEnabled, st.StartStop)
	assert.Equal(t, 6.0, st.SetCurrent)
	assert.Nil(t, st.ChargingStartTime)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	started := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	st := State{
		Mode:              types.ModeAuto,
		StartStop:         types.ChargeDisabled,
		SetCurrent:        13.5,
		ChargingStartTime: &started,
		Session: session.State{
			TotalSessions:  4,
			TotalEnergyKWh: 88.25,
			LastEnergyKWh:  1234.5,
		},
	}
	require.NoError(t, s.Save(st))

	got := s.Load(6)
	if diff := cmp.Diff(st, got); diff != "" {
		t.Errorf("state changed across save/load (-want +got):\n%s", diff)
	}
}

func TestLoadCorruptFileReturnsDefaults(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	st := s.Load(6)
	assert.Equal(t, types.ModeManual, st.Mode)
	assert.Equal(t, 6.0, st.SetCurrent)
}

func TestLoadRepairsBadFields(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	doc := `{"mode": 9, "start_stop": 7, "set_current": -3, "session": {"total_sessions": 2}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0o644))

	st := s.Load(6)
	assert.Equal(t, types.ModeManual, st.Mode, "invalid mode falls back")
	assert.Equal(t, types.ChargeEnabled, st.StartStop)
	assert.Equal(t, 6.0, st.SetCurrent)
	assert.Equal(t, 2, st.Session.TotalSessions, "valid fields survive repair")
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(DefaultState(6)))
	_, err := os.Stat(s.Path())
	assert.NoError(t, err)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(DefaultState(6)))
	st := DefaultState(6)
	st.Mode = types.ModeScheduled
	require.NoError(t, s.Save(st))
	assert.Equal(t, types.ModeScheduled, s.Load(6).Mode)

	// No leftover temp files next to the state file.
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
