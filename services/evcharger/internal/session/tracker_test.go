package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	t := NewTracker()
	t.StartConfirmation = 3 * time.Second
	t.EndGrace = 30 * time.Second
	return t
}

func TestChargingThresholdBoundary(t *testing.T) {
	tr := newTestTracker()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// Exactly 100 W is standby, not charging.
	tr.Update(base, 100, 10.0)
	assert.False(t, tr.hasCandidate)

	// 101 W opens a candidate.
	tr.Update(base.Add(time.Second), 101, 10.0)
	assert.True(t, tr.hasCandidate)
	assert.False(t, tr.Active())
}

func TestStartConfirmedByEnergy(t *testing.T) {
	tr := newTestTracker()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	ev := tr.Update(base, 7000, 100.000)
	assert.Equal(t, EventNone, ev)

	// 0.01 kWh delivered well before the time threshold.
	ev = tr.Update(base.Add(time.Second), 7000, 100.012)
	require.Equal(t, EventStarted, ev)
	require.True(t, tr.Active())
	assert.Equal(t, base, tr.Current().StartTime)
	assert.Equal(t, 100.000, tr.Current().StartEnergyKWh)
	assert.InDelta(t, 0.012, tr.SessionEnergyKWh(), 1e-9)
}

func TestStartConfirmedByTime(t *testing.T) {
	tr := newTestTracker()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tr.Update(base, 500, 50.0)
	ev := tr.Update(base.Add(2*time.Second), 500, 50.0)
	assert.Equal(t, EventNone, ev, "2s: below both thresholds")

	ev = tr.Update(base.Add(3*time.Second), 500, 50.0)
	assert.Equal(t, EventStarted, ev)
	assert.Equal(t, 1, tr.TotalSessions())
}

func TestCandidateCancelledByPowerDrop(t *testing.T) {
	tr := newTestTracker()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tr.Update(base, 500, 50.0)
	tr.Update(base.Add(time.Second), 0, 50.0)
	assert.False(t, tr.hasCandidate)

	// A later spike has to confirm from scratch.
	ev := tr.Update(base.Add(10*time.Second), 500, 50.0)
	assert.Equal(t, EventNone, ev)
	assert.False(t, tr.Active())
}

func TestSessionLifecycle(t *testing.T) {
	// Scenario: charge, unplug, grace expires, counters roll up.
	tr := newTestTracker()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tr.Update(base, 7000, 100.00)
	ev := tr.Update(base.Add(3*time.Second), 7000, 100.02)
	require.Equal(t, EventStarted, ev)

	// An hour of charging.
	now := base.Add(time.Hour)
	ev = tr.Update(now, 7000, 107.00)
	assert.Equal(t, EventNone, ev)
	assert.InDelta(t, 7.0, tr.SessionEnergyKWh(), 1e-9)
	assert.Equal(t, time.Hour, tr.ChargingTime(now))

	// Power drops; session survives the grace window.
	ev = tr.Update(now.Add(time.Second), 0, 107.00)
	assert.Equal(t, EventNone, ev)
	ev = tr.Update(now.Add(20*time.Second), 0, 107.00)
	assert.Equal(t, EventNone, ev)
	assert.True(t, tr.Active())

	// Grace expires: session ends at that sample.
	endAt := now.Add(32 * time.Second)
	ev = tr.Update(endAt, 0, 107.00)
	require.Equal(t, EventEnded, ev)
	assert.False(t, tr.Active())
	require.NotNil(t, tr.Last())
	assert.Equal(t, endAt, tr.Last().EndTime)
	assert.InDelta(t, 7.0, tr.Last().EnergyDeliveredKWh(), 1e-9)
	assert.Equal(t, 1, tr.TotalSessions())
	assert.InDelta(t, 7.0, tr.TotalEnergyKWh(), 1e-9)
	assert.Zero(t, tr.ChargingTime(endAt))
}

func TestResumeWithinGraceKeepsSession(t *testing.T) {
	tr := newTestTracker()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tr.Update(base, 7000, 100.00)
	require.Equal(t, EventStarted, tr.Update(base.Add(3*time.Second), 7000, 100.02))

	// Brief dip, then charging resumes 25 s later.
	now := base.Add(10 * time.Minute)
	tr.Update(now, 0, 101.00)
	ev := tr.Update(now.Add(25*time.Second), 7000, 101.00)
	assert.Equal(t, EventNone, ev)
	assert.True(t, tr.Active())

	// The grace clock restarted: a later dip gets the full window again.
	tr.Update(now.Add(60*time.Second), 0, 101.10)
	ev = tr.Update(now.Add(85*time.Second), 0, 101.10)
	assert.Equal(t, EventNone, ev, "25s into the second dip")
	assert.True(t, tr.Active())
}

func TestTotalsAccumulateAcrossSessions(t *testing.T) {
	tr := newTestTracker()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	energy := 100.0

	for i := 0; i < 3; i++ {
		tr.Update(now, 7000, energy)
		now = now.Add(3 * time.Second)
		require.Equal(t, EventStarted, tr.Update(now, 7000, energy))

		now = now.Add(time.Hour)
		energy += 5
		tr.Update(now, 7000, energy)

		now = now.Add(time.Second)
		tr.Update(now, 0, energy)
		now = now.Add(31 * time.Second)
		require.Equal(t, EventEnded, tr.Update(now, 0, energy))
		now = now.Add(time.Minute)
	}

	assert.Equal(t, 3, tr.TotalSessions())
	assert.InDelta(t, 15.0, tr.TotalEnergyKWh(), 1e-9)
}

func TestExportRestoreRoundTrip(t *testing.T) {
	tr := newTestTracker()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tr.Update(base, 7000, 100.00)
	require.Equal(t, EventStarted, tr.Update(base.Add(3*time.Second), 7000, 100.02))
	tr.Update(base.Add(time.Hour), 7000, 103.00)

	st := tr.Export()
	assert.Equal(t, 1, st.TotalSessions)
	require.NotNil(t, st.ActiveSession)
	assert.Equal(t, base, st.ActiveSession.StartTime)

	// A restarted daemon resumes the in-flight session.
	fresh := newTestTracker()
	fresh.Restore(st)
	require.True(t, fresh.Active())
	assert.Equal(t, base, fresh.Current().StartTime)
	assert.InDelta(t, 3.0, fresh.SessionEnergyKWh(), 1e-9)

	// And can close it out normally.
	now := base.Add(2 * time.Hour)
	fresh.Update(now, 0, 105.00)
	require.Equal(t, EventEnded, fresh.Update(now.Add(31*time.Second), 0, 105.00))
	assert.InDelta(t, 5.0, fresh.TotalEnergyKWh(), 1e-9)
}

func TestRestoreWithoutActiveSession(t *testing.T) {
	fresh := newTestTracker()
	fresh.Restore(State{TotalSessions: 12, TotalEnergyKWh: 340.5, LastEnergyKWh: 500})
	assert.False(t, fresh.Active())
	assert.Equal(t, 12, fresh.TotalSessions())
	assert.InDelta(t, 340.5, fresh.TotalEnergyKWh(), 1e-9)
}
