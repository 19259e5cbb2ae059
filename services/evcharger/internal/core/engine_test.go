package core

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
	"github.com/rhernaus/victron-alfen-charger-sub000/pub"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/config"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/persist"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

type fixture struct {
	e   *Engine
	tr  *fakeTransport
	svc *pub.Service
	now time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// newFixture builds a connected engine against a charger with 230 V idle
// phases, 32 A station max, state "B1", set-point 0.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Controls.RetryDelaySec = 0
	cfg.Controls.VerificationDelaySec = 0
	cfg.Persistence.Path = filepath.Join(t.TempDir(), "state.json")

	tr := newFakeTransport()
	tr.loadF32(1, 306, 230)
	tr.loadF32(1, 308, 230)
	tr.loadF32(1, 310, 230)
	tr.loadF64(1, 344, 0)
	tr.loadF64(1, 374, 0)
	tr.loadString(1, 1201, 5, "B1")
	tr.loadF32(1, 1210, 0)
	tr.loadF32(200, 1100, 32)
	tr.load(200, 1215, []uint16{3})
	tr.loadString(200, 100, 17, "ALF_1000")
	tr.loadString(200, 123, 17, "6.5.0-4217")
	tr.loadString(200, 157, 11, "ACE0123456")

	svc := pub.NewService("com.victronenergy.evcharger.alfen", nil)
	store := persist.NewStore(cfg.Persistence.Path, zerolog.Nop())

	f := &fixture{
		tr:  tr,
		svc: svc,
		now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	e := New(Params{
		Config:    cfg,
		Transport: tr,
		Pub:       svc,
		Store:     store,
		Site:      StaticSite{},
		Version:   "test",
		Log:       zerolog.Nop(),
	})
	e.now = func() time.Time { return f.now }
	e.sleep = func(time.Duration) {}
	e.intent = intent{mode: types.ModeManual, enable: types.ChargeEnabled, setAmps: 6}
	require.NoError(t, e.registerPaths())
	e.onConnected()
	tr.writes = nil
	f.e = e
	return f
}

func TestSmallIntentChangeSkipsWrite(t *testing.T) {
	// Change below the update threshold, watchdog fresh.
	f := newFixture(t)
	f.e.intent.setAmps = 10
	f.e.ctrl.lastSentAmps = 10
	f.e.ctrl.lastSendTime = f.now.Add(-5 * time.Second)

	f.e.handleEvent(SetCurrent{Amps: 10.05})

	assert.Empty(t, f.tr.writes, "0.05 A below the 0.1 A threshold")
	assert.Equal(t, 10.05, f.e.intent.setAmps)
	assert.Equal(t, 10.05, f.svc.GetFloat("/SetCurrent", 0))

	_, err := os.Stat(f.e.store.Path())
	assert.NoError(t, err, "intent change is persisted even without a write")
}

func TestWatchdogRefreshesUnchangedSetpoint(t *testing.T) {
	// Same value, stale send time.
	f := newFixture(t)
	f.e.intent.setAmps = 10
	f.e.ctrl.lastSentAmps = 10
	f.e.ctrl.lastSendTime = f.now.Add(-31 * time.Second)

	f.e.tick()

	require.Len(t, f.tr.writes, 1)
	assert.Equal(t, uint16(1210), f.tr.writes[0].addr)
	assert.Equal(t, byte(1), f.tr.writes[0].unit)
	assert.InDelta(t, 10.0, f.tr.lastWriteAmps(), 0.001)
	assert.Equal(t, f.now, f.e.ctrl.lastSendTime)
}

func TestFreshSendSkipsWatchdog(t *testing.T) {
	f := newFixture(t)
	f.e.intent.setAmps = 10
	f.e.ctrl.lastSentAmps = 10
	f.e.ctrl.lastSendTime = f.now.Add(-5 * time.Second)

	f.e.tick()
	assert.Empty(t, f.tr.writes)
}

func TestIntentClampedToStationMax(t *testing.T) {
	// Intent 50 A, station max 32 A.
	f := newFixture(t)
	f.e.ctrl.lastSentAmps = 10
	f.e.ctrl.lastSendTime = f.now

	f.e.handleEvent(SetCurrent{Amps: 50})

	require.Len(t, f.tr.writes, 1)
	assert.InDelta(t, 32.0, f.tr.lastWriteAmps(), 0.001, "write is clamped")
	assert.Equal(t, 50.0, f.svc.GetFloat("/SetCurrent", 0), "intent is not")
	assert.Equal(t, 32.0, f.svc.GetFloat("/MaxCurrent", 0))
}

func TestVerifyMismatchLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.tr.dropWrites = true
	before := f.e.ctrl

	err := f.e.writeSetpoint(10, true)
	require.Error(t, err)
	assert.Equal(t, errcode.VerifyMismatch, errcode.Of(err))
	assert.Equal(t, before, f.e.ctrl)
}

func TestPositiveSendUpdatesHysteresisClock(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.e.writeSetpoint(10, true))
	assert.Equal(t, f.now, f.e.ctrl.hyst.LastPositiveSendTime)

	f.advance(time.Minute)
	require.NoError(t, f.e.writeSetpoint(0, true))
	assert.Equal(t, f.now.Add(-time.Minute), f.e.ctrl.hyst.LastPositiveSendTime,
		"zero write does not count as a positive send")
	assert.Equal(t, f.now, f.e.ctrl.lastSendTime)
}

func TestAllReadsFailedForcesReconnect(t *testing.T) {
	f := newFixture(t)
	f.tr.failReads = true

	f.e.tick()
	assert.False(t, f.tr.Connected(), "transport closed after total read failure")
	assert.Equal(t, 0, f.svc.GetInt("/Connected", -1))

	// Next tick reconnects and resumes.
	f.tr.failReads = false
	connects := f.tr.connects
	f.e.tick()
	assert.Equal(t, connects+1, f.tr.connects)
	assert.Equal(t, 1, f.svc.GetInt("/Connected", -1))
}

func TestPartialReadKeepsLastValue(t *testing.T) {
	f := newFixture(t)
	f.e.tick()
	assert.InDelta(t, 230.0, f.svc.GetFloat("/Ac/L1/Voltage", 0), 0.01)

	// Voltage block unreadable, power block fine: voltage keeps its last
	// published value, power updates, no reconnect.
	f.tr.failAddr = map[uint16]bool{306: true}
	f.tr.loadF64(1, 344, 1500)
	f.e.tick()
	assert.InDelta(t, 230.0, f.svc.GetFloat("/Ac/L1/Voltage", 0), 0.01)
	assert.InDelta(t, 1500.0, f.svc.GetFloat("/Ac/Power", 0), 0.01)
	assert.True(t, f.tr.Connected())
}

func TestOnConnectedPublishesIdentity(t *testing.T) {
	f := newFixture(t)
	got, _ := f.svc.Get("/ProductName")
	assert.Equal(t, "ALF_1000", got)
	got, _ = f.svc.Get("/FirmwareVersion")
	assert.Equal(t, "6.5.0-4217", got)
	got, _ = f.svc.Get("/Serial")
	assert.Equal(t, "ACE0123456", got)
	assert.Equal(t, 3, f.svc.GetInt("/Ac/PhaseCount", 0))
}

func TestSessionLifecycleThroughTicks(t *testing.T) {
	f := newFixture(t)
	f.e.tracker.StartConfirmation = 3 * time.Second
	f.tr.loadString(1, 1201, 5, "C2")

	energy := 1000.0 // kWh lifetime
	setSample := func(powerW float64) {
		f.tr.loadF64(1, 344, powerW)
		f.tr.loadF64(1, 374, energy*1000) // device reports Wh
	}

	setSample(7000)
	f.e.tick()
	assert.Equal(t, 0, f.svc.GetInt("/ChargingTime", -1))

	f.advance(time.Second)
	energy += 0.02
	setSample(7000)
	f.e.tick()
	assert.True(t, f.e.tracker.Active(), "confirmed by delivered energy")

	f.advance(time.Hour)
	energy += 7
	setSample(7000)
	f.e.tick()
	assert.Equal(t, int((time.Hour + time.Second).Seconds()), f.svc.GetInt("/ChargingTime", -1))

	// Unplug: grace, then end.
	f.tr.loadString(1, 1201, 5, "A1")
	setSample(0)
	f.advance(time.Second)
	f.e.tick()
	assert.True(t, f.e.tracker.Active())

	f.advance(31 * time.Second)
	f.e.tick()
	assert.False(t, f.e.tracker.Active())
	assert.Equal(t, 0, f.svc.GetInt("/ChargingTime", -1))
	assert.InDelta(t, 7.02, f.e.tracker.TotalEnergyKWh(), 0.001)
}

func TestStatusPublishedWithOverlay(t *testing.T) {
	f := newFixture(t)
	f.e.tick()
	assert.Equal(t, int(types.StatusConnected), f.svc.GetInt("/Status", -1))

	f.e.handleEvent(SetStartStop{Enable: types.ChargeDisabled})
	assert.Equal(t, int(types.StatusWaitStart), f.svc.GetInt("/Status", -1))

	f.e.handleEvent(SetStartStop{Enable: types.ChargeEnabled})
	f.e.tick()
	assert.Equal(t, int(types.StatusConnected), f.svc.GetInt("/Status", -1))
}

func TestInvalidEventsRejected(t *testing.T) {
	f := newFixture(t)

	done := make(chan error, 1)
	f.e.handleEvent(SetMode{Mode: types.Mode(9), Done: done})
	assert.Error(t, <-done)

	done = make(chan error, 1)
	f.e.handleEvent(SetCurrent{Amps: -1, Done: done})
	assert.Error(t, <-done)

	done = make(chan error, 1)
	f.e.handleEvent(SetCurrent{Amps: math.NaN(), Done: done})
	assert.Error(t, <-done)
}

func TestOversizedCurrentClampedOnWrite(t *testing.T) {
	f := newFixture(t)

	// A request above max_set_current (64 A) is accepted and clamped,
	// not rejected.
	require.NoError(t, f.svc.Write("/SetCurrent", 70.0))
	var ev Event
	select {
	case ev = <-f.e.events:
	default:
		t.Fatal("no event enqueued")
	}
	f.e.handleEvent(ev)

	assert.Equal(t, 64.0, f.e.intent.setAmps)
	assert.Equal(t, 64.0, f.svc.GetFloat("/SetCurrent", 0))
	require.NotEmpty(t, f.tr.writes, "clamped intent still reaches the charger")
	assert.InDelta(t, 32.0, f.tr.lastWriteAmps(), 0.001, "station max bounds the wire value")
}

func TestModeChangeAppliesImmediately(t *testing.T) {
	f := newFixture(t)
	f.e.intent.setAmps = 16
	f.e.ctrl.lastSentAmps = 16
	f.e.ctrl.lastSendTime = f.now

	done := make(chan error, 1)
	f.e.handleEvent(SetMode{Mode: types.ModeAuto, Done: done})
	require.NoError(t, <-done)

	// AUTO with no solar data: effective drops to 0, written immediately.
	require.NotEmpty(t, f.tr.writes)
	assert.InDelta(t, 0.0, f.tr.lastWriteAmps(), 0.001)
	assert.Equal(t, 1, f.svc.GetInt("/Mode", -1))
}

func TestWritablePathCallbacksEnqueue(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Write("/SetCurrent", 12.0))
	select {
	case ev := <-f.e.events:
		assert.Equal(t, SetCurrent{Amps: 12.0}, ev)
	default:
		t.Fatal("no event enqueued")
	}

	err := f.svc.Write("/SetCurrent", -1.0)
	assert.Error(t, err, "negative rejected in the callback")

	err = f.svc.Write("/Status", 1)
	assert.Error(t, err, "read-only path")
}

func TestPersistedSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.e.intent = intent{mode: types.ModeAuto, enable: types.ChargeDisabled, setAmps: 13}
	f.e.ctrl.hyst.InsufficientSolarSince = f.now.Add(-time.Minute)
	f.e.persistState()

	st := persist.NewStore(f.e.store.Path(), zerolog.Nop()).Load(6)
	assert.Equal(t, types.ModeAuto, st.Mode)
	assert.Equal(t, types.ChargeDisabled, st.StartStop)
	assert.Equal(t, 13.0, st.SetCurrent)
	require.NotNil(t, st.InsufficientSolarStart)
	assert.True(t, f.now.Add(-time.Minute).Equal(*st.InsufficientSolarStart))
}

func TestLastWriteAmpsHelper(t *testing.T) {
	tr := newFakeTransport()
	assert.True(t, math.IsNaN(tr.lastWriteAmps()))
}

func TestPublishFailureReportedNotFatal(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.e.log = zerolog.New(&buf).Level(zerolog.DebugLevel)

	f.e.set("/DoesNotExist", 1)

	assert.Contains(t, buf.String(), "publish failed")
	assert.Contains(t, buf.String(), "unknown_path")
}
