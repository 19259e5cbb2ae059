// Package core is the control engine: one goroutine owns the Modbus
// transport and all mutable charger state. External agents (bus write
// callbacks, HTTP handlers) reach it only through the event channel.
package core

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/drivers/alfen"
	"github.com/rhernaus/victron-alfen-charger-sub000/pub"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/config"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/persist"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/policy"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/pricing"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/session"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

// ProductID is the EV-charger product identifier published on /ProductId.
const ProductID = 0xA142

const persistInterval = 60 * time.Second

// Params wires an Engine.
type Params struct {
	Config    config.Config
	Transport alfen.Transport
	Pub       *pub.Service
	Store     *persist.Store
	Site      SiteSource
	Price     pricing.Provider // nil when no provider is configured
	Version   string
	Log       zerolog.Logger
}

type intent struct {
	mode      types.Mode
	enable    types.StartStop
	setAmps   float64
	autoStart bool
}

type control struct {
	lastSentAmps float64
	lastSendTime time.Time
	hyst         policy.Hysteresis
}

// Engine owns the charger. All fields below the channel are touched only
// from Run's goroutine.
type Engine struct {
	cfg   config.Config
	dev   *alfen.Device
	svc   *pub.Service
	store *persist.Store
	site  SiteSource
	price pricing.Provider
	log   zerolog.Logger

	version string
	events  chan Event

	now   func() time.Time
	sleep func(time.Duration)

	intent intent
	ctrl   control

	tele       types.Telemetry
	tracker    *session.Tracker
	stationMax float64
	phases     int

	rawStatus types.Status
	prevRaw   types.Status
	published types.Status

	effective     float64
	explanation   string
	outsideWindow bool
	lowSOC        bool

	lastPersist time.Time
}

func New(p Params) *Engine {
	devCfg := alfen.Config{
		SocketUnit:  byte(p.Config.Modbus.SocketUnit),
		StationUnit: byte(p.Config.Modbus.StationUnit),
		Registers:   registerMap(p.Config.Registers),
		Retry: alfen.RetryPolicy{
			Attempts: p.Config.Controls.MaxRetries,
			Delay:    p.Config.Controls.RetryDelay(),
		},
	}
	e := &Engine{
		cfg:        p.Config,
		dev:        alfen.NewDevice(p.Transport, devCfg, p.Log),
		svc:        p.Pub,
		store:      p.Store,
		site:       p.Site,
		price:      p.Price,
		log:        p.Log.With().Str("component", "core").Logger(),
		version:    p.Version,
		events:     make(chan Event, 16),
		now:        time.Now,
		sleep:      time.Sleep,
		tracker:    session.NewTracker(),
		stationMax: p.Config.Defaults.StationMaxCurrent,
		phases:     3,
	}
	if e.site == nil {
		e.site = StaticSite{}
	}
	return e
}

// registerMap applies configured address overrides to the stock layout.
func registerMap(rc config.RegistersConfig) alfen.RegisterMap {
	m := alfen.DefaultRegisterMap()
	override := func(b *alfen.Block, addr int) {
		if addr > 0 {
			b.Address = uint16(addr)
		}
	}
	override(&m.Voltages, rc.Voltages)
	override(&m.Currents, rc.Currents)
	override(&m.Power, rc.Power)
	override(&m.Energy, rc.Energy)
	override(&m.Mode3State, rc.Mode3State)
	override(&m.Setpoint, rc.Setpoint)
	override(&m.StationMax, rc.StationMax)
	return m
}

// Enqueue hands an event to the loop. False means the queue is full and
// the caller should reject the request.
func (e *Engine) Enqueue(ev Event) bool {
	select {
	case e.events <- ev:
		return true
	default:
		return false
	}
}

// Run executes the boot sequence and the tick loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	st := e.store.Load(e.cfg.Defaults.IntendedSetCurrent)
	e.intent = intent{
		mode:    st.Mode,
		enable:  st.StartStop,
		setAmps: st.SetCurrent,
	}
	if st.InsufficientSolarStart != nil {
		e.ctrl.hyst.InsufficientSolarSince = *st.InsufficientSolarStart
	}
	e.tracker.Restore(st.Session)

	if err := e.registerPaths(); err != nil {
		return err
	}

	if err := e.dev.Bus().Connect(); err != nil {
		e.log.Warn().Err(err).Str("addr", e.cfg.Modbus.Addr()).
			Msg("charger unreachable at boot, will keep trying")
	} else {
		e.onConnected()
	}

	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case ev := <-e.events:
			e.handleEvent(ev)
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) shutdown() {
	e.log.Info().Msg("shutting down")
	if e.dev.Bus().Connected() {
		if err := e.writeSetpoint(0, false); err != nil {
			e.log.Warn().Err(err).Msg("final zero set-point failed")
		}
	}
	e.dev.Bus().Close()
	e.persistState()

	// Drain pending callbacks so blocked writers get an answer.
	for {
		select {
		case ev := <-e.events:
			switch v := ev.(type) {
			case SetMode:
				reply(v.Done, context.Canceled)
			case SetStartStop:
				reply(v.Done, context.Canceled)
			case SetCurrent:
				reply(v.Done, context.Canceled)
			case SetAutoStart:
				reply(v.Done, context.Canceled)
			}
		default:
			return
		}
	}
}

func (e *Engine) tick() {
	now := e.now()

	if !e.dev.Bus().Connected() {
		e.set("/Connected", 0)
		if !e.reconnect() {
			return
		}
	}

	allFailed := e.readTelemetry()
	if allFailed {
		e.log.Warn().Msg("all telemetry reads failed, forcing reconnect")
		e.dev.Bus().Close()
		e.set("/Connected", 0)
		return
	}
	e.publishTelemetry()

	ev := e.tracker.Update(now, e.tele.PowerW, e.tele.EnergyKWh)
	switch ev {
	case session.EventStarted:
		e.log.Info().Time("start", e.tracker.Current().StartTime).Msg("charging session started")
	case session.EventEnded:
		last := e.tracker.Last()
		e.log.Info().Float64("kwh", last.EnergyDeliveredKWh()).
			Dur("duration", last.Duration(now)).Msg("charging session ended")
	}
	e.set("/ChargingTime", int(e.tracker.ChargingTime(now)/time.Second))

	e.readStatus()
	e.recompute(now)
	e.publishStatus()
	e.maybeWrite(now)

	if now.Sub(e.lastPersist) >= persistInterval {
		e.persistState()
		e.lastPersist = now
	}
}

// readTelemetry reads each block under retry, tolerating individual
// failures: a field that cannot be read keeps its last value. Returns true
// when every block failed.
func (e *Engine) readTelemetry() bool {
	failures := 0

	if v, err := e.dev.ReadVoltages(); err != nil {
		e.noteReadError("voltages", err)
		failures++
	} else {
		e.tele.VoltageL1, e.tele.VoltageL2, e.tele.VoltageL3 = v[0], v[1], v[2]
	}
	if c, err := e.dev.ReadCurrents(); err != nil {
		e.noteReadError("currents", err)
		failures++
	} else {
		e.tele.CurrentL1, e.tele.CurrentL2, e.tele.CurrentL3 = c[0], c[1], c[2]
	}
	if p, err := e.dev.ReadPowerW(); err != nil {
		e.noteReadError("power", err)
		failures++
	} else {
		e.tele.PowerW = p
	}
	if kwh, err := e.dev.ReadEnergyKWh(); err != nil {
		e.noteReadError("energy", err)
		failures++
	} else {
		e.tele.EnergyKWh = kwh
	}

	// Per-phase power is not carried on the wire; derive it.
	e.tele.PowerL1 = e.tele.VoltageL1 * e.tele.CurrentL1
	e.tele.PowerL2 = e.tele.VoltageL2 * e.tele.CurrentL2
	e.tele.PowerL3 = e.tele.VoltageL3 * e.tele.CurrentL3

	return failures == 4
}

func (e *Engine) readStatus() {
	rawStr, err := e.dev.ReadMode3State()
	if err != nil {
		e.noteReadError("mode3_state", err)
		return
	}
	state := alfen.ParseMode3State(rawStr)
	if !state.Known() && state != "" {
		e.log.Warn().Str("state", rawStr).Msg("unknown mode-3 state, treating as disconnected")
	}
	raw := RawStatus(state)
	if raw != e.rawStatus {
		e.prevRaw = e.rawStatus
		e.rawStatus = raw
	}
}

func (e *Engine) recompute(now time.Time) {
	obs, strategy := e.site.Snapshot()
	e.lowSOC = e.cfg.Controls.MinBatterySOC > 0 && obs.BatterySOC < e.cfg.Controls.MinBatterySOC

	var priceOK *bool
	if e.price != nil {
		if q, ok := e.price.Current(); ok {
			v := q.OK
			priceOK = &v
		}
	}

	e.outsideWindow = e.intent.mode == types.ModeScheduled &&
		!policy.WithinAnySchedule(e.cfg.Schedules, now, e.cfg.Location())

	res := policy.Compute(policy.Input{
		Mode:              e.intent.mode,
		Enable:            e.intent.enable,
		IntendedAmps:      e.intent.setAmps,
		StationMaxAmps:    e.stationMax,
		MaxSetCurrent:     e.cfg.Controls.MaxSetCurrent,
		ActivePhases:      e.phases,
		Now:               now,
		Location:          e.cfg.Location(),
		Schedules:         e.cfg.Schedules,
		EVPowerW:          e.tele.PowerW,
		Solar:             obs,
		Strategy:          strategy,
		PriceOK:           priceOK,
		LowSOC:            e.lowSOC,
		MinChargeDuration: e.cfg.Controls.MinChargeDuration(),
		Hysteresis:        e.ctrl.hyst,
	})
	e.ctrl.hyst = res.Hysteresis
	e.effective = res.EffectiveAmps
	if res.Explanation != e.explanation {
		e.explanation = res.Explanation
		e.log.Debug().Float64("amps", res.EffectiveAmps).Msg(res.Explanation)
	}
}

func (e *Engine) publishStatus() {
	status := MapStatus(StatusInput{
		Raw:           e.rawStatus,
		PrevRaw:       e.prevRaw,
		Mode:          e.intent.mode,
		Enable:        e.intent.enable,
		EffectiveAmps: e.effective,
		OutsideWindow: e.outsideWindow,
		LowSOC:        e.lowSOC,
	})
	if status != e.published {
		e.log.Info().Stringer("from", e.published).Stringer("to", status).Msg("status changed")
		e.published = status
	}
	e.set("/Status", int(status))
}

func (e *Engine) maybeWrite(now time.Time) {
	force := now.Sub(e.ctrl.lastSendTime) >= e.cfg.Controls.WatchdogInterval()
	change := math.Abs(e.effective-e.ctrl.lastSentAmps) > e.cfg.Controls.UpdateDiffThreshold
	if !force && !change {
		return
	}
	if err := e.writeSetpoint(e.effective, true); err != nil {
		e.log.Error().Err(err).Float64("amps", e.effective).Msg("set-point write failed")
	}
}

func (e *Engine) handleEvent(ev Event) {
	now := e.now()
	switch v := ev.(type) {
	case SetMode:
		if !v.Mode.Valid() {
			reply(v.Done, errValidation("mode out of range"))
			return
		}
		e.intent.mode = v.Mode
		e.set("/Mode", int(v.Mode))
		e.log.Info().Stringer("mode", v.Mode).Msg("mode changed")
		e.applyIntent(now)
		reply(v.Done, nil)

	case SetStartStop:
		if v.Enable != types.ChargeDisabled && v.Enable != types.ChargeEnabled {
			reply(v.Done, errValidation("start_stop out of range"))
			return
		}
		e.intent.enable = v.Enable
		e.set("/StartStop", int(v.Enable))
		e.log.Info().Stringer("enable", v.Enable).Msg("start/stop changed")
		e.applyIntent(now)
		reply(v.Done, nil)

	case SetCurrent:
		if v.Amps < 0 || math.IsNaN(v.Amps) || math.IsInf(v.Amps, 0) {
			reply(v.Done, errValidation("current out of range"))
			return
		}
		amps := min(v.Amps, e.cfg.Controls.MaxSetCurrent)
		e.intent.setAmps = amps
		e.set("/SetCurrent", amps)
		e.log.Info().Float64("amps", amps).Msg("intended current changed")
		e.applyIntent(now)
		reply(v.Done, nil)

	case SetAutoStart:
		e.intent.autoStart = v.On
		on := 0
		if v.On {
			on = 1
		}
		e.set("/AutoStart", on)
		e.applyIntent(now)
		reply(v.Done, nil)
	}
}

// applyIntent persists the new intent and pushes its consequence to the
// charger immediately instead of waiting for the next tick.
func (e *Engine) applyIntent(now time.Time) {
	e.persistState()
	e.lastPersist = now
	e.recompute(now)
	e.publishStatus()
	if e.dev.Bus().Connected() {
		e.maybeWrite(now)
	}
}

func (e *Engine) reconnect() bool {
	e.dev.Bus().Close()
	if err := e.dev.Bus().Connect(); err != nil {
		e.log.Warn().Err(err).Str("addr", e.cfg.Modbus.Addr()).Msg("reconnect failed")
		return false
	}
	e.onConnected()
	return true
}

// onConnected refreshes everything static after a (re)connect.
func (e *Engine) onConnected() {
	e.log.Info().Str("addr", e.cfg.Modbus.Addr()).Msg("connected to charger")

	info, err := e.dev.ReadInfo()
	if err != nil {
		e.log.Warn().Err(err).Msg("device identity partially unavailable")
	}
	if info.ProductName != "" {
		e.set("/ProductName", info.ProductName)
		e.set("/CustomName", info.ProductName)
	}
	if info.Firmware != "" {
		e.set("/FirmwareVersion", info.Firmware)
	}
	if info.Serial != "" {
		e.set("/Serial", info.Serial)
	}

	if limit, err := e.dev.ReadStationMaxCurrent(); err != nil {
		e.log.Warn().Err(err).Float64("fallback", e.cfg.Defaults.StationMaxCurrent).
			Msg("station max unavailable, using configured default")
		e.stationMax = e.cfg.Defaults.StationMaxCurrent
	} else {
		e.stationMax = limit
	}
	e.set("/MaxCurrent", e.stationMax)

	phases, err := e.dev.ReadActivePhases()
	if err != nil {
		e.log.Warn().Err(err).Msg("active phases unavailable, assuming 3")
		phases = 3
	}
	e.phases = phases
	e.set("/Ac/PhaseCount", phases)

	e.set("/Connected", 1)
}

func (e *Engine) publishTelemetry() {
	e.set("/Ac/L1/Voltage", e.tele.VoltageL1)
	e.set("/Ac/L2/Voltage", e.tele.VoltageL2)
	e.set("/Ac/L3/Voltage", e.tele.VoltageL3)
	e.set("/Ac/L1/Current", e.tele.CurrentL1)
	e.set("/Ac/L2/Current", e.tele.CurrentL2)
	e.set("/Ac/L3/Current", e.tele.CurrentL3)
	e.set("/Ac/L1/Power", e.tele.PowerL1)
	e.set("/Ac/L2/Power", e.tele.PowerL2)
	e.set("/Ac/L3/Power", e.tele.PowerL3)
	e.set("/Ac/Power", e.tele.PowerW)
	e.set("/Ac/Energy/Forward", e.tele.EnergyKWh)
	e.set("/Current", e.tele.TotalCurrent())
	e.set("/Ac/Current", e.tele.TotalCurrent())
}

func (e *Engine) persistState() {
	st := persist.State{
		Mode:       e.intent.mode,
		StartStop:  e.intent.enable,
		SetCurrent: e.intent.setAmps,
		Session:    e.tracker.Export(),
	}
	if e.tracker.Active() {
		t := e.tracker.Current().StartTime
		st.ChargingStartTime = &t
	}
	if !e.ctrl.hyst.InsufficientSolarSince.IsZero() {
		t := e.ctrl.hyst.InsufficientSolarSince
		st.InsufficientSolarStart = &t
	}
	if err := e.store.Save(st); err != nil {
		e.log.Error().Err(err).Msg("state persist failed")
	}
}

// Connection-implicating failures flip the transport to disconnected
// inside the client; the next tick then runs the reconnect path.
func (e *Engine) noteReadError(block string, err error) {
	e.log.Debug().Err(err).Str("block", block).Msg("read failed")
}

// set publishes one outbound value. Publisher failures are reported, never
// fatal: the tick carries on.
func (e *Engine) set(path string, value any) {
	if err := e.svc.Set(path, value); err != nil {
		e.log.Debug().Err(err).Str("path", path).Msg("publish failed")
	}
}
