package core

import (
	"fmt"
	"math"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
	"github.com/rhernaus/victron-alfen-charger-sub000/pub"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

func errValidation(msg string) error {
	return errcode.Wrap(errcode.Validation, msg, nil)
}

// registerPaths publishes the full object tree. Write callbacks run on the
// caller's goroutine and only validate + enqueue; the loop applies them.
func (e *Engine) registerPaths() error {
	autoStart := 0
	if e.intent.autoStart {
		autoStart = 1
	}

	static := []struct {
		path    string
		kind    pub.Kind
		initial any
	}{
		{"/Mgmt/ProcessName", pub.KindString, "alfen-evcharger"},
		{"/Mgmt/ProcessVersion", pub.KindString, e.version},
		{"/Mgmt/Connection", pub.KindString, fmt.Sprintf("Modbus TCP at %s", e.cfg.Modbus.Addr())},
		{"/DeviceInstance", pub.KindInt, e.cfg.DeviceInstance},
		{"/ProductId", pub.KindInt, ProductID},
		{"/ProductName", pub.KindString, "Alfen EV Charger"},
		{"/CustomName", pub.KindString, ""},
		{"/FirmwareVersion", pub.KindString, ""},
		{"/Serial", pub.KindString, ""},
		{"/Connected", pub.KindInt, 0},
		{"/Status", pub.KindInt, int(types.StatusDisconnected)},
		{"/MaxCurrent", pub.KindFloat, e.stationMax},
		{"/Current", pub.KindFloat, 0.0},
		{"/Ac/Current", pub.KindFloat, 0.0},
		{"/Ac/Power", pub.KindFloat, 0.0},
		{"/Ac/Energy/Forward", pub.KindFloat, 0.0},
		{"/Ac/L1/Voltage", pub.KindFloat, 0.0},
		{"/Ac/L2/Voltage", pub.KindFloat, 0.0},
		{"/Ac/L3/Voltage", pub.KindFloat, 0.0},
		{"/Ac/L1/Current", pub.KindFloat, 0.0},
		{"/Ac/L2/Current", pub.KindFloat, 0.0},
		{"/Ac/L3/Current", pub.KindFloat, 0.0},
		{"/Ac/L1/Power", pub.KindFloat, 0.0},
		{"/Ac/L2/Power", pub.KindFloat, 0.0},
		{"/Ac/L3/Power", pub.KindFloat, 0.0},
		{"/Ac/PhaseCount", pub.KindInt, e.phases},
		{"/ChargingTime", pub.KindInt, 0},
	}
	for _, s := range static {
		if err := e.svc.Register(s.path, s.kind, s.initial, false, nil); err != nil {
			return err
		}
	}

	writable := []struct {
		path    string
		kind    pub.Kind
		initial any
		onWrite pub.WriteFunc
	}{
		{"/Mode", pub.KindInt, int(e.intent.mode), func(v any) bool {
			m := types.Mode(v.(int))
			return m.Valid() && e.Enqueue(SetMode{Mode: m})
		}},
		{"/StartStop", pub.KindInt, int(e.intent.enable), func(v any) bool {
			i := v.(int)
			return (i == 0 || i == 1) && e.Enqueue(SetStartStop{Enable: types.StartStop(i)})
		}},
		{"/SetCurrent", pub.KindFloat, e.intent.setAmps, func(v any) bool {
			// Oversized requests are clamped by the loop, not rejected.
			f := v.(float64)
			return f >= 0 && !math.IsInf(f, 1) && e.Enqueue(SetCurrent{Amps: f})
		}},
		{"/AutoStart", pub.KindInt, autoStart, func(v any) bool {
			i := v.(int)
			return (i == 0 || i == 1) && e.Enqueue(SetAutoStart{On: i == 1})
		}},
	}
	for _, w := range writable {
		if err := e.svc.Register(w.path, w.kind, w.initial, true, w.onWrite); err != nil {
			return err
		}
	}
	return nil
}
