package core

import (
	"fmt"
	"math"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/policy"
	"github.com/rhernaus/victron-alfen-charger-sub000/x/mathx"
)

// writeSetpoint programs the charger, optionally reading the value back to
// confirm it stuck. On success last_sent/last_send_time move forward; on
// any failure control state is left untouched so the watchdog retries.
func (e *Engine) writeSetpoint(target float64, verify bool) error {
	limit := min(e.stationMax, e.cfg.Controls.MaxSetCurrent)
	target = mathx.Clamp(target, 0, limit)

	if err := e.dev.WriteSetpoint(target); err != nil {
		return err
	}

	if verify {
		e.sleep(e.cfg.Controls.VerificationDelay())
		readback, err := e.dev.ReadSetpoint()
		if err != nil {
			return err
		}
		if math.Abs(readback-target) > e.cfg.Controls.CurrentTolerance {
			return errcode.Wrap(errcode.VerifyMismatch, "setpoint",
				fmt.Errorf("wrote %.2fA, read back %.2fA", target, readback))
		}
	}

	now := e.now()
	e.ctrl.lastSentAmps = target
	e.ctrl.lastSendTime = now
	if target >= policy.MinCurrent {
		e.ctrl.hyst.LastPositiveSendTime = now
	}
	e.log.Info().Float64("amps", target).Bool("verified", verify).Msg("set-point written")
	return nil
}
