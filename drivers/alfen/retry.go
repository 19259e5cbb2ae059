package alfen

import (
	"time"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
)

// RetryPolicy retries an operation on transient Modbus failures with a
// fixed delay between attempts. Non-Modbus errors (validation and the like)
// are surfaced immediately; after the last attempt the final Modbus error
// is returned as-is.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration

	// Sleep is swappable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

func (p RetryPolicy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Do runs op up to Attempts times.
func (p RetryPolicy) Do(op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			p.sleep(p.Delay)
		}
		err = op()
		if err == nil {
			return nil
		}
		code := errcode.Of(err)
		if !errcode.IsModbus(code) && code != errcode.NotConnected {
			return err
		}
	}
	return err
}
