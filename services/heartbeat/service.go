// Package heartbeat publishes a retained liveness beacon so other bus
// participants can tell a stalled gateway from a quiet one.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/bus"
	"github.com/rhernaus/victron-alfen-charger-sub000/x/timex"
)

const DefaultInterval = 10 * time.Second

// Service beats on <name>/Heartbeat with the current epoch-millisecond
// timestamp, retained, and tracks uptime on <name>/UptimeSeconds.
type Service struct {
	conn     *bus.Connection
	name     string
	interval time.Duration
	log      zerolog.Logger

	now func() time.Time
}

func New(conn *bus.Connection, name string, interval time.Duration, log zerolog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		conn:     conn,
		name:     name,
		interval: interval,
		log:      log.With().Str("service", "heartbeat").Logger(),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, beating once immediately.
func (s *Service) Run(ctx context.Context) {
	started := s.now()
	s.beat(started)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("stopping")
			return
		case <-tick.C:
			s.beat(started)
		}
	}
}

func (s *Service) beat(started time.Time) {
	now := s.now()
	s.conn.Publish(s.conn.NewMessage(bus.T(s.name, "Heartbeat"), timex.NowMs(), true))
	s.conn.Publish(s.conn.NewMessage(bus.T(s.name, "UptimeSeconds"), int(now.Sub(started)/time.Second), true))
}
