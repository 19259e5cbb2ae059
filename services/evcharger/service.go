// Package evcharger gateways an Alfen AC charging station onto the host
// energy-management bus: it polls the charger over Modbus/TCP, publishes
// telemetry and status as retained object paths, and accepts control
// writes from the bus and the HTTP surface.
package evcharger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/bus"
	"github.com/rhernaus/victron-alfen-charger-sub000/drivers/alfen"
	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
	"github.com/rhernaus/victron-alfen-charger-sub000/pub"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/config"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/core"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/persist"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/internal/pricing"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

// Name is the service's bus identity; object paths publish beneath it.
const Name = "com.victronenergy.evcharger.alfen"

// Service owns the control engine and its bus plumbing.
type Service struct {
	cfg    config.Config
	log    zerolog.Logger
	conn   *bus.Connection
	pub    *pub.Service
	engine *core.Engine
	site   *core.BusSite
	tibber *pricing.Tibber
}

// New wires the full gateway: transport, persistence, site observables,
// optional price provider, and the engine.
func New(b *bus.Bus, cfg config.Config, version string, log zerolog.Logger) *Service {
	log = log.With().Str("service", "evcharger").Logger()

	conn := b.NewConnection(Name)
	svc := pub.NewService(Name, conn)
	store := persist.NewStore(cfg.Persistence.Path, log)
	site := core.NewBusSite(b.NewConnection(Name+".site"), "system")

	var price pricing.Provider
	var tibber *pricing.Tibber
	if cfg.Tibber.Enabled {
		tibber = pricing.NewTibber(cfg.Tibber.AccessToken,
			cfg.Tibber.ChargeOnCheap, cfg.Tibber.ChargeOnVeryCheap, log)
		price = tibber
	}

	transport := alfen.NewClient(cfg.Modbus.Addr(), cfg.Modbus.Timeout(), log)

	engine := core.New(core.Params{
		Config:    cfg,
		Transport: transport,
		Pub:       svc,
		Store:     store,
		Site:      site,
		Price:     price,
		Version:   version,
		Log:       log,
	})

	return &Service{
		cfg:    cfg,
		log:    log,
		conn:   conn,
		pub:    svc,
		engine: engine,
		site:   site,
		tibber: tibber,
	}
}

// Pub exposes the object tree, for the HTTP surface.
func (s *Service) Pub() *pub.Service { return s.pub }

// Snapshot copies the whole published object tree.
func (s *Service) Snapshot() map[string]any { return s.pub.Snapshot() }

// commandTimeout bounds how long an external caller waits on the loop.
const commandTimeout = 5 * time.Second

func (s *Service) command(enqueue func(done chan error) bool) error {
	done := make(chan error, 1)
	if !enqueue(done) {
		return errcode.Wrap(errcode.Validation, "control queue full", nil)
	}
	select {
	case err := <-done:
		return err
	case <-time.After(commandTimeout):
		return errcode.Wrap(errcode.Timeout, "control loop busy", nil)
	}
}

// SetMode requests a mode change and waits for the loop's verdict.
func (s *Service) SetMode(mode int) error {
	return s.command(func(done chan error) bool {
		return s.engine.Enqueue(core.SetMode{Mode: types.Mode(mode), Done: done})
	})
}

// SetStartStop requests an enable/disable and waits for the verdict.
func (s *Service) SetStartStop(v int) error {
	return s.command(func(done chan error) bool {
		return s.engine.Enqueue(core.SetStartStop{Enable: types.StartStop(v), Done: done})
	})
}

// SetCurrent requests a new intended current and waits for the verdict.
func (s *Service) SetCurrent(amps float64) error {
	return s.command(func(done chan error) bool {
		return s.engine.Enqueue(core.SetCurrent{Amps: amps, Done: done})
	})
}

// Run blocks until ctx is cancelled. It drives the engine loop, the bus
// write listener, and the background price refresh.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if s.tibber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pricing.Run(ctx, s.tibber, pricing.DefaultRefreshInterval, func(err error) {
				s.log.Warn().Err(err).Msg("price refresh failed")
			})
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.serveWrites(ctx)
	}()

	err := s.engine.Run(ctx)

	s.site.Close()
	s.conn.Disconnect()
	wg.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// serveWrites accepts mutation requests from other bus participants on
// <Name>/Write/<path...> and routes them through the publisher's
// validation, replying "ok" or the error string when a reply is wanted.
func (s *Service) serveWrites(ctx context.Context) {
	sub := s.conn.Subscribe(bus.T(Name, "Write", "#"))
	defer sub.Unsubscribe()

	prefixLen := bus.T(Name, "Write").Len()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			if msg.Topic.Len() <= prefixLen {
				continue
			}
			path := "/" + strings.Join(msg.Topic[prefixLen:], "/")
			err := s.pub.Write(path, normalize(msg.Payload))
			if err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("bus write rejected")
			}
			if msg.CanReply() {
				result := "ok"
				if err != nil {
					result = err.Error()
				}
				s.conn.Reply(msg, result, false)
			}
		}
	}
}

// normalize widens the numeric types bus clients commonly send into the
// publisher's canonical int/float64.
func normalize(v any) any {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
