// Command alfen-evcharger bridges an Alfen AC charging station (Modbus/TCP)
// onto the host energy-management bus as an EV-charger device, with an HTTP
// control surface on the side.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/bus"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/config"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/heartbeat"
	"github.com/rhernaus/victron-alfen-charger-sub000/services/web"
)

const version = "1.4.0"

func main() {
	configPath := flag.String("config", "/data/alfen_driver.yaml", "path to the YAML configuration")
	flag.Parse()

	log := newLogger(config.Default().Logging)
	cfg := config.Load(*configPath, log)
	log = newLogger(cfg.Logging)
	log.Info().Str("version", version).Str("config", *configPath).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(64)
	charger := evcharger.New(b, cfg, version, log)
	api := web.New(cfg, *configPath, charger, log)

	var wg sync.WaitGroup
	fail := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := charger.Run(ctx); err != nil {
			fail <- err
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.Run(ctx); err != nil {
			fail <- err
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat.New(b.NewConnection("heartbeat"), "gateway", heartbeat.DefaultInterval, log).Run(ctx)
	}()

	exit := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, stopping")
	case err := <-fail:
		log.Error().Err(err).Msg("service failed")
		exit = 1
		stop()
	}
	wg.Wait()
	log.Info().Msg("stopped")
	os.Exit(exit)
}

// newLogger builds the root logger: console writer on a TTY, JSON when
// configured or when output is redirected.
func newLogger(lc config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	if lc.JSON {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
