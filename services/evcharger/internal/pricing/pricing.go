// Package pricing supplies the AUTO-mode price gate. Providers refresh in
// the background; the control loop only ever reads the cached quote, so a
// slow or down pricing API can never stall a tick.
package pricing

import (
	"context"
	"sync"
	"time"
)

// Level is an hourly price band relative to the trailing average.
type Level string

const (
	LevelVeryCheap     Level = "VERY_CHEAP"
	LevelCheap         Level = "CHEAP"
	LevelNormal        Level = "NORMAL"
	LevelExpensive     Level = "EXPENSIVE"
	LevelVeryExpensive Level = "VERY_EXPENSIVE"
)

// Quote is one cached price observation.
type Quote struct {
	Level     Level
	Total     float64
	OK        bool
	FetchedAt time.Time
}

// Provider exposes the latest quote without blocking.
type Provider interface {
	// Current returns the cached quote; ok is false until the first
	// successful fetch.
	Current() (Quote, bool)
}

// cache is the shared Provider core: a mutex around the last quote.
type cache struct {
	mu    sync.Mutex
	quote Quote
	have  bool
}

func (c *cache) Current() (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quote, c.have
}

func (c *cache) store(q Quote) {
	c.mu.Lock()
	c.quote = q
	c.have = true
	c.mu.Unlock()
}

// Static always returns a fixed quote. Used in tests and as an off switch.
type Static struct {
	Quote Quote
}

func (s Static) Current() (Quote, bool) { return s.Quote, true }

// Refresher is a Provider that can pull a new quote on demand.
type Refresher interface {
	Provider
	Refresh(ctx context.Context) error
}

// Run refreshes p on the given interval until ctx is cancelled. The first
// refresh happens immediately. Errors are returned to onErr (may be nil)
// and do not stop the loop; the stale quote stays served.
func Run(ctx context.Context, p Refresher, interval time.Duration, onErr func(error)) {
	refresh := func() {
		if err := p.Refresh(ctx); err != nil && onErr != nil {
			onErr(err)
		}
	}
	refresh()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			refresh()
		}
	}
}
