package core

import (
	"sync"

	"github.com/rhernaus/victron-alfen-charger-sub000/bus"
	"github.com/rhernaus/victron-alfen-charger-sub000/types"
)

// SiteSource supplies the site-wide energy observables the AUTO policy
// consumes. Snapshot never blocks.
type SiteSource interface {
	Snapshot() (types.SolarObservables, types.ESSStrategy)
}

// StaticSite returns fixed observables. Used in tests and when no site
// monitor publishes on the bus.
type StaticSite struct {
	Solar    types.SolarObservables
	Strategy types.ESSStrategy
}

func (s StaticSite) Snapshot() (types.SolarObservables, types.ESSStrategy) {
	return s.Solar, s.Strategy
}

// gridDeadbandW separates deliberate import/export from measurement noise
// when classifying the ESS posture.
const gridDeadbandW = 50.0

// BusSite aggregates the system monitor's retained topics into one
// snapshot. A drain goroutine folds updates into the struct; the control
// loop reads the latest values without ever waiting on the bus.
type BusSite struct {
	mu    sync.Mutex
	solar types.SolarObservables
	acPV  [3]float64
	cons  [3]float64
	gridW float64

	subs []*bus.Subscription
	done chan struct{}
	wg   sync.WaitGroup
}

// NewBusSite subscribes under the given root (typically "system") and
// starts draining. Call Close when done.
func NewBusSite(conn *bus.Connection, root string) *BusSite {
	s := &BusSite{done: make(chan struct{})}

	watch := func(topic bus.Topic, apply func(float64)) {
		sub := conn.Subscribe(topic)
		s.subs = append(s.subs, sub)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.done:
					return
				case msg, ok := <-sub.Channel():
					if !ok {
						return
					}
					if f, ok := msg.Payload.(float64); ok {
						s.mu.Lock()
						apply(f)
						s.mu.Unlock()
					}
				}
			}
		}()
	}

	watch(bus.T(root, "Dc", "Pv", "Power"), func(f float64) { s.solar.PVTotalW = f })
	watch(bus.T(root, "Dc", "Battery", "Power"), func(f float64) { s.solar.BatteryW = f })
	watch(bus.T(root, "Dc", "Battery", "Soc"), func(f float64) { s.solar.BatterySOC = f })
	watch(bus.T(root, "Ac", "Grid", "Power"), func(f float64) { s.gridW = f })
	for i, phase := range []string{"L1", "L2", "L3"} {
		i := i
		watch(bus.T(root, "Ac", "PvOnGrid", phase, "Power"), func(f float64) { s.acPV[i] = f })
		watch(bus.T(root, "Ac", "Consumption", phase, "Power"), func(f float64) { s.cons[i] = f })
	}
	return s
}

// Snapshot folds the per-phase feeds into the policy observables and
// classifies the ESS posture from the grid exchange.
func (s *BusSite) Snapshot() (types.SolarObservables, types.ESSStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs := s.solar
	obs.PVTotalW += s.acPV[0] + s.acPV[1] + s.acPV[2]
	obs.ConsumptionW = s.cons[0] + s.cons[1] + s.cons[2]

	strategy := types.ESSIdle
	switch {
	case s.gridW > gridDeadbandW:
		strategy = types.ESSBuying
	case s.gridW < -gridDeadbandW:
		strategy = types.ESSSelling
	}
	return obs, strategy
}

// Close stops the drain goroutines and unsubscribes.
func (s *BusSite) Close() {
	close(s.done)
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.wg.Wait()
}
