// Package session turns a stream of (power, lifetime-energy) samples into
// charging sessions, debounced against flap on both edges: starts need a
// confirmation window, ends a grace period.
package session

import "time"

const (
	// ChargingThresholdW separates real charging from standby noise.
	ChargingThresholdW = 100.0

	// EnergyThresholdKWh confirms a candidate start as soon as this much
	// energy has actually flowed.
	EnergyThresholdKWh = 0.01

	DefaultStartConfirmation = 10 * time.Second
	DefaultEndGrace          = 30 * time.Second
)

// Event reports a state change produced by one sample.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventEnded
)

// Session is one contiguous charging interval.
type Session struct {
	StartTime        time.Time
	StartEnergyKWh   float64
	CurrentEnergyKWh float64
	EndTime          time.Time
	EndEnergyKWh     float64
}

// EnergyDeliveredKWh is the energy drawn so far (or in total, once ended).
func (s Session) EnergyDeliveredKWh() float64 {
	if !s.EndTime.IsZero() {
		return s.EndEnergyKWh - s.StartEnergyKWh
	}
	return s.CurrentEnergyKWh - s.StartEnergyKWh
}

// Duration is the session length; for an active session, up to now.
func (s Session) Duration(now time.Time) time.Duration {
	if !s.EndTime.IsZero() {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// Tracker consumes samples with monotonic timestamps.
type Tracker struct {
	StartConfirmation time.Duration
	EndGrace          time.Duration

	current *Session
	last    *Session

	totalSessions  int
	totalEnergyKWh float64

	hasCandidate    bool
	candidateTime   time.Time
	candidateEnergy float64

	notChargingSince time.Time
	lastEnergyKWh    float64
}

func NewTracker() *Tracker {
	return &Tracker{
		StartConfirmation: DefaultStartConfirmation,
		EndGrace:          DefaultEndGrace,
	}
}

// Update feeds one sample and reports any session edge it produced.
func (t *Tracker) Update(now time.Time, powerW, totalEnergyKWh float64) Event {
	t.lastEnergyKWh = totalEnergyKWh
	charging := powerW > ChargingThresholdW

	if t.current != nil {
		t.current.CurrentEnergyKWh = totalEnergyKWh
		if charging {
			t.notChargingSince = time.Time{}
			return EventNone
		}
		if t.notChargingSince.IsZero() {
			t.notChargingSince = now
			return EventNone
		}
		if now.Sub(t.notChargingSince) >= t.EndGrace {
			t.endSession(now, totalEnergyKWh)
			return EventEnded
		}
		return EventNone
	}

	if !charging {
		t.hasCandidate = false
		return EventNone
	}

	if !t.hasCandidate {
		t.hasCandidate = true
		t.candidateTime = now
		t.candidateEnergy = totalEnergyKWh
		return EventNone
	}

	confirmed := totalEnergyKWh-t.candidateEnergy >= EnergyThresholdKWh ||
		now.Sub(t.candidateTime) >= t.StartConfirmation
	if !confirmed {
		return EventNone
	}

	t.current = &Session{
		StartTime:        t.candidateTime,
		StartEnergyKWh:   t.candidateEnergy,
		CurrentEnergyKWh: totalEnergyKWh,
	}
	t.totalSessions++
	t.hasCandidate = false
	t.notChargingSince = time.Time{}
	return EventStarted
}

func (t *Tracker) endSession(now time.Time, totalEnergyKWh float64) {
	s := t.current
	s.EndTime = now
	s.EndEnergyKWh = totalEnergyKWh
	t.totalEnergyKWh += s.EnergyDeliveredKWh()
	t.last = s
	t.current = nil
	t.notChargingSince = time.Time{}
}

// Active reports whether a session is in progress.
func (t *Tracker) Active() bool { return t.current != nil }

// Current returns the active session, or nil.
func (t *Tracker) Current() *Session { return t.current }

// Last returns the most recently finished session, or nil.
func (t *Tracker) Last() *Session { return t.last }

// ChargingTime is the active session's elapsed time, zero when idle.
func (t *Tracker) ChargingTime(now time.Time) time.Duration {
	if t.current == nil {
		return 0
	}
	return t.current.Duration(now)
}

// SessionEnergyKWh is the active session's delivered energy, or the last
// session's when idle.
func (t *Tracker) SessionEnergyKWh() float64 {
	if t.current != nil {
		return t.current.EnergyDeliveredKWh()
	}
	if t.last != nil {
		return t.last.EnergyDeliveredKWh()
	}
	return 0
}

// TotalSessions counts sessions ever started.
func (t *Tracker) TotalSessions() int { return t.totalSessions }

// TotalEnergyKWh sums energy over all finished sessions.
func (t *Tracker) TotalEnergyKWh() float64 { return t.totalEnergyKWh }

// State is the persistable view of the tracker.
type State struct {
	TotalSessions  int            `json:"total_sessions"`
	TotalEnergyKWh float64        `json:"total_energy_kwh"`
	LastEnergyKWh  float64        `json:"last_energy_kwh"`
	ActiveSession  *SessionRecord `json:"active_session,omitempty"`
}

// SessionRecord is the wire form of an in-flight session.
type SessionRecord struct {
	StartTime      time.Time `json:"start_time"`
	StartEnergyKWh float64   `json:"start_energy_kwh"`
}

// Export snapshots the counters for persistence.
func (t *Tracker) Export() State {
	st := State{
		TotalSessions:  t.totalSessions,
		TotalEnergyKWh: t.totalEnergyKWh,
		LastEnergyKWh:  t.lastEnergyKWh,
	}
	if t.current != nil {
		st.ActiveSession = &SessionRecord{
			StartTime:      t.current.StartTime,
			StartEnergyKWh: t.current.StartEnergyKWh,
		}
	}
	return st
}

// Restore loads persisted counters, resuming an interrupted session if one
// was active when the daemon stopped.
func (t *Tracker) Restore(st State) {
	t.totalSessions = st.TotalSessions
	t.totalEnergyKWh = st.TotalEnergyKWh
	t.lastEnergyKWh = st.LastEnergyKWh
	if st.ActiveSession != nil {
		t.current = &Session{
			StartTime:        st.ActiveSession.StartTime,
			StartEnergyKWh:   st.ActiveSession.StartEnergyKWh,
			CurrentEnergyKWh: st.LastEnergyKWh,
		}
	}
}
