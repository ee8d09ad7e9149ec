package phone

import (
	"time"

	"whistle/signaling"
)

// DefaultMonitorInterval is the period between two statistics samples.
const DefaultMonitorInterval = 5 * time.Second

// redLossPercent is the loss above which a link is classified Red.
const redLossPercent = 5.0

// Monitor classifies link quality from consecutive inbound samples.
// Only the previous sample is kept; a new Monitor is used for every call.
type Monitor struct {
	baseline *signaling.InboundStats
	last     ConnectivityState
}

// NewMonitor returns a monitor with no baseline.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Observe feeds one sample. It returns the new classification and true only
// when the classification changed.
func (m *Monitor) Observe(s signaling.InboundStats) (ConnectivityState, bool) {
	prev := m.baseline
	cur := s
	m.baseline = &cur
	if prev == nil {
		return m.last, false
	}

	rx := s.PacketsReceived - prev.PacketsReceived
	lost := s.PacketsLost - prev.PacketsLost
	if rx <= 0 {
		return m.last, false
	}

	state := Classify(rx, lost)
	if state == m.last {
		return state, false
	}
	m.last = state
	return state, true
}

// State returns the last emitted classification.
func (m *Monitor) State() ConnectivityState {
	return m.last
}

// Classify maps the packets received and lost between two samples to a
// connectivity state. deltaReceived must be positive.
func Classify(deltaReceived, deltaLost int64) ConnectivityState {
	lossPct := 100 * float64(deltaLost) / float64(deltaReceived+deltaLost)
	switch {
	case lossPct > redLossPercent:
		return ConnectivityRed
	case lossPct > 0:
		return ConnectivityYellow
	default:
		return ConnectivityGreen
	}
}
