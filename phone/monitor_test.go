package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"whistle/signaling"
)

func sample(rx, lost int64) signaling.InboundStats {
	return signaling.InboundStats{PacketsReceived: rx, PacketsLost: lost}
}

func TestMonitorClassification(t *testing.T) {
	tests := []struct {
		name    string
		next    signaling.InboundStats
		want    ConnectivityState
		changed bool
	}{
		{"no loss", sample(150, 0), ConnectivityGreen, true},
		{"twenty percent", sample(140, 10), ConnectivityRed, true},
		{"four percent", sample(196, 4), ConnectivityYellow, true},
		{"exactly five percent", sample(195, 5), ConnectivityYellow, true},
		{"no new packets", sample(100, 0), ConnectivityUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			_, changed := m.Observe(sample(100, 0))
			assert.False(t, changed, "baseline only")

			got, changed := m.Observe(tt.next)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestMonitorNotifiesOnlyOnChange(t *testing.T) {
	m := NewMonitor()
	m.Observe(sample(100, 0))

	_, changed := m.Observe(sample(200, 0))
	assert.True(t, changed)
	_, changed = m.Observe(sample(300, 0))
	assert.False(t, changed, "still green")

	state, changed := m.Observe(sample(390, 10))
	assert.True(t, changed)
	assert.Equal(t, ConnectivityRed, state)
	_, changed = m.Observe(sample(480, 20))
	assert.False(t, changed, "still red")

	state, changed = m.Observe(sample(580, 20))
	assert.True(t, changed)
	assert.Equal(t, ConnectivityGreen, state)
}

func TestMonitorUsesDeltasNotTotals(t *testing.T) {
	m := NewMonitor()
	m.Observe(sample(1000, 500))

	// cumulative loss is a third, the last interval lost nothing
	state, _ := m.Observe(sample(1100, 500))
	assert.Equal(t, ConnectivityGreen, state)
}

func TestMonitorRebaselinesWithoutNewPackets(t *testing.T) {
	m := NewMonitor()
	m.Observe(sample(100, 0))

	_, changed := m.Observe(sample(100, 0))
	assert.False(t, changed)

	// a counter reset is skipped but becomes the new baseline
	_, changed = m.Observe(sample(10, 0))
	assert.False(t, changed)
	assert.Equal(t, ConnectivityUnknown, m.State())

	state, changed := m.Observe(sample(60, 0))
	assert.True(t, changed)
	assert.Equal(t, ConnectivityGreen, state)
}

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, ConnectivityGreen, Classify(50, 0))
	assert.Equal(t, ConnectivityYellow, Classify(999, 1))
	assert.Equal(t, ConnectivityYellow, Classify(95, 5))
	assert.Equal(t, ConnectivityRed, Classify(94, 6))
	assert.Equal(t, ConnectivityGreen, Classify(50, -3), "recovered packets")
}
