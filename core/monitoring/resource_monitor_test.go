package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestSnapshotCarriesConfiguredGPUSlots(t *testing.T) {
	m := NewResourceMonitor(time.Second, 2, zaptest.NewLogger(t))
	snap := m.Snapshot()
	assert.Equal(t, 2, snap.GPUSlots)
	assert.False(t, snap.SampledAt.IsZero())
}

func TestSampleRefreshesSnapshot(t *testing.T) {
	m := NewResourceMonitor(time.Second, 0, zaptest.NewLogger(t))
	before := m.Snapshot()

	m.sample()
	after := m.Snapshot()

	assert.True(t, after.SampledAt.After(before.SampledAt) || after.SampledAt.Equal(before.SampledAt))
	assert.GreaterOrEqual(t, after.CPUPercent, 0.0)
	assert.LessOrEqual(t, after.CPUPercent, 100.0)
	assert.GreaterOrEqual(t, after.MemPercent, 0.0)
	assert.LessOrEqual(t, after.MemPercent, 100.0)
}

func TestIntervalDefault(t *testing.T) {
	m := NewResourceMonitor(0, 0, zaptest.NewLogger(t))
	assert.Equal(t, 10*time.Second, m.interval)
}
