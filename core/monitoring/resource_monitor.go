package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Snapshot is a point-in-time view of host capacity. Read-only to
// consumers; the monitor replaces it wholesale on each refresh.
type Snapshot struct {
	CPUPercent float64
	MemPercent float64
	GPUSlots   int
	SampledAt  time.Time
}

// ResourceMonitor samples host CPU and memory load on a fixed
// interval. Admission checks read the latest snapshot instead of
// probing the host themselves, which bounds sampling overhead.
type ResourceMonitor struct {
	mu       sync.RWMutex
	snap     Snapshot
	interval time.Duration
	gpuSlots int
	logger   *zap.Logger
}

// NewResourceMonitor creates a resource monitor. GPU capacity is not
// discoverable through host stats, so the slot count comes from
// configuration.
func NewResourceMonitor(interval time.Duration, gpuSlots int, logger *zap.Logger) *ResourceMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ResourceMonitor{
		interval: interval,
		gpuSlots: gpuSlots,
		logger:   logger.Named("monitor"),
		snap:     Snapshot{GPUSlots: gpuSlots, SampledAt: time.Now()},
	}
}

// Start runs the sampling loop until the context is cancelled.
func (m *ResourceMonitor) Start(ctx context.Context) {
	m.sample()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *ResourceMonitor) sample() {
	snap := Snapshot{GPUSlots: m.gpuSlots, SampledAt: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		m.logger.Warn("cpu sampling failed", zap.Error(err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemPercent = vm.UsedPercent
	} else {
		m.logger.Warn("memory sampling failed", zap.Error(err))
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}

// Snapshot returns the latest capacity snapshot.
func (m *ResourceMonitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}
