package agent

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler collects HostMetrics from the local machine.
type Sampler struct{}

// NewSampler creates a Sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample returns a point-in-time snapshot. CPU is required; memory and load
// averages are filled in when the platform provides them.
func (s *Sampler) Sample(ctx context.Context) (*HostMetrics, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(cpuPercent) == 0 {
		return nil, fmt.Errorf("failed to read cpu usage: no samples")
	}

	m := &HostMetrics{
		CPUPercent: cpuPercent[0],
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil && memInfo != nil {
		m.MemTotal = memInfo.Total
		m.MemUsed = memInfo.Used
		m.MemUsedPercent = memInfo.UsedPercent
	}

	// Load average (Unix systems)
	if loadAvg, err := load.AvgWithContext(ctx); err == nil && loadAvg != nil {
		m.LoadAvg1 = loadAvg.Load1
		m.LoadAvg5 = loadAvg.Load5
	}

	return m, nil
}
