// Package agent samples the load of the machine running the harness.
// A saturated harness host inflates measured phase durations, so each
// iteration carries a sample that the summary checks for saturation.
package agent

// HostMetrics contains system-level metrics collected from the harness host.
type HostMetrics struct {
	// CPUPercent is the overall CPU usage percentage (0-100).
	CPUPercent float64 `json:"cpu_percent"`

	// MemTotal is the total system memory in bytes.
	MemTotal uint64 `json:"mem_total"`

	// MemUsed is the used system memory in bytes.
	MemUsed uint64 `json:"mem_used"`

	// MemUsedPercent is the used memory percentage (0-100).
	MemUsedPercent float64 `json:"mem_used_percent"`

	// LoadAvg1 is the 1-minute load average.
	LoadAvg1 float64 `json:"load_avg_1,omitempty"`

	// LoadAvg5 is the 5-minute load average.
	LoadAvg5 float64 `json:"load_avg_5,omitempty"`
}

// MemUsedMB returns used memory in megabytes.
func (h *HostMetrics) MemUsedMB() float64 {
	return float64(h.MemUsed) / (1024 * 1024)
}
