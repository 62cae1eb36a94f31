package telemetry

import "time"

// Snapshot is a single point-in-time telemetry reading. Snapshots are value
// types; once appended to the history they are never mutated.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	GPUUtil     float64   `json:"gpu_util"`
	VRAMUsedGB  float64   `json:"vram_used"`
	VRAMTotalGB float64   `json:"vram_total"`
	CPUUtil     float64   `json:"cpu_util"`
	RAMUsedGB   float64   `json:"ram_used"`
	FPS         float64   `json:"fps"`
	LatencyMS   float64   `json:"latency_ms"`
}

// Summary holds arithmetic means over the current history window.
type Summary struct {
	AvgFPS        float64 `json:"avg_fps"`
	AvgGPUUtil    float64 `json:"avg_gpu_util"`
	AvgVRAMUsedGB float64 `json:"avg_vram_used_gb"`
	AvgCPUUtil    float64 `json:"avg_cpu_util"`
	DurationSec   float64 `json:"duration_sec"`
	Samples       int     `json:"samples"`
}

// Reading is the raw output of one sensor pass. Inference throughput fields
// are merged in by the sampler, not the sensor.
type Reading struct {
	GPUUtil     float64
	VRAMUsedGB  float64
	VRAMTotalGB float64
	CPUUtil     float64
	RAMUsedGB   float64
}

// Sensor reads hardware utilization. Implementations must degrade instead of
// failing: a sensor that cannot read a metric reports it as zero.
type Sensor interface {
	Read() Reading
	Close() error
}
