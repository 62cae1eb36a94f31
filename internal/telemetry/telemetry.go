package telemetry

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/edgepilot/internal/logger"
)

// Sampler periodically reads the sensor and appends snapshots to a bounded
// rolling history. It is the only writer of the history; everyone else reads
// immutable copies.
type Sampler struct {
	interval    time.Duration
	historySize int
	sensor      Sensor

	mu      sync.RWMutex
	history []Snapshot

	metricsMu      sync.Mutex
	currentFPS     float64
	currentLatency float64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewSampler(sensor Sensor, interval time.Duration, historySize int) *Sampler {
	return &Sampler{
		interval:    interval,
		historySize: historySize,
		sensor:      sensor,
		history:     make([]Snapshot, 0, historySize),
	}
}

// Start launches the background sampling loop. Calling Start on a running
// sampler is a no-op.
func (s *Sampler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	logger.Info().Dur("interval", s.interval).Msg("Telemetry sampler started")
}

// Stop signals the loop to halt and waits for it to drain. Safe to call
// multiple times and on a sampler that never started.
func (s *Sampler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	logger.Info().Msg("Telemetry sampler stopped")
}

// UpdateInferenceMetrics injects the most recent throughput numbers from the
// inference path. They are merged into the next sample, decoupling the
// per-frame compute path from the sampling cadence.
func (s *Sampler) UpdateInferenceMetrics(fps, latencyMS float64) {
	s.metricsMu.Lock()
	s.currentFPS = fps
	s.currentLatency = latencyMS
	s.metricsMu.Unlock()
}

// Latest returns the most recent snapshot, if any.
func (s *Sampler) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return Snapshot{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the most recent n snapshots (all when n <= 0).
func (s *Sampler) History(n int) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]Snapshot, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Summary averages the current history window. Returns the zero value when
// no samples exist yet.
func (s *Sampler) Summary() Summary {
	s.mu.RLock()
	snaps := make([]Snapshot, len(s.history))
	copy(snaps, s.history)
	s.mu.RUnlock()

	if len(snaps) == 0 {
		return Summary{}
	}

	var sum Summary
	for _, snap := range snaps {
		sum.AvgFPS += snap.FPS
		sum.AvgGPUUtil += snap.GPUUtil
		sum.AvgVRAMUsedGB += snap.VRAMUsedGB
		sum.AvgCPUUtil += snap.CPUUtil
	}

	count := float64(len(snaps))
	sum.AvgFPS /= count
	sum.AvgGPUUtil /= count
	sum.AvgVRAMUsedGB /= count
	sum.AvgCPUUtil /= count
	sum.DurationSec = snaps[len(snaps)-1].Timestamp.Sub(snaps[0].Timestamp).Seconds()
	sum.Samples = len(snaps)

	return sum
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// sample reads the sensor outside the history lock, then appends under it.
func (s *Sampler) sample() {
	reading := s.sensor.Read()

	s.metricsMu.Lock()
	fps := s.currentFPS
	latency := s.currentLatency
	s.metricsMu.Unlock()

	snap := Snapshot{
		Timestamp:   time.Now(),
		GPUUtil:     reading.GPUUtil,
		VRAMUsedGB:  reading.VRAMUsedGB,
		VRAMTotalGB: reading.VRAMTotalGB,
		CPUUtil:     reading.CPUUtil,
		RAMUsedGB:   reading.RAMUsedGB,
		FPS:         fps,
		LatencyMS:   latency,
	}

	s.mu.Lock()
	s.history = append(s.history, snap)
	if len(s.history) > s.historySize {
		s.history = s.history[1:]
	}
	s.mu.Unlock()
}
