package metrics

import (
	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

// Recorder persists telemetry and decision history. The pipeline treats it as
// fire-and-forget; recording failures are logged, never propagated.
type Recorder interface {
	RecordSnapshot(snap telemetry.Snapshot) error
	RecordDecision(decision autopilot.Decision) error
	Close() error
}

// Config controls the sqlite recorder.
type Config struct {
	DBPath       string
	BatchSize    int
	BatchTimeout int // seconds
}

func DefaultConfig() Config {
	return Config{
		DBPath:       "/var/lib/edgepilot/metrics.db",
		BatchSize:    100,
		BatchTimeout: 5,
	}
}

// NewNoop returns a recorder that discards everything, used when metrics
// persistence is disabled.
func NewNoop() Recorder {
	return noopRecorder{}
}

type noopRecorder struct{}

func (noopRecorder) RecordSnapshot(telemetry.Snapshot) error { return nil }
func (noopRecorder) RecordDecision(autopilot.Decision) error { return nil }
func (noopRecorder) Close() error                            { return nil }
