package autopilot

import (
	"time"

	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/inference"
)

// State is an FSM state, ordered from least to most aggressive. Transitions
// only move between adjacent states.
type State int

const (
	StateStable State = iota
	StateSoftTuning
	StateBalancedTuning
	StateAggressiveTuning
)

var stateNames = [...]string{"stable", "soft_tuning", "balanced_tuning", "aggressive_tuning"}

func (s State) String() string {
	if s < StateStable || s > StateAggressiveTuning {
		return "unknown"
	}
	return stateNames[s]
}

// Mode is the user-facing preset that shifts escalation sensitivity.
type Mode string

const (
	ModeSpeed    Mode = "speed"
	ModeBalanced Mode = "balanced"
	ModeAccuracy Mode = "accuracy"
)

// ParseMode validates a user-supplied mode name.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeSpeed, ModeBalanced, ModeAccuracy:
		return Mode(s), true
	default:
		return "", false
	}
}

// Thresholds hold the per-mode escalation sensitivities, all in percent.
type Thresholds struct {
	EscalateGPU              float64
	DeescalateGPU            float64
	EscalateFPSDropPct       float64
	DeescalateFPSRecoveryPct float64
}

// modeThresholds is the fixed preset table keyed by mode.
var modeThresholds = map[Mode]Thresholds{
	ModeSpeed:    {EscalateGPU: 80, DeescalateGPU: 60, EscalateFPSDropPct: 15, DeescalateFPSRecoveryPct: 10},
	ModeBalanced: {EscalateGPU: 90, DeescalateGPU: 70, EscalateFPSDropPct: 25, DeescalateFPSRecoveryPct: 15},
	ModeAccuracy: {EscalateGPU: 95, DeescalateGPU: 80, EscalateFPSDropPct: 35, DeescalateFPSRecoveryPct: 25},
}

// TelemetrySummary captures the triggering telemetry at decision time.
type TelemetrySummary struct {
	GPUUtil    float64 `json:"gpu_util"`
	FPS        float64 `json:"fps"`
	VRAMUsedGB float64 `json:"vram_used"`
}

// Decision is an immutable record of one state transition.
type Decision struct {
	Timestamp        time.Time        `json:"timestamp"`
	PreviousState    string           `json:"previous_state"`
	NewState         string           `json:"new_state"`
	Action           string           `json:"action"`
	Reason           string           `json:"reason"`
	ParamsApplied    inference.Params `json:"params_applied"`
	TelemetrySummary TelemetrySummary `json:"telemetry_summary"`
}

// StateInfo is the controller's public introspection surface.
type StateInfo struct {
	State       string           `json:"state"`
	Mode        string           `json:"mode"`
	BaselineFPS float64          `json:"baseline_fps"`
	HasBaseline bool             `json:"has_baseline"`
	IsBenchmark bool             `json:"is_benchmark"`
	Tier        string           `json:"tier"`
	Params      inference.Params `json:"current_params"`
}

// ParameterSink is the detector's configuration surface. Configure must take
// effect atomically before the next frame.
type ParameterSink interface {
	Configure(inference.Params) error
	CurrentParams() inference.Params
}

// Config controls the controller's hysteresis behavior.
type Config struct {
	Mode            Mode
	Cooldown        time.Duration
	EscalateTicks   int
	DeescalateTicks int
	WarmupTicks     int
	DecisionLogSize int
}

func DefaultConfig() Config {
	return Config{
		Mode:            ModeBalanced,
		Cooldown:        5 * time.Second,
		EscalateTicks:   3,
		DeescalateTicks: 5,
		WarmupTicks:     5,
		DecisionLogSize: 50,
	}
}

func (c Config) Validate() error {
	if _, ok := ParseMode(string(c.Mode)); !ok {
		return errors.WithData(ErrInvalidMode, c.Mode)
	}
	if c.EscalateTicks <= 0 || c.DeescalateTicks <= 0 || c.WarmupTicks <= 0 {
		return errors.New(ErrInvalidTicks)
	}
	if c.Cooldown < 0 {
		return errors.New(ErrInvalidCooldown)
	}
	if c.DecisionLogSize <= 0 {
		return errors.New(ErrInvalidLogSize)
	}
	return nil
}
