package autopilot

import (
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/logger"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

// Controller is the hysteresis FSM that escalates and de-escalates
// optimization aggressiveness. It has exactly one writer (the orchestrator's
// periodic tick); introspection readers never mutate it.
type Controller struct {
	profile hardware.Profile
	sink    ParameterSink
	cfg     Config

	mu                sync.RWMutex
	state             State
	mode              Mode
	isBenchmark       bool
	lastTransition    time.Time
	escalateStreak    int
	deescalateStreak  int
	baselineFPS       float64
	baselineSet       bool
	warmupTicks       int
	decisions         []Decision

	// now is swappable for deterministic cooldown behavior in tests.
	now func() time.Time
}

func NewController(profile hardware.Profile, sink ParameterSink, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Controller{
		profile: profile,
		sink:    sink,
		cfg:     cfg,
		state:   StateStable,
		mode:    cfg.Mode,
		now:     time.Now,
	}, nil
}

// Evaluate consumes one telemetry snapshot and possibly transitions state.
// Returns nil when no transition was made. Must be called from a single
// goroutine.
func (c *Controller) Evaluate(snap telemetry.Snapshot) *Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Warm-up: let throughput stabilize before establishing the baseline.
	// Once set, the baseline is never recomputed.
	if !c.baselineSet {
		c.warmupTicks++
		if c.warmupTicks >= c.cfg.WarmupTicks && snap.FPS > 0 {
			c.baselineFPS = snap.FPS
			c.baselineSet = true
			logger.Info().Float64("baseline_fps", c.baselineFPS).Msg("Autopilot baseline established")
		}
		return nil
	}

	thresholds := modeThresholds[c.mode]
	shouldEscalate := c.shouldEscalate(snap, thresholds)
	shouldDeescalate := c.shouldDeescalate(snap, thresholds)

	switch {
	case shouldEscalate:
		c.escalateStreak++
		c.deescalateStreak = 0
	case shouldDeescalate:
		c.deescalateStreak++
		c.escalateStreak = 0
	default:
		c.escalateStreak = 0
		c.deescalateStreak = 0
	}

	// Cooldown gate: streaks keep accumulating across gated ticks.
	now := c.now()
	if now.Sub(c.lastTransition) < c.cfg.Cooldown {
		return nil
	}

	var decision *Decision
	if c.escalateStreak >= c.cfg.EscalateTicks {
		decision = c.transition(snap, c.state+1, "escalate")
	} else if c.deescalateStreak >= c.cfg.DeescalateTicks {
		decision = c.transition(snap, c.state-1, "deescalate")
	}

	if decision != nil {
		c.lastTransition = now
		c.escalateStreak = 0
		c.deescalateStreak = 0
		c.decisions = append(c.decisions, *decision)
		if len(c.decisions) > c.cfg.DecisionLogSize {
			c.decisions = c.decisions[1:]
		}
	}

	return decision
}

func (c *Controller) shouldEscalate(snap telemetry.Snapshot, t Thresholds) bool {
	if snap.GPUUtil > t.EscalateGPU {
		return true
	}

	if c.baselineFPS > 0 {
		dropPct := (1 - snap.FPS/c.baselineFPS) * 100
		if dropPct > t.EscalateFPSDropPct {
			return true
		}
	}

	return false
}

func (c *Controller) shouldDeescalate(snap telemetry.Snapshot, t Thresholds) bool {
	if c.state == StateStable {
		return false
	}

	if snap.GPUUtil >= t.DeescalateGPU {
		return false
	}

	// De-escalation needs the GPU cool AND throughput back near baseline.
	if c.baselineFPS <= 0 {
		return false
	}
	recoveryPct := (1 - snap.FPS/c.baselineFPS) * 100

	return recoveryPct < t.DeescalateFPSRecoveryPct
}

// transition moves to the adjacent target state and applies its parameter
// template. Returns nil when already at the boundary.
func (c *Controller) transition(snap telemetry.Snapshot, target State, direction string) *Decision {
	if target < StateStable || target > StateAggressiveTuning {
		return nil
	}

	prev := c.state
	c.state = target

	action, params := c.stateTemplate(target)
	reason := fmt.Sprintf("%s triggered: GPU %.0f%%, FPS %.1f, VRAM %.1f/%.1f GB",
		direction, snap.GPUUtil, snap.FPS, snap.VRAMUsedGB, snap.VRAMTotalGB)

	// On a failed apply the controller stays in the new state: the decision
	// is recorded with the failure noted, and normal de-escalation walks it
	// back later. No rollback, no retry.
	if err := c.sink.Configure(params); err != nil {
		logger.Error().Err(err).Str("action", action).Msg("Failed to apply optimization parameters")
		reason += " (parameter application failed)"
	}

	return &Decision{
		Timestamp:     c.now(),
		PreviousState: prev.String(),
		NewState:      target.String(),
		Action:        action,
		Reason:        reason,
		ParamsApplied: params,
		TelemetrySummary: TelemetrySummary{
			GPUUtil:    snap.GPUUtil,
			FPS:        snap.FPS,
			VRAMUsedGB: snap.VRAMUsedGB,
		},
	}
}

// SetMode swaps the active threshold table without touching FSM state or
// streak counters.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	logger.Info().Str("mode", string(mode)).Msg("Autopilot mode changed")
}

// SetBenchmark records whether the pipeline runs in maximum-throughput mode.
// Exposed for introspection only; the control logic is unaffected.
func (c *Controller) SetBenchmark(enabled bool) {
	c.mu.Lock()
	c.isBenchmark = enabled
	c.mu.Unlock()
}

// State returns the current FSM state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// StateInfo returns the public introspection snapshot.
func (c *Controller) StateInfo() StateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return StateInfo{
		State:       c.state.String(),
		Mode:        string(c.mode),
		BaselineFPS: c.baselineFPS,
		HasBaseline: c.baselineSet,
		IsBenchmark: c.isBenchmark,
		Tier:        string(c.profile.Tier),
		Params:      c.sink.CurrentParams(),
	}
}

// RecentDecisions returns the most recent n decisions, oldest first.
func (c *Controller) RecentDecisions(n int) []Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > len(c.decisions) {
		n = len(c.decisions)
	}
	out := make([]Decision, n)
	copy(out, c.decisions[len(c.decisions)-n:])
	return out
}
