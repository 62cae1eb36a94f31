package advisor

import (
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

// Category classifies a suggestion for the dashboard feed.
type Category string

const (
	CategoryTip     Category = "tip"
	CategoryStatus  Category = "status"
	CategoryWarning Category = "warning"
	CategoryInfo    Category = "info"
)

// Suggestion is a single read-only insight. Not persisted beyond the cooldown
// bookkeeping needed to rate-limit emissions.
type Suggestion struct {
	Text      string    `json:"text"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// ruleID identifies a rotating rule. The rotation index below persists across
// calls so repeated emissions vary.
type ruleID int

const (
	ruleHeadroom ruleID = iota
	ruleSweetSpot
	ruleFPSReport
	ruleHardwareCapability
	ruleCount
)

const vramPressurePct = 85

// modelUpgrades is the variant ladder from lighter to heavier.
var modelUpgrades = map[string]string{
	"yolov8n": "yolov8s",
	"yolov8s": "yolov8m",
}

var stateImpact = map[string]string{
	"soft_tuning":       "Enabled FP16 precision — minimal accuracy impact, noticeable speed gain.",
	"balanced_tuning":   "Reduced input resolution — some small-object accuracy loss, significant FPS improvement.",
	"aggressive_tuning": "Frame skipping active + reduced resolution — fastest mode, but may miss fast-moving objects.",
	"stable":            "All optimisations removed — running at full quality with default parameters.",
}

// Advisor emits at most one suggestion per cooldown window. It is strictly
// read-only: it never touches the controller or the inference parameters.
type Advisor struct {
	profile  hardware.Profile
	cooldown time.Duration

	lastEmit      time.Time
	lastState     string
	statePrimed   bool
	rotationIndex int

	now func() time.Time
}

func New(profile hardware.Profile, cooldown time.Duration) *Advisor {
	return &Advisor{
		profile:  profile,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Evaluate inspects the latest snapshot and controller state and returns a
// suggestion when the cooldown has elapsed and a rule matches. Must be called
// from a single goroutine (the orchestrator's periodic tick).
func (a *Advisor) Evaluate(snap telemetry.Snapshot, info autopilot.StateInfo) *Suggestion {
	now := a.now()
	if now.Sub(a.lastEmit) < a.cooldown {
		return nil
	}

	suggestion := a.generate(snap, info)
	if suggestion != nil {
		a.lastEmit = now
	}

	return suggestion
}

func (a *Advisor) generate(snap telemetry.Snapshot, info autopilot.StateInfo) *Suggestion {
	// Priority: VRAM pressure fires immediately and leaves rotation alone.
	if snap.VRAMTotalGB > 0 {
		vramPct := snap.VRAMUsedGB / snap.VRAMTotalGB * 100
		if vramPct > vramPressurePct {
			return a.emit(CategoryWarning, fmt.Sprintf(
				"VRAM usage is high at %.1f/%.1f GB (%.0f%%). Consider switching to a lighter model or enabling FP16 to reduce memory pressure.",
				snap.VRAMUsedGB, snap.VRAMTotalGB, vramPct))
		}
	}

	// Priority: narrate controller state changes. The first observation only
	// primes the tracking state.
	if !a.statePrimed || info.State != a.lastState {
		primed := a.statePrimed
		a.lastState = info.State
		a.statePrimed = true

		if primed {
			return a.emit(CategoryInfo, fmt.Sprintf(
				"Autopilot transitioned to %s. %s", stateLabel(info.State), stateImpact[info.State]))
		}
	}

	// Rotating rules, round-robin from where the last emission left off.
	for i := 0; i < int(ruleCount); i++ {
		idx := (a.rotationIndex + i) % int(ruleCount)
		if suggestion := a.tryRule(ruleID(idx), snap, info); suggestion != nil {
			a.rotationIndex = (idx + 1) % int(ruleCount)
			return suggestion
		}
	}

	return nil
}

func (a *Advisor) tryRule(id ruleID, snap telemetry.Snapshot, info autopilot.StateInfo) *Suggestion {
	switch id {
	case ruleHeadroom:
		return a.ruleHeadroom(snap, info)
	case ruleSweetSpot:
		return a.ruleSweetSpot(snap, info)
	case ruleFPSReport:
		return a.ruleFPSReport(snap, info)
	case ruleHardwareCapability:
		return a.ruleHardwareCapability(snap, info)
	default:
		return nil
	}
}

// ruleHeadroom suggests a heavier model when the GPU is well under capacity.
func (a *Advisor) ruleHeadroom(snap telemetry.Snapshot, info autopilot.StateInfo) *Suggestion {
	if snap.GPUUtil >= 50 {
		return nil
	}

	model := info.Params.ModelVariant
	if next, ok := modelUpgrades[model]; ok {
		return a.emit(CategoryTip, fmt.Sprintf(
			"GPU at only %.0f%% — plenty of headroom. Consider upgrading from %s to %s for higher detection accuracy.",
			snap.GPUUtil, model, next))
	}

	return a.emit(CategoryStatus, fmt.Sprintf(
		"GPU at %.0f%% with %s — your hardware has significant spare capacity. The system is running at optimal accuracy.",
		snap.GPUUtil, model))
}

// ruleSweetSpot reports when utilization and throughput sit in the sweet spot.
func (a *Advisor) ruleSweetSpot(snap telemetry.Snapshot, info autopilot.StateInfo) *Suggestion {
	if snap.GPUUtil < 50 || snap.GPUUtil > 70 {
		return nil
	}
	if !info.HasBaseline || info.BaselineFPS <= 0 {
		return nil
	}
	if math.Abs(1-snap.FPS/info.BaselineFPS) >= 0.10 {
		return nil
	}

	return a.emit(CategoryStatus, fmt.Sprintf(
		"System is well-optimised — GPU at %.0f%%, FPS steady at %.1f. No adjustments needed.",
		snap.GPUUtil, snap.FPS))
}

// ruleFPSReport reports current throughput against the baseline.
func (a *Advisor) ruleFPSReport(snap telemetry.Snapshot, info autopilot.StateInfo) *Suggestion {
	if !info.HasBaseline || info.BaselineFPS <= 0 {
		return nil
	}

	deviationPct := math.Abs(1-snap.FPS/info.BaselineFPS) * 100

	if deviationPct < 5 {
		return a.emit(CategoryStatus, fmt.Sprintf(
			"FPS baseline: %.1f | Current: %.1f — steady performance with less than 5%% deviation.",
			info.BaselineFPS, snap.FPS))
	}

	direction := "below"
	if snap.FPS > info.BaselineFPS {
		direction = "above"
	}
	return a.emit(CategoryInfo, fmt.Sprintf(
		"FPS baseline: %.1f | Current: %.1f — running %.0f%% %s baseline.",
		info.BaselineFPS, snap.FPS, deviationPct, direction))
}

// ruleHardwareCapability mentions hardware features not currently exercised.
func (a *Advisor) ruleHardwareCapability(snap telemetry.Snapshot, info autopilot.StateInfo) *Suggestion {
	if a.profile.FP16Supported && !info.Params.HalfPrecision {
		return a.emit(CategoryTip, fmt.Sprintf(
			"Your %s supports FP16 precision, which is not currently active. The autopilot will enable it automatically if GPU load increases.",
			a.profile.GPUName))
	}

	if a.profile.TensorCores && info.Params.HalfPrecision {
		return a.emit(CategoryInfo, fmt.Sprintf(
			"FP16 is active and your GPU has Tensor Cores — inference is accelerated. Current latency: %.0fms per frame.",
			snap.LatencyMS))
	}

	return nil
}

func (a *Advisor) emit(category Category, text string) *Suggestion {
	return &Suggestion{
		Text:      text,
		Category:  category,
		Timestamp: a.now(),
	}
}

func stateLabel(state string) string {
	switch state {
	case "stable":
		return "Stable"
	case "soft_tuning":
		return "Soft Tuning"
	case "balanced_tuning":
		return "Balanced Tuning"
	case "aggressive_tuning":
		return "Aggressive Tuning"
	default:
		return state
	}
}
