package autopilot_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/inference"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

type fakeSink struct {
	params     inference.Params
	configured []inference.Params
	fail       bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{params: inference.DefaultParams("yolov8s", "pytorch")}
}

func (f *fakeSink) Configure(p inference.Params) error {
	if f.fail {
		return errors.New(errors.ErrInternal)
	}
	f.configured = append(f.configured, p)
	f.params = p
	return nil
}

func (f *fakeSink) CurrentParams() inference.Params {
	return f.params
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func midTierProfile() hardware.Profile {
	return hardware.Profile{
		GPUName:       "NVIDIA GeForce RTX 3060",
		GPUAvailable:  true,
		VRAMTotalGB:   12,
		FP16Supported: true,
		TensorCores:   true,
		Tier:          hardware.TierMid,
	}
}

func lowTierProfile() hardware.Profile {
	p := midTierProfile()
	p.GPUName = "NVIDIA GeForce GTX 1650"
	p.VRAMTotalGB = 4
	p.Tier = hardware.TierLow
	return p
}

func newController(t *testing.T, profile hardware.Profile, sink autopilot.ParameterSink, clock *fakeClock) *autopilot.Controller {
	t.Helper()

	c, err := autopilot.NewController(profile, sink, autopilot.DefaultConfig())
	require.NoError(t, err)
	autopilot.SetNow(c, clock.Now)
	return c
}

func snap(gpuUtil, fps float64) telemetry.Snapshot {
	return telemetry.Snapshot{
		Timestamp:   time.Now(),
		GPUUtil:     gpuUtil,
		VRAMUsedGB:  6,
		VRAMTotalGB: 12,
		FPS:         fps,
	}
}

// warmUp drives the controller through its warm-up window so the baseline is
// established at the given FPS.
func warmUp(t *testing.T, c *autopilot.Controller, clock *fakeClock, fps float64) {
	t.Helper()

	for i := 0; i < autopilot.DefaultConfig().WarmupTicks; i++ {
		require.Nil(t, c.Evaluate(snap(40, fps)))
		clock.Advance(500 * time.Millisecond)
	}
	require.True(t, c.StateInfo().HasBaseline, "baseline should be set after warm-up")
}

func TestNoTransitionsDuringWarmup(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)

	// Extreme load during warm-up must not trigger anything.
	for i := 0; i < autopilot.DefaultConfig().WarmupTicks-1; i++ {
		assert.Nil(t, c.Evaluate(snap(99, 5)))
		assert.False(t, c.StateInfo().HasBaseline)
	}

	assert.Equal(t, autopilot.StateStable, c.State())
}

func TestBaselineRequiresPositiveFPS(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)

	// Zero FPS keeps the controller inert indefinitely.
	for i := 0; i < 20; i++ {
		assert.Nil(t, c.Evaluate(snap(99, 0)))
	}
	assert.False(t, c.StateInfo().HasBaseline)
	assert.Equal(t, autopilot.StateStable, c.State())

	// First positive-FPS tick past the warm-up target sets it.
	assert.Nil(t, c.Evaluate(snap(40, 30)))
	assert.True(t, c.StateInfo().HasBaseline)
	assert.InDelta(t, 30.0, c.StateInfo().BaselineFPS, 0.001)
}

func TestEscalatesOnThirdConsecutiveTick(t *testing.T) {
	clock := newFakeClock()
	sink := newFakeSink()
	c := newController(t, midTierProfile(), sink, clock)
	warmUp(t, c, clock, 30)

	// Balanced mode escalates above 90% GPU.
	assert.Nil(t, c.Evaluate(snap(95, 30)))
	clock.Advance(500 * time.Millisecond)
	assert.Nil(t, c.Evaluate(snap(95, 30)))
	clock.Advance(500 * time.Millisecond)

	decision := c.Evaluate(snap(95, 30))
	require.NotNil(t, decision, "third consecutive breach tick must transition")

	assert.Equal(t, "stable", decision.PreviousState)
	assert.Equal(t, "soft_tuning", decision.NewState)
	assert.Equal(t, "enable_fp16", decision.Action)
	assert.Equal(t, autopilot.StateSoftTuning, c.State())

	require.Len(t, sink.configured, 1)
	assert.True(t, sink.configured[0].HalfPrecision)
}

func TestStreakResetOnInterruption(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	assert.Nil(t, c.Evaluate(snap(95, 30)))
	clock.Advance(500 * time.Millisecond)
	assert.Nil(t, c.Evaluate(snap(95, 30)))
	clock.Advance(500 * time.Millisecond)

	// A calm tick breaks the streak; two more breaches are not enough.
	assert.Nil(t, c.Evaluate(snap(50, 30)))
	clock.Advance(500 * time.Millisecond)
	assert.Nil(t, c.Evaluate(snap(95, 30)))
	clock.Advance(500 * time.Millisecond)
	assert.Nil(t, c.Evaluate(snap(95, 30)))

	assert.Equal(t, autopilot.StateStable, c.State())
}

func TestFPSDropTriggersEscalation(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	// GPU is calm but throughput collapsed more than 25% below baseline.
	var decision *autopilot.Decision
	for i := 0; i < 3; i++ {
		decision = c.Evaluate(snap(50, 20))
		clock.Advance(500 * time.Millisecond)
	}

	require.NotNil(t, decision)
	assert.Equal(t, "soft_tuning", decision.NewState)
}

func TestCooldownGatesTransitions(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	escalate := func() *autopilot.Decision {
		var d *autopilot.Decision
		for i := 0; i < 3; i++ {
			d = c.Evaluate(snap(95, 30))
			clock.Advance(100 * time.Millisecond)
		}
		return d
	}

	require.NotNil(t, escalate())
	assert.Equal(t, autopilot.StateSoftTuning, c.State())

	// Keep breaching within the cooldown window: streaks accumulate but no
	// transition may happen.
	for i := 0; i < 10; i++ {
		assert.Nil(t, c.Evaluate(snap(95, 30)))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, autopilot.StateSoftTuning, c.State())

	// Once the cooldown expires the accumulated streak fires immediately.
	clock.Advance(5 * time.Second)
	decision := c.Evaluate(snap(95, 30))
	require.NotNil(t, decision)
	assert.Equal(t, "balanced_tuning", decision.NewState)
}

func TestDeescalationRequiresBothConditions(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	for i := 0; i < 3; i++ {
		c.Evaluate(snap(95, 30))
		clock.Advance(500 * time.Millisecond)
	}
	require.Equal(t, autopilot.StateSoftTuning, c.State())
	clock.Advance(5 * time.Second)

	// GPU is cool but FPS is still 20% below baseline: no de-escalation.
	for i := 0; i < 10; i++ {
		assert.Nil(t, c.Evaluate(snap(40, 24)))
		clock.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, autopilot.StateSoftTuning, c.State())

	// Recovered throughput satisfies the second condition: five ticks later
	// the controller steps back down.
	var decision *autopilot.Decision
	for i := 0; i < 5; i++ {
		decision = c.Evaluate(snap(40, 29))
		clock.Advance(500 * time.Millisecond)
	}
	require.NotNil(t, decision)
	assert.Equal(t, "stable", decision.NewState)
	assert.Equal(t, "restore_defaults", decision.Action)
}

func TestStableIsTheFloor(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	// Perfect conditions at stable never produce a de-escalation decision.
	for i := 0; i < 20; i++ {
		assert.Nil(t, c.Evaluate(snap(30, 30)))
		clock.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, autopilot.StateStable, c.State())
}

func TestAggressiveIsTheCeiling(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	// Sustained overload walks the ladder to the top and stays there.
	for i := 0; i < 60; i++ {
		c.Evaluate(snap(99, 10))
		clock.Advance(2 * time.Second)
	}

	assert.Equal(t, autopilot.StateAggressiveTuning, c.State())
}

func TestAggressiveTemplateOnLowTier(t *testing.T) {
	clock := newFakeClock()
	sink := newFakeSink()
	c := newController(t, lowTierProfile(), sink, clock)
	warmUp(t, c, clock, 30)

	for i := 0; i < 60; i++ {
		c.Evaluate(snap(99, 10))
		clock.Advance(2 * time.Second)
	}
	require.Equal(t, autopilot.StateAggressiveTuning, c.State())

	params := sink.CurrentParams()
	assert.Equal(t, 416, params.InputWidth)
	assert.Equal(t, 416, params.InputHeight)
	assert.Equal(t, 2, params.Stride)
	assert.Equal(t, "yolov8n", params.ModelVariant)
}

func TestModeChangesSensitivity(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	// 85% GPU does not breach the balanced threshold.
	for i := 0; i < 10; i++ {
		assert.Nil(t, c.Evaluate(snap(85, 30)))
		clock.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, autopilot.StateStable, c.State())

	// The same load escalates under the speed preset.
	c.SetMode(autopilot.ModeSpeed)
	var decision *autopilot.Decision
	for i := 0; i < 3; i++ {
		decision = c.Evaluate(snap(85, 30))
		clock.Advance(500 * time.Millisecond)
	}
	require.NotNil(t, decision)
	assert.Equal(t, "soft_tuning", decision.NewState)
}

func TestConfigureFailureKeepsNewState(t *testing.T) {
	clock := newFakeClock()
	sink := newFakeSink()
	sink.fail = true
	c := newController(t, midTierProfile(), sink, clock)
	warmUp(t, c, clock, 30)

	var decision *autopilot.Decision
	for i := 0; i < 3; i++ {
		decision = c.Evaluate(snap(95, 30))
		clock.Advance(500 * time.Millisecond)
	}

	require.NotNil(t, decision)
	assert.Equal(t, autopilot.StateSoftTuning, c.State(), "failed apply must not roll back the FSM")
	assert.Contains(t, decision.Reason, "parameter application failed")
	assert.Empty(t, sink.configured)
}

func TestRecentDecisionsBounded(t *testing.T) {
	clock := newFakeClock()
	cfg := autopilot.DefaultConfig()
	cfg.DecisionLogSize = 2

	c, err := autopilot.NewController(midTierProfile(), newFakeSink(), cfg)
	require.NoError(t, err)
	autopilot.SetNow(c, clock.Now)
	warmUp(t, c, clock, 30)

	// Oscillate up and down to generate more decisions than the log holds.
	for cycle := 0; cycle < 3; cycle++ {
		for i := 0; i < 3; i++ {
			c.Evaluate(snap(95, 30))
			clock.Advance(500 * time.Millisecond)
		}
		clock.Advance(5 * time.Second)
		for i := 0; i < 5; i++ {
			c.Evaluate(snap(40, 29))
			clock.Advance(500 * time.Millisecond)
		}
		clock.Advance(5 * time.Second)
	}

	assert.Len(t, c.RecentDecisions(0), 2)
}

func TestDecisionJSONShape(t *testing.T) {
	clock := newFakeClock()
	c := newController(t, midTierProfile(), newFakeSink(), clock)
	warmUp(t, c, clock, 30)

	var decision *autopilot.Decision
	for i := 0; i < 3; i++ {
		decision = c.Evaluate(snap(95, 28))
		clock.Advance(500 * time.Millisecond)
	}
	require.NotNil(t, decision)

	raw, err := json.Marshal(decision)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, "stable", out["previous_state"])
	assert.Equal(t, "soft_tuning", out["new_state"])

	summary, ok := out["telemetry_summary"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 95.0, summary["gpu_util"], 0.001)

	params, ok := out["params_applied"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, params, "process_every_n_frames")
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := autopilot.DefaultConfig()
	cfg.Mode = "turbo"

	_, err := autopilot.NewController(midTierProfile(), newFakeSink(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autopilot_invalid_mode")
}
