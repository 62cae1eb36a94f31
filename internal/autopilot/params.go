package autopilot

import (
	"fmt"

	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/inference"
)

const (
	fullResolution       = 640
	balancedResolution   = 544
	balancedLowTier      = 480
	aggressiveResolution = 480
	aggressiveLowTier    = 416
	aggressiveStride     = 2

	// lightestVariant is forced in the aggressive state.
	lightestVariant = "yolov8n"
)

// stateTemplate maps a state to its fixed parameter template. Thresholds and
// backend carry over from the live configuration; the model variant is
// preserved except where the template overrides it.
func (c *Controller) stateTemplate(state State) (action string, params inference.Params) {
	params = c.sink.CurrentParams()
	params.Stride = 1

	switch state {
	case StateStable:
		params.InputWidth = fullResolution
		params.InputHeight = fullResolution
		params.HalfPrecision = false
		action = "restore_defaults"

	case StateSoftTuning:
		params.InputWidth = fullResolution
		params.InputHeight = fullResolution
		params.HalfPrecision = c.profile.FP16Supported
		if c.profile.FP16Supported {
			action = "enable_fp16"
		} else {
			action = "soft_tuning"
		}

	case StateBalancedTuning:
		size := balancedResolution
		if c.profile.Tier == hardware.TierLow {
			size = balancedLowTier
		}
		params.InputWidth = size
		params.InputHeight = size
		params.HalfPrecision = c.profile.FP16Supported
		action = fmt.Sprintf("reduce_resolution_%d", size)

	case StateAggressiveTuning:
		size := aggressiveResolution
		if c.profile.Tier == hardware.TierLow {
			size = aggressiveLowTier
		}
		params.InputWidth = size
		params.InputHeight = size
		params.HalfPrecision = c.profile.FP16Supported
		params.Stride = aggressiveStride
		params.ModelVariant = lightestVariant
		action = "aggressive_skip_frames_and_downscale"
	}

	return action, params
}
