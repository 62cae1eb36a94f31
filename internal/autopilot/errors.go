package autopilot

import "codeberg.org/mutker/edgepilot/internal/errors"

const (
	ErrInvalidMode     = errors.ErrorCode("autopilot_invalid_mode")
	ErrInvalidTicks    = errors.ErrorCode("autopilot_invalid_tick_thresholds")
	ErrInvalidCooldown = errors.ErrorCode("autopilot_invalid_cooldown")
	ErrInvalidLogSize  = errors.ErrorCode("autopilot_invalid_decision_log_size")
	ErrApplyParams     = errors.ErrorCode("autopilot_apply_params_failed")
)
