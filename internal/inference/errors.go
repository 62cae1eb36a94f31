package inference

import "codeberg.org/mutker/edgepilot/internal/errors"

const (
	ErrNoBackend   = errors.ErrorCode("inference_no_backend")
	ErrModelLoad   = errors.ErrorCode("inference_model_load_failed")
	ErrInferFailed = errors.ErrorCode("inference_run_failed")
)
