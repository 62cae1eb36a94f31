package pipeline

import "codeberg.org/mutker/edgepilot/internal/errors"

const (
	ErrSessionActive = errors.ErrorCode("pipeline_session_active")
	ErrNoSession     = errors.ErrorCode("pipeline_no_session")
	ErrNotRunning    = errors.ErrorCode("pipeline_not_running")
)
