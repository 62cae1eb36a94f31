package source

import "codeberg.org/mutker/edgepilot/internal/errors"

const (
	ErrOpenFailed     = errors.ErrorCode("source_open_failed")
	ErrNoFrames       = errors.ErrorCode("source_no_frames")
	ErrInvalidSpeed   = errors.ErrorCode("source_invalid_speed")
	ErrSeekOutOfRange = errors.ErrorCode("source_seek_out_of_range")
)
