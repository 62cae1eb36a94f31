package source

import (
	"context"
	"time"
)

// Frame is one encoded JPEG image pulled from a source.
type Frame struct {
	Data      []byte
	Number    int
	Timestamp time.Time
}

// Metadata describes an opened source.
type Metadata struct {
	Name       string  `json:"name"`
	FrameCount int     `json:"frame_count"`
	FPS        float64 `json:"fps"`
	SizeBytes  int64   `json:"size_bytes"`
}

// Progress reports playback position.
type Progress struct {
	CurrentFrame int     `json:"current_frame"`
	TotalFrames  int     `json:"total_frames"`
	Percent      float64 `json:"percent"`
	Speed        float64 `json:"speed"`
	Paused       bool    `json:"paused"`
}

// Source supplies frames to the pipeline. Next blocks for pacing and returns
// io.EOF when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Metadata() Metadata
	Progress() Progress
	Pause()
	Resume()
	Paused() bool
	SetSpeed(speed float64) error
	Seek(frame int) error
	SeekPercent(pct float64) error
	Close() error
}
