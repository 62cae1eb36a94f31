package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/logger"
)

const (
	// DefaultFPS is the nominal playback rate when the container carries no
	// timing information, which MJPEG never does.
	DefaultFPS = 30.0

	MinSpeed = 0.25
	MaxSpeed = 4.0
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FileSource plays back an MJPEG file. In paced mode Next sleeps to match the
// nominal frame rate scaled by the playback speed; in benchmark mode frames
// are delivered as fast as the consumer can take them.
type FileSource struct {
	name      string
	frames    [][]byte
	fps       float64
	sizeBytes int64
	benchmark bool

	mu       sync.Mutex
	pos      int
	paused   bool
	speed    float64
	lastEmit time.Time
}

// Open loads an MJPEG file and indexes its frames. The whole file is held in
// memory; sources are short clips, not archives.
func Open(path string, benchmark bool) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err)
	}

	frames := splitJPEGFrames(data)
	if len(frames) == 0 {
		return nil, errors.WithData(ErrNoFrames, path)
	}

	logger.Info().
		Str("source", filepath.Base(path)).
		Int("frames", len(frames)).
		Bool("benchmark", benchmark).
		Msg("Source opened")

	return &FileSource{
		name:      filepath.Base(path),
		frames:    frames,
		fps:       DefaultFPS,
		sizeBytes: int64(len(data)),
		benchmark: benchmark,
		speed:     1.0,
	}, nil
}

// splitJPEGFrames scans for SOI/EOI marker pairs. Payload bytes between
// frames (padding, multipart boundaries) are discarded.
func splitJPEGFrames(data []byte) [][]byte {
	var frames [][]byte

	for len(data) > 0 {
		start := bytes.Index(data, jpegSOI)
		if start < 0 {
			break
		}
		end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
		if end < 0 {
			break
		}
		end += start + len(jpegSOI) + len(jpegEOI)

		frames = append(frames, data[start:end])
		data = data[end:]
	}

	return frames
}

// Next returns the next frame, pacing delivery in non-benchmark mode. Returns
// io.EOF once the file is exhausted.
func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	if s.pos >= len(s.frames) {
		s.mu.Unlock()
		return Frame{}, io.EOF
	}

	var delay time.Duration
	if !s.benchmark {
		interval := time.Duration(float64(time.Second) / (s.fps * s.speed))
		if elapsed := time.Since(s.lastEmit); elapsed < interval {
			delay = interval - elapsed
		}
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check after sleeping: a seek may have moved the position.
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}

	frame := Frame{
		Data:      s.frames[s.pos],
		Number:    s.pos,
		Timestamp: time.Now(),
	}
	s.pos++
	s.lastEmit = frame.Timestamp

	return frame, nil
}

func (s *FileSource) Metadata() Metadata {
	return Metadata{
		Name:       s.name,
		FrameCount: len(s.frames),
		FPS:        s.fps,
		SizeBytes:  s.sizeBytes,
	}
}

func (s *FileSource) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	pct := 0.0
	if len(s.frames) > 0 {
		pct = float64(s.pos) / float64(len(s.frames)) * 100
	}

	return Progress{
		CurrentFrame: s.pos,
		TotalFrames:  len(s.frames),
		Percent:      pct,
		Speed:        s.speed,
		Paused:       s.paused,
	}
}

func (s *FileSource) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *FileSource) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *FileSource) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetSpeed changes the playback rate. Valid range is 0.25x to 4x.
func (s *FileSource) SetSpeed(speed float64) error {
	if speed < MinSpeed || speed > MaxSpeed {
		return errors.WithData(ErrInvalidSpeed, speed)
	}

	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
	return nil
}

// Seek jumps playback to an absolute frame index.
func (s *FileSource) Seek(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if frame < 0 || frame >= len(s.frames) {
		return errors.WithData(ErrSeekOutOfRange, frame)
	}
	s.pos = frame
	return nil
}

// SeekPercent jumps playback to a position expressed as 0-100.
func (s *FileSource) SeekPercent(pct float64) error {
	if pct < 0 || pct > 100 {
		return errors.WithData(ErrSeekOutOfRange, pct)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := int(pct / 100 * float64(len(s.frames)))
	if pos >= len(s.frames) {
		pos = len(s.frames) - 1
	}
	s.pos = pos
	return nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
	return nil
}
