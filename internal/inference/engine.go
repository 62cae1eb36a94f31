package inference

import (
	"sync"
	"time"

	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/logger"
)

const statsWindowSize = 30

// Engine wraps a detection Backend with hot-reconfiguration, frame-skip
// gating, and rolling throughput tracking. It implements the parameter sink
// the autopilot controller drives.
type Engine struct {
	backend Backend

	mu           sync.RWMutex
	params       Params
	frameCounter int
	lastResult   *Result

	frameTimes []time.Time
	latencies  []float64
}

func NewEngine(backend Backend, initial Params) (*Engine, error) {
	if backend == nil {
		return nil, errors.New(ErrNoBackend)
	}

	if err := backend.Load(initial.ModelVariant); err != nil {
		return nil, errors.Wrap(ErrModelLoad, err)
	}

	return &Engine{
		backend: backend,
		params:  initial,
	}, nil
}

// Configure swaps the active parameter set. The swap is atomic with respect
// to Run: the next frame sees either the old or the new set, never a mix.
// A model variant change triggers a backend reload, which may be slow but
// never corrupts concurrent reads of the current parameters.
func (e *Engine) Configure(params Params) error {
	e.mu.RLock()
	currentVariant := e.params.ModelVariant
	e.mu.RUnlock()

	if params.ModelVariant != currentVariant {
		logger.Info().
			Str("from", currentVariant).
			Str("to", params.ModelVariant).
			Msg("Swapping model variant")
		if err := e.backend.Load(params.ModelVariant); err != nil {
			return errors.Wrap(ErrModelLoad, err)
		}
	}

	e.mu.Lock()
	e.params = params
	e.mu.Unlock()

	logger.Info().
		Int("width", params.InputWidth).
		Int("height", params.InputHeight).
		Bool("half_precision", params.HalfPrecision).
		Int("stride", params.Stride).
		Str("variant", params.ModelVariant).
		Msg("Inference parameters updated")

	return nil
}

// Run executes one frame. When the frame-skip stride says this frame should
// be skipped and a previous result exists, that result is reused with
// Skipped set and zero latency.
func (e *Engine) Run(frame []byte) (Result, error) {
	e.mu.Lock()
	e.frameCounter++
	frameNumber := e.frameCounter
	params := e.params
	last := e.lastResult
	e.mu.Unlock()

	if params.Stride > 1 && frameNumber%params.Stride != 0 && last != nil {
		return Result{
			Detections:     last.Detections,
			AnnotatedFrame: last.AnnotatedFrame,
			LatencyMS:      0,
			FrameNumber:    frameNumber,
			Skipped:        true,
		}, nil
	}

	start := time.Now()
	detections, annotated, err := e.backend.Infer(frame, params)
	if err != nil {
		return Result{}, errors.Wrap(ErrInferFailed, err)
	}
	latencyMS := float64(time.Since(start)) / float64(time.Millisecond)

	result := Result{
		Detections:     detections,
		AnnotatedFrame: annotated,
		LatencyMS:      latencyMS,
		FrameNumber:    frameNumber,
	}

	e.mu.Lock()
	e.lastResult = &result
	e.frameTimes = append(e.frameTimes, time.Now())
	if len(e.frameTimes) > statsWindowSize {
		e.frameTimes = e.frameTimes[1:]
	}
	e.latencies = append(e.latencies, latencyMS)
	if len(e.latencies) > statsWindowSize {
		e.latencies = e.latencies[1:]
	}
	e.mu.Unlock()

	return result, nil
}

// Stats returns the rolling-window throughput: frames per second and mean
// per-frame latency in milliseconds.
func (e *Engine) Stats() (fps, avgLatencyMS float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.frameTimes) >= 2 {
		elapsed := e.frameTimes[len(e.frameTimes)-1].Sub(e.frameTimes[0]).Seconds()
		if elapsed > 0 {
			fps = float64(len(e.frameTimes)-1) / elapsed
		}
	}

	if len(e.latencies) > 0 {
		var sum float64
		for _, l := range e.latencies {
			sum += l
		}
		avgLatencyMS = sum / float64(len(e.latencies))
	}

	return fps, avgLatencyMS
}

// CurrentParams returns a copy of the active parameter set.
func (e *Engine) CurrentParams() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// FrameCount returns the number of frames seen, including skipped ones.
func (e *Engine) FrameCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frameCounter
}
