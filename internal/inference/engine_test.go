package inference_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/inference"
)

type recordingBackend struct {
	loads      []string
	inferences int
	failLoad   bool
	failInfer  bool
}

func (b *recordingBackend) Load(variant string) error {
	if b.failLoad {
		return errors.New(errors.ErrInternal)
	}
	b.loads = append(b.loads, variant)
	return nil
}

func (b *recordingBackend) Infer(frame []byte, _ inference.Params) ([]inference.Detection, []byte, error) {
	if b.failInfer {
		return nil, nil, errors.New(errors.ErrInternal)
	}
	b.inferences++
	detections := []inference.Detection{{X1: 10, Y1: 10, X2: 50, Y2: 50, Confidence: 0.9, ClassName: "person"}}
	return detections, frame, nil
}

func newEngine(t *testing.T) (*inference.Engine, *recordingBackend) {
	t.Helper()

	backend := &recordingBackend{}
	engine, err := inference.NewEngine(backend, inference.DefaultParams("yolov8s", "pytorch"))
	require.NoError(t, err)
	return engine, backend
}

func TestNewEngineLoadsInitialModel(t *testing.T) {
	_, backend := newEngine(t)
	assert.Equal(t, []string{"yolov8s"}, backend.loads)
}

func TestNewEngineRejectsNilBackend(t *testing.T) {
	_, err := inference.NewEngine(nil, inference.DefaultParams("yolov8n", "pytorch"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference_no_backend")
}

func TestNewEngineFailsWhenModelLoadFails(t *testing.T) {
	backend := &recordingBackend{failLoad: true}
	_, err := inference.NewEngine(backend, inference.DefaultParams("yolov8n", "pytorch"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference_model_load_failed")
}

func TestRunProcessesEveryFrameAtStrideOne(t *testing.T) {
	engine, backend := newEngine(t)

	frame := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	for i := 1; i <= 4; i++ {
		result, err := engine.Run(frame)
		require.NoError(t, err)
		assert.False(t, result.Skipped)
		assert.Equal(t, i, result.FrameNumber)
	}

	assert.Equal(t, 4, backend.inferences)
}

func TestStrideSkipsAndReusesLastResult(t *testing.T) {
	engine, backend := newEngine(t)

	params := engine.CurrentParams()
	params.Stride = 2
	require.NoError(t, engine.Configure(params))

	frame := []byte{0xFF, 0xD8, 0xFF, 0xD9}

	// Frame 1 is odd under stride 2 but has no previous result to reuse, so
	// it is processed.
	first, err := engine.Run(frame)
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	second, err := engine.Run(frame)
	require.NoError(t, err)
	assert.False(t, second.Skipped)

	third, err := engine.Run(frame)
	require.NoError(t, err)
	assert.True(t, third.Skipped)
	assert.Zero(t, third.LatencyMS)
	assert.Equal(t, second.Detections, third.Detections)

	assert.Equal(t, 2, backend.inferences)
	assert.Equal(t, 3, engine.FrameCount())
}

func TestConfigureReloadsOnVariantChange(t *testing.T) {
	engine, backend := newEngine(t)

	params := engine.CurrentParams()
	params.InputWidth = 480
	params.InputHeight = 480
	require.NoError(t, engine.Configure(params))
	assert.Equal(t, []string{"yolov8s"}, backend.loads, "same variant must not reload")

	params.ModelVariant = "yolov8n"
	require.NoError(t, engine.Configure(params))
	assert.Equal(t, []string{"yolov8s", "yolov8n"}, backend.loads)
	assert.Equal(t, "yolov8n", engine.CurrentParams().ModelVariant)
}

func TestConfigureKeepsOldParamsWhenReloadFails(t *testing.T) {
	engine, backend := newEngine(t)

	backend.failLoad = true
	params := engine.CurrentParams()
	params.ModelVariant = "yolov8m"

	require.Error(t, engine.Configure(params))
	assert.Equal(t, "yolov8s", engine.CurrentParams().ModelVariant)
}

func TestRunWrapsBackendFailure(t *testing.T) {
	engine, backend := newEngine(t)

	backend.failInfer = true
	_, err := engine.Run([]byte{0x01})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference_run_failed")
}

func TestStatsReflectProcessedFrames(t *testing.T) {
	engine, _ := newEngine(t)

	fps, latency := engine.Stats()
	assert.Zero(t, fps)
	assert.Zero(t, latency)

	frame := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	for i := 0; i < 5; i++ {
		_, err := engine.Run(frame)
		require.NoError(t, err)
	}

	fps, latency = engine.Stats()
	assert.Greater(t, fps, 0.0)
	assert.GreaterOrEqual(t, latency, 0.0)
}

func TestNoopBackendAnnotatesNothing(t *testing.T) {
	engine, err := inference.NewEngine(inference.NewNoopBackend(), inference.DefaultParams("yolov8n", "none"))
	require.NoError(t, err)

	frame := []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}
	result, err := engine.Run(frame)
	require.NoError(t, err)
	assert.Equal(t, frame, result.AnnotatedFrame)
	assert.Empty(t, result.Detections)
}
