package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codeberg.org/mutker/edgepilot/internal/advisor"
	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/events"
	"codeberg.org/mutker/edgepilot/internal/explain"
	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/inference"
	"codeberg.org/mutker/edgepilot/internal/metrics"
	"codeberg.org/mutker/edgepilot/internal/pipeline"
	"codeberg.org/mutker/edgepilot/internal/source"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type idleSensor struct{}

func (idleSensor) Read() telemetry.Reading {
	return telemetry.Reading{GPUUtil: 40, VRAMUsedGB: 4, VRAMTotalGB: 12, CPUUtil: 20, RAMUsedGB: 8}
}

func (idleSensor) Close() error { return nil }

type harness struct {
	pipeline *pipeline.Pipeline
	hub      *events.Hub
	cancel   context.CancelFunc
	done     chan struct{}
}

func startHarness(t *testing.T) *harness {
	t.Helper()

	profile := hardware.Profile{
		GPUName:       "NVIDIA GeForce RTX 3060",
		GPUAvailable:  true,
		VRAMTotalGB:   12,
		FP16Supported: true,
		Tier:          hardware.TierMid,
	}

	engine, err := inference.NewEngine(inference.NewNoopBackend(), inference.DefaultParams("yolov8n", "none"))
	require.NoError(t, err)

	sampler := telemetry.NewSampler(idleSensor{}, 5*time.Millisecond, 100)

	controller, err := autopilot.NewController(profile, engine, autopilot.DefaultConfig())
	require.NoError(t, err)

	hub := events.NewHub()
	analyst := explain.New(explain.Config{Enabled: false, Timeout: time.Second})

	pl := pipeline.New(engine, sampler, controller, advisor.New(profile, 30*time.Second),
		analyst, hub, metrics.NewNoop(), profile, pipeline.Options{
			TickInterval: 10 * time.Millisecond,
			StreamVideo:  true,
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, pl.Run(ctx))
	}()

	h := &harness{pipeline: pl, hub: hub, cancel: cancel, done: done}
	t.Cleanup(func() {
		h.cancel()
		<-h.done
	})

	return h
}

func fakeJPEG(marker byte) []byte {
	return []byte{0xFF, 0xD8, 0x00, marker, 0xFF, 0xD9}
}

func writeClip(t *testing.T, frameCount int) string {
	t.Helper()

	var data []byte
	for i := 0; i < frameCount; i++ {
		data = append(data, fakeJPEG(byte(i))...)
	}

	path := filepath.Join(t.TempDir(), "clip.mjpeg")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func startSession(t *testing.T, h *harness, src source.Source) {
	t.Helper()

	// Run sets up its context asynchronously; retry until the session takes.
	require.Eventually(t, func() bool {
		return h.pipeline.StartSource(src, true) == nil
	}, time.Second, 5*time.Millisecond)
}

func waitForStatus(t *testing.T, ch <-chan events.Event, want string) pipeline.StatusPayload {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
			return pipeline.StatusPayload{}
		case event := <-ch:
			if event.Type != events.TypeStatus {
				continue
			}
			payload, ok := event.Payload.(pipeline.StatusPayload)
			require.True(t, ok)
			if payload.Status == want {
				return payload
			}
		}
	}
}

func TestSessionRunsToCompletion(t *testing.T) {
	h := startHarness(t)

	ch, unsubscribe := h.hub.Subscribe(256)
	defer unsubscribe()

	src, err := source.Open(writeClip(t, 5), true)
	require.NoError(t, err)
	startSession(t, h, src)

	running := waitForStatus(t, ch, "running")
	assert.Equal(t, "clip.mjpeg", running.Source)

	completed := waitForStatus(t, ch, "completed")
	require.NotNil(t, completed.Summary, "completion status must carry a telemetry summary")

	// The finished session is cleared so a new one can start.
	assert.Eventually(t, func() bool {
		return h.pipeline.Source() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestOnlyOneSessionAtATime(t *testing.T) {
	h := startHarness(t)

	// A paused source keeps the first session alive indefinitely.
	first, err := source.Open(writeClip(t, 3), true)
	require.NoError(t, err)
	first.Pause()
	startSession(t, h, first)

	second, err := source.Open(writeClip(t, 3), true)
	require.NoError(t, err)
	defer second.Close()

	err = h.pipeline.StartSource(second, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline_session_active")

	require.NoError(t, h.pipeline.StopSource())
}

func TestStopSourceWhenIdle(t *testing.T) {
	h := startHarness(t)

	err := h.pipeline.StopSource()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline_no_session")
}

func TestStartSourceBeforeRun(t *testing.T) {
	engine, err := inference.NewEngine(inference.NewNoopBackend(), inference.DefaultParams("yolov8n", "none"))
	require.NoError(t, err)

	profile := hardware.Profile{Tier: hardware.TierCPUOnly}
	controller, err := autopilot.NewController(profile, engine, autopilot.DefaultConfig())
	require.NoError(t, err)

	pl := pipeline.New(engine, telemetry.NewSampler(idleSensor{}, time.Second, 10), controller,
		advisor.New(profile, time.Minute), explain.New(explain.Config{}), events.NewHub(),
		metrics.NewNoop(), profile, pipeline.Options{})

	src, err := source.Open(writeClip(t, 1), true)
	require.NoError(t, err)
	defer src.Close()

	err = pl.StartSource(src, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline_not_running")
}

func TestTelemetryEventsFlow(t *testing.T) {
	h := startHarness(t)

	ch, unsubscribe := h.hub.Subscribe(256)
	defer unsubscribe()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("no telemetry event observed")
		case event := <-ch:
			if event.Type != events.TypeTelemetry {
				continue
			}
			snap, ok := event.Payload.(telemetry.Snapshot)
			require.True(t, ok)
			assert.InDelta(t, 40.0, snap.GPUUtil, 0.001)
			return
		}
	}
}

func TestStopSourcePublishesStoppedStatus(t *testing.T) {
	h := startHarness(t)

	ch, unsubscribe := h.hub.Subscribe(256)
	defer unsubscribe()

	src, err := source.Open(writeClip(t, 3), true)
	require.NoError(t, err)
	src.Pause()
	startSession(t, h, src)
	waitForStatus(t, ch, "running")

	require.NoError(t, h.pipeline.StopSource())
	stopped := waitForStatus(t, ch, "stopped")
	assert.Nil(t, stopped.Summary)
}
