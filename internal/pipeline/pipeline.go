// Package pipeline runs the orchestration loops: the frame loop that drives
// inference and the periodic tick that feeds telemetry to the autopilot.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/mutker/edgepilot/internal/advisor"
	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/events"
	"codeberg.org/mutker/edgepilot/internal/explain"
	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/inference"
	"codeberg.org/mutker/edgepilot/internal/logger"
	"codeberg.org/mutker/edgepilot/internal/metrics"
	"codeberg.org/mutker/edgepilot/internal/source"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

const (
	// DefaultTickInterval drives autopilot evaluation and event publishing.
	DefaultTickInterval = 500 * time.Millisecond

	// pauseRetry is how long the frame loop sleeps while the source is paused.
	pauseRetry = 100 * time.Millisecond
)

// Status payloads published on the events hub.
type StatusPayload struct {
	Status  string             `json:"status"`
	Source  string             `json:"source,omitempty"`
	Summary *telemetry.Summary `json:"summary,omitempty"`
}

// Pipeline owns the frame and tick loops. The tick loop runs for the lifetime
// of Run; frame sessions come and go as sources are started and stopped.
type Pipeline struct {
	engine     *inference.Engine
	sampler    *telemetry.Sampler
	controller *autopilot.Controller
	advisor    *advisor.Advisor
	analyst    *explain.Analyst
	hub        *events.Hub
	recorder   metrics.Recorder
	profile    hardware.Profile

	tickInterval time.Duration
	streamVideo  bool

	mu      sync.Mutex
	session *session
	group   *errgroup.Group
	runCtx  context.Context
}

type session struct {
	src    source.Source
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	TickInterval time.Duration
	StreamVideo  bool
}

func New(
	engine *inference.Engine,
	sampler *telemetry.Sampler,
	controller *autopilot.Controller,
	adv *advisor.Advisor,
	analyst *explain.Analyst,
	hub *events.Hub,
	recorder metrics.Recorder,
	profile hardware.Profile,
	opts Options,
) *Pipeline {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}

	return &Pipeline{
		engine:       engine,
		sampler:      sampler,
		controller:   controller,
		advisor:      adv,
		analyst:      analyst,
		hub:          hub,
		recorder:     recorder,
		profile:      profile,
		tickInterval: opts.TickInterval,
		streamVideo:  opts.StreamVideo,
	}
}

// Run executes the tick loop until ctx is cancelled, then tears down any
// active frame session. Must be called exactly once.
func (p *Pipeline) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	p.mu.Lock()
	p.group = group
	p.runCtx = gctx
	p.mu.Unlock()

	p.sampler.Start()

	group.Go(func() error {
		p.tickLoop(gctx)
		return nil
	})

	err := group.Wait()

	p.StopSource()
	p.sampler.Stop()

	return err
}

// StartSource begins a frame session on the given source. Only one session
// may be active at a time.
func (p *Pipeline) StartSource(src source.Source, benchmark bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runCtx == nil {
		return errors.New(ErrNotRunning)
	}
	if p.session != nil {
		return errors.New(ErrSessionActive)
	}

	ctx, cancel := context.WithCancel(p.runCtx)
	sess := &session{src: src, cancel: cancel, done: make(chan struct{})}
	p.session = sess

	p.controller.SetBenchmark(benchmark)

	meta := src.Metadata()
	logger.Info().
		Str("source", meta.Name).
		Int("frames", meta.FrameCount).
		Bool("benchmark", benchmark).
		Msg("Inference session started")

	// Publish before the loop starts so "running" always precedes the
	// session's terminal status.
	p.hub.Publish(events.Event{
		Type:    events.TypeStatus,
		Payload: StatusPayload{Status: "running", Source: meta.Name},
	})

	go p.frameLoop(ctx, sess)

	return nil
}

// StopSource cancels the active frame session, if any, and waits for the
// frame loop to exit. Safe to call from any goroutine and when idle.
func (p *Pipeline) StopSource() error {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()

	if sess == nil {
		return errors.New(ErrNoSession)
	}

	sess.cancel()
	<-sess.done

	return nil
}

// Source returns the active session's source, or nil when idle.
func (p *Pipeline) Source() source.Source {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil
	}
	return p.session.src
}

func (p *Pipeline) frameLoop(ctx context.Context, sess *session) {
	defer p.finishSession(sess)

	for {
		if ctx.Err() != nil {
			p.publishStatus("stopped", sess, false)
			return
		}

		if sess.src.Paused() {
			select {
			case <-ctx.Done():
				p.publishStatus("stopped", sess, false)
				return
			case <-time.After(pauseRetry):
			}
			continue
		}

		frame, err := sess.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.publishStatus("completed", sess, true)
			case errors.Is(err, context.Canceled):
				p.publishStatus("stopped", sess, false)
			default:
				logger.Error().Err(err).Msg("Source read failed")
				p.publishStatus("error", sess, false)
			}
			return
		}

		result, err := p.engine.Run(frame.Data)
		if err != nil {
			logger.Error().Err(err).Int("frame", frame.Number).Msg("Inference failed")
			continue
		}

		fps, latency := p.engine.Stats()
		p.sampler.UpdateInferenceMetrics(fps, latency)

		// Frame encoding and delivery cost something; skip it with no viewers.
		if p.streamVideo && p.hub.SubscriberCount() > 0 && !result.Skipped {
			p.hub.Publish(events.Event{
				Type:    events.TypeVideoFrame,
				Payload: result.AnnotatedFrame,
			})
		}
	}
}

func (p *Pipeline) finishSession(sess *session) {
	p.mu.Lock()
	if p.session == sess {
		p.session = nil
	}
	p.mu.Unlock()

	sess.src.Close()
	p.sampler.UpdateInferenceMetrics(0, 0)
	close(sess.done)
}

func (p *Pipeline) publishStatus(status string, sess *session, withSummary bool) {
	payload := StatusPayload{Status: status, Source: sess.src.Metadata().Name}
	if withSummary {
		summary := p.sampler.Summary()
		payload.Summary = &summary
	}

	logger.Info().Str("status", status).Str("source", payload.Source).Msg("Inference session ended")
	p.hub.Publish(events.Event{Type: events.TypeStatus, Payload: payload})
}

func (p *Pipeline) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick is the single writer for the controller and the advisor.
func (p *Pipeline) tick(ctx context.Context) {
	snap, ok := p.sampler.Latest()
	if !ok {
		return
	}

	p.hub.Publish(events.Event{Type: events.TypeTelemetry, Payload: snap})
	if err := p.recorder.RecordSnapshot(snap); err != nil {
		logger.Debug().Err(err).Msg("Snapshot recording failed")
	}

	if p.Source() != nil {
		if decision := p.controller.Evaluate(snap); decision != nil {
			p.hub.Publish(events.Event{Type: events.TypeDecision, Payload: *decision})
			if err := p.recorder.RecordDecision(*decision); err != nil {
				logger.Debug().Err(err).Msg("Decision recording failed")
			}
			p.explainAsync(ctx, *decision)
		}
	}

	if suggestion := p.advisor.Evaluate(snap, p.controller.StateInfo()); suggestion != nil {
		p.hub.Publish(events.Event{Type: events.TypeSuggestion, Payload: *suggestion})
	}

	if src := p.Source(); src != nil {
		p.hub.Publish(events.Event{Type: events.TypeSourceProgress, Payload: src.Progress()})
	}
}

// explainAsync narrates the decision off the tick path. The goroutine is
// supervised by the run group so shutdown waits for in-flight requests.
func (p *Pipeline) explainAsync(ctx context.Context, decision autopilot.Decision) {
	p.group.Go(func() error {
		explanation, err := p.analyst.Explain(ctx, decision, p.profile)
		if err != nil {
			logger.Debug().Err(err).Msg("Explanation failed")
			return nil
		}
		p.hub.Publish(events.Event{Type: events.TypeExplanation, Payload: explanation})
		return nil
	})
}
