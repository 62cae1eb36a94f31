// Package server exposes the REST and WebSocket surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/events"
	"codeberg.org/mutker/edgepilot/internal/explain"
	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/inference"
	"codeberg.org/mutker/edgepilot/internal/logger"
	"codeberg.org/mutker/edgepilot/internal/pipeline"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

const (
	ErrListenFailed = errors.ErrorCode("server_listen_failed")

	shutdownTimeout = 5 * time.Second
)

// Config holds the HTTP surface settings.
type Config struct {
	ListenAddress string
	UploadDir     string
	StreamVideo   bool
}

// Server wires HTTP handlers to the pipeline components.
type Server struct {
	cfg        Config
	pipeline   *pipeline.Pipeline
	sampler    *telemetry.Sampler
	controller *autopilot.Controller
	engine     *inference.Engine
	hub        *events.Hub
	analyst    *explain.Analyst
	profile    hardware.Profile

	httpServer *http.Server
}

func New(
	cfg Config,
	pl *pipeline.Pipeline,
	sampler *telemetry.Sampler,
	controller *autopilot.Controller,
	engine *inference.Engine,
	hub *events.Hub,
	analyst *explain.Analyst,
	profile hardware.Profile,
) *Server {
	s := &Server{
		cfg:        cfg,
		pipeline:   pl,
		sampler:    sampler,
		controller: controller,
		engine:     engine,
		hub:        hub,
		analyst:    analyst,
		profile:    profile,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/hardware", s.handleHardware)
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/telemetry/history", s.handleTelemetryHistory)
	mux.HandleFunc("GET /api/autopilot", s.handleAutopilotState)
	mux.HandleFunc("POST /api/autopilot/mode", s.handleSetMode)
	mux.HandleFunc("GET /api/decisions", s.handleDecisions)
	mux.HandleFunc("POST /api/inference/start", s.handleInferenceStart)
	mux.HandleFunc("POST /api/inference/stop", s.handleInferenceStop)
	mux.HandleFunc("GET /api/source", s.handleSourceInfo)
	mux.HandleFunc("POST /api/source/playback", s.handlePlayback)
	mux.HandleFunc("POST /api/source/upload", s.handleUpload)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("POST /api/models/switch", s.handleModelSwitch)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info().Str("address", s.cfg.ListenAddress).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(ErrListenFailed, err)
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// Handler exposes the routing table for tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug().Err(err).Msg("Response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
