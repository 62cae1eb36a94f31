package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/inference"
	"codeberg.org/mutker/edgepilot/internal/logger"
	"codeberg.org/mutker/edgepilot/internal/source"
)

const maxUploadBytes = 512 << 20 // 512 MiB

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	llmReachable := false
	if s.analyst.Enabled() {
		llmReachable = s.analyst.HealthCheck(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"llm_enabled":   s.analyst.Enabled(),
		"llm_reachable": llmReachable,
	})
}

func (s *Server) handleHardware(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.profile)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.sampler.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no telemetry collected yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 0)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": s.sampler.History(n),
		"summary": s.sampler.Summary(),
	})
}

func (s *Server) handleAutopilotState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.StateInfo())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, ok := autopilot.ParseMode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, "mode must be speed, balanced or accuracy")
		return
	}

	s.controller.SetMode(mode)
	writeJSON(w, http.StatusOK, s.controller.StateInfo())
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 0)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": s.controller.RecentDecisions(n),
	})
}

func (s *Server) handleInferenceStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File      string `json:"file"`
		Benchmark bool   `json:"benchmark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.File == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}

	path := filepath.Join(s.cfg.UploadDir, filepath.Base(req.File))
	src, err := source.Open(path, req.Benchmark)
	if err != nil {
		logger.Warn().Err(err).Str("file", req.File).Msg("Source open failed")
		writeError(w, http.StatusNotFound, "could not open source file")
		return
	}

	if err := s.pipeline.StartSource(src, req.Benchmark); err != nil {
		src.Close()
		writeError(w, http.StatusConflict, "an inference session is already running")
		return
	}

	writeJSON(w, http.StatusOK, src.Metadata())
}

func (s *Server) handleInferenceStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.pipeline.StopSource(); err != nil {
		writeError(w, http.StatusConflict, "no inference session is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSourceInfo(w http.ResponseWriter, _ *http.Request) {
	src := s.pipeline.Source()
	if src == nil {
		writeError(w, http.StatusNotFound, "no source loaded")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metadata": src.Metadata(),
		"progress": src.Progress(),
	})
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	src := s.pipeline.Source()
	if src == nil {
		writeError(w, http.StatusConflict, "no source loaded")
		return
	}

	var req struct {
		Action  string   `json:"action"`
		Frame   *int     `json:"frame,omitempty"`
		Percent *float64 `json:"percent,omitempty"`
		Speed   *float64 `json:"speed,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	switch req.Action {
	case "pause":
		src.Pause()
	case "resume":
		src.Resume()
	case "seek":
		switch {
		case req.Frame != nil:
			err = src.Seek(*req.Frame)
		case req.Percent != nil:
			err = src.SeekPercent(*req.Percent)
		default:
			writeError(w, http.StatusBadRequest, "seek requires frame or percent")
			return
		}
	case "speed":
		if req.Speed == nil {
			writeError(w, http.StatusBadRequest, "speed requires a value")
			return
		}
		err = src.SetSpeed(*req.Speed)
	default:
		writeError(w, http.StatusBadRequest, "action must be pause, resume, seek or speed")
		return
	}

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, src.Progress())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "upload directory unavailable")
		return
	}

	name := filepath.Base(header.Filename)
	dst, err := os.Create(filepath.Join(s.cfg.UploadDir, name))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload write failed")
		return
	}

	logger.Info().Str("file", name).Int64("bytes", size).Msg("Source uploaded")
	writeJSON(w, http.StatusOK, map[string]interface{}{"file": name, "size_bytes": size})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": inference.KnownVariants,
		"current":   s.engine.CurrentParams().ModelVariant,
	})
}

func (s *Server) handleModelSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Variant string `json:"variant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	known := false
	for _, v := range inference.KnownVariants {
		if v == req.Variant {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusBadRequest, "unknown model variant")
		return
	}

	params := s.engine.CurrentParams()
	params.ModelVariant = req.Variant
	if err := s.engine.Configure(params); err != nil {
		writeError(w, http.StatusInternalServerError, "model switch failed")
		return
	}

	writeJSON(w, http.StatusOK, s.engine.CurrentParams())
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
