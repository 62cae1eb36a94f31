// Package explain turns autopilot decisions into short plain-language
// narrations, using a local Ollama instance when one is reachable and canned
// text otherwise.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/errors"
	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/logger"
)

const (
	ErrLLMUnavailable = errors.ErrorCode("explain_llm_unavailable")
	ErrLLMResponse    = errors.ErrorCode("explain_llm_bad_response")
)

// SourceLLM and SourceCanned tell the client where the text came from.
const (
	SourceLLM    = "llm"
	SourceCanned = "canned"
)

// modelPreference is the discovery ladder, most preferred first. Matching is
// by name prefix so tagged variants (llama3.2:3b) qualify.
var modelPreference = []string{"llama3.2", "llama3.1", "llama3", "mistral", "phi3", "llama2"}

// Explanation is one narrated decision.
type Explanation struct {
	DecisionTimestamp time.Time `json:"decision_timestamp"`
	Text              string    `json:"text"`
	Source            string    `json:"source"`
}

// Config holds the LLM connection settings.
type Config struct {
	Enabled  bool
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Analyst produces explanations. Safe for concurrent use; every call is a
// self-contained HTTP request.
type Analyst struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Analyst {
	return &Analyst{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Explain narrates a decision. Falls back to canned text when the LLM is
// disabled or fails; the error return reports the LLM failure alongside a
// usable explanation.
func (a *Analyst) Explain(ctx context.Context, decision autopilot.Decision, profile hardware.Profile) (Explanation, error) {
	if a.cfg.Enabled {
		text, err := a.generate(ctx, decision, profile)
		if err == nil {
			return Explanation{
				DecisionTimestamp: decision.Timestamp,
				Text:              text,
				Source:            SourceLLM,
			}, nil
		}
		logger.Debug().Err(err).Msg("LLM explanation failed, using canned text")
	}

	return Explanation{
		DecisionTimestamp: decision.Timestamp,
		Text:              cannedText(decision),
		Source:            SourceCanned,
	}, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (a *Analyst) generate(ctx context.Context, decision autopilot.Decision, profile hardware.Profile) (string, error) {
	reqBody := generateRequest{
		Model:  a.cfg.Model,
		System: systemPrompt,
		Prompt: userPrompt(decision, profile),
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(ErrLLMResponse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(ErrLLMUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.Wrap(ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.WithData(ErrLLMResponse, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(ErrLLMResponse, err)
	}

	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", errors.New(ErrLLMResponse)
	}

	return text, nil
}

// HealthCheck reports whether the Ollama endpoint answers.
func (a *Analyst) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/api/version", nil)
	if err != nil {
		return false
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// DiscoverModel asks the endpoint which models are installed and picks the
// most preferred one. Falls back to the first installed model when nothing on
// the preference ladder is present.
func (a *Analyst) DiscoverModel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return "", errors.Wrap(ErrLLMUnavailable, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.Wrap(ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.WithData(ErrLLMResponse, resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return "", errors.Wrap(ErrLLMResponse, err)
	}
	if len(tags.Models) == 0 {
		return "", errors.New(ErrLLMUnavailable)
	}

	for _, preferred := range modelPreference {
		for _, m := range tags.Models {
			if strings.HasPrefix(m.Name, preferred) {
				return m.Name, nil
			}
		}
	}

	return tags.Models[0].Name, nil
}

// UseModel switches the model after discovery.
func (a *Analyst) UseModel(model string) {
	a.cfg.Model = model
}

// Enabled reports whether LLM narration is configured.
func (a *Analyst) Enabled() bool {
	return a.cfg.Enabled
}

const systemPrompt = "You are a performance engineer explaining why an " +
	"adaptive inference system changed its settings. Answer in two or three " +
	"plain sentences for a non-expert operator. Mention the trigger, the " +
	"change, and the expected trade-off. Do not use markdown."

func userPrompt(decision autopilot.Decision, profile hardware.Profile) string {
	return fmt.Sprintf(
		"The system moved from %s to %s and applied the action %q. "+
			"Trigger: %s. GPU utilization was %.0f%%, throughput %.1f FPS, "+
			"VRAM %.1f GB in use. Hardware: %s (%s tier). Explain this change.",
		decision.PreviousState, decision.NewState, decision.Action,
		decision.Reason,
		decision.TelemetrySummary.GPUUtil, decision.TelemetrySummary.FPS,
		decision.TelemetrySummary.VRAMUsedGB,
		profile.GPUName, profile.Tier)
}

// cannedText maps a decision to fixed narration used when no LLM answers.
func cannedText(decision autopilot.Decision) string {
	switch {
	case strings.HasPrefix(decision.Action, "enable_fp16"):
		return "GPU load got high, so half-precision math was switched on. " +
			"Frames now process faster with almost no loss in detection quality."
	case strings.HasPrefix(decision.Action, "reduce_resolution"):
		return "The GPU stayed busy, so input frames are now analysed at a lower " +
			"resolution. Throughput improves, though very small objects may be missed."
	case strings.HasPrefix(decision.Action, "aggressive"):
		return "Load remained critical, so the system switched to its lightest model, " +
			"lowered resolution further and now analyses every second frame. This is " +
			"the fastest setting and trades away some accuracy."
	case decision.Action == "restore_defaults" || decision.NewState == "stable":
		return "Load has dropped back to normal, so an optimisation was removed and " +
			"quality settings were stepped back toward their defaults."
	default:
		return fmt.Sprintf("The system moved from %s to %s to keep performance steady.",
			decision.PreviousState, decision.NewState)
	}
}
