package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/mutker/edgepilot/internal/advisor"
	"codeberg.org/mutker/edgepilot/internal/autopilot"
	"codeberg.org/mutker/edgepilot/internal/config"
	"codeberg.org/mutker/edgepilot/internal/events"
	"codeberg.org/mutker/edgepilot/internal/explain"
	"codeberg.org/mutker/edgepilot/internal/hardware"
	"codeberg.org/mutker/edgepilot/internal/inference"
	"codeberg.org/mutker/edgepilot/internal/logger"
	"codeberg.org/mutker/edgepilot/internal/metrics"
	"codeberg.org/mutker/edgepilot/internal/pid"
	"codeberg.org/mutker/edgepilot/internal/pipeline"
	"codeberg.org/mutker/edgepilot/internal/server"
	"codeberg.org/mutker/edgepilot/internal/telemetry"
)

const discoveryTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("Another instance appears to be running")
	}
	defer pid.Remove()

	if err := run(cfg); err != nil {
		logger.Error().Err(err).Msg("Exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile := hardware.Detect()

	engine, err := buildEngine(cfg, profile)
	if err != nil {
		return err
	}

	sensor := telemetry.NewSystemSensor(profile.GPUAvailable)
	defer sensor.Close()
	sampler := telemetry.NewSampler(sensor,
		time.Duration(cfg.Telemetry.IntervalMS)*time.Millisecond, cfg.Telemetry.HistorySize)

	mode, _ := autopilot.ParseMode(cfg.Autopilot.Mode)
	controller, err := autopilot.NewController(profile, engine, autopilot.Config{
		Mode:            mode,
		Cooldown:        time.Duration(cfg.Autopilot.CooldownSeconds * float64(time.Second)),
		EscalateTicks:   cfg.Autopilot.EscalateTicks,
		DeescalateTicks: cfg.Autopilot.DeescalateTicks,
		WarmupTicks:     cfg.Autopilot.WarmupTicks,
		DecisionLogSize: cfg.Autopilot.DecisionLogSize,
	})
	if err != nil {
		return err
	}

	adv := advisor.New(profile, time.Duration(cfg.Advisor.CooldownSeconds*float64(time.Second)))
	analyst := buildAnalyst(ctx, cfg)
	hub := events.NewHub()

	recorder, err := buildRecorder(cfg)
	if err != nil {
		return err
	}
	defer recorder.Close()

	pl := pipeline.New(engine, sampler, controller, adv, analyst, hub, recorder, profile, pipeline.Options{
		TickInterval: pipeline.DefaultTickInterval,
		StreamVideo:  cfg.Server.StreamVideo,
	})

	srv := server.New(server.Config{
		ListenAddress: cfg.Server.ListenAddress,
		UploadDir:     cfg.Source.UploadDir,
		StreamVideo:   cfg.Server.StreamVideo,
	}, pl, sampler, controller, engine, hub, analyst, profile)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return pl.Run(gctx) })
	group.Go(func() error { return srv.Run(gctx) })

	return group.Wait()
}

func buildEngine(cfg *config.Config, profile hardware.Profile) (*inference.Engine, error) {
	params := inference.DefaultParams(cfg.Inference.ModelVariant, cfg.Inference.Backend)
	params.InputWidth = cfg.Inference.InputSize
	params.InputHeight = cfg.Inference.InputSize
	params.Confidence = cfg.Inference.Confidence
	params.IoU = cfg.Inference.IoU
	params.HalfPrecision = cfg.Inference.HalfPrecision && profile.FP16Supported

	return inference.NewEngine(inference.NewNoopBackend(), params)
}

func buildAnalyst(ctx context.Context, cfg *config.Config) *explain.Analyst {
	analyst := explain.New(explain.Config{
		Enabled:  cfg.LLM.Enabled,
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		Timeout:  time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})

	if cfg.LLM.Enabled && cfg.LLM.Model == "auto" {
		discoveryCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		defer cancel()

		model, err := analyst.DiscoverModel(discoveryCtx)
		if err != nil {
			logger.Warn().Err(err).Msg("LLM model discovery failed, narration falls back to canned text")
		} else {
			logger.Info().Str("model", model).Msg("LLM model discovered")
			analyst.UseModel(model)
		}
	}

	return analyst
}

func buildRecorder(cfg *config.Config) (metrics.Recorder, error) {
	if !cfg.Metrics.Enabled {
		return metrics.NewNoop(), nil
	}

	return metrics.NewRepository(metrics.Config{
		DBPath:       cfg.Metrics.DBPath,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: cfg.Metrics.BatchTimeout,
	})
}
