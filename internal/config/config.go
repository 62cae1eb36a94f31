package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/edgepilot/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultSamplingIntervalMS = 500
	defaultHistorySize        = 3600
	defaultCooldownSeconds    = 5.0
	defaultEscalateTicks      = 3
	defaultDeescalateTicks    = 5
	defaultWarmupTicks        = 5
	defaultDecisionLogSize    = 50
	defaultAdvisorCooldown    = 30.0
	defaultListenAddress      = ":8000"
	defaultVideoQuality       = 70
	defaultUploadDir          = "./uploads"
	defaultOllamaEndpoint     = "http://localhost:11434"
	defaultOllamaTimeout      = 10
)

type Telemetry struct {
	IntervalMS  int `mapstructure:"interval_ms"`
	HistorySize int `mapstructure:"history_size"`
}

type Autopilot struct {
	Mode            string  `mapstructure:"mode"`
	CooldownSeconds float64 `mapstructure:"cooldown_seconds"`
	EscalateTicks   int     `mapstructure:"escalate_ticks"`
	DeescalateTicks int     `mapstructure:"deescalate_ticks"`
	WarmupTicks     int     `mapstructure:"warmup_ticks"`
	DecisionLogSize int     `mapstructure:"decision_log_size"`
}

type Advisor struct {
	CooldownSeconds float64 `mapstructure:"cooldown_seconds"`
}

type Inference struct {
	Device        string  `mapstructure:"device"`
	ModelVariant  string  `mapstructure:"model_variant"`
	InputSize     int     `mapstructure:"input_size"`
	Confidence    float64 `mapstructure:"confidence_threshold"`
	IoU           float64 `mapstructure:"iou_threshold"`
	HalfPrecision bool    `mapstructure:"half_precision"`
	Backend       string  `mapstructure:"backend"`
}

type Source struct {
	UploadDir string `mapstructure:"upload_dir"`
}

type Server struct {
	ListenAddress string `mapstructure:"listen_address"`
	StreamVideo   bool   `mapstructure:"stream_video"`
	VideoQuality  int    `mapstructure:"video_quality"`
}

type LLM struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type Metrics struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"database"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type Config struct {
	LogLevel  string    `mapstructure:"log_level"`
	Telemetry Telemetry `mapstructure:"telemetry"`
	Autopilot Autopilot `mapstructure:"autopilot"`
	Advisor   Advisor   `mapstructure:"advisor"`
	Inference Inference `mapstructure:"inference"`
	Source    Source    `mapstructure:"source"`
	Server    Server    `mapstructure:"server"`
	LLM       LLM       `mapstructure:"llm"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

// Load reads configuration from defaults, the config file (EDGEPILOT_CONFIG
// or /etc/edgepilot.toml) and command-line flags, in increasing precedence.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("edgepilot", pflag.ContinueOnError)
	// Tolerate foreign flags so embedding binaries (and go test) can pass
	// their own arguments through.
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.String("log-level", "", "Log level (debug|info|warning|error)")
	flags.String("listen", "", "HTTP listen address")
	flags.String("mode", "", "Autopilot mode (speed|balanced|accuracy)")
	flags.Bool("metrics", false, "Enable metrics recording")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errors.Wrap(errors.ErrBindFlags, err)
	}

	if path := os.Getenv("EDGEPILOT_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("edgepilot")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrReadConfig, err).
				WithMessage("Failed to read config file")
		}
	}

	// Flags override file values
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			v.Set("log_level", f.Value.String())
		case "listen":
			v.Set("server.listen_address", f.Value.String())
		case "mode":
			v.Set("autopilot.mode", f.Value.String())
		case "metrics":
			v.Set("metrics.enabled", f.Value.String() == "true")
		}
	})

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("telemetry.interval_ms", defaultSamplingIntervalMS)
	v.SetDefault("telemetry.history_size", defaultHistorySize)

	v.SetDefault("autopilot.mode", "balanced")
	v.SetDefault("autopilot.cooldown_seconds", defaultCooldownSeconds)
	v.SetDefault("autopilot.escalate_ticks", defaultEscalateTicks)
	v.SetDefault("autopilot.deescalate_ticks", defaultDeescalateTicks)
	v.SetDefault("autopilot.warmup_ticks", defaultWarmupTicks)
	v.SetDefault("autopilot.decision_log_size", defaultDecisionLogSize)

	v.SetDefault("advisor.cooldown_seconds", defaultAdvisorCooldown)

	v.SetDefault("inference.device", "auto")
	v.SetDefault("inference.model_variant", "yolov8n")
	v.SetDefault("inference.input_size", 640)
	v.SetDefault("inference.confidence_threshold", 0.25)
	v.SetDefault("inference.iou_threshold", 0.45)
	v.SetDefault("inference.half_precision", false)
	v.SetDefault("inference.backend", "pytorch")

	v.SetDefault("source.upload_dir", defaultUploadDir)

	v.SetDefault("server.listen_address", defaultListenAddress)
	v.SetDefault("server.stream_video", true)
	v.SetDefault("server.video_quality", defaultVideoQuality)

	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.endpoint", defaultOllamaEndpoint)
	v.SetDefault("llm.model", "auto")
	v.SetDefault("llm.timeout_seconds", defaultOllamaTimeout)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.database", "/var/lib/edgepilot/metrics.db")
	v.SetDefault("metrics.batch_size", 100)
	v.SetDefault("metrics.batch_timeout", 30)
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return errors.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Telemetry.IntervalMS <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "telemetry interval must be positive")
	}
	if c.Telemetry.HistorySize <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "telemetry history size must be positive")
	}

	switch strings.ToLower(c.Autopilot.Mode) {
	case "speed", "balanced", "accuracy":
	default:
		return errors.WithData(errors.ErrInvalidConfig, c.Autopilot.Mode).
			WithMessage("autopilot mode must be speed, balanced or accuracy")
	}

	if c.Autopilot.CooldownSeconds < 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "autopilot cooldown must not be negative")
	}
	if c.Autopilot.EscalateTicks <= 0 || c.Autopilot.DeescalateTicks <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "autopilot streak thresholds must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.DBPath == "" {
		return errors.WithMessage(errors.ErrInvalidConfig, "metrics database path required when metrics is enabled")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "warn", "error":
		return true
	default:
		return false
	}
}
