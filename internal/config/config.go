// Package config holds the orchestrator's recognized option surface:
// defaults, YAML loading, validation, and conversion into the typed
// configs the individual packages consume.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chriscow/voiceloop-go/pkg/echo"
	"github.com/chriscow/voiceloop-go/pkg/pipeline"
	"github.com/chriscow/voiceloop-go/pkg/session"
	"github.com/chriscow/voiceloop-go/pkg/turn"
)

type Server struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type Session struct {
	Mode                 string `yaml:"mode"` // auto | direct | shared
	ModeSwitchCooldownMS int    `yaml:"mode_switch_cooldown_ms"`
	IdleTimeoutMS        int    `yaml:"idle_timeout_ms"`
	SystemPrompt         string `yaml:"system_prompt"`
	HistoryLimit         int    `yaml:"history_limit"`
}

type TurnDetection struct {
	Strategy                    string  `yaml:"turn_detection_strategy"` // baseline | semantic | auto
	BufferTargetMS              int     `yaml:"buffer_target_ms"`
	SilenceTimeoutMS            int     `yaml:"silence_timeout_ms"`
	MinSpeechMS                 int     `yaml:"min_speech_ms"`
	PreSpeechMS                 int     `yaml:"pre_speech_ms"`
	SpeechThresholdDB           float64 `yaml:"speech_threshold_db"`
	SemanticConfidenceThreshold float64 `yaml:"semantic_confidence_threshold"`
	SemanticMinAudioMS          int     `yaml:"semantic_min_audio_ms"`
	MaxTurnDurationMS           int     `yaml:"max_turn_duration_ms"`
	ScorerURL                   string  `yaml:"scorer_url"`
	ScorerTimeoutMS             int     `yaml:"scorer_timeout_ms"`
}

type Echo struct {
	WindowSeconds        int     `yaml:"echo_window_seconds"`
	CorrelationThreshold float64 `yaml:"echo_correlation_threshold"`
	GateMarginMS         int     `yaml:"echo_gate_margin_ms"`
	MaxLagMS             int     `yaml:"echo_max_lag_ms"`
}

type Pipeline struct {
	MaxConcurrentRuns  int    `yaml:"max_concurrent_pipeline_runs"`
	OverflowPolicy     string `yaml:"overflow_policy"` // reject | queue
	OverflowQueueDepth int    `yaml:"overflow_queue_depth"`
	StageTimeoutMS     int    `yaml:"stage_timeout_ms"`
	Voice              string `yaml:"voice"`
	Language           string `yaml:"language"`
}

type Models struct {
	Provider  string `yaml:"provider"` // openai | fake
	APIKey    string `yaml:"api_key"`  // falls back to OPENAI_API_KEY
	ChatModel string `yaml:"chat_model"`
}

type Config struct {
	LogLevel string        `yaml:"log_level"`
	Server   Server        `yaml:"server"`
	Session  Session       `yaml:"session"`
	Turn     TurnDetection `yaml:"turn_detection"`
	Echo     Echo          `yaml:"echo"`
	Pipeline Pipeline      `yaml:"pipeline"`
	Models   Models        `yaml:"models"`
}

// Default returns the full option surface with its documented defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: Server{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Session: Session{
			Mode:                 "auto",
			ModeSwitchCooldownMS: 2000,
			IdleTimeoutMS:        300000,
			HistoryLimit:         16,
		},
		Turn: TurnDetection{
			Strategy:                    "baseline",
			BufferTargetMS:              2000,
			SilenceTimeoutMS:            1000,
			MinSpeechMS:                 500,
			PreSpeechMS:                 300,
			SpeechThresholdDB:           -30,
			SemanticConfidenceThreshold: 0.8,
			SemanticMinAudioMS:          500,
			MaxTurnDurationMS:           30000,
			ScorerTimeoutMS:             1000,
		},
		Echo: Echo{
			WindowSeconds:        5,
			CorrelationThreshold: 0.75,
			GateMarginMS:         300,
			MaxLagMS:             500,
		},
		Pipeline: Pipeline{
			MaxConcurrentRuns:  8,
			OverflowPolicy:     "reject",
			OverflowQueueDepth: 16,
			StageTimeoutMS:     30000,
		},
		Models: Models{
			Provider: "openai",
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected so a
// typo never silently falls back to a default.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects option values outside their recognized domain.
func (c Config) Validate() error {
	if _, err := session.ParseMode(c.Session.Mode); err != nil {
		return err
	}
	switch c.Turn.Strategy {
	case "baseline", "semantic", "auto":
	default:
		return fmt.Errorf("unknown turn_detection_strategy %q", c.Turn.Strategy)
	}
	if (c.Turn.Strategy == "semantic") && c.Turn.ScorerURL == "" {
		return fmt.Errorf("turn_detection_strategy semantic requires scorer_url")
	}
	if c.Turn.BufferTargetMS <= 0 {
		return fmt.Errorf("buffer_target_ms must be positive")
	}
	if c.Turn.SilenceTimeoutMS <= 0 {
		return fmt.Errorf("silence_timeout_ms must be positive")
	}
	if c.Turn.MaxTurnDurationMS <= 0 {
		return fmt.Errorf("max_turn_duration_ms must be positive")
	}
	if t := c.Turn.SemanticConfidenceThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("semantic_confidence_threshold must be in (0,1]")
	}
	if t := c.Echo.CorrelationThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("echo_correlation_threshold must be in (0,1]")
	}
	if c.Echo.WindowSeconds <= 0 {
		return fmt.Errorf("echo_window_seconds must be positive")
	}
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max_concurrent_pipeline_runs must be positive")
	}
	switch c.Pipeline.OverflowPolicy {
	case "reject", "queue":
	default:
		return fmt.Errorf("unknown overflow_policy %q", c.Pipeline.OverflowPolicy)
	}
	switch c.Models.Provider {
	case "openai", "fake":
	default:
		return fmt.Errorf("unknown models provider %q", c.Models.Provider)
	}
	return nil
}

// TurnStrategy resolves the configured strategy. "auto" means semantic when
// a scorer is reachable, baseline otherwise.
func (c Config) TurnStrategy() turn.Strategy {
	switch c.Turn.Strategy {
	case "semantic":
		return turn.StrategySemantic
	case "auto":
		if c.Turn.ScorerURL != "" {
			return turn.StrategySemantic
		}
		return turn.StrategyBaseline
	default:
		return turn.StrategyBaseline
	}
}

// SessionConfig assembles the per-session configuration tree.
func (c Config) SessionConfig() session.Config {
	mode, _ := session.ParseMode(c.Session.Mode)
	return session.Config{
		Mode:               mode,
		ModeSwitchCooldown: ms(c.Session.ModeSwitchCooldownMS),
		IdleTimeout:        ms(c.Session.IdleTimeoutMS),
		SystemPrompt:       c.Session.SystemPrompt,
		HistoryLimit:       c.Session.HistoryLimit,
		Turn:               c.TurnConfig(),
		Echo:               c.EchoConfig(),
		EchoWindowSpan:     time.Duration(c.Echo.WindowSeconds) * time.Second,
	}
}

// TurnConfig assembles the segmentation configuration.
func (c Config) TurnConfig() turn.Config {
	cfg := turn.DefaultConfig()
	cfg.Strategy = c.TurnStrategy()
	cfg.BufferTarget = ms(c.Turn.BufferTargetMS)
	cfg.SilenceTimeout = ms(c.Turn.SilenceTimeoutMS)
	cfg.MinSpeech = ms(c.Turn.MinSpeechMS)
	cfg.PreSpeech = ms(c.Turn.PreSpeechMS)
	cfg.SpeechThresholdDB = c.Turn.SpeechThresholdDB
	cfg.SemanticMinAudio = ms(c.Turn.SemanticMinAudioMS)
	cfg.SemanticThreshold = c.Turn.SemanticConfidenceThreshold
	cfg.MaxTurnDuration = ms(c.Turn.MaxTurnDurationMS)
	return cfg
}

// EchoConfig assembles the echo-detection configuration.
func (c Config) EchoConfig() echo.Config {
	cfg := echo.DefaultConfig()
	cfg.GateMargin = ms(c.Echo.GateMarginMS)
	cfg.Threshold = c.Echo.CorrelationThreshold
	cfg.MaxLag = ms(c.Echo.MaxLagMS)
	return cfg
}

// PipelineConfig assembles the coordinator configuration.
func (c Config) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.StageTimeout = ms(c.Pipeline.StageTimeoutMS)
	cfg.Voice = c.Pipeline.Voice
	cfg.Language = c.Pipeline.Language
	return cfg
}

// Limiter builds the process-wide run limiter.
func (c Config) Limiter() *pipeline.Limiter {
	policy := pipeline.PolicyReject
	if c.Pipeline.OverflowPolicy == "queue" {
		policy = pipeline.PolicyQueue
	}
	return pipeline.NewLimiter(c.Pipeline.MaxConcurrentRuns, policy, c.Pipeline.OverflowQueueDepth)
}

// OpenAIKey returns the configured key, falling back to the environment.
func (c Config) OpenAIKey() string {
	if c.Models.APIKey != "" {
		return c.Models.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
