package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	gopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/voiceloop-go/internal/config"
	"github.com/chriscow/voiceloop-go/internal/gateway"
	"github.com/chriscow/voiceloop-go/pkg/ai/llm"
	llmfake "github.com/chriscow/voiceloop-go/pkg/ai/llm/fake"
	"github.com/chriscow/voiceloop-go/pkg/ai/openai"
	"github.com/chriscow/voiceloop-go/pkg/ai/stt"
	sttfake "github.com/chriscow/voiceloop-go/pkg/ai/stt/fake"
	"github.com/chriscow/voiceloop-go/pkg/ai/tts"
	ttsfake "github.com/chriscow/voiceloop-go/pkg/ai/tts/fake"
	"github.com/chriscow/voiceloop-go/pkg/pipeline"
	"github.com/chriscow/voiceloop-go/pkg/turn"
	"github.com/chriscow/voiceloop-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "voiceloop",
	Short:        "Real-time duplex voice conversation orchestrator",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket gateway and metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		addr, _ := cmd.Flags().GetString("addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		fakeModels, _ := cmd.Flags().GetBool("fake-models")
		logLevel, _ := cmd.Flags().GetString("log-level")

		cfg := config.Default()
		if configPath != "" {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
		}
		if addr != "" {
			cfg.Server.Addr = addr
		}
		if metricsAddr != "" {
			cfg.Server.MetricsAddr = metricsAddr
		}
		if fakeModels {
			cfg.Models.Provider = "fake"
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		logger, err := setupLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return serve(ctx, cfg, logger)
	},
}

func setupLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func buildProviders(cfg config.Config, logger *zap.Logger) (stt.STT, llm.LLM, tts.TTS, error) {
	if cfg.Models.Provider == "fake" {
		return sttfake.NewFakeSTT(""), llmfake.NewFakeLLM(), ttsfake.NewFakeTTS(), nil
	}

	key := cfg.OpenAIKey()
	if key == "" {
		return nil, nil, nil, fmt.Errorf("openai provider requires models.api_key or OPENAI_API_KEY")
	}
	client := gopenai.NewClient(key)
	return openai.NewWhisperSTT(client, logger),
		openai.NewChatLLM(client, cfg.Models.ChatModel, logger),
		openai.NewSpeechTTS(client, logger),
		nil
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	sttProvider, llmProvider, ttsProvider, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}

	coordinator, err := pipeline.NewCoordinator(cfg.PipelineConfig(),
		sttProvider, llmProvider, ttsProvider, cfg.Limiter(), logger)
	if err != nil {
		return err
	}

	var scorer turn.Scorer
	if cfg.TurnStrategy() == turn.StrategySemantic {
		scorer = turn.NewRemoteScorer(cfg.Turn.ScorerURL,
			time.Duration(cfg.Turn.ScorerTimeoutMS)*time.Millisecond)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewServer(cfg.SessionConfig(), coordinator, scorer, logger))
	wsServer := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	logger.Info("starting voiceloop",
		zap.String("version", version.Version),
		zap.String("commit", version.GitCommit),
		zap.String("addr", cfg.Server.Addr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("models", cfg.Models.Provider),
		zap.String("strategy", string(cfg.TurnStrategy())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return wsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("addr", "", "Websocket listen address (overrides config)")
	serveCmd.Flags().String("metrics-addr", "", "Metrics listen address (overrides config)")
	serveCmd.Flags().Bool("fake-models", false, "Use deterministic fake model providers")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
