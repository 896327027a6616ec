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
	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/config"
	"github.com/raselinfo/voice-relay/internal/llm"
	"github.com/raselinfo/voice-relay/internal/observability"
	"github.com/raselinfo/voice-relay/internal/session"
	"github.com/raselinfo/voice-relay/internal/stt"
	"github.com/raselinfo/voice-relay/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Str("completion_model", cfg.CompletionModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Relay Service starting")

	providers := buildProviderFactory(cfg)

	mux := http.NewServeMux()

	// Conversation WebSocket endpoint
	mux.HandleFunc("/ws", session.Handler(cfg, providers))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint: each check validates provider configuration
	// without spending API calls.
	checks := map[string]observability.HealthCheckFunc{
		"stt": func(ctx context.Context) (bool, error) {
			t, err := newTranscriber(cfg, logger, nil)
			if err != nil {
				return false, err
			}
			t.Close()
			return true, nil
		},
		"llm": func(ctx context.Context) (bool, error) {
			c, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.CompletionModel, logger, nil)
			if err != nil {
				return false, err
			}
			c.Close()
			return true, nil
		},
		"tts": func(ctx context.Context) (bool, error) {
			s, err := tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID, logger)
			if err != nil {
				return false, err
			}
			s.Close()
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// buildProviderFactory wires the configured external services into
// per-session provider instances.
func buildProviderFactory(cfg *config.Config) session.ProviderFactory {
	return func(logger zerolog.Logger, metrics *observability.Metrics) (stt.Transcriber, llm.Completer, tts.Synthesizer, error) {
		transcriber, err := newTranscriber(cfg, logger, metrics)
		if err != nil {
			return nil, nil, nil, err
		}
		completer, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.CompletionModel, logger, metrics)
		if err != nil {
			return nil, nil, nil, err
		}
		synth, err := tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return transcriber, completer, synth, nil
	}
}

func newTranscriber(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (stt.Transcriber, error) {
	switch cfg.STTProvider {
	case "deepgram":
		return stt.NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.DeepgramLanguage, logger, metrics)
	case "whisper":
		return stt.NewWhisperClient(cfg.OpenAIAPIKey, cfg.TranscribeModel, logger, metrics)
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}
}
