package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice relay service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// OpenAI configuration: Whisper transcription and chat completions
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY" required:"true"`
	CompletionModel  string `envconfig:"COMPLETION_MODEL" default:"gpt-4o-mini"`
	TranscribeModel  string `envconfig:"TRANSCRIBE_MODEL" default:"whisper-1"`

	// STT provider selection: "whisper" (OpenAI) or "deepgram"
	STTProvider      string `envconfig:"STT_PROVIDER" default:"whisper"`
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// ElevenLabs TTS configuration
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY" required:"true"`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModelID string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_flash_v2_5"`

	// Conversation configuration
	SystemPrompt      string  `envconfig:"SYSTEM_PROMPT" default:"You are a helpful voice assistant. Keep answers short and conversational; they will be spoken aloud."`
	MaxResponseTokens int     `envconfig:"MAX_RESPONSE_TOKENS" default:"256"`
	Temperature       float64 `envconfig:"TEMPERATURE" default:"0.8"`

	// Pipeline configuration
	UtteranceMaxChars   int     `envconfig:"UTTERANCE_MAX_CHARS" default:"120"`   // Force-cut threshold for the segmenter
	SilenceRMSThreshold float64 `envconfig:"SILENCE_RMS_THRESHOLD" default:"500"` // RMS energy below which input audio is treated as silence

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the
// environment.
func Load() (*Config, error) {
	// Ignore the error if no .env file exists.
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without consulting a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if cfg.STTProvider == "deepgram" && cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
