package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/observability"
)

// WhisperClient transcribes complete audio clips through the OpenAI
// transcription endpoint.
type WhisperClient struct {
	client  oai.Client
	model   string
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewWhisperClient creates a transcriber backed by the given model
// (for example "whisper-1"). metrics may be nil.
func NewWhisperClient(apiKey, model string, logger zerolog.Logger, metrics *observability.Metrics) (*WhisperClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("whisper: API key is required")
	}
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperClient{
		client:  oai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		logger:  logger.With().Str("component", "stt_whisper").Logger(),
		metrics: metrics,
	}, nil
}

// Transcribe sends one WAV clip and returns the recognized text. An empty
// string with a nil error means the clip contained no recognizable speech.
func (w *WhisperClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", nil
	}

	if w.metrics != nil {
		w.metrics.RecordTranscriptionStart()
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(w.model),
		File:  oai.File(bytes.NewReader(wav), "clip.wav", "audio/wav"),
	})
	if err != nil {
		if w.metrics != nil {
			w.metrics.RecordTranscriptionEnd(false)
		}
		return "", fmt.Errorf("whisper: transcription request: %w", err)
	}

	if w.metrics != nil {
		w.metrics.RecordTranscriptionEnd(true)
	}

	text := strings.TrimSpace(resp.Text)
	w.logger.Debug().Int("audio_bytes", len(wav)).Int("text_chars", len(text)).Msg("Transcription complete")
	return text, nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (w *WhisperClient) Close() error {
	return nil
}
