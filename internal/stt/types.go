package stt

import "context"

// Transcriber converts a complete spoken utterance into text.
type Transcriber interface {
	// Transcribe takes a full WAV payload (PCM16 mono) and returns the
	// recognized text. An empty string with a nil error means the provider
	// heard no speech; callers treat that as silence, not failure.
	Transcribe(ctx context.Context, wav []byte) (string, error)

	// Close releases resources held by the transcriber.
	Close() error
}
