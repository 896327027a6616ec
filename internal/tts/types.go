package tts

import "context"

// Synthesizer converts one utterance of text into an encoded audio payload.
// Implementations are remote services with their own latency and failure
// modes; callers do not retry failed calls.
type Synthesizer interface {
	// Synthesize returns the encoded audio for text. The payload format is
	// provider-specific (WAV or MPEG); consumers sniff the MIME type from
	// the byte header.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Close releases resources held by the synthesizer.
	Close() error
}
