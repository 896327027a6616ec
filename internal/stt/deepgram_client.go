package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/audio"
	"github.com/raselinfo/voice-relay/internal/observability"
)

const (
	// deepgramChunkSize is the payload size per WebSocket write.
	deepgramChunkSize = 8192

	// deepgramQuiescence is how long to wait for further final results
	// after the last one before treating the stream as drained.
	deepgramQuiescence = 1500 * time.Millisecond
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only Message and Error.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse)
}

func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	m.onMessage(msg)
	return nil
}

func (m *messageCallbackHandler) Error(errResp *msginterfaces.ErrorResponse) error {
	m.onError(errResp)
	return nil
}

// DeepgramClient transcribes complete audio clips over Deepgram's streaming
// API. Each Transcribe call opens a fresh WebSocket, feeds the whole clip,
// closes the stream, and collects the final results into one transcript.
type DeepgramClient struct {
	apiKey   string
	model    string
	language string
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewDeepgramClient creates a Deepgram-backed transcriber. metrics may be nil.
func NewDeepgramClient(apiKey, model, language string, logger zerolog.Logger, metrics *observability.Metrics) (*DeepgramClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key is required")
	}
	if model == "" {
		model = "nova-2"
	}
	if language == "" {
		language = "en"
	}
	return &DeepgramClient{
		apiKey:   apiKey,
		model:    model,
		language: language,
		logger:   logger.With().Str("component", "stt_deepgram").Logger(),
		metrics:  metrics,
	}, nil
}

// Transcribe sends one WAV clip and returns the recognized text. An empty
// string with a nil error means the clip contained no recognizable speech.
func (d *DeepgramClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	info, err := audio.DecodeWAVInfo(wav)
	if err != nil {
		return "", fmt.Errorf("deepgram: decode clip header: %w", err)
	}
	pcm, err := audio.PCMPayload(wav)
	if err != nil {
		return "", fmt.Errorf("deepgram: extract samples: %w", err)
	}
	if len(pcm) == 0 {
		return "", nil
	}

	if d.metrics != nil {
		d.metrics.RecordTranscriptionStart()
	}
	text, err := d.transcribeStream(ctx, info, pcm)
	if d.metrics != nil {
		d.metrics.RecordTranscriptionEnd(err == nil)
	}
	return text, err
}

func (d *DeepgramClient) transcribeStream(ctx context.Context, info audio.WAVInfo, pcm []byte) (string, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		finals []string
	)
	// Each final result resets the drain timer; silence after the stream
	// closes means Deepgram has nothing more to flush.
	activity := make(chan struct{}, 1)
	streamErr := make(chan error, 1)

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage: func(msg *msginterfaces.MessageResponse) {
			if msg == nil || len(msg.Channel.Alternatives) == 0 {
				return
			}
			transcript := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
			if transcript == "" || !msg.IsFinal {
				return
			}
			mu.Lock()
			finals = append(finals, transcript)
			mu.Unlock()
			select {
			case activity <- struct{}{}:
			default:
			}
		},
		onError: func(errResp *msginterfaces.ErrorResponse) {
			select {
			case streamErr <- fmt.Errorf("deepgram: stream error: %+v", errResp):
			default:
			}
		},
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:      d.model,
		Language:   d.language,
		Punctuate:  true,
		Encoding:   "linear16",
		Channels:   info.Channels,
		SampleRate: info.SampleRate,
	}

	client, err := listenClient.NewWSUsingCallback(streamCtx, d.apiKey, nil, tOptions, callback)
	if err != nil {
		return "", fmt.Errorf("deepgram: connect: %w", err)
	}
	// streamCtx cancellation tears the connection down on early returns.

	for off := 0; off < len(pcm); off += deepgramChunkSize {
		end := off + deepgramChunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := client.Write(pcm[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	client.Finish()

	// Wait for the result stream to drain.
	timer := time.NewTimer(deepgramQuiescence)
	defer timer.Stop()
	for {
		select {
		case <-activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(deepgramQuiescence)
		case err := <-streamErr:
			return "", err
		case <-ctx.Done():
			return "", fmt.Errorf("deepgram: transcription cancelled: %w", ctx.Err())
		case <-timer.C:
			mu.Lock()
			text := strings.Join(finals, " ")
			mu.Unlock()
			d.logger.Debug().Int("audio_bytes", len(pcm)).Int("segments", len(finals)).Msg("Transcription complete")
			return text, nil
		}
	}
}

// Close is a no-op; connections are scoped to individual Transcribe calls.
func (d *DeepgramClient) Close() error {
	return nil
}
