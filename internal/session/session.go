package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/raselinfo/voice-relay/internal/audio"
	"github.com/raselinfo/voice-relay/internal/config"
	"github.com/raselinfo/voice-relay/internal/llm"
	"github.com/raselinfo/voice-relay/internal/observability"
	"github.com/raselinfo/voice-relay/internal/pipeline"
	"github.com/raselinfo/voice-relay/internal/stt"
	"github.com/raselinfo/voice-relay/internal/tts"
)

// State identifies where a session is in its per-turn cycle.
type State int

const (
	StateIdle State = iota
	StateTranscribing
	StateAwaitingCompletion
	StateSpeaking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one client conversation: its history, its per-turn pipeline,
// and the ordered outbound event stream. History lives only as long as the
// session; nothing is persisted.
type Session struct {
	id          string
	cfg         *config.Config
	transcriber stt.Transcriber
	completer   llm.Completer
	synth       tts.Synthesizer

	mu      sync.Mutex
	state   State
	history []llm.Message

	events    chan OutputEvent
	turnWG    sync.WaitGroup
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewSession creates a session with injected provider dependencies.
// metrics may be nil.
func NewSession(id string, cfg *config.Config, transcriber stt.Transcriber, completer llm.Completer, synth tts.Synthesizer, logger zerolog.Logger, metrics *observability.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id,
		cfg:         cfg,
		transcriber: transcriber,
		completer:   completer,
		synth:       synth,
		state:       StateIdle,
		events:      make(chan OutputEvent, 32),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		metrics:     metrics,
	}
	if metrics != nil {
		metrics.RecordSessionStart()
	}
	return s
}

// Events returns the outbound event stream. The channel preserves send order
// and is closed by Close.
func (s *Session) Events() <-chan OutputEvent {
	return s.events
}

// State returns the session's current pipeline state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleAudio starts one conversation turn for a complete WAV payload. The
// turn runs on its own goroutine so the caller's read loop stays responsive
// to control commands. Audio arriving while a turn is already in flight is
// dropped.
func (s *Session) HandleAudio(wav []byte) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn().Stringer("state", state).Msg("Dropping audio payload, turn already in progress")
		return
	}
	s.state = StateTranscribing
	s.turnWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.turnWG.Done()
		s.runTurn(wav)
	}()
}

// ClearHistory empties the conversation history. A turn already in flight is
// unaffected; its assistant response still completes and is appended to the
// now-empty history. Clearing an empty history is a no-op.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	turns := len(s.history)
	s.history = nil
	s.mu.Unlock()
	s.logger.Info().Int("cleared_turns", turns).Msg("Conversation history cleared")
}

// Close tears the session down: it stops forwarding output, waits for the
// in-flight turn goroutine to finish, closes the event stream, and releases
// provider resources. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.cancel()
		s.turnWG.Wait()
		close(s.events)

		if err := s.transcriber.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing transcriber")
		}
		if err := s.completer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing completer")
		}
		if err := s.synth.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing synthesizer")
		}
		if s.metrics != nil {
			s.metrics.RecordSessionEnd()
		}
		s.logger.Info().Msg("Session closed")
	})
}

// runTurn drives one full turn: transcribe, append the user message, stream
// the completion through the segmenter and dispatcher, forward audio events,
// and commit the assistant message.
func (s *Session) runTurn(wav []byte) {
	defer s.setState(StateIdle)

	if s.metrics != nil {
		s.metrics.RecordAudioBytes("in", int64(len(wav)))
	}

	pcm, err := audio.PCMPayload(wav)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring malformed audio payload")
		s.send(statusEvent(StatusIdle))
		return
	}
	if audio.IsSilence(pcm, s.cfg.SilenceRMSThreshold) {
		s.logger.Debug().Int("audio_bytes", len(wav)).Msg("Audio below silence threshold, skipping turn")
		s.send(statusEvent(StatusIdle))
		return
	}

	transcript, err := s.transcriber.Transcribe(s.ctx, wav)
	transcript = strings.TrimSpace(transcript)
	if err != nil {
		s.logger.Error().Err(err).Msg("Transcription failed")
		if s.metrics != nil {
			s.metrics.RecordError("transcription_failed", "stt")
		}
		s.send(errorEvent("Could not transcribe audio"))
		s.send(statusEvent(StatusIdle))
		return
	}
	if transcript == "" {
		s.logger.Debug().Msg("No speech recognized")
		s.send(statusEvent(StatusIdle))
		return
	}

	s.appendTurn(llm.RoleUser, transcript)
	s.send(textEvent(transcript))

	s.setState(StateAwaitingCompletion)
	chunks, err := s.completer.StreamCompletion(s.ctx, llm.CompletionRequest{
		SystemPrompt: s.cfg.SystemPrompt,
		Messages:     s.historySnapshot(),
		MaxTokens:    s.cfg.MaxResponseTokens,
		Temperature:  s.cfg.Temperature,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Completion request failed")
		s.send(errorEvent("Could not generate a response"))
		s.send(statusEvent(StatusIdle))
		return
	}

	s.setState(StateSpeaking)
	s.send(statusEvent(StatusSpeaking))

	parts, err := s.speakCompletion(chunks)
	if err != nil {
		s.logger.Error().Err(err).Msg("Completion stream failed")
		if s.metrics != nil {
			s.metrics.RecordError("completion_stream_failed", "llm")
		}
		s.send(errorEvent("Response generation was interrupted"))
		s.send(statusEvent(StatusIdle))
		return
	}

	if len(parts) > 0 {
		s.appendTurn(llm.RoleAssistant, strings.Join(parts, " "))
		if s.metrics != nil {
			s.metrics.RecordTurn()
		}
	}
	s.send(statusEvent(StatusIdle))
}

// speakCompletion feeds the token stream through the segmenter, submits each
// utterance to the serialized dispatcher, and forwards delivered audio in
// order. It returns the emitted utterance texts.
func (s *Session) speakCompletion(chunks <-chan llm.Chunk) ([]string, error) {
	d := pipeline.NewDispatcher(s.ctx, s.synth, s.logger, s.metrics)
	seg := pipeline.NewSegmenter(s.cfg.UtteranceMaxChars)

	var parts []string
	var g errgroup.Group

	g.Go(func() error {
		defer d.Close()

		seq := 0
		submit := func(utterance string) error {
			seq++
			parts = append(parts, utterance)
			if s.metrics != nil {
				s.metrics.RecordUtteranceEmitted()
			}
			return d.Submit(s.ctx, seq, utterance)
		}

		for chunk := range chunks {
			if chunk.FinishReason == "error" {
				return errors.New(chunk.Text)
			}
			for _, utterance := range seg.Push(chunk.Text) {
				if err := submit(utterance); err != nil {
					return err
				}
			}
		}
		if final, ok := seg.Flush(); ok {
			return submit(final)
		}
		return nil
	})

	g.Go(func() error {
		for res := range d.Results() {
			s.send(audioEvent(res.Text, res.Audio))
			if s.metrics != nil {
				s.metrics.RecordAudioBytes("out", int64(len(res.Audio)))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *Session) appendTurn(role, content string) {
	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: role, Content: content})
	s.mu.Unlock()
}

func (s *Session) historySnapshot() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// History returns a copy of the committed conversation turns.
func (s *Session) History() []llm.Message {
	return s.historySnapshot()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.mu.Unlock()
}

// send forwards one event to the outbound stream, giving up once the session
// is torn down.
func (s *Session) send(ev OutputEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
