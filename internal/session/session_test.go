package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/audio"
	"github.com/raselinfo/voice-relay/internal/config"
	"github.com/raselinfo/voice-relay/internal/llm"
	"github.com/raselinfo/voice-relay/internal/stt"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return f.text, f.err
}

func (f *fakeTranscriber) Close() error { return nil }

type fakeCompleter struct {
	chunks []llm.Chunk
	err    error
	gotReq llm.CompletionRequest
}

func (f *fakeCompleter) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeCompleter) Close() error { return nil }

type fakeSynth struct {
	err error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + text), nil
}

func (f *fakeSynth) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		SystemPrompt:        "You are a test assistant.",
		MaxResponseTokens:   128,
		Temperature:         0.5,
		UtteranceMaxChars:   120,
		SilenceRMSThreshold: 500,
	}
}

// speechWAV returns a WAV clip loud enough to pass the silence gate.
func speechWAV(t *testing.T) []byte {
	t.Helper()
	pcm := make([]byte, 640)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x10
		pcm[i+1] = 0x27 // 10000 little-endian
	}
	return audio.EncodeWAV(pcm, 16000, 1)
}

// quietWAV returns a WAV clip of near-zero samples.
func quietWAV(t *testing.T) []byte {
	t.Helper()
	return audio.EncodeWAV(make([]byte, 640), 16000, 1)
}

func newTestSession(t *testing.T, tr stt.Transcriber, cp llm.Completer, sy *fakeSynth) *Session {
	t.Helper()
	sess := NewSession("test-session", testConfig(), tr, cp, sy, zerolog.Nop(), nil)
	t.Cleanup(sess.Close)
	return sess
}

// collectTurnEvents runs one turn and gathers events until the idle status
// marker that ends it.
func collectTurnEvents(t *testing.T, sess *Session, wav []byte) []OutputEvent {
	t.Helper()
	sess.HandleAudio(wav)
	return drainUntilIdle(t, sess)
}

// drainUntilIdle gathers events until the idle status marker that ends the
// current turn.
func drainUntilIdle(t *testing.T, sess *Session) []OutputEvent {
	t.Helper()
	var events []OutputEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			events = append(events, ev)
			if ev.Type == EventStatus && ev.Text == StatusIdle {
				waitForIdle(t, sess)
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for turn to finish, got %v", events)
		}
	}
}

func waitForIdle(t *testing.T, sess *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == StateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session did not return to idle, state %s", sess.State())
}

func TestSession_TurnFlow(t *testing.T) {
	tr := &fakeTranscriber{text: "What is the weather like?"}
	cp := &fakeCompleter{chunks: []llm.Chunk{
		{Text: "It is "},
		{Text: "sunny today. "},
		{Text: "Bring sunglasses!"},
		{FinishReason: "stop"},
	}}
	sess := newTestSession(t, tr, cp, &fakeSynth{})

	events := collectTurnEvents(t, sess, speechWAV(t))

	if events[0].Type != EventText || events[0].Text != "What is the weather like?" {
		t.Errorf("expected transcript event first, got %+v", events[0])
	}
	if events[1].Type != EventStatus || events[1].Text != StatusSpeaking {
		t.Errorf("expected speaking status second, got %+v", events[1])
	}

	var audioTexts []string
	for _, ev := range events {
		if ev.Type == EventAudio {
			audioTexts = append(audioTexts, ev.Text)
			if ev.Audio == "" {
				t.Errorf("audio event %q has empty payload", ev.Text)
			}
		}
	}
	want := []string{"It is sunny today.", "Bring sunglasses!"}
	if len(audioTexts) != len(want) {
		t.Fatalf("expected %d audio events, got %v", len(want), audioTexts)
	}
	for i := range want {
		if audioTexts[i] != want[i] {
			t.Errorf("audio event %d: got %q, want %q", i, audioTexts[i], want[i])
		}
	}

	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(history))
	}
	if history[0].Role != llm.RoleUser || history[0].Content != "What is the weather like?" {
		t.Errorf("unexpected user turn %+v", history[0])
	}
	if history[1].Role != llm.RoleAssistant || history[1].Content != "It is sunny today. Bring sunglasses!" {
		t.Errorf("unexpected assistant turn %+v", history[1])
	}

	if cp.gotReq.SystemPrompt != "You are a test assistant." {
		t.Errorf("completion missing system prompt, got %q", cp.gotReq.SystemPrompt)
	}
	if len(cp.gotReq.Messages) != 1 {
		t.Errorf("expected completion request with 1 message, got %d", len(cp.gotReq.Messages))
	}
}

func TestSession_SilentAudioLeavesHistoryUnchanged(t *testing.T) {
	tr := &fakeTranscriber{text: "should never be called"}
	sess := newTestSession(t, tr, &fakeCompleter{}, &fakeSynth{})

	events := collectTurnEvents(t, sess, quietWAV(t))

	for _, ev := range events {
		if ev.Type == EventText || ev.Type == EventAudio {
			t.Errorf("unexpected %s event for silent audio: %+v", ev.Type, ev)
		}
	}
	if len(sess.History()) != 0 {
		t.Errorf("silent audio must not touch history, got %v", sess.History())
	}
}

func TestSession_EmptyTranscriptSkipsTurn(t *testing.T) {
	sess := newTestSession(t, &fakeTranscriber{text: ""}, &fakeCompleter{}, &fakeSynth{})

	events := collectTurnEvents(t, sess, speechWAV(t))

	for _, ev := range events {
		if ev.Type != EventStatus {
			t.Errorf("expected only status events, got %+v", ev)
		}
	}
	if len(sess.History()) != 0 {
		t.Errorf("empty transcript must not touch history, got %v", sess.History())
	}
}

func TestSession_ClearHistoryEmptyIsNoop(t *testing.T) {
	sess := newTestSession(t, &fakeTranscriber{}, &fakeCompleter{}, &fakeSynth{})

	sess.ClearHistory()

	if len(sess.History()) != 0 {
		t.Errorf("expected empty history, got %v", sess.History())
	}
	if sess.State() != StateIdle {
		t.Errorf("expected idle state, got %s", sess.State())
	}
}

// blockingCompleter holds its token stream back until release is closed.
type blockingCompleter struct {
	release chan struct{}
	chunks  []llm.Chunk
}

func (b *blockingCompleter) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		select {
		case <-b.release:
		case <-ctx.Done():
			return
		}
		for _, c := range b.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (b *blockingCompleter) Close() error { return nil }

func TestSession_ClearDuringInFlightTurn(t *testing.T) {
	// Clearing while a turn is running resets history immediately; the
	// in-flight response still completes and its assistant turn lands in
	// the now-empty history.
	release := make(chan struct{})
	cp := &blockingCompleter{release: release, chunks: []llm.Chunk{
		{Text: "Answer after reset."},
		{FinishReason: "stop"},
	}}
	sess := newTestSession(t, &fakeTranscriber{text: "Wipe the slate."}, cp, &fakeSynth{})

	sess.HandleAudio(speechWAV(t))

	// Wait for the user turn to land, proving the turn is mid-pipeline.
	deadline := time.Now().Add(2 * time.Second)
	for len(sess.History()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("user turn was never appended")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess.ClearHistory()
	if got := sess.History(); len(got) != 0 {
		t.Fatalf("clear must reset history immediately, got %v", got)
	}

	close(release)
	drainUntilIdle(t, sess)

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("expected only the post-reset assistant turn, got %v", history)
	}
	if history[0].Role != llm.RoleAssistant || history[0].Content != "Answer after reset." {
		t.Errorf("unexpected turn %+v", history[0])
	}
}

func TestSession_ClearHistoryDropsCommittedTurns(t *testing.T) {
	cp := &fakeCompleter{chunks: []llm.Chunk{{Text: "Sure thing."}, {FinishReason: "stop"}}}
	sess := newTestSession(t, &fakeTranscriber{text: "Remember this."}, cp, &fakeSynth{})

	collectTurnEvents(t, sess, speechWAV(t))
	if len(sess.History()) != 2 {
		t.Fatalf("expected 2 turns before clear, got %d", len(sess.History()))
	}

	sess.ClearHistory()
	if len(sess.History()) != 0 {
		t.Errorf("expected empty history after clear, got %v", sess.History())
	}
}

func TestSession_TranscriptionFailureKeepsSessionUsable(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("upstream unavailable")}
	cp := &fakeCompleter{chunks: []llm.Chunk{{Text: "Recovered."}, {FinishReason: "stop"}}}
	sess := newTestSession(t, tr, cp, &fakeSynth{})

	events := collectTurnEvents(t, sess, speechWAV(t))

	sawError := false
	for _, ev := range events {
		if ev.Type == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event for the failed transcription")
	}
	if len(sess.History()) != 0 {
		t.Errorf("failed transcription must not touch history, got %v", sess.History())
	}

	// The session stays usable for the next turn.
	tr.err = nil
	tr.text = "Second attempt."
	collectTurnEvents(t, sess, speechWAV(t))
	if len(sess.History()) != 2 {
		t.Errorf("expected 2 turns after recovery, got %d", len(sess.History()))
	}
}

func TestSession_CompletionStreamFailureAbortsTurn(t *testing.T) {
	cp := &fakeCompleter{chunks: []llm.Chunk{
		{Text: "A partial answer. "},
		{Text: "backend timeout", FinishReason: "error"},
	}}
	sess := newTestSession(t, &fakeTranscriber{text: "Tell me everything."}, cp, &fakeSynth{})

	events := collectTurnEvents(t, sess, speechWAV(t))

	sawError := false
	for _, ev := range events {
		if ev.Type == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event for the failed stream")
	}

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("expected only the user turn in history, got %v", history)
	}
	if history[0].Role != llm.RoleUser {
		t.Errorf("expected user turn, got %+v", history[0])
	}
}

func TestSession_SynthesisFailureOmitsAudioButCommitsTurn(t *testing.T) {
	cp := &fakeCompleter{chunks: []llm.Chunk{{Text: "No audio for this."}, {FinishReason: "stop"}}}
	sess := newTestSession(t, &fakeTranscriber{text: "Say something."}, cp, &fakeSynth{err: errors.New("voice service down")})

	events := collectTurnEvents(t, sess, speechWAV(t))

	for _, ev := range events {
		if ev.Type == EventAudio {
			t.Errorf("expected no audio events, got %+v", ev)
		}
	}
	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("expected both turns committed despite synthesis failure, got %v", history)
	}
	if history[1].Content != "No audio for this." {
		t.Errorf("unexpected assistant turn %q", history[1].Content)
	}
}

func TestSession_DropsAudioWhileTurnInFlight(t *testing.T) {
	blocker := make(chan struct{})
	tr := &blockingTranscriber{release: blocker, text: "First."}
	cp := &fakeCompleter{chunks: []llm.Chunk{{Text: "Done."}, {FinishReason: "stop"}}}
	sess := newTestSession(t, tr, cp, &fakeSynth{})

	wav := speechWAV(t)
	sess.HandleAudio(wav)
	sess.HandleAudio(wav) // dropped, a turn is already running
	close(blocker)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			if ev.Type == EventStatus && ev.Text == StatusIdle {
				waitForIdle(t, sess)
				if got := tr.calls; got != 1 {
					t.Errorf("expected 1 transcription call, got %d", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for turn to finish")
		}
	}
}

type blockingTranscriber struct {
	release chan struct{}
	text    string
	calls   int
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	b.calls++
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.text, nil
}

func (b *blockingTranscriber) Close() error { return nil }
