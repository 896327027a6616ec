package session

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/llm"
)

func TestHandleTextFrame_BadInputIgnored(t *testing.T) {
	cp := &fakeCompleter{chunks: []llm.Chunk{{Text: "Noted."}, {FinishReason: "stop"}}}
	sess := newTestSession(t, &fakeTranscriber{text: "Remember this."}, cp, &fakeSynth{})

	// Commit one turn so an ignored frame is distinguishable from a clear.
	collectTurnEvents(t, sess, speechWAV(t))
	if len(sess.History()) != 2 {
		t.Fatalf("expected 2 turns before the control frames, got %d", len(sess.History()))
	}

	cases := []struct {
		name    string
		payload []byte
	}{
		{"undecodable json", []byte("{not json")},
		{"unknown message type", []byte(`{"type":"noise","data":"clear"}`)},
		{"unknown command", []byte(`{"type":"cmd","data":"reboot"}`)},
		{"empty payload", []byte("")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handleTextFrame(sess, zerolog.Nop(), tc.payload)

			if got := sess.State(); got != StateIdle {
				t.Errorf("session state changed to %s", got)
			}
			if len(sess.History()) != 2 {
				t.Errorf("history changed: %v", sess.History())
			}
		})
	}

	// A well-formed clear frame still works after the garbage.
	handleTextFrame(sess, zerolog.Nop(), []byte(`{"type":"cmd","data":"clear"}`))
	if len(sess.History()) != 0 {
		t.Errorf("expected empty history after clear frame, got %v", sess.History())
	}
}
