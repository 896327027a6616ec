package session

import "encoding/base64"

// Output event types.
const (
	EventStatus = "status"
	EventText   = "text"
	EventAudio  = "audio"
	EventError  = "error"
)

// Status markers consumed by the client to drive its UI state.
const (
	StatusReady    = "ready"
	StatusSpeaking = "speaking"
	StatusIdle     = "idle"
)

// OutputEvent is one outbound JSON message. Audio is set only for audio
// events and carries the base64-encoded payload; the client sniffs the MIME
// type from the decoded byte header.
type OutputEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Audio string `json:"audio,omitempty"`
}

func statusEvent(marker string) OutputEvent {
	return OutputEvent{Type: EventStatus, Text: marker}
}

func textEvent(text string) OutputEvent {
	return OutputEvent{Type: EventText, Text: text}
}

func audioEvent(text string, payload []byte) OutputEvent {
	return OutputEvent{
		Type:  EventAudio,
		Text:  text,
		Audio: base64.StdEncoding.EncodeToString(payload),
	}
}

func errorEvent(text string) OutputEvent {
	return OutputEvent{Type: EventError, Text: text}
}
