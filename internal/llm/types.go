package llm

import "context"

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation turn sent to the language model.
type Message struct {
	// Role is "user", "assistant" or "system".
	Role string

	// Content is the turn's text.
	Content string
}

// Chunk is one incremental fragment of a streaming completion.
type Chunk struct {
	// Text is the token text carried by this fragment; may be empty on the
	// final chunk.
	Text string

	// FinishReason is non-empty on the stream's last chunk. The value
	// "error" indicates the stream failed mid-generation; Text then carries
	// the provider's error message.
	FinishReason string
}

// CompletionRequest describes one streaming completion over the full
// conversation history.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message

	// MaxTokens bounds the response length; zero means provider default.
	MaxTokens int

	// Temperature is the fixed sampling temperature.
	Temperature float64
}

// Completer produces a streaming completion from conversation history.
type Completer interface {
	// StreamCompletion starts a completion and returns a channel of
	// incremental fragments. The channel is closed when the stream ends.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Close releases resources held by the completer.
	Close() error
}
