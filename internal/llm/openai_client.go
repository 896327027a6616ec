package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/raselinfo/voice-relay/internal/observability"
)

// OpenAIClient implements Completer using the OpenAI chat completions API.
type OpenAIClient struct {
	client  oai.Client
	model   string
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewOpenAIClient constructs a streaming completion client for the given
// model. metrics may be nil.
func NewOpenAIClient(apiKey, model string, logger zerolog.Logger, metrics *observability.Metrics) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	return &OpenAIClient{
		client:  oai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		logger:  logger.With().Str("component", "llm_openai").Logger(),
		metrics: metrics,
	}, nil
}

// StreamCompletion starts a streaming chat completion and returns a channel
// of text deltas. The channel is closed when the stream ends; a provider
// failure surfaces as a final Chunk with FinishReason "error" carrying the
// error text.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	params := c.buildParams(req)

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		if c.metrics != nil {
			c.metrics.RecordError("completion_start_failed", "llm")
		}
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordCompletionStart()
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if out.Text == "" && out.FinishReason == "" {
				continue
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				if c.metrics != nil {
					c.metrics.RecordCompletionEnd(false)
				}
				return
			}
		}

		if err := stream.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("Completion stream failed")
			if c.metrics != nil {
				c.metrics.RecordCompletionEnd(false)
				c.metrics.RecordError("completion_stream_failed", "llm")
			}
			select {
			case ch <- Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
			return
		}
		if c.metrics != nil {
			c.metrics.RecordCompletionEnd(true)
		}
	}()

	return ch, nil
}

func (c *OpenAIClient) buildParams(req CompletionRequest) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (c *OpenAIClient) Close() error {
	return nil
}
