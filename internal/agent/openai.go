package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aind-capture/metadata-agent/internal/model"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient is a fallback provider used when no Anthropic key is
// configured. It streams plain text only; the capture tool loop is an
// Anthropic-provider feature.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI-backed agent client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models, default first.
func (c *OpenAIClient) Models() []string {
	return []string{
		defaultOpenAIModel,
		"gpt-4o-mini",
		"gpt-4-turbo",
	}
}

// StreamTurn streams a single completion, emitting content events for each
// text delta.
func (c *OpenAIClient) StreamTurn(ctx context.Context, req *TurnRequest, emit EmitFunc) (*TurnResult, error) {
	start := time.Now()

	modelID := req.Model
	if modelID == "" {
		modelID = defaultOpenAIModel
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: maxOutputTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content strings.Builder
	var stopReason string

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			if err := emit(model.ContentEvent(delta)); err != nil {
				return nil, err
			}
		}
		if fr := response.Choices[0].FinishReason; fr != "" {
			stopReason = string(fr)
		}
	}

	return &TurnResult{
		Text:       content.String(),
		Model:      modelID,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
