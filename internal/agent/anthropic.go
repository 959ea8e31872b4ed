package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	maxOutputTokens       = 8192
	thinkingBudgetTokens  = 2048
)

// AnthropicClient runs the capture agent on the Anthropic Messages API.
type AnthropicClient struct {
	client   anthropic.Client
	tools    *Tools
	maxTurns int
	logger   *logger.Logger
}

// NewAnthropicClient creates a new Anthropic-backed agent client.
func NewAnthropicClient(apiKey string, tools *Tools, maxTurns int, log *logger.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if maxTurns <= 0 {
		maxTurns = 5
	}
	return &AnthropicClient{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		tools:    tools,
		maxTurns: maxTurns,
		logger:   log,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models, default first.
func (c *AnthropicClient) Models() []string {
	return []string{
		defaultAnthropicModel,
		"claude-opus-4-1-20250805",
		"claude-3-5-haiku-20241022",
	}
}

// StreamTurn runs the agentic loop: stream a model response, translate its
// incremental events into the normalized vocabulary, execute any requested
// tools, feed the results back, and continue until the model stops asking
// for tools or the turn budget runs out.
func (c *AnthropicClient) StreamTurn(ctx context.Context, req *TurnRequest, emit EmitFunc) (*TurnResult, error) {
	start := time.Now()

	modelID := req.Model
	if modelID == "" {
		modelID = defaultAnthropicModel
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(userBlocks(req)...),
	}

	// Validation hand-off from tool execution to this loop. Buffered so the
	// producer never blocks; torn down with the turn.
	sink := make(chan ValidationEvent, 8)
	drain := func() error {
		for {
			select {
			case v := <-sink:
				if err := emit(model.ToolResultEvent(v.ToolUseID, v.Validation)); err != nil {
					return err
				}
			default:
				return nil
			}
		}
	}

	result := &TurnResult{Model: modelID}
	var fullText strings.Builder

	for turn := 0; turn < c.maxTurns; turn++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(modelID),
			MaxTokens: maxOutputTokens,
			Messages:  messages,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Tools:     c.toolParams(),
			Thinking:  anthropic.ThinkingConfigParamOfEnabled(thinkingBudgetTokens),
		}

		stream := c.client.Messages.NewStreaming(ctx, params)
		msg := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				return nil, err
			}
			if err := drain(); err != nil {
				return nil, err
			}

			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				switch variant.ContentBlock.Type {
				case "thinking":
					if err := emit(model.ThinkingStartEvent()); err != nil {
						return nil, err
					}
				case "tool_use":
					ev := model.ToolUseStartEvent(variant.ContentBlock.Name, variant.ContentBlock.ID)
					if err := emit(ev); err != nil {
						return nil, err
					}
				}

			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					fullText.WriteString(delta.Text)
					if err := emit(model.ContentEvent(delta.Text)); err != nil {
						return nil, err
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking == "" {
						continue
					}
					if err := emit(model.ThinkingEvent(delta.Thinking)); err != nil {
						return nil, err
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON == "" {
						continue
					}
					if err := emit(model.ToolUseInputEvent(delta.PartialJSON)); err != nil {
						return nil, err
					}
				}

			case anthropic.ContentBlockStopEvent:
				if err := emit(model.BlockStopEvent()); err != nil {
					return nil, err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return nil, err
		}

		result.TokensIn += int(msg.Usage.InputTokens)
		result.TokensOut += int(msg.Usage.OutputTokens)
		result.StopReason = string(msg.StopReason)

		calls := toolCalls(msg)
		if string(msg.StopReason) != "tool_use" || len(calls) == 0 {
			break
		}

		// Execute the requested tools and feed results back for the next
		// model pass. Validation outcomes land on the sink during Execute
		// and are drained into tool_result events right after.
		resultBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(calls))
		for _, call := range calls {
			payload, isErr := c.tools.Execute(ctx, call, sink)
			resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(call.ID, payload, isErr))
		}
		if err := drain(); err != nil {
			return nil, err
		}

		messages = append(messages, msg.ToParam())
		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}

	if err := drain(); err != nil {
		return nil, err
	}

	result.Text = fullText.String()
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

func (c *AnthropicClient) toolParams() []anthropic.ToolUnionParam {
	defs := c.tools.Definitions()
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: def.Properties,
				Required:   def.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// userBlocks builds the opening user message: attachments first, then the
// assembled prompt text.
func userBlocks(req *TurnRequest) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Attachments)+1)
	for _, att := range req.Attachments {
		b64 := base64.StdEncoding.EncodeToString(att.Data)
		switch {
		case strings.HasPrefix(att.ContentType, "image/"):
			blocks = append(blocks, anthropic.NewImageBlockBase64(att.ContentType, b64))
		case att.ContentType == "application/pdf":
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: b64}))
		}
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))
	return blocks
}

// toolCalls extracts the completed tool invocations from an accumulated
// message.
func toolCalls(msg anthropic.Message) []ToolCall {
	var out []ToolCall
	for _, block := range msg.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		input := map[string]any{}
		if len(tu.Input) > 0 {
			_ = json.Unmarshal([]byte(tu.Input), &input)
		}
		out = append(out, ToolCall{ID: tu.ID, Name: tu.Name, Input: input})
	}
	return out
}
