package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/oauth2"

	"github.com/loomlabs/loom/internal/backoff"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/models"
)

// AnthropicProvider speaks the native /v1/messages shape. System prompts
// travel in a top-level system array, tool results go back as user-role
// tool_result blocks, and streaming arrives as typed SSE events.
//
// When the descriptor enables prompt caching, outbound params carry
// cache_control ephemeral markers on the last content part of the first two
// system messages and of the last two user/assistant messages. Annotation
// happens on the freshly built wire payload; the caller's messages are never
// touched. Tool definitions are not annotated.
type AnthropicProvider struct {
	key     string
	client  anthropic.Client
	desc    Descriptor
	caching bool
	logger  *slog.Logger
}

// NewAnthropic builds an Anthropic provider. A non-nil tokenSource switches
// auth to OAuth bearer tokens; a 401 then triggers one token refresh and a
// single retry inside the shared round-tripper.
func NewAnthropic(desc Descriptor, policy backoff.Policy, tokenSource oauth2.TokenSource, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if desc.Key == "" {
		desc.Key = "anthropic"
	}
	rt := &transport.RetryingTransport{
		Policy:      policy,
		Headers:     desc.CustomHeaders,
		TokenSource: tokenSource,
		Logger:      logger,
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Transport: rt}),
		option.WithMaxRetries(0), // retries belong to the round-tripper
	}
	if desc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(desc.BaseURL))
	}
	if tokenSource != nil {
		// Placeholder; the round-tripper overwrites the Authorization header
		// with the current token on every attempt.
		opts = append(opts, option.WithAuthToken("oauth"))
	} else {
		opts = append(opts, option.WithAPIKey(desc.APIKey))
	}
	return &AnthropicProvider{
		key:     desc.Key,
		client:  anthropic.NewClient(opts...),
		desc:    desc,
		caching: desc.PromptCaching,
		logger:  logger,
	}
}

// Name returns the provider key.
func (p *AnthropicProvider) Name() string { return p.key }

// GenerateCompletion performs a non-streaming call.
func (p *AnthropicProvider) GenerateCompletion(ctx context.Context, req *Request) (*Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, wrapError(p.key, req.Model, 0, err)
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrap(req.Model, err)
	}

	completion := &Completion{
		FinishReason: string(msg.StopReason),
		Usage: *models.NormalizeUsage(
			msg.Usage.InputTokens,
			msg.Usage.CacheReadInputTokens+msg.Usage.CacheCreationInputTokens,
			msg.Usage.OutputTokens,
			0,
		),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(variant.Input),
			})
		}
	}
	completion.Content = text.String()
	return completion, nil
}

// StreamCompletion performs a streaming call, assembling text deltas and
// tool calls from the typed event stream.
func (p *AnthropicProvider) StreamCompletion(ctx context.Context, req *Request, h Handlers) (*Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, wrapError(p.key, req.Model, 0, err)
	}
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var content strings.Builder
	var currentTool *models.ToolCall
	var currentInput strings.Builder
	var toolIndex int
	var finishReason string
	var inputTokens, cachedTokens, outputTokens int64

	completion := &Completion{}
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			inputTokens = start.Message.Usage.InputTokens
			cachedTokens = start.Message.Usage.CacheReadInputTokens +
				start.Message.Usage.CacheCreationInputTokens

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					content.WriteString(delta.Text)
					h.chunk(delta.Text)
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				args := currentInput.String()
				if args == "" {
					args = "{}"
				}
				currentTool.Arguments = args
				completion.ToolCalls = append(completion.ToolCalls, *currentTool)
				h.toolCall(toolIndex, *currentTool)
				toolIndex++
				currentTool = nil
			}

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			if msgDelta.Usage.OutputTokens > 0 {
				outputTokens = msgDelta.Usage.OutputTokens
			}
			if msgDelta.Delta.StopReason != "" {
				finishReason = string(msgDelta.Delta.StopReason)
			}

		case "message_stop":
			completion.Content = content.String()
			completion.FinishReason = finishReason
			completion.Usage = *models.NormalizeUsage(inputTokens, cachedTokens, outputTokens, 0)
			h.finish(completion)
			return completion, nil
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.wrap(req.Model, err)
	}
	// Stream ended without message_stop; return what was assembled.
	completion.Content = content.String()
	completion.FinishReason = finishReason
	completion.Usage = *models.NormalizeUsage(inputTokens, cachedTokens, outputTokens, 0)
	h.finish(completion)
	return completion, nil
}

// ListModels returns the static Claude catalog; the native API has no
// discovery endpoint usable with every auth mode.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000},
	}, nil
}

func (p *AnthropicProvider) wrap(model string, err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return wrapError(p.key, model, status, err)
}

// buildParams shapes the request into MessageNewParams. Everything here is
// freshly allocated, which is what keeps the caller's messages immutable.
func (p *AnthropicProvider) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(float64(req.TopP))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Text()})

		case models.RoleUser:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))

		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(args), tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))

		case models.RoleTool:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.Status == models.ToolStatusError)))
		}
	}

	for _, def := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return params, err
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(def.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	if p.caching {
		annotateForCaching(&params)
	}
	return params, nil
}

// annotateForCaching marks cache breakpoints: the first two system blocks
// and the last content block of the last two user/assistant messages.
func annotateForCaching(params *anthropic.MessageNewParams) {
	for i := range params.System {
		if i >= 2 {
			break
		}
		params.System[i].CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	marked := 0
	for i := len(params.Messages) - 1; i >= 0 && marked < 2; i-- {
		blocks := params.Messages[i].Content
		if len(blocks) == 0 {
			continue
		}
		if setCacheControl(&blocks[len(blocks)-1]) {
			marked++
		}
	}
}

// setCacheControl applies the ephemeral marker to whichever variant the
// union holds. Returns false for variants with no cache_control field.
func setCacheControl(block *anthropic.ContentBlockParamUnion) bool {
	cc := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cc
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cc
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cc
	default:
		return false
	}
	return true
}
