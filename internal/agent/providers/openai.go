package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomlabs/loom/internal/backoff"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/models"
)

// OpenAICompatProvider speaks the OpenAI chat-completions shape and serves
// every endpoint that is wire-compatible with it (OpenRouter, DeepInfra,
// Z.ai, Moonshot, local proxies). The concrete endpoint comes from the
// descriptor's BaseURL; retry, backoff and auth live in the shared
// round-tripper installed under the SDK client.
type OpenAICompatProvider struct {
	key    string
	client *openai.Client
	desc   Descriptor
	logger *slog.Logger
}

// NewOpenAICompat builds a provider for an OpenAI-compatible endpoint.
func NewOpenAICompat(desc Descriptor, policy backoff.Policy, logger *slog.Logger) *OpenAICompatProvider {
	return newOpenAICompat(desc, policy, nil, logger)
}

// newOpenAICompat optionally chains a base round-tripper under the retrying
// one; the Copilot adapter uses this for header injection.
func newOpenAICompat(desc Descriptor, policy backoff.Policy, base http.RoundTripper, logger *slog.Logger) *OpenAICompatProvider {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(desc.APIKey)
	if desc.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(desc.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Transport: &transport.RetryingTransport{
			Base:    base,
			Policy:  policy,
			Headers: desc.CustomHeaders,
			Logger:  logger,
		},
	}
	return &OpenAICompatProvider{
		key:    desc.Key,
		client: openai.NewClientWithConfig(cfg),
		desc:   desc,
		logger: logger,
	}
}

// Name returns the descriptor key.
func (p *OpenAICompatProvider) Name() string { return p.key }

// GenerateCompletion performs a non-streaming chat completion.
func (p *OpenAICompatProvider) GenerateCompletion(ctx context.Context, req *Request) (*Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, p.wrap(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, wrapError(p.key, req.Model, 0, errors.New("empty choices in response"))
	}
	choice := resp.Choices[0]
	completion := &Completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage:        normalizeOpenAIUsage(&resp.Usage),
	}
	for _, tc := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return completion, nil
}

// StreamCompletion performs a streaming chat completion. Text deltas go to
// handlers in arrival order; tool calls accumulate keyed by their stream
// index and are emitted complete, in index order, before OnFinish.
func (p *OpenAICompatProvider) StreamCompletion(ctx context.Context, req *Request, h Handlers) (*Completion, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, p.wrap(req.Model, err)
	}
	defer stream.Close()

	var content strings.Builder
	var finishReason string
	var usage models.Usage
	pending := make(map[int]*models.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.wrap(req.Model, err)
		}
		if resp.Usage != nil {
			usage = normalizeOpenAIUsage(resp.Usage)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			h.chunk(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := pending[idx]
			if !ok {
				acc = &models.ToolCall{}
				pending[idx] = acc
			}
			// The id and name arrive on the first fragment; arguments
			// stream as concatenated JSON fragments.
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.Arguments += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}

	completion := &Completion{
		Content:      content.String(),
		FinishReason: finishReason,
		Usage:        usage,
	}
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		call := *pending[idx]
		completion.ToolCalls = append(completion.ToolCalls, call)
		h.toolCall(idx, call)
	}
	h.finish(completion)
	return completion, nil
}

// ListModels queries the endpoint's model catalog.
func (p *OpenAICompatProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.wrap("", err)
	}
	infos := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		infos = append(infos, ModelInfo{ID: m.ID})
	}
	return infos, nil
}

func (p *OpenAICompatProvider) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	for _, def := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema,
			},
		})
	}
	if stream && (req.IncludeUsage || p.desc.IncludeUsage) {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

func (p *OpenAICompatProvider) wrap(model string, err error) error {
	status := 0
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
	}
	return wrapError(p.key, model, status, err)
}

// convertOpenAIMessages shapes the caller's messages into the wire form.
// The input slice and its messages are read, never written.
func convertOpenAIMessages(messages []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Text(),
		}
		if msg.Role == models.RoleTool {
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

// normalizeOpenAIUsage maps wire usage onto the normalized form. The OpenAI
// shape reports prompt_tokens inclusive of cached tokens already.
func normalizeOpenAIUsage(u *openai.Usage) models.Usage {
	if u == nil {
		return models.Usage{}
	}
	out := models.Usage{
		PromptTokens:     int64(u.PromptTokens),
		CompletionTokens: int64(u.CompletionTokens),
		TotalTokens:      int64(u.TotalTokens),
	}
	if u.PromptTokensDetails != nil {
		out.CachedPromptTokens = int64(u.PromptTokensDetails.CachedTokens)
	}
	out.Normalize()
	return out
}
