package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenRouterProvider streams chat completions through OpenRouter's
// OpenAI-compatible endpoint.
type OpenRouterProvider struct {
	client *openai.Client
	logger *log.Logger
}

type OpenRouterOption func(*openRouterOptions)

type openRouterOptions struct {
	baseURL string
	logger  *log.Logger
}

func WithBaseURL(baseURL string) OpenRouterOption {
	return func(o *openRouterOptions) {
		o.baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	}
}

func WithLogger(logger *log.Logger) OpenRouterOption {
	return func(o *openRouterOptions) {
		o.logger = logger
	}
}

func NewOpenRouterProvider(apiKey string, opts ...OpenRouterOption) *OpenRouterProvider {
	options := openRouterOptions{
		baseURL: "https://openrouter.ai/api/v1",
		logger:  log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = options.baseURL
	return &OpenRouterProvider{
		client: openai.NewClientWithConfig(cfg),
		logger: options.logger,
	}
}

func (p *OpenRouterProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("model is required")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: buildChatMessages(req),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	for _, tool := range req.Tools {
		var params any
		if len(tool.InputSchema) > 0 {
			params = json.RawMessage(tool.InputSchema)
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("create completion stream: %w", err)
	}

	events := make(chan StreamEvent)
	go p.pump(ctx, stream, req.Model, events)
	return events, nil
}

// pump drains the SSE stream, forwarding text deltas as they arrive and
// accumulating tool call fragments by index until the stream finishes.
func (p *OpenRouterProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, requestedModel string, events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	var content strings.Builder
	var stopReason string
	var usage Usage
	model := requestedModel
	calls := make(map[int]*ToolCall)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.send(ctx, events, StreamEvent{Err: fmt.Errorf("stream recv: %w", err)})
			return
		}

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = Usage{
				Requests:       1,
				RequestTokens:  chunk.Usage.PromptTokens,
				ResponseTokens: chunk.Usage.CompletionTokens,
				TotalTokens:    chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if !p.send(ctx, events, StreamEvent{Type: StreamEventDelta, Delta: choice.Delta.Content}) {
				return
			}
		}
		for _, fragment := range choice.Delta.ToolCalls {
			index := 0
			if fragment.Index != nil {
				index = *fragment.Index
			}
			call, ok := calls[index]
			if !ok {
				call = &ToolCall{}
				calls[index] = call
			}
			if fragment.ID != "" {
				call.ID = fragment.ID
			}
			if fragment.Function.Name != "" {
				call.Name = fragment.Function.Name
			}
			call.Arguments += fragment.Function.Arguments
		}
	}

	response := &Response{
		Content:    content.String(),
		ToolCalls:  orderedToolCalls(calls),
		Usage:      usage,
		Model:      model,
		StopReason: stopReason,
	}
	p.send(ctx, events, StreamEvent{Type: StreamEventCompleted, Response: response})
}

func (p *OpenRouterProvider) send(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func buildChatMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.Instructions) != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}
	for _, msg := range req.Messages {
		converted := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

func orderedToolCalls(calls map[int]*ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	out := make([]ToolCall, 0, len(indexes))
	for _, index := range indexes {
		out = append(out, *calls[index])
	}
	return out
}
