package model

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry of the provider-facing transcript. Oversize marks tool
// returns carrying large record payloads; history processors may collapse
// those once they are no longer current.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Oversize   bool       `json:"oversize,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type Request struct {
	Model        string
	Instructions string
	Messages     []Message
	Tools        []ToolDefinition
	MaxTokens    int
	Temperature  float32
}

type Usage struct {
	Requests       int `json:"requests"`
	RequestTokens  int `json:"request_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

func (u *Usage) Add(other Usage) {
	u.Requests += other.Requests
	u.RequestTokens += other.RequestTokens
	u.ResponseTokens += other.ResponseTokens
	u.TotalTokens += other.TotalTokens
}

type Response struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	Model      string
	StopReason string
}

type StreamEventType string

const (
	StreamEventDelta     StreamEventType = "delta"
	StreamEventCompleted StreamEventType = "completed"
)

// StreamEvent is one element of a provider stream. Delta events carry text
// fragments; the completed event carries the assembled response with usage.
// Err terminates the stream when set.
type StreamEvent struct {
	Type     StreamEventType
	Delta    string
	Response *Response
	Err      error
}

type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}
