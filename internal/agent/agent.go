// Package agent drives one model run: it streams provider output, executes
// tool calls, enforces the token gate and stop checkpoints, and closes the
// run with a response envelope.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"scratchpad.local/agent-gateway/internal/agenttools"
	"scratchpad.local/agent-gateway/internal/model"
	"scratchpad.local/agent-gateway/internal/runctx"
	"scratchpad.local/agent-gateway/internal/runstate"
	"scratchpad.local/agent-gateway/internal/tokens"
)

const defaultRequestLimit = 10

// StateStore is the narrow slice of the run state registry the run loop
// needs: stop checks and state transitions.
type StateStore interface {
	IsStopInitiated(taskID string) bool
	UpdateRunState(taskID string, state runstate.State)
}

type Config struct {
	Provider     model.Provider
	Tools        *agenttools.Registry
	Instructions string
	UserMessage  string
	UserPrompt   string
	History      []model.Message
	RequestLimit int
	States       StateStore
	Progress     ProgressFunc
	Processors   []HistoryProcessor
	Logger       *log.Logger
}

type Agent struct {
	rc           *runctx.Context
	provider     model.Provider
	tools        *agenttools.Registry
	instructions string
	userMessage  string
	userPrompt   string
	history      []model.Message
	requestLimit int
	states       StateStore
	progress     ProgressFunc
	processors   []HistoryProcessor
	logger       *log.Logger
}

func New(rc *runctx.Context, cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	requestLimit := cfg.RequestLimit
	if requestLimit <= 0 {
		requestLimit = defaultRequestLimit
	}
	processors := cfg.Processors
	if processors == nil {
		processors = []HistoryProcessor{CollapseOversizeToolResults}
	}
	return &Agent{
		rc:           rc,
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		instructions: cfg.Instructions,
		userMessage:  cfg.UserMessage,
		userPrompt:   cfg.UserPrompt,
		history:      cfg.History,
		requestLimit: requestLimit,
		states:       cfg.States,
		progress:     cfg.Progress,
		processors:   processors,
		logger:       logger,
	}
}

// Run executes the agent loop until final_result, a plain-text completion,
// a stop, a token limit, or the request cap. The returned error is a
// *RunStoppedError for user stops and a *TokenLimitError for context
// overruns; both leave total usage readable on the run context.
func (a *Agent) Run(ctx context.Context) (*Result, error) {
	a.states.UpdateRunState(a.rc.TaskID, runstate.AgentRunning)
	a.emit(ProgressRunStarted, "", map[string]any{"run_id": a.rc.RunID})

	messages := make([]model.Message, 0, len(a.history)+1)
	messages = append(messages, a.history...)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: a.userPrompt})

	for request := 0; request < a.requestLimit; request++ {
		if err := a.checkpoint(runstate.BetweenNodes); err != nil {
			return nil, err
		}

		processed := a.applyProcessors(messages)

		estimated := a.estimate(processed)
		if a.rc.ModelContextLength > 0 && estimated > a.rc.ModelContextLength/2 {
			a.states.UpdateRunState(a.rc.TaskID, runstate.TokenLimitExceeded)
			return nil, &TokenLimitError{Requested: estimated, Max: a.rc.ModelContextLength, PreRun: true}
		}
		a.emit(ProgressRequestSent, "", map[string]any{"estimated_tokens": estimated})

		response, err := a.streamOnce(ctx, processed)
		if err != nil {
			return nil, a.mapStreamError(err)
		}
		a.rc.AddUsage(response.Usage)
		a.emit(ProgressModelResponse, "", map[string]any{
			"request_tokens":  response.Usage.RequestTokens,
			"response_tokens": response.Usage.ResponseTokens,
			"total_tokens":    response.Usage.TotalTokens,
		})

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		if len(response.ToolCalls) == 0 {
			// The model answered in plain text without closing via
			// final_result; accept the text as the response.
			return a.finish(messages, ResponseEnvelope{
				ResponseMessage: response.Content,
				ResponseSummary: summarize(response.Content),
				RequestSummary:  summarize(a.userMessage),
			})
		}

		a.states.UpdateRunState(a.rc.TaskID, runstate.ProcessingTool)
		var result *Result
		messages, result, err = a.processToolCalls(ctx, messages, response.ToolCalls)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}

	a.states.UpdateRunState(a.rc.TaskID, runstate.Error)
	return nil, fmt.Errorf("request limit of %d reached without a final response", a.requestLimit)
}

func (a *Agent) processToolCalls(ctx context.Context, messages []model.Message, calls []model.ToolCall) ([]model.Message, *Result, error) {
	for _, call := range calls {
		if err := a.checkpoint(runstate.ProcessingTool); err != nil {
			return messages, nil, err
		}

		a.emit(ProgressToolCall, "", map[string]any{
			"tool_call_id": call.ID,
			"tool_name":    call.Name,
			"args":         call.Arguments,
		})

		if call.Name == agenttools.FinalResultName {
			envelope, err := parseEnvelope(call.Arguments)
			if err != nil {
				content := "Error: " + err.Error()
				a.emit(ProgressToolResult, "", map[string]any{
					"tool_call_id": call.ID,
					"tool_name":    call.Name,
					"content":      content,
				})
				messages = append(messages, model.Message{
					Role: model.RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name,
				})
				continue
			}
			messages = append(messages, model.Message{
				Role: model.RoleTool, Content: "final response delivered", ToolCallID: call.ID, Name: call.Name,
			})
			result, err := a.finish(messages, envelope)
			return messages, result, err
		}

		content, oversize, err := a.tools.Dispatch(ctx, a.rc, call.Name, json.RawMessage(call.Arguments))
		if err != nil {
			// Tool failures go back to the model as error strings so it
			// can self-correct; the run continues.
			content = "Error: " + err.Error()
			oversize = false
			a.logger.Printf("level=warn msg=\"tool failed\" run=%s tool=%s err=%q", a.rc.RunID, call.Name, err)
		}
		a.emit(ProgressToolResult, "", map[string]any{
			"tool_call_id": call.ID,
			"tool_name":    call.Name,
			"content":      content,
		})
		messages = append(messages, model.Message{
			Role:       model.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Name,
			Oversize:   oversize,
		})
	}
	return messages, nil, nil
}

func (a *Agent) finish(messages []model.Message, envelope ResponseEnvelope) (*Result, error) {
	a.emit(ProgressBuildResponse, "", map[string]any{})
	usage := a.rc.Usage()
	envelope.UsageStats = usage
	a.states.UpdateRunState(a.rc.TaskID, runstate.Completed)
	return &Result{Envelope: envelope, Messages: messages, Usage: usage}, nil
}

// streamOnce issues one model request and consumes the stream. Raw tokens
// are never forwarded; the protocol emits structured events only.
func (a *Agent) streamOnce(ctx context.Context, messages []model.Message) (*model.Response, error) {
	a.states.UpdateRunState(a.rc.TaskID, runstate.StreamingModel)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := a.provider.Stream(streamCtx, model.Request{
		Model:        a.rc.Model,
		Instructions: a.instructions,
		Messages:     messages,
		Tools:        a.tools.Definitions(),
	})
	if err != nil {
		return nil, err
	}

	for event := range events {
		if a.states.IsStopInitiated(a.rc.TaskID) {
			cancel()
			return nil, a.stoppedErr()
		}
		if event.Err != nil {
			return nil, event.Err
		}
		if event.Type == model.StreamEventCompleted {
			return event.Response, nil
		}
	}
	return nil, errors.New("model stream ended without a completion event")
}

func (a *Agent) mapStreamError(err error) error {
	var stopped *RunStoppedError
	if errors.As(err, &stopped) {
		a.states.UpdateRunState(a.rc.TaskID, runstate.Stopped)
		return err
	}
	if limit, ok := parseTokenLimit(err, a.rc.Usage().TotalTokens); ok {
		a.states.UpdateRunState(a.rc.TaskID, runstate.TokenLimitExceeded)
		return limit
	}
	a.states.UpdateRunState(a.rc.TaskID, runstate.Error)
	return err
}

// checkpoint is a cooperative stop point. It records the node transition and
// raises the stop sentinel when a cancel has been requested.
func (a *Agent) checkpoint(state runstate.State) error {
	if a.states.IsStopInitiated(a.rc.TaskID) {
		a.states.UpdateRunState(a.rc.TaskID, runstate.Stopped)
		return a.stoppedErr()
	}
	a.states.UpdateRunState(a.rc.TaskID, state)
	return nil
}

func (a *Agent) stoppedErr() error {
	return &RunStoppedError{RunID: a.rc.RunID, When: time.Now().UTC()}
}

func (a *Agent) applyProcessors(messages []model.Message) []model.Message {
	out := messages
	for _, process := range a.processors {
		out = process(out)
	}
	return out
}

func (a *Agent) estimate(messages []model.Message) int {
	parts := make([]tokens.Part, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, tokens.Part{Text: msg.Content})
		for _, call := range msg.ToolCalls {
			parts = append(parts, tokens.Part{Text: call.Arguments})
		}
	}
	return tokens.EstimateRequest(a.instructions, parts)
}

func (a *Agent) emit(kind ProgressType, message string, payload map[string]any) {
	if a.progress == nil {
		return
	}
	a.progress(Progress{
		Type:      kind,
		Message:   message,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func parseEnvelope(arguments string) (ResponseEnvelope, error) {
	var envelope ResponseEnvelope
	if err := json.Unmarshal([]byte(arguments), &envelope); err != nil {
		return ResponseEnvelope{}, fmt.Errorf("invalid final_result arguments: %w", err)
	}
	if strings.TrimSpace(envelope.ResponseMessage) == "" {
		return ResponseEnvelope{}, errors.New("final_result requires response_message")
	}
	return envelope, nil
}

func summarize(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= 200 {
		return text
	}
	return string(runes[:200]) + "…"
}
