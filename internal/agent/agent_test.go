package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scratchpad.local/agent-gateway/internal/agenttools"
	"scratchpad.local/agent-gateway/internal/model"
	"scratchpad.local/agent-gateway/internal/runctx"
	"scratchpad.local/agent-gateway/internal/runstate"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/workbook"
)

type scriptedProvider struct {
	responses []*model.Response
	errs      []error
	calls     int
}

func (p *scriptedProvider) Stream(_ context.Context, _ model.Request) (<-chan model.StreamEvent, error) {
	idx := p.calls
	p.calls++
	ch := make(chan model.StreamEvent, 1)
	if idx < len(p.errs) && p.errs[idx] != nil {
		ch <- model.StreamEvent{Err: p.errs[idx]}
	} else {
		ch <- model.StreamEvent{Type: model.StreamEventCompleted, Response: p.responses[idx]}
	}
	close(ch)
	return ch, nil
}

func finalResultCall(id, message string) model.ToolCall {
	args, _ := json.Marshal(map[string]string{
		"response_message": message,
		"response_summary": "done",
		"request_summary":  "asked",
	})
	return model.ToolCall{ID: id, Name: agenttools.FinalResultName, Arguments: string(args)}
}

func agentFixture(t *testing.T, handler http.Handler, provider model.Provider) (*Agent, *runctx.Context, *runstate.Registry, *[]Progress) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rc := &runctx.Context{
		TaskID:             "task_1",
		RunID:              "run_1",
		APIToken:           "tok",
		Model:              "openai/gpt-4o-mini",
		ModelContextLength: 128000,
		Scope:              workbook.ScopeTable,
		ActiveTableID:      "tbl_people",
		Capabilities:       runctx.AllCapabilities(),
		Snapshot: &workbook.Snapshot{
			ID: "snap_1",
			Tables: []workbook.Table{{
				WsID:    "tbl_people",
				Name:    "People",
				Columns: []workbook.Column{{WsID: "col_age", Name: "Age", Type: "number"}},
			}},
		},
		UploadContents: make(map[string]string),
		Scratchpad:     scratchpad.New(nil, srv.URL),
	}

	states := runstate.NewRegistry()
	states.Register("task_1")

	var events []Progress
	ag := New(rc, Config{
		Provider:    provider,
		Tools:       agenttools.ForRun(rc),
		UserMessage: "How many people are over 30?",
		UserPrompt:  "snapshot...\n\nHow many people are over 30?",
		States:      states,
		Progress:    func(p Progress) { events = append(events, p) },
	})
	return ag, rc, states, &events
}

func progressTypes(events []Progress) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, string(event.Type))
	}
	return out
}

func TestRunHappyPathEventOrder(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*model.Response{
			{
				ToolCalls:  []model.ToolCall{{ID: "c1", Name: "get_records", Arguments: "{}"}},
				Usage:      model.Usage{Requests: 1, RequestTokens: 100, ResponseTokens: 20, TotalTokens: 120},
				StopReason: "tool_calls",
			},
			{
				ToolCalls:  []model.ToolCall{finalResultCall("c2", "There are 2 people over 30.")},
				Usage:      model.Usage{Requests: 1, RequestTokens: 150, ResponseTokens: 30, TotalTokens: 180},
				StopReason: "tool_calls",
			},
		},
	}
	ag, _, states, events := agentFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(scratchpad.RecordPage{
			Records:       []workbook.Record{{WsID: "r1", Fields: map[string]any{"Age": 38}}, {WsID: "r2", Fields: map[string]any{"Age": 45}}},
			FilteredCount: 2,
		})
	}), provider)

	result, err := ag.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Envelope.ResponseMessage != "There are 2 people over 30." {
		t.Fatalf("unexpected envelope %+v", result.Envelope)
	}
	if result.Usage.TotalTokens != 300 || result.Envelope.UsageStats.Requests != 2 {
		t.Fatalf("unexpected usage %+v", result.Usage)
	}

	got := progressTypes(*events)
	want := []string{
		"run_started",
		"request_sent", "model_response", "tool_call", "tool_result",
		"request_sent", "model_response", "tool_call",
		"build_response",
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected event sequence %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	if state, _ := states.RunState("task_1"); state != runstate.Completed {
		t.Fatalf("expected completed state, got %s", state)
	}
}

func TestRunPreRunTokenGate(t *testing.T) {
	provider := &scriptedProvider{}
	ag, rc, states, _ := agentFixture(t, http.NotFoundHandler(), provider)
	rc.ModelContextLength = 1000
	ag.userPrompt = strings.Repeat("x", 3200) // estimates to ~800 tokens

	_, err := ag.Run(context.Background())
	var limit *TokenLimitError
	if !errors.As(err, &limit) {
		t.Fatalf("expected TokenLimitError, got %v", err)
	}
	if !limit.PreRun || limit.Max != 1000 || limit.Requested <= 500 {
		t.Fatalf("unexpected limit %+v", limit)
	}
	if provider.calls != 0 {
		t.Fatal("no model call may happen after the gate fires")
	}
	if state, _ := states.RunState("task_1"); state != runstate.TokenLimitExceeded {
		t.Fatalf("expected token_limit_exceeded state, got %s", state)
	}
}

func TestRunStopBeforeFirstNode(t *testing.T) {
	provider := &scriptedProvider{}
	ag, _, states, _ := agentFixture(t, http.NotFoundHandler(), provider)
	states.Cancel("task_1")

	_, err := ag.Run(context.Background())
	var stopped *RunStoppedError
	if !errors.As(err, &stopped) {
		t.Fatalf("expected RunStoppedError, got %v", err)
	}
	if stopped.RunID != "run_1" {
		t.Fatalf("unexpected run id %s", stopped.RunID)
	}
	if provider.calls != 0 {
		t.Fatal("stopped run must not call the model")
	}
	if state, _ := states.RunState("task_1"); state != runstate.Stopped {
		t.Fatalf("expected stopped state, got %s", state)
	}
}

func TestRunToolErrorFedBackToModel(t *testing.T) {
	badUpdate, _ := json.Marshal(map[string]any{
		"records": []map[string]any{{"data": map[string]any{"Age": 31}}},
	})
	provider := &scriptedProvider{
		responses: []*model.Response{
			{ToolCalls: []model.ToolCall{{ID: "c1", Name: "update_records", Arguments: string(badUpdate)}}},
			{ToolCalls: []model.ToolCall{finalResultCall("c2", "done")}},
		},
	}
	ag, _, _, events := agentFixture(t, http.NotFoundHandler(), provider)

	if _, err := ag.Run(context.Background()); err != nil {
		t.Fatalf("run should continue past tool errors: %v", err)
	}

	var toolResult *Progress
	for i := range *events {
		if (*events)[i].Type == ProgressToolResult {
			toolResult = &(*events)[i]
			break
		}
	}
	if toolResult == nil {
		t.Fatal("missing tool_result event")
	}
	content, _ := toolResult.Payload["content"].(string)
	if !strings.HasPrefix(content, "Error: ") {
		t.Fatalf("tool failure should surface as error string, got %q", content)
	}
}

func TestRunPlainTextCompletion(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*model.Response{
			{Content: "Nothing to do.", StopReason: "stop", Usage: model.Usage{Requests: 1, TotalTokens: 40}},
		},
	}
	ag, _, _, _ := agentFixture(t, http.NotFoundHandler(), provider)

	result, err := ag.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Envelope.ResponseMessage != "Nothing to do." {
		t.Fatalf("unexpected envelope %+v", result.Envelope)
	}
}

func TestRunProviderContextLengthError(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{errors.New("This model's maximum context length is 8192 tokens. However, you requested about 9000 tokens.")},
	}
	ag, _, states, _ := agentFixture(t, http.NotFoundHandler(), provider)

	_, err := ag.Run(context.Background())
	var limit *TokenLimitError
	if !errors.As(err, &limit) {
		t.Fatalf("expected TokenLimitError, got %v", err)
	}
	if limit.PreRun || limit.Max != 8192 || limit.Requested != 9000 {
		t.Fatalf("unexpected limit %+v", limit)
	}
	if state, _ := states.RunState("task_1"); state != runstate.TokenLimitExceeded {
		t.Fatalf("expected token_limit_exceeded state, got %s", state)
	}
}

func TestRunRequestLimit(t *testing.T) {
	loop := &model.Response{ToolCalls: []model.ToolCall{{ID: "c", Name: "get_records", Arguments: "{}"}}}
	provider := &scriptedProvider{responses: []*model.Response{loop, loop, loop}}
	ag, _, states, _ := agentFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(scratchpad.RecordPage{})
	}), provider)
	ag.requestLimit = 3

	_, err := ag.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "request limit") {
		t.Fatalf("expected request limit error, got %v", err)
	}
	if state, _ := states.RunState("task_1"); state != runstate.Error {
		t.Fatalf("expected error state, got %s", state)
	}
}
