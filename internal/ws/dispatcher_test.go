package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"scratchpad.local/agent-gateway/internal/auth"
	"scratchpad.local/agent-gateway/internal/model"
	"scratchpad.local/agent-gateway/internal/runstate"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/session"
	"scratchpad.local/agent-gateway/internal/task"
	"scratchpad.local/agent-gateway/internal/workbook"
)

const testSecret = "test-secret"

func signToken(t *testing.T, subject string, allowedModels []string) string {
	t.Helper()
	claims := &auth.Claims{
		APIToken:      "sp_token",
		AllowedModels: allowedModels,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type answerProvider struct{}

func (answerProvider) Stream(_ context.Context, _ model.Request) (<-chan model.StreamEvent, error) {
	args, _ := json.Marshal(map[string]string{
		"response_message": "All done.",
		"response_summary": "done",
		"request_summary":  "asked",
	})
	ch := make(chan model.StreamEvent, 1)
	ch <- model.StreamEvent{Type: model.StreamEventCompleted, Response: &model.Response{
		ToolCalls: []model.ToolCall{{ID: "c1", Name: "final_result", Arguments: string(args)}},
		Usage:     model.Usage{Requests: 1, TotalTokens: 50},
	}}
	close(ch)
	return ch, nil
}

func newDispatcherEnv(t *testing.T) (*Dispatcher, *ConnManager, *session.Service) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/snapshot"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":         "snap_1",
				"workbookId": "wb_1",
				"tables": []map[string]any{{
					"wsId":    "tbl_people",
					"name":    "People",
					"columns": []map[string]any{{"wsId": "col_age", "name": "Age", "type": "number"}},
				}},
			})
		case strings.HasSuffix(r.URL.Path, "/records-for-ai"):
			_ = json.NewEncoder(w).Encode(scratchpad.RecordPage{
				Records: []workbook.Record{{WsID: "r1", Fields: map[string]any{"Age": 40}}},
			})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(srv.Close)

	sessions := session.NewService(nil, session.NewMemoryStore())
	models := model.NewRegistry()
	models.Register("openrouter", answerProvider{})
	manager := task.NewManager(nil, task.Config{RunTimeout: 5 * time.Second}, sessions,
		runstate.NewRegistry(), scratchpad.New(nil, srv.URL), models)

	conns := NewConnManager(nil)
	dispatcher := NewDispatcher(nil, conns, manager, auth.NewVerifier(testSecret))
	return dispatcher, conns, sessions
}

func awaitFrame(t *testing.T, sock *fakeSocket, frameType string) OutboundFrame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		for _, frame := range sock.decoded(t) {
			if frame.Type == frameType {
				return frame
			}
		}
		select {
		case <-deadline:
			t.Fatalf("frame %s never arrived; got %+v", frameType, sock.decoded(t))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPingPong(t *testing.T) {
	dispatcher, conns, _ := newDispatcherEnv(t)
	sock := &fakeSocket{}
	conns.Connect("sess_1", sock)

	dispatcher.HandleFrame(context.Background(), "sess_1", "user_1", []byte(`{"type":"ping"}`))

	frame := awaitFrame(t, sock, FramePong)
	if frame.Timestamp.IsZero() {
		t.Fatal("frames must carry timestamps")
	}
}

func TestEchoError(t *testing.T) {
	dispatcher, conns, _ := newDispatcherEnv(t)
	sock := &fakeSocket{}
	conns.Connect("sess_1", sock)

	dispatcher.HandleFrame(context.Background(), "sess_1", "user_1", []byte(`{"type":"echo_error"}`))
	awaitFrame(t, sock, FrameAgentError)
}

func TestMessageRunsToResponse(t *testing.T) {
	dispatcher, conns, sessions := newDispatcherEnv(t)
	_, _ = sessions.Create(context.Background(), "user_1", "sess_1", "wb_1")
	sock := &fakeSocket{}
	conns.Connect("sess_1", sock)

	payload, _ := json.Marshal(map[string]any{
		"type": "message",
		"data": SendMessage{
			Message:       "How old is everyone?",
			Model:         "openai/gpt-4o-mini",
			AgentJWT:      signToken(t, "user_1", nil),
			DataScope:     "table",
			ActiveTableID: "tbl_people",
		},
	})
	dispatcher.HandleFrame(context.Background(), "sess_1", "user_1", payload)

	response := awaitFrame(t, sock, FrameMessageResponse)
	data, _ := json.Marshal(response.Data)
	if !strings.Contains(string(data), "All done.") {
		t.Fatalf("unexpected response data %s", data)
	}

	progress := awaitFrame(t, sock, FrameMessageProgress)
	raw, _ := json.Marshal(progress.Data)
	if !strings.Contains(string(raw), "progress_type") {
		t.Fatalf("progress frame missing progress_type: %s", raw)
	}
}

func TestMessageRejectsForeignToken(t *testing.T) {
	dispatcher, conns, sessions := newDispatcherEnv(t)
	_, _ = sessions.Create(context.Background(), "user_1", "sess_1", "wb_1")
	sock := &fakeSocket{}
	conns.Connect("sess_1", sock)

	payload, _ := json.Marshal(map[string]any{
		"type": "message",
		"data": SendMessage{
			Message:  "hi",
			Model:    "openai/gpt-4o-mini",
			AgentJWT: signToken(t, "someone_else", nil),
		},
	})
	dispatcher.HandleFrame(context.Background(), "sess_1", "user_1", payload)

	frame := awaitFrame(t, sock, FrameAgentError)
	raw, _ := json.Marshal(frame.Data)
	if !strings.Contains(string(raw), "connection user") {
		t.Fatalf("unexpected error %s", raw)
	}
}

func TestMessageRejectsDisallowedModelKeepsConnection(t *testing.T) {
	dispatcher, conns, sessions := newDispatcherEnv(t)
	_, _ = sessions.Create(context.Background(), "user_1", "sess_1", "wb_1")
	sock := &fakeSocket{}
	conns.Connect("sess_1", sock)

	payload, _ := json.Marshal(map[string]any{
		"type": "message",
		"data": SendMessage{
			Message:  "hi",
			Model:    "openai/gpt-4o",
			AgentJWT: signToken(t, "user_1", []string{"openai/gpt-4o-mini"}),
		},
	})
	dispatcher.HandleFrame(context.Background(), "sess_1", "user_1", payload)
	awaitFrame(t, sock, FrameAgentError)

	// The connection survives a per-message rejection.
	dispatcher.HandleFrame(context.Background(), "sess_1", "user_1", []byte(`{"type":"ping"}`))
	awaitFrame(t, sock, FramePong)
}

func TestStopRequiresTaskID(t *testing.T) {
	dispatcher, conns, _ := newDispatcherEnv(t)
	sock := &fakeSocket{}
	conns.Connect("sess_1", sock)

	dispatcher.HandleFrame(context.Background(), "sess_1", "user_1", []byte(`{"type":"stop","data":{}}`))
	frame := awaitFrame(t, sock, FrameAgentError)
	raw, _ := json.Marshal(frame.Data)
	if !strings.Contains(string(raw), "task_id") {
		t.Fatalf("unexpected error %s", raw)
	}
}
