package ws

import (
	"encoding/json"
	"time"

	"scratchpad.local/agent-gateway/internal/prompt"
)

// Inbound frame types.
const (
	FramePing      = "ping"
	FrameStop      = "stop"
	FrameMessage   = "message"
	FrameEchoError = "echo_error"
)

// Outbound frame types.
const (
	FrameConnectionConfirmed = "connection_confirmed"
	FramePong                = "pong"
	FrameMessageProgress     = "message_progress"
	FrameMessageResponse     = "message_response"
	FrameAgentError          = "agent_error"
)

// InboundFrame is the envelope of every client frame.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is the envelope of every server frame. Timestamp is UTC
// ISO-8601.
type OutboundFrame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewOutboundFrame(frameType string, data any) OutboundFrame {
	return OutboundFrame{Type: frameType, Data: data, Timestamp: time.Now().UTC()}
}

// SendMessage is the payload of a message frame.
type SendMessage struct {
	Message            string         `json:"message"`
	Model              string         `json:"model"`
	AgentJWT           string         `json:"agent_jwt"`
	Capabilities       []string       `json:"capabilities,omitempty"`
	PromptAssets       []prompt.Asset `json:"prompt_assets,omitempty"`
	ActiveTableID      string         `json:"active_table_id,omitempty"`
	DataScope          string         `json:"data_scope,omitempty"`
	RecordID           string         `json:"record_id,omitempty"`
	ColumnID           string         `json:"column_id,omitempty"`
	ViewID             string         `json:"view_id,omitempty"`
	CredentialID       string         `json:"credential_id,omitempty"`
	MentionedTableIDs  []string       `json:"mentioned_table_ids,omitempty"`
	ModelContextLength int            `json:"model_context_length,omitempty"`
}

// StopMessage is the payload of a stop frame.
type StopMessage struct {
	TaskID   string `json:"task_id"`
	HardKill bool   `json:"hard_kill,omitempty"`
}

type progressData struct {
	ProgressType string         `json:"progress_type"`
	Message      string         `json:"message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type errorData struct {
	Detail string `json:"detail"`
}

type messageData struct {
	Message string `json:"message"`
}
