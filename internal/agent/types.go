package agent

import (
	"time"

	"scratchpad.local/agent-gateway/internal/model"
)

type ProgressType string

const (
	ProgressRunStarted    ProgressType = "run_started"
	ProgressRequestSent   ProgressType = "request_sent"
	ProgressModelResponse ProgressType = "model_response"
	ProgressToolCall      ProgressType = "tool_call"
	ProgressToolResult    ProgressType = "tool_result"
	ProgressBuildResponse ProgressType = "build_response"
	ProgressTaskStarted   ProgressType = "task_started"
	ProgressStatus        ProgressType = "status"
)

// Progress is one structured mid-run update. Events within a run are emitted
// in causal order and never reordered.
type Progress struct {
	Type      ProgressType   `json:"type"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type ProgressFunc func(Progress)

// ResponseEnvelope is the terminal payload of a successful run. The two
// summaries feed future turns' context; ResponseMessage is user-facing.
type ResponseEnvelope struct {
	ResponseMessage string      `json:"response_message"`
	ResponseSummary string      `json:"response_summary"`
	RequestSummary  string      `json:"request_summary"`
	UsageStats      model.Usage `json:"usage_stats"`
}

// Result is what a completed run hands back to the task manager.
type Result struct {
	Envelope ResponseEnvelope
	Messages []model.Message
	Usage    model.Usage
}
