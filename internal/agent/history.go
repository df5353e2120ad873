package agent

import "scratchpad.local/agent-gateway/internal/model"

// collapsedToolResult replaces oversize tool payloads once they are no
// longer current. The model is instructed to refetch instead of recalling.
const collapsedToolResult = "[records dropped to conserve context]"

// HistoryProcessor rewrites the transcript before each model request.
// Processors are pure: they return a new slice and leave the input intact.
type HistoryProcessor func([]model.Message) []model.Message

// CollapseOversizeToolResults shrinks oversize tool returns that precede the
// last assistant tool-call block. Results of that trailing block stay intact
// so the model sees the data it just requested. Call/result pairing is
// preserved; only result content is rewritten.
func CollapseOversizeToolResults(messages []model.Message) []model.Message {
	boundary := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant && len(messages[i].ToolCalls) > 0 {
			boundary = i
			break
		}
	}

	out := make([]model.Message, len(messages))
	copy(out, messages)
	for i := 0; i < boundary; i++ {
		if out[i].Role == model.RoleTool && out[i].Oversize {
			out[i].Content = collapsedToolResult
			out[i].Oversize = false
		}
	}
	return out
}
