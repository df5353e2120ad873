package session

import (
	"strings"
	"time"

	"scratchpad.local/agent-gateway/internal/model"
)

// DefaultName is given to new sessions until the first completed run
// renames them from the user's message.
const DefaultName = "New session"

const renameLimit = 30

type ChatMessage struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	Usage     *model.Usage `json:"usage,omitempty"`
}

// SummaryEntry condenses one completed run for future turns' context.
type SummaryEntry struct {
	RequestSummary  string    `json:"request_summary"`
	ResponseSummary string    `json:"response_summary"`
	Timestamp       time.Time `json:"timestamp"`
}

type Session struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	WorkbookID   string    `json:"workbook_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	ChatHistory    []ChatMessage  `json:"chat_history"`
	SummaryHistory []SummaryEntry `json:"summary_history"`

	// MessageHistory is the provider-facing transcript carried across runs.
	MessageHistory []model.Message `json:"message_history"`
}

func (s *Session) AppendUserMessage(content string, at time.Time) {
	s.ChatHistory = append(s.ChatHistory, ChatMessage{Role: "user", Content: content, Timestamp: at})
}

func (s *Session) AppendAssistantMessage(content string, usage model.Usage, at time.Time) {
	s.ChatHistory = append(s.ChatHistory, ChatMessage{Role: "assistant", Content: content, Timestamp: at, Usage: &usage})
}

func (s *Session) AppendSummary(requestSummary, responseSummary string, at time.Time) {
	s.SummaryHistory = append(s.SummaryHistory, SummaryEntry{
		RequestSummary:  requestSummary,
		ResponseSummary: responseSummary,
		Timestamp:       at,
	})
}

// MaybeRename gives a still-default-named session a name derived from the
// user's message, ellipsized past 30 characters. Reports whether it renamed.
func (s *Session) MaybeRename(userMessage string) bool {
	if s.Name != DefaultName {
		return false
	}
	trimmed := strings.TrimSpace(userMessage)
	if trimmed == "" {
		return false
	}
	runes := []rune(trimmed)
	if len(runes) > renameLimit {
		trimmed = string(runes[:renameLimit]) + "…"
	}
	s.Name = trimmed
	return true
}

// Clone deep-copies the session so callers never alias store-held state.
func (s *Session) Clone() *Session {
	out := *s
	out.ChatHistory = append([]ChatMessage(nil), s.ChatHistory...)
	out.SummaryHistory = append([]SummaryEntry(nil), s.SummaryHistory...)
	out.MessageHistory = append([]model.Message(nil), s.MessageHistory...)
	return &out
}
