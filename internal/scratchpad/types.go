package scratchpad

import (
	"errors"
	"fmt"
	"strings"

	"scratchpad.local/agent-gateway/internal/workbook"
)

type Workbook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ListRecordsRequest struct {
	ViewID string
	Limit  int
	Cursor string
}

type RecordPage struct {
	Records       []workbook.Record `json:"records"`
	FilteredCount int               `json:"filtered_count"`
	NextCursor    string            `json:"next_cursor,omitempty"`
}

// CreateOp proposes a new record; it carries data only.
type CreateOp struct {
	Data map[string]any `json:"data"`
}

// UpdateOp proposes field changes to an existing record.
type UpdateOp struct {
	WsID string         `json:"wsId"`
	Data map[string]any `json:"data"`
}

// DeleteOp proposes deleting (or undeleting) an existing record.
type DeleteOp struct {
	WsID string `json:"wsId"`
}

type SuggestionOps struct {
	Creates   []CreateOp `json:"creates"`
	Updates   []UpdateOp `json:"updates"`
	Deletes   []DeleteOp `json:"deletes"`
	Undeletes []DeleteOp `json:"undeletes"`
}

// Validate enforces the suggestion op shapes before the HTTP call: creates
// carry data only, updates carry wsId and data, deletes/undeletes carry wsId
// only.
func (ops SuggestionOps) Validate() error {
	for i, op := range ops.Creates {
		if len(op.Data) == 0 {
			return fmt.Errorf("creates[%d]: data is required", i)
		}
	}
	for i, op := range ops.Updates {
		if strings.TrimSpace(op.WsID) == "" {
			return fmt.Errorf("updates[%d]: wsId is required", i)
		}
		if len(op.Data) == 0 {
			return fmt.Errorf("updates[%d]: data is required", i)
		}
	}
	for i, op := range ops.Deletes {
		if strings.TrimSpace(op.WsID) == "" {
			return fmt.Errorf("deletes[%d]: wsId is required", i)
		}
	}
	for i, op := range ops.Undeletes {
		if strings.TrimSpace(op.WsID) == "" {
			return fmt.Errorf("undeletes[%d]: wsId is required", i)
		}
	}
	if len(ops.Creates)+len(ops.Updates)+len(ops.Deletes)+len(ops.Undeletes) == 0 {
		return errors.New("at least one suggestion op is required")
	}
	return nil
}

type SuggestionResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Undeleted int `json:"undeleted"`
}

type Credential struct {
	ID      string `json:"id"`
	Service string `json:"service"`
	APIKey  string `json:"api_key"`
}

type UsageReport struct {
	SessionID       string `json:"session_id"`
	RunID           string `json:"run_id"`
	Model           string `json:"model"`
	Requests        int    `json:"requests"`
	RequestTokens   int    `json:"request_tokens"`
	ResponseTokens  int    `json:"response_tokens"`
	TotalTokens     int    `json:"total_tokens"`
	CancelledByUser bool   `json:"cancelled_by_user,omitempty"`
}
