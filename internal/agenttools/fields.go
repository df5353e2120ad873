package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scratchpad.local/agent-gateway/internal/runctx"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/workbook"
)

// resolveField pins field-level tools to the run's focus. In column scope the
// target must be exactly the focused cell; in record scope the focused record.
func resolveField(rc *runctx.Context, recordID, columnID string) (*workbook.Table, *workbook.Column, error) {
	table := rc.ActiveTable()
	if table == nil {
		return nil, nil, fmt.Errorf("no active table for field edits")
	}
	if strings.TrimSpace(recordID) == "" {
		return nil, nil, fmt.Errorf("record_id is required")
	}
	if strings.TrimSpace(columnID) == "" {
		return nil, nil, fmt.Errorf("column_id is required")
	}

	switch rc.Scope {
	case workbook.ScopeColumn:
		if recordID != rc.RecordID || columnID != rc.ColumnID {
			return nil, nil, fmt.Errorf("column scope only permits editing record %s column %s", rc.RecordID, rc.ColumnID)
		}
	case workbook.ScopeRecord:
		if recordID != rc.RecordID {
			return nil, nil, fmt.Errorf("record scope only permits editing record %s", rc.RecordID)
		}
	}

	column, ok := table.FindColumn(columnID)
	if !ok {
		return nil, nil, fmt.Errorf("column %q not found on table %q", columnID, table.Name)
	}
	return table, column, nil
}

// validateOptionValue enforces the enumerated-option convention: the value
// token is required, arrays are validated element-wise.
func validateOptionValue(column *workbook.Column, value any) error {
	if len(column.Options) == 0 || column.AllowAnyOption {
		return nil
	}
	check := func(v any) error {
		text, ok := v.(string)
		if !ok {
			return fmt.Errorf("column %q takes option values as strings", column.Name)
		}
		if _, ok := column.OptionValue(text); !ok {
			return fmt.Errorf("value %q is not a valid option for column %q; use the option value, not the label", text, column.Name)
		}
		return nil
	}
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if err := check(item); err != nil {
				return err
			}
		}
		return nil
	}
	return check(value)
}

func suggestFieldValue(ctx context.Context, rc *runctx.Context, table *workbook.Table, recordID, columnName string, value any) error {
	ops := scratchpad.SuggestionOps{
		Updates: []scratchpad.UpdateOp{{WsID: recordID, Data: map[string]any{columnName: value}}},
	}
	if _, err := rc.Scratchpad.BulkSuggestRecordUpdates(ctx, rc.APIToken, table.WsID, ops); err != nil {
		return fmt.Errorf("suggest field value: %w", err)
	}
	return nil
}

func currentFieldText(ctx context.Context, rc *runctx.Context, table *workbook.Table, recordID, columnName string) (string, error) {
	record, err := rc.Scratchpad.GetRecord(ctx, rc.APIToken, table.WsID, recordID)
	if err != nil {
		return "", fmt.Errorf("load record %s: %w", recordID, err)
	}
	value, ok := record.SuggestedFields[columnName]
	if !ok {
		value = record.Fields[columnName]
	}
	if value == nil {
		return "", nil
	}
	if text, ok := value.(string); ok {
		return text, nil
	}
	return fmt.Sprint(value), nil
}

func setFieldValueTool() Tool {
	return Tool{
		Name:        "set_field_value",
		Description: "Propose replacing one field of one record. Enumerated columns take the option value, not the label.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_id": {"type": "string"},
				"column_id": {"type": "string"},
				"value": {}
			},
			"required": ["record_id", "column_id", "value"]
		}`),
		Handler: handleSetFieldValue,
	}
}

func handleSetFieldValue(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		RecordID string `json:"record_id"`
		ColumnID string `json:"column_id"`
		Value    any    `json:"value"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, column, err := resolveField(rc, in.RecordID, in.ColumnID)
	if err != nil {
		return "", err
	}
	if err := validateOptionValue(column, in.Value); err != nil {
		return "", err
	}
	if err := suggestFieldValue(ctx, rc, table, in.RecordID, column.Name, in.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Suggested setting %q on record %s; pending user review.", column.Name, in.RecordID), nil
}

func appendFieldValueTool() Tool {
	return Tool{
		Name:        "append_field_value",
		Description: "Propose appending text to one field of one record.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_id": {"type": "string"},
				"column_id": {"type": "string"},
				"value": {"type": "string"}
			},
			"required": ["record_id", "column_id", "value"]
		}`),
		Handler: handleAppendFieldValue,
	}
}

func handleAppendFieldValue(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		RecordID string `json:"record_id"`
		ColumnID string `json:"column_id"`
		Value    string `json:"value"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, column, err := resolveField(rc, in.RecordID, in.ColumnID)
	if err != nil {
		return "", err
	}

	current, err := currentFieldText(ctx, rc, table, in.RecordID, column.Name)
	if err != nil {
		return "", err
	}
	next := in.Value
	if current != "" {
		next = current + "\n" + in.Value
	}
	if err := validateOptionValue(column, next); err != nil {
		return "", err
	}
	if err := suggestFieldValue(ctx, rc, table, in.RecordID, column.Name, next); err != nil {
		return "", err
	}
	return fmt.Sprintf("Suggested appending to %q on record %s; pending user review.", column.Name, in.RecordID), nil
}

func insertValueTool() Tool {
	return Tool{
		Name:        "insert_value",
		Description: "Propose inserting text at a character position within one field of one record.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_id": {"type": "string"},
				"column_id": {"type": "string"},
				"value": {"type": "string"},
				"position": {"type": "integer"}
			},
			"required": ["record_id", "column_id", "value", "position"]
		}`),
		Handler: handleInsertValue,
	}
}

func handleInsertValue(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		RecordID string `json:"record_id"`
		ColumnID string `json:"column_id"`
		Value    string `json:"value"`
		Position int    `json:"position"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Position < 0 {
		return "", fmt.Errorf("position must be non-negative")
	}
	table, column, err := resolveField(rc, in.RecordID, in.ColumnID)
	if err != nil {
		return "", err
	}

	current, err := currentFieldText(ctx, rc, table, in.RecordID, column.Name)
	if err != nil {
		return "", err
	}
	runes := []rune(current)
	pos := in.Position
	if pos > len(runes) {
		pos = len(runes)
	}
	next := string(runes[:pos]) + in.Value + string(runes[pos:])
	if err := validateOptionValue(column, next); err != nil {
		return "", err
	}
	if err := suggestFieldValue(ctx, rc, table, in.RecordID, column.Name, next); err != nil {
		return "", err
	}
	return fmt.Sprintf("Suggested inserting into %q on record %s at position %d; pending user review.", column.Name, in.RecordID, pos), nil
}

func searchAndReplaceTool() Tool {
	return Tool{
		Name:        "search_and_replace_field_value",
		Description: "Propose replacing every occurrence of a text fragment within one field of one record.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_id": {"type": "string"},
				"column_id": {"type": "string"},
				"search": {"type": "string"},
				"replace": {"type": "string"}
			},
			"required": ["record_id", "column_id", "search", "replace"]
		}`),
		Handler: handleSearchAndReplace,
	}
}

func handleSearchAndReplace(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		RecordID string `json:"record_id"`
		ColumnID string `json:"column_id"`
		Search   string `json:"search"`
		Replace  string `json:"replace"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Search == "" {
		return "", fmt.Errorf("search must not be empty")
	}
	table, column, err := resolveField(rc, in.RecordID, in.ColumnID)
	if err != nil {
		return "", err
	}

	current, err := currentFieldText(ctx, rc, table, in.RecordID, column.Name)
	if err != nil {
		return "", err
	}
	count := strings.Count(current, in.Search)
	if count == 0 {
		return "", fmt.Errorf("text %q not found in %q on record %s", in.Search, column.Name, in.RecordID)
	}
	next := strings.ReplaceAll(current, in.Search, in.Replace)
	if err := validateOptionValue(column, next); err != nil {
		return "", err
	}
	if err := suggestFieldValue(ctx, rc, table, in.RecordID, column.Name, next); err != nil {
		return "", err
	}
	return fmt.Sprintf("Suggested replacing %d occurrences in %q on record %s; pending user review.", count, column.Name, in.RecordID), nil
}
