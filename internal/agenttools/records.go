package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scratchpad.local/agent-gateway/internal/assemble"
	"scratchpad.local/agent-gateway/internal/runctx"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/workbook"
)

func getRecordsTool() Tool {
	return Tool{
		Name: "get_records",
		Description: "Read records of the active or named table, honoring the table's active view " +
			"and filter. Long field values are truncated in table scope.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"view_id": {"type": "string"},
				"cursor": {"type": "string"}
			}
		}`),
		Handler: handleGetRecords,
	}
}

func handleGetRecords(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
		ViewID    string `json:"view_id"`
		Cursor    string `json:"cursor"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	page, err := rc.Scratchpad.ListRecordsForAI(ctx, rc.APIToken, table.WsID, scratchpad.ListRecordsRequest{
		ViewID: in.ViewID,
		Limit:  pageLimit,
		Cursor: in.Cursor,
	})
	if err != nil {
		return "", fmt.Errorf("list records for %q: %w", table.Name, err)
	}
	return renderRecordsSummary(table, page, rc.Scope == workbook.ScopeTable), nil
}

func renderRecordsSummary(table *workbook.Table, page scratchpad.RecordPage, truncate bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %q: %d records loaded, %d pass the active filter.\n", table.Name, len(page.Records), page.FilteredCount)
	for _, record := range page.Records {
		b.WriteString(assemble.RenderRecord(record, truncate) + "\n")
	}
	if page.NextCursor != "" {
		b.WriteString("More records available; fetch_additional_records with cursor " + page.NextCursor + "\n")
	}
	return b.String()
}

func fetchAdditionalRecordsTool() Tool {
	return Tool{
		Name: "fetch_additional_records",
		Description: "Fetch the next page of records for a table. The payload is visible for the " +
			"current turn only and collapses afterwards; refetch if needed again.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"cursor": {"type": "string"}
			}
		}`),
		Oversize: true,
		Handler:  handleFetchAdditionalRecords,
	}
}

func handleFetchAdditionalRecords(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
		Cursor    string `json:"cursor"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	page, err := rc.Scratchpad.ListRecordsForAI(ctx, rc.APIToken, table.WsID, scratchpad.ListRecordsRequest{
		Limit:  pageLimit,
		Cursor: in.Cursor,
	})
	if err != nil {
		return "", fmt.Errorf("fetch records for %q: %w", table.Name, err)
	}
	encoded, err := json.Marshal(page)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	return string(encoded), nil
}

func fetchRecordsByIDsTool() Tool {
	return Tool{
		Name:        "fetch_records_by_ids",
		Description: "Fetch specific records by wsId. The payload collapses on later turns.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"ids": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["ids"]
		}`),
		Oversize: true,
		Handler:  handleFetchRecordsByIDs,
	}
}

func handleFetchRecordsByIDs(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string   `json:"table_name"`
		IDs       []string `json:"ids"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if len(in.IDs) == 0 {
		return "", fmt.Errorf("ids is required")
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	records, err := rc.Scratchpad.GetRecordsByIDs(ctx, rc.APIToken, table.WsID, in.IDs)
	if err != nil {
		return "", fmt.Errorf("fetch records by ids for %q: %w", table.Name, err)
	}
	encoded, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	return string(encoded), nil
}

func createRecordsTool() Tool {
	return Tool{
		Name:        "create_records",
		Description: "Propose new records for a table. Each row is a fields object. Creates are suggestions the user reviews.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"rows": {"type": "array", "items": {"type": "object"}}
			},
			"required": ["rows"]
		}`),
		Handler: handleCreateRecords,
	}
}

func handleCreateRecords(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string           `json:"table_name"`
		Rows      []map[string]any `json:"rows"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if len(in.Rows) == 0 {
		return "", fmt.Errorf("rows is required")
	}
	table, err := resolveSuggestionTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	ops := scratchpad.SuggestionOps{}
	for _, row := range in.Rows {
		ops.Creates = append(ops.Creates, scratchpad.CreateOp{Data: row})
	}
	result, err := rc.Scratchpad.BulkSuggestRecordUpdates(ctx, rc.APIToken, table.WsID, ops)
	if err != nil {
		return "", fmt.Errorf("suggest creates for %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Suggested %d new records for table %q; pending user review.", result.Created, table.Name), nil
}

func updateRecordsTool() Tool {
	return Tool{
		Name:        "update_records",
		Description: "Propose field changes to existing records. Every entry needs wsId and data. Updates are suggestions the user reviews.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"records": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"wsId": {"type": "string"},
							"data": {"type": "object"}
						},
						"required": ["wsId", "data"]
					}
				}
			},
			"required": ["records"]
		}`),
		Handler: handleUpdateRecords,
	}
}

func handleUpdateRecords(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
		Records   []struct {
			WsID string         `json:"wsId"`
			Data map[string]any `json:"data"`
		} `json:"records"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if len(in.Records) == 0 {
		return "", fmt.Errorf("records is required")
	}
	table, err := resolveSuggestionTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	ops := scratchpad.SuggestionOps{}
	for i, entry := range in.Records {
		if strings.TrimSpace(entry.WsID) == "" {
			return "", fmt.Errorf("records[%d]: wsId is required", i)
		}
		if len(entry.Data) == 0 {
			return "", fmt.Errorf("records[%d]: data is required", i)
		}
		ops.Updates = append(ops.Updates, scratchpad.UpdateOp{WsID: entry.WsID, Data: entry.Data})
	}
	result, err := rc.Scratchpad.BulkSuggestRecordUpdates(ctx, rc.APIToken, table.WsID, ops)
	if err != nil {
		return "", fmt.Errorf("suggest updates for %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Suggested updates to %d records in table %q; pending user review.", result.Updated, table.Name), nil
}

func deleteRecordsTool() Tool {
	return Tool{
		Name:        "delete_records",
		Description: "Propose deleting records by wsId. Deletes are suggestions the user reviews.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"ids": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["ids"]
		}`),
		Handler: handleDeleteRecords,
	}
}

func handleDeleteRecords(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string   `json:"table_name"`
		IDs       []string `json:"ids"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if len(in.IDs) == 0 {
		return "", fmt.Errorf("ids is required")
	}
	table, err := resolveSuggestionTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	ops := scratchpad.SuggestionOps{}
	for _, id := range in.IDs {
		ops.Deletes = append(ops.Deletes, scratchpad.DeleteOp{WsID: id})
	}
	result, err := rc.Scratchpad.BulkSuggestRecordUpdates(ctx, rc.APIToken, table.WsID, ops)
	if err != nil {
		return "", fmt.Errorf("suggest deletes for %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Suggested deleting %d records from table %q; pending user review.", result.Deleted, table.Name), nil
}
