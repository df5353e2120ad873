package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scratchpad.local/agent-gateway/internal/runctx"
)

func setFilterTool() Tool {
	return Tool{
		Name: "set_filter",
		Description: "Replace the table's active SQL record filter with a WHERE body (no WHERE keyword). " +
			"An empty filter clears it. At most one set_filter per table per turn; a second call overwrites.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"sql_where": {"type": "string"}
			}
		}`),
		Handler: handleSetFilter,
	}
}

func handleSetFilter(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
		SQLWhere  string `json:"sql_where"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	if err := rc.Scratchpad.SetActiveRecordsFilter(ctx, rc.APIToken, table.WsID, in.SQLWhere); err != nil {
		return "", fmt.Errorf("set filter on %q: %w", table.Name, err)
	}
	if strings.TrimSpace(in.SQLWhere) == "" {
		return fmt.Sprintf("Cleared the active filter on table %q.", table.Name), nil
	}
	return fmt.Sprintf("Set the active filter on table %q.", table.Name), nil
}

func addRecordsToActiveFilterTool() Tool {
	return Tool{
		Name:        "add_records_to_active_filter",
		Description: "Pin specific records into the table's active filter by wsId.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"record_ids": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["record_ids"]
		}`),
		Handler: handleAddRecordsToActiveFilter,
	}
}

func handleAddRecordsToActiveFilter(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string   `json:"table_name"`
		RecordIDs []string `json:"record_ids"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if len(in.RecordIDs) == 0 {
		return "", fmt.Errorf("record_ids is required")
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	if err := rc.Scratchpad.AddRecordsToActiveFilter(ctx, rc.APIToken, table.WsID, in.RecordIDs); err != nil {
		return "", fmt.Errorf("add records to active filter on %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Added %d records to the active filter on table %q.", len(in.RecordIDs), table.Name), nil
}

func activateViewTool() Tool {
	return Tool{
		Name: "activate_view",
		Description: "Activate a saved view by view_id, or save and activate a new view from record_ids " +
			"and a name. While a view is active, get_records returns only its record set.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"view_id": {"type": "string"},
				"record_ids": {"type": "array", "items": {"type": "string"}},
				"name": {"type": "string"}
			}
		}`),
		Handler: handleActivateView,
	}
}

func handleActivateView(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string   `json:"table_name"`
		ViewID    string   `json:"view_id"`
		RecordIDs []string `json:"record_ids"`
		Name      string   `json:"name"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	viewID := strings.TrimSpace(in.ViewID)
	if viewID == "" {
		if len(in.RecordIDs) == 0 {
			return "", fmt.Errorf("either view_id or record_ids with a name is required")
		}
		if strings.TrimSpace(in.Name) == "" {
			return "", fmt.Errorf("name is required when creating a view from record_ids")
		}
		view, err := rc.Scratchpad.CreateView(ctx, rc.APIToken, table.WsID, in.Name, in.RecordIDs)
		if err != nil {
			return "", fmt.Errorf("create view on %q: %w", table.Name, err)
		}
		viewID = view.WsID
	}

	if err := rc.Scratchpad.ActivateView(ctx, rc.APIToken, table.WsID, viewID); err != nil {
		return "", fmt.Errorf("activate view on %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Activated view %s on table %q.", viewID, table.Name), nil
}

func clearViewTool() Tool {
	return Tool{
		Name:        "clear_view",
		Description: "Clear the table's active view, restoring the full record listing.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"}
			}
		}`),
		Handler: handleClearView,
	}
}

func handleClearView(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	if err := rc.Scratchpad.ClearActiveView(ctx, rc.APIToken, table.WsID); err != nil {
		return "", fmt.Errorf("clear view on %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Cleared the active view on table %q.", table.Name), nil
}

func listViewsTool() Tool {
	return Tool{
		Name:        "list_views",
		Description: "List the saved views of a table.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"}
			}
		}`),
		Handler: handleListViews,
	}
}

func handleListViews(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}

	views, err := rc.Scratchpad.ListViews(ctx, rc.APIToken, table.WsID)
	if err != nil {
		return "", fmt.Errorf("list views on %q: %w", table.Name, err)
	}
	if len(views) == 0 {
		return fmt.Sprintf("Table %q has no saved views.", table.Name), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Table %q has %d saved views:\n", table.Name, len(views))
	for _, view := range views {
		fmt.Fprintf(&b, "- %s (wsId=%s, %d records)\n", view.Name, view.WsID, len(view.RecordIDs))
	}
	return b.String(), nil
}
