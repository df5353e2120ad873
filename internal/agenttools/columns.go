package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scratchpad.local/agent-gateway/internal/runctx"
)

func addColumnTool() Tool {
	return Tool{
		Name:        "add_column",
		Description: "Add a scratch column to a table as working space for intermediate results.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"name": {"type": "string"},
				"type": {"type": "string"}
			},
			"required": ["name", "type"]
		}`),
		Handler: handleAddColumn,
	}
}

func handleAddColumn(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
		Name      string `json:"name"`
		Type      string `json:"type"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Type) == "" {
		return "", fmt.Errorf("name and type are required")
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}
	if _, ok := table.FindColumnByName(in.Name); ok {
		return "", fmt.Errorf("table %q already has a column named %q", table.Name, in.Name)
	}

	column, err := rc.Scratchpad.AddScratchColumn(ctx, rc.APIToken, table.WsID, in.Name, in.Type)
	if err != nil {
		return "", fmt.Errorf("add column to %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Added column %q (wsId=%s) to table %q.", column.Name, column.WsID, table.Name), nil
}

func removeColumnTool() Tool {
	return Tool{
		Name:        "remove_column",
		Description: "Remove a scratch column from a table by column wsId.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {"type": "string"},
				"column_id": {"type": "string"}
			},
			"required": ["column_id"]
		}`),
		Handler: handleRemoveColumn,
	}
}

func handleRemoveColumn(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error) {
	var in struct {
		TableName string `json:"table_name"`
		ColumnID  string `json:"column_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.ColumnID) == "" {
		return "", fmt.Errorf("column_id is required")
	}
	table, err := resolveTable(rc, in.TableName)
	if err != nil {
		return "", err
	}
	if _, ok := table.FindColumn(in.ColumnID); !ok {
		return "", fmt.Errorf("column %q not found on table %q", in.ColumnID, table.Name)
	}

	if err := rc.Scratchpad.RemoveScratchColumn(ctx, rc.APIToken, table.WsID, in.ColumnID); err != nil {
		return "", fmt.Errorf("remove column from %q: %w", table.Name, err)
	}
	return fmt.Sprintf("Removed column %s from table %q.", in.ColumnID, table.Name), nil
}
