// Package agenttools holds the domain tools an agent run may invoke. Tools
// read the run context and mutate remote state through the Scratchpad client
// only; they never mutate the context itself. Validation failures come back
// as errors the run loop hands to the model as tool error strings.
package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scratchpad.local/agent-gateway/internal/model"
	"scratchpad.local/agent-gateway/internal/runctx"
	"scratchpad.local/agent-gateway/internal/workbook"
)

// FinalResultName closes a run; the run loop intercepts it before dispatch.
const FinalResultName = "final_result"

const pageLimit = 50

type Handler func(ctx context.Context, rc *runctx.Context, args json.RawMessage) (string, error)

// Tool couples a model-facing definition with its handler. Oversize marks
// tools whose returns are rich record payloads eligible for history collapse.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Oversize    bool
	Handler     Handler
}

type Registry struct {
	tools  []Tool
	byName map[string]int
}

// ForRun builds the tool set for one run, filtered by scope and the run's
// capability groups.
func ForRun(rc *runctx.Context) *Registry {
	registry := &Registry{byName: make(map[string]int)}
	caps := rc.Capabilities
	fieldScope := rc.Scope == workbook.ScopeRecord || rc.Scope == workbook.ScopeColumn

	registry.add(getRecordsTool())
	registry.add(fetchAdditionalRecordsTool())
	registry.add(fetchRecordsByIDsTool())
	if caps.Suggestions {
		registry.add(createRecordsTool())
		registry.add(updateRecordsTool())
		registry.add(deleteRecordsTool())
	}
	if caps.FieldEdits && fieldScope {
		registry.add(setFieldValueTool())
		registry.add(appendFieldValueTool())
		registry.add(insertValueTool())
		registry.add(searchAndReplaceTool())
	}
	if caps.Filters {
		registry.add(setFilterTool())
		registry.add(addRecordsToActiveFilterTool())
	}
	if caps.Views {
		registry.add(activateViewTool())
		registry.add(clearViewTool())
		registry.add(listViewsTool())
	}
	if caps.Uploads {
		registry.add(uploadContentLoadTool())
	}
	if caps.Columns {
		registry.add(addColumnTool())
		registry.add(removeColumnTool())
	}
	return registry
}

func (r *Registry) add(tool Tool) {
	r.byName[tool.Name] = len(r.tools)
	r.tools = append(r.tools, tool)
}

// Definitions returns the model-facing tool definitions, final_result last.
func (r *Registry) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.tools)+1)
	for _, tool := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Schema,
		})
	}
	defs = append(defs, finalResultDefinition())
	return defs
}

// Dispatch runs the named tool. The oversize flag tells the caller whether
// the returned content should be marked for later history collapse.
func (r *Registry) Dispatch(ctx context.Context, rc *runctx.Context, name string, args json.RawMessage) (content string, oversize bool, err error) {
	idx, ok := r.byName[name]
	if !ok {
		return "", false, fmt.Errorf("unknown tool %q", name)
	}
	tool := r.tools[idx]
	content, err = tool.Handler(ctx, rc, args)
	if err != nil {
		return "", false, err
	}
	return content, tool.Oversize, nil
}

func finalResultDefinition() model.ToolDefinition {
	return model.ToolDefinition{
		Name: FinalResultName,
		Description: "Finish the run and deliver the response to the user. Must be the only tool " +
			"in its turn and the last call of the run.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"response_message": {"type": "string", "description": "User-facing answer."},
				"response_summary": {"type": "string", "description": "Short summary of what was done."},
				"request_summary": {"type": "string", "description": "Short summary of what was asked."}
			},
			"required": ["response_message", "response_summary", "request_summary"]
		}`),
	}
}

func decodeArgs(args json.RawMessage, out any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, out); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// resolveTable finds the target table by case-insensitive name, defaulting to
// the run's active table. Reads may name any table in the snapshot regardless
// of scope.
func resolveTable(rc *runctx.Context, tableName string) (*workbook.Table, error) {
	if rc.Snapshot == nil {
		return nil, fmt.Errorf("no snapshot loaded")
	}

	if strings.TrimSpace(tableName) == "" {
		table := rc.ActiveTable()
		if table == nil {
			return nil, fmt.Errorf("table_not_found: no active table; available tables: %s", strings.Join(rc.Snapshot.TableNames(), ", "))
		}
		return table, nil
	}
	table, ok := rc.Snapshot.FindTable(tableName)
	if !ok {
		return nil, fmt.Errorf("table_not_found: no table named %q; available tables: %s", tableName, strings.Join(rc.Snapshot.TableNames(), ", "))
	}
	return table, nil
}

// resolveSuggestionTable resolves the target of a record suggestion. Outside
// table scope, creates, updates, and deletes are pinned to the active table.
func resolveSuggestionTable(rc *runctx.Context, tableName string) (*workbook.Table, error) {
	table, err := resolveTable(rc, tableName)
	if err != nil {
		return nil, err
	}
	if rc.Scope != workbook.ScopeTable && table.WsID != rc.ActiveTableID {
		return nil, fmt.Errorf("scope %s only permits record suggestions on the active table", rc.Scope)
	}
	return table, nil
}
