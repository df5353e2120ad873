// Package assemble preloads workbook data for an agent run and renders the
// snapshot context block of the user prompt.
package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/workbook"
)

const (
	// truncateAt bounds long string fields in table-scope summaries.
	truncateAt = 200
)

type Input struct {
	WorkbookID        string
	UserMessage       string
	Scope             workbook.DataScope
	ActiveTableID     string
	RecordID          string
	ColumnID          string
	ViewID            string
	MentionedTableIDs []string
	ReadFocus         []workbook.CellRef
	WriteFocus        []workbook.CellRef
}

func (in Input) mentioned(tableID string) bool {
	for _, id := range in.MentionedTableIDs {
		if id == tableID {
			return true
		}
	}
	return false
}

// Result carries the preloaded state an agent run starts from. Records and
// FilteredCounts are keyed by table wsId.
type Result struct {
	Snapshot        *workbook.Snapshot
	Records         map[string][]workbook.Record
	FilteredCounts  map[string]int
	SnapshotContext string
	UserPrompt      string
}

type Assembler struct {
	client       *scratchpad.Client
	logger       *log.Logger
	preloadLimit int
}

func New(logger *log.Logger, client *scratchpad.Client, preloadLimit int) *Assembler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if preloadLimit <= 0 {
		preloadLimit = 50
	}
	return &Assembler{client: client, logger: logger, preloadLimit: preloadLimit}
}

// Assemble loads the snapshot and preloads records per the run's scope. A
// snapshot failure aborts the run; per-table preload failures degrade to an
// empty record set and log.
func (a *Assembler) Assemble(ctx context.Context, token string, in Input) (*Result, error) {
	snapshot, err := a.client.GetSnapshot(ctx, token, in.WorkbookID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	result := &Result{
		Snapshot:       snapshot,
		Records:        make(map[string][]workbook.Record, len(snapshot.Tables)),
		FilteredCounts: make(map[string]int, len(snapshot.Tables)),
	}

	for i := range snapshot.Tables {
		table := &snapshot.Tables[i]
		active := table.WsID == in.ActiveTableID
		records, filtered, err := a.preloadTable(ctx, token, table, active, in)
		if err != nil {
			a.logger.Printf("level=warn msg=\"preload failed\" table=%s err=%q", table.WsID, err)
			continue
		}
		result.Records[table.WsID] = records
		result.FilteredCounts[table.WsID] = filtered
	}

	result.SnapshotContext = renderSnapshotContext(snapshot, result, in)
	result.UserPrompt = buildUserPrompt(in, result.SnapshotContext)
	return result, nil
}

func (a *Assembler) preloadTable(ctx context.Context, token string, table *workbook.Table, active bool, in Input) ([]workbook.Record, int, error) {
	if !active && in.mentioned(table.WsID) {
		// @-mentioned tables get the same preload depth as the active one.
		page, err := a.client.ListRecordsForAI(ctx, token, table.WsID, scratchpad.ListRecordsRequest{Limit: a.preloadLimit})
		if err != nil {
			return nil, 0, err
		}
		return page.Records, page.FilteredCount, nil
	}
	if !active {
		// Non-active tables contribute one sample record for schema context.
		page, err := a.client.ListRecordsForAI(ctx, token, table.WsID, scratchpad.ListRecordsRequest{Limit: 1})
		if err != nil {
			return nil, 0, err
		}
		return page.Records, page.FilteredCount, nil
	}

	switch in.Scope {
	case workbook.ScopeRecord, workbook.ScopeColumn:
		record, err := a.client.GetRecord(ctx, token, table.WsID, in.RecordID)
		if err != nil {
			return nil, 0, err
		}
		return []workbook.Record{record}, 1, nil
	default:
		page, err := a.client.ListRecordsForAI(ctx, token, table.WsID, scratchpad.ListRecordsRequest{
			ViewID: in.ViewID,
			Limit:  a.preloadLimit,
		})
		if err != nil {
			return nil, 0, err
		}
		return page.Records, page.FilteredCount, nil
	}
}

func buildUserPrompt(in Input, snapshotContext string) string {
	var b strings.Builder
	b.WriteString(snapshotContext)
	b.WriteString("\n\n## USER REQUEST\n\n")
	b.WriteString(strings.TrimSpace(in.UserMessage))
	return b.String()
}

func renderSnapshotContext(snapshot *workbook.Snapshot, result *Result, in Input) string {
	var b strings.Builder
	b.WriteString("## WORKBOOK SNAPSHOT\n")

	for i := range snapshot.Tables {
		table := &snapshot.Tables[i]
		active := table.WsID == in.ActiveTableID

		b.WriteString("\n### Table: " + table.Name)
		if active {
			b.WriteString(" [ACTIVE TABLE]")
		} else if in.mentioned(table.WsID) {
			b.WriteString(" [MENTIONED]")
		}
		b.WriteString(" (wsId=" + table.WsID + ")\n")
		if table.ActiveViewID != "" {
			b.WriteString("Active view: " + table.ActiveViewID + "\n")
		}
		if table.ActiveFilter != "" {
			b.WriteString("Active filter: " + table.ActiveFilter + "\n")
		}

		b.WriteString("Columns:\n")
		for _, column := range table.Columns {
			b.WriteString("- " + column.Name + " (wsId=" + column.WsID + ", type=" + column.Type)
			if column.Hidden {
				b.WriteString(", hidden")
			}
			if column.Protected {
				b.WriteString(", protected")
			}
			b.WriteString(")")
			if len(column.Options) > 0 {
				b.WriteString(" options: " + renderOptions(column))
			}
			b.WriteString("\n")
		}

		records := result.Records[table.WsID]
		filtered := result.FilteredCounts[table.WsID]
		if len(records) == 0 {
			b.WriteString("Records: none loaded\n")
			continue
		}
		b.WriteString(fmt.Sprintf("Records (%d loaded, %d pass the active filter):\n", len(records), filtered))
		truncate := !active || in.Scope == workbook.ScopeTable
		for _, record := range records {
			b.WriteString(RenderRecord(record, truncate) + "\n")
		}
	}

	if block := renderFocusBlock(in.ReadFocus, in.WriteFocus); block != "" {
		b.WriteString("\n" + block)
	}
	return b.String()
}

func renderOptions(column workbook.Column) string {
	parts := make([]string, 0, len(column.Options))
	for _, opt := range column.Options {
		parts = append(parts, fmt.Sprintf("{label:%q, value:%q}", opt.Label, opt.Value))
	}
	text := "[" + strings.Join(parts, ", ") + "]"
	if column.AllowAnyOption {
		text += " (free values allowed)"
	}
	return text
}

// RenderRecord renders one record as a compact JSON line. With truncate set,
// long string fields are shortened to keep table-scope prompts cheap.
func RenderRecord(record workbook.Record, truncate bool) string {
	fields := record.Fields
	if truncate {
		fields = truncateFields(fields)
	}
	payload := map[string]any{
		"wsId":   record.WsID,
		"fields": fields,
	}
	if len(record.SuggestedFields) > 0 {
		payload["suggested_fields"] = record.SuggestedFields
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"wsId":%q}`, record.WsID)
	}
	return string(encoded)
}

func truncateFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := fields[key]
		if text, ok := value.(string); ok && len(text) > truncateAt {
			value = text[:truncateAt] + "…(truncated)"
		}
		out[key] = value
	}
	return out
}

func renderFocusBlock(readFocus, writeFocus []workbook.CellRef) string {
	if len(readFocus) == 0 && len(writeFocus) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## FOCUS CELLS\n")
	if len(readFocus) > 0 {
		b.WriteString("Read focus:\n")
		for _, ref := range readFocus {
			b.WriteString("- record=" + ref.RecordWsID + " column=" + ref.ColumnWsID + "\n")
		}
	}
	if len(writeFocus) > 0 {
		b.WriteString("Write focus:\n")
		for _, ref := range writeFocus {
			b.WriteString("- record=" + ref.RecordWsID + " column=" + ref.ColumnWsID + "\n")
		}
	}
	return b.String()
}
