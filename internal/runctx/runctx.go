// Package runctx carries the per-run state shared by the prompt composer,
// the tool library, and the stream processor. One Context is assembled per
// agent run and owned by that run's goroutine; maps on it are not guarded
// and must not be shared across runs.
package runctx

import (
	"log"
	"strings"
	"sync/atomic"

	"scratchpad.local/agent-gateway/internal/model"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/workbook"
)

// Capabilities toggles which tool groups a run exposes to the model. Record
// reads are always available and have no toggle.
type Capabilities struct {
	Suggestions bool
	FieldEdits  bool
	Views       bool
	Filters     bool
	Uploads     bool
	Columns     bool
}

func AllCapabilities() Capabilities {
	return Capabilities{
		Suggestions: true,
		FieldEdits:  true,
		Views:       true,
		Filters:     true,
		Uploads:     true,
		Columns:     true,
	}
}

// ParseCapabilities maps request capability names to tool groups. An empty
// list enables everything; unknown names are ignored.
func ParseCapabilities(names []string) Capabilities {
	if len(names) == 0 {
		return AllCapabilities()
	}
	var caps Capabilities
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "suggestions":
			caps.Suggestions = true
		case "field_edits":
			caps.FieldEdits = true
		case "views":
			caps.Views = true
		case "filters":
			caps.Filters = true
		case "uploads":
			caps.Uploads = true
		case "columns":
			caps.Columns = true
		}
	}
	return caps
}

type Context struct {
	TaskID    string
	RunID     string
	SessionID string
	UserID    string

	// APIToken is forwarded on every data-service call for this run.
	APIToken string

	Model              string
	ModelContextLength int

	Scope         workbook.DataScope
	WorkbookID    string
	ActiveTableID string
	RecordID      string
	ColumnID      string
	ViewID        string

	Capabilities Capabilities

	// Focus lists carry the cells the user had selected when the run
	// started.
	ReadFocus  []workbook.CellRef
	WriteFocus []workbook.CellRef

	Snapshot *workbook.Snapshot

	// Records holds the preloaded page per table id; FilteredCounts the
	// total records passing each table's active filter, which can exceed
	// the preloaded page length.
	Records        map[string][]workbook.Record
	FilteredCounts map[string]int

	// UploadContents caches fetched upload bodies by upload id so repeated
	// tool calls within a run do not refetch them.
	UploadContents map[string]string

	Scratchpad *scratchpad.Client
	Logger     *log.Logger

	usage atomic.Pointer[model.Usage]
}

func (c *Context) Table(tableID string) *workbook.Table {
	if c.Snapshot == nil {
		return nil
	}
	table, _ := c.Snapshot.FindTableByID(tableID)
	return table
}

// ActiveTable resolves the run's focal table from the snapshot.
func (c *Context) ActiveTable() *workbook.Table {
	return c.Table(c.ActiveTableID)
}

// AddUsage folds one model response's usage into the run total.
func (c *Context) AddUsage(delta model.Usage) {
	for {
		current := c.usage.Load()
		next := model.Usage{}
		if current != nil {
			next = *current
		}
		next.Add(delta)
		if c.usage.CompareAndSwap(current, &next) {
			return
		}
	}
}

func (c *Context) Usage() model.Usage {
	current := c.usage.Load()
	if current == nil {
		return model.Usage{}
	}
	return *current
}
