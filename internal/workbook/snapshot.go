package workbook

import "strings"

// DataScope names the editable surface of an agent run.
type DataScope string

const (
	ScopeTable  DataScope = "table"
	ScopeRecord DataScope = "record"
	ScopeColumn DataScope = "column"
)

func ParseScope(raw string) DataScope {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ScopeRecord):
		return ScopeRecord
	case string(ScopeColumn):
		return ScopeColumn
	default:
		return ScopeTable
	}
}

// Snapshot is a point-in-time projection of a workbook as served by the
// Scratchpad data service.
type Snapshot struct {
	ID         string  `json:"id"`
	WorkbookID string  `json:"workbookId"`
	Tables     []Table `json:"tables"`
}

type Table struct {
	WsID         string   `json:"wsId"`
	RemoteID     string   `json:"remoteId,omitempty"`
	Name         string   `json:"name"`
	Columns      []Column `json:"columns"`
	ActiveViewID string   `json:"activeViewId,omitempty"`
	ActiveFilter string   `json:"activeRecordFilter,omitempty"`
}

type Column struct {
	WsID           string         `json:"wsId"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Options        []ColumnOption `json:"options,omitempty"`
	AllowAnyOption bool           `json:"allowAnyOption,omitempty"`
	Hidden         bool           `json:"hidden,omitempty"`
	Protected      bool           `json:"protected,omitempty"`
}

type ColumnOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Record carries the committed fields plus agent proposals awaiting user
// acceptance. SuggestedFields never overwrite Fields.
type Record struct {
	WsID            string         `json:"wsId"`
	Fields          map[string]any `json:"fields"`
	SuggestedFields map[string]any `json:"suggested_fields,omitempty"`
	EditedFields    []string       `json:"edited_fields,omitempty"`
	Dirty           bool           `json:"dirty,omitempty"`
}

type View struct {
	WsID      string   `json:"wsId"`
	TableID   string   `json:"tableId"`
	Name      string   `json:"name"`
	RecordIDs []string `json:"recordIds"`
}

// CellRef identifies one cell for focus blocks.
type CellRef struct {
	RecordWsID string `json:"recordWsId"`
	ColumnWsID string `json:"columnWsId"`
}

// FindTable resolves a table by case-insensitive name match.
func (s *Snapshot) FindTable(name string) (*Table, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, false
	}
	for i := range s.Tables {
		if strings.ToLower(s.Tables[i].Name) == needle {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// FindTableByID resolves a table by its wsId.
func (s *Snapshot) FindTableByID(wsID string) (*Table, bool) {
	if strings.TrimSpace(wsID) == "" {
		return nil, false
	}
	for i := range s.Tables {
		if s.Tables[i].WsID == wsID {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// TableNames lists table names in snapshot order, for not-found errors.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

func (t *Table) FindColumn(wsID string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].WsID == wsID {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

func (t *Table) FindColumnByName(name string) (*Column, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for i := range t.Columns {
		if strings.ToLower(t.Columns[i].Name) == needle {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// OptionValue validates value against the column's enumerated options. The
// value token (not the label) must be supplied; columns with AllowAnyOption
// accept arbitrary values.
func (c *Column) OptionValue(value string) (string, bool) {
	if len(c.Options) == 0 || c.AllowAnyOption {
		return value, true
	}
	for _, opt := range c.Options {
		if opt.Value == value {
			return opt.Value, true
		}
	}
	return "", false
}
