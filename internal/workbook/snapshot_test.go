package workbook

import "testing"

func testSnapshot() *Snapshot {
	return &Snapshot{
		ID: "snap_1",
		Tables: []Table{
			{
				WsID: "tbl_1",
				Name: "People",
				Columns: []Column{
					{WsID: "col_1", Name: "name", Type: "text"},
					{WsID: "col_2", Name: "status", Type: "select", Options: []ColumnOption{
						{Label: "Active", Value: "active"},
						{Label: "Inactive", Value: "inactive"},
					}},
				},
			},
			{WsID: "tbl_2", Name: "Deals"},
		},
	}
}

func TestFindTableCaseInsensitive(t *testing.T) {
	snap := testSnapshot()
	table, ok := snap.FindTable("people")
	if !ok {
		t.Fatal("expected to find table by lowercase name")
	}
	if table.WsID != "tbl_1" {
		t.Fatalf("expected tbl_1, got %s", table.WsID)
	}
	if _, ok := snap.FindTable("missing"); ok {
		t.Fatal("expected miss for unknown table")
	}
	if _, ok := snap.FindTable(""); ok {
		t.Fatal("expected miss for empty name")
	}
}

func TestOptionValueRequiresValueToken(t *testing.T) {
	snap := testSnapshot()
	table, _ := snap.FindTable("People")
	col, _ := table.FindColumn("col_2")

	if _, ok := col.OptionValue("Active"); ok {
		t.Fatal("label must not be accepted as a value")
	}
	value, ok := col.OptionValue("active")
	if !ok || value != "active" {
		t.Fatalf("expected value token accepted, got %q ok=%v", value, ok)
	}

	col.AllowAnyOption = true
	if _, ok := col.OptionValue("anything"); !ok {
		t.Fatal("allowAnyOption column must accept arbitrary values")
	}
}

func TestParseScope(t *testing.T) {
	if ParseScope("Record") != ScopeRecord {
		t.Fatal("expected record scope")
	}
	if ParseScope("") != ScopeTable {
		t.Fatal("expected default table scope")
	}
	if ParseScope("column") != ScopeColumn {
		t.Fatal("expected column scope")
	}
}
