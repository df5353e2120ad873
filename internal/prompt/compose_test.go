package prompt

import (
	"strings"
	"testing"

	"scratchpad.local/agent-gateway/internal/workbook"
)

func TestComposeOrdersSections(t *testing.T) {
	text := Compose(workbook.ScopeTable, nil)

	headings := []string{
		"## INSTRUCTIONS",
		"## MENTION SYSTEM",
		"## FILTERING AND VIEWS",
		"## DATA MANIPULATION",
		"## FINAL RESPONSE",
		"## DATA FORMATTING",
		"## DATA STRUCTURE",
		"## DATA FETCH TOOLS",
		"## SUPPORTING TOOLS",
		"## TABLE STRUCTURE",
	}
	last := -1
	for _, heading := range headings {
		idx := strings.Index(text, heading)
		if idx < 0 {
			t.Fatalf("missing section %q", heading)
		}
		if idx < last {
			t.Fatalf("section %q out of order", heading)
		}
		last = idx
	}
	if strings.Contains(text, "STYLE GUIDES") {
		t.Fatal("no style guides expected without extra assets")
	}
}

func TestComposeScopeVariants(t *testing.T) {
	table := Compose(workbook.ScopeTable, nil)
	record := Compose(workbook.ScopeRecord, nil)
	column := Compose(workbook.ScopeColumn, nil)

	if !strings.Contains(table, "create_records") {
		t.Fatal("table scope should describe record creation")
	}
	if !strings.Contains(record, "single record") {
		t.Fatal("record scope should narrow to one record")
	}
	if !strings.Contains(column, "exactly one field") {
		t.Fatal("column scope should narrow to one field")
	}
}

func TestComposeAssetOverridesSection(t *testing.T) {
	text := Compose(workbook.ScopeTable, []Asset{
		{Name: SectionMentions, Content: "custom mention text"},
	})
	if !strings.Contains(text, "custom mention text") {
		t.Fatal("override content missing")
	}
	if strings.Contains(text, "upload_content_load when its content matters") {
		t.Fatal("default mention text should be replaced")
	}
}

func TestComposeUnknownAssetsBecomeStyleGuides(t *testing.T) {
	text := Compose(workbook.ScopeTable, []Asset{
		{Name: "tone_of_voice", Content: "Be terse."},
		{Name: "  ", Content: "ignored"},
	})
	idx := strings.Index(text, "## STYLE GUIDES")
	if idx < 0 {
		t.Fatal("expected style guides section")
	}
	if !strings.Contains(text[idx:], "### tone_of_voice") || !strings.Contains(text[idx:], "Be terse.") {
		t.Fatal("style guide content missing")
	}
	if idx < strings.Index(text, "## TABLE STRUCTURE") {
		t.Fatal("style guides must trail all default sections")
	}
}
