// Package prompt assembles the system instructions for an agent run from
// labeled sections. Callers may override any section by name via prompt
// assets; unknown asset names collect under a trailing STYLE GUIDES section.
package prompt

import (
	"strings"

	"scratchpad.local/agent-gateway/internal/workbook"
)

// Section keys recognized for overrides.
const (
	SectionBase             = "base_instructions"
	SectionMentions         = "mention_system"
	SectionFiltering        = "filtering_and_views"
	SectionDataManipulation = "data_manipulation"
	SectionFinalResponse    = "final_response"
	SectionDataFormatting   = "data_formatting"
	SectionDataStructure    = "data_structure"
	SectionDataFetchTools   = "data_fetch_tools"
	SectionSupportingTools  = "supporting_tools"
	SectionTableStructure   = "table_structure"
)

// Asset is a caller-supplied override or addition keyed by section name.
type Asset struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type section struct {
	key     string
	heading string
}

var sectionOrder = []section{
	{SectionBase, "INSTRUCTIONS"},
	{SectionMentions, "MENTION SYSTEM"},
	{SectionFiltering, "FILTERING AND VIEWS"},
	{SectionDataManipulation, "DATA MANIPULATION"},
	{SectionFinalResponse, "FINAL RESPONSE"},
	{SectionDataFormatting, "DATA FORMATTING"},
	{SectionDataStructure, "DATA STRUCTURE"},
	{SectionDataFetchTools, "DATA FETCH TOOLS"},
	{SectionSupportingTools, "SUPPORTING TOOLS"},
	{SectionTableStructure, "TABLE STRUCTURE"},
}

// Compose builds the full system instruction text for the given scope.
func Compose(scope workbook.DataScope, assets []Asset) string {
	overrides := make(map[string]string, len(assets))
	var extras []Asset
	for _, asset := range assets {
		name := strings.TrimSpace(asset.Name)
		if name == "" {
			continue
		}
		if knownSection(name) {
			overrides[name] = asset.Content
		} else {
			extras = append(extras, asset)
		}
	}

	var b strings.Builder
	for _, sec := range sectionOrder {
		text, ok := overrides[sec.key]
		if !ok {
			text = defaultSection(sec.key, scope)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## " + sec.heading + "\n\n")
		b.WriteString(text)
	}

	if len(extras) > 0 {
		b.WriteString("\n\n## STYLE GUIDES\n")
		for _, extra := range extras {
			content := strings.TrimSpace(extra.Content)
			if content == "" {
				continue
			}
			b.WriteString("\n### " + strings.TrimSpace(extra.Name) + "\n\n")
			b.WriteString(content)
			b.WriteString("\n")
		}
	}

	return b.String()
}

func knownSection(name string) bool {
	for _, sec := range sectionOrder {
		if sec.key == name {
			return true
		}
	}
	return false
}

func defaultSection(key string, scope workbook.DataScope) string {
	switch key {
	case SectionBase:
		return baseInstructions(scope)
	case SectionMentions:
		return mentionRules
	case SectionFiltering:
		return filteringRules
	case SectionDataManipulation:
		return dataManipulationRules(scope)
	case SectionFinalResponse:
		return finalResponseRules
	case SectionDataFormatting:
		return dataFormattingRules
	case SectionDataStructure:
		return dataStructureRules
	case SectionDataFetchTools:
		return dataFetchToolRules
	case SectionSupportingTools:
		return supportingToolRules
	case SectionTableStructure:
		return tableStructureRules
	default:
		return ""
	}
}

func baseInstructions(scope workbook.DataScope) string {
	switch scope {
	case workbook.ScopeRecord:
		return "You are a data assistant working on a single record of the user's workbook. " +
			"The record you may edit is identified in the context below. You may read other tables " +
			"for reference, but every change you propose must target this record. " +
			"Invoke tools one at a time and wait for each result before deciding the next step. " +
			"Never invoke tools in parallel."
	case workbook.ScopeColumn:
		return "You are a data assistant working on a single field of a single record. " +
			"The record and column you may edit are identified in the context below. Reads of other " +
			"data are allowed for reference, but writes outside the focused field are validation errors. " +
			"Invoke tools one at a time and wait for each result before deciding the next step. " +
			"Never invoke tools in parallel."
	default:
		return "You are a data assistant working on the user's workbook. The active table and its " +
			"records are described in the context below. Use the provided tools to read and propose " +
			"changes to records. All writes are suggestions the user reviews; nothing is applied directly. " +
			"Invoke tools one at a time and wait for each result before deciding the next step. " +
			"Never invoke tools in parallel."
	}
}

const mentionRules = `User messages may contain mentions of the form X[display](id) where X is one of @, # or $.
- @[name](upload_id) references an uploaded document. Load it with upload_content_load when its content matters.
- #[name](record_id) references a record.
- $[name](table_id) references a table; $[name](table_id.column_id) references a column.
Mentions arrive verbatim. Resolve them with tools; never invent their content.`

const filteringRules = `set_filter replaces the active SQL record filter of a table. Pass a WHERE body only, without the WHERE keyword. An empty filter clears it. Ordering or limiting is only possible through a subquery using fully qualified table names of the form "snapshot_id"."table_wsId". Call set_filter at most once per table per turn; a second call overwrites the first. Views are saved record subsets: activate_view applies one, clear_view restores the full listing.`

func dataManipulationRules(scope workbook.DataScope) string {
	switch scope {
	case workbook.ScopeRecord:
		return "Use set_field_value, append_field_value, insert_value and search_and_replace_field_value " +
			"to edit fields of the focused record. Record-level tools (create_records, update_records, " +
			"delete_records) remain constrained to the active table. All edits are suggestions pending " +
			"user review."
	case workbook.ScopeColumn:
		return "You may edit exactly one field: the focused column of the focused record. Use " +
			"set_field_value, append_field_value, insert_value or search_and_replace_field_value with the " +
			"focused record and column ids. Any other target is rejected. All edits are suggestions " +
			"pending user review."
	default:
		return "Use create_records to propose new rows, update_records to propose field changes " +
			"(every entry needs wsId and data), and delete_records to propose removals. All changes are " +
			"suggestions: the user accepts or rejects them, so do not claim a change has been applied."
	}
}

const finalResponseRules = `When the task is done, call final_result exactly once with the response for the user. final_result must be the only tool in its turn and always the last call of the run. Provide response_message (user-facing), response_summary and request_summary (short, for future context). Do not emit final_result together with any other tool.`

const dataFormattingRules = `Columns with enumerated options list {label, value} pairs. When writing such a field, supply the value token, never the label, unless the column allows arbitrary options. Array-valued columns take arrays of values. Dates use ISO-8601. Leave fields you are not changing out of the data payload.`

const dataStructureRules = `Records are objects {wsId, fields, suggested_fields}. fields holds accepted data; suggested_fields holds pending proposals and never overwrites fields. Always address records by wsId.`

const dataFetchToolRules = `get_records reads the active or named table and respects the table's active view and filter. fetch_additional_records pages further; fetch_records_by_ids fetches specific records. Fetched payloads are visible for the current turn only; on later turns they collapse to a placeholder. If you need collapsed data again, refetch it. Never fabricate data you no longer see.`

const supportingToolRules = `list_views enumerates saved views. add_records_to_active_filter pins records into the active filter. upload_content_load returns the markdown content of an upload. Use these to gather context before editing.`

const tableStructureRules = `add_column adds a scratch column to a table; remove_column removes one. Scratch columns are working space for intermediate results. Do not remove columns you did not add.`
