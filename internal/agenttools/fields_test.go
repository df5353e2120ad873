package agenttools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/workbook"
)

func TestSetFieldValueRejectsOptionLabel(t *testing.T) {
	called := false
	rc, _ := testRunContext(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}), workbook.ScopeRecord)
	rc.RecordID = "rec_1"
	registry := ForRun(rc)

	_, _, err := registry.Dispatch(context.Background(), rc, "set_field_value",
		json.RawMessage(`{"record_id":"rec_1","column_id":"col_status","value":"Active"}`))
	if err == nil || !strings.Contains(err.Error(), "option value") {
		t.Fatalf("expected option validation error, got %v", err)
	}
	if called {
		t.Fatal("validation failure must not reach HTTP")
	}
}

func TestSetFieldValueSuggestsUpdate(t *testing.T) {
	var ops scratchpad.SuggestionOps
	rc, _ := testRunContext(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tables/tbl_people/suggestions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&ops)
		_ = json.NewEncoder(w).Encode(scratchpad.SuggestionResult{Updated: 1})
	}), workbook.ScopeRecord)
	rc.RecordID = "rec_1"
	registry := ForRun(rc)

	_, _, err := registry.Dispatch(context.Background(), rc, "set_field_value",
		json.RawMessage(`{"record_id":"rec_1","column_id":"col_status","value":"active"}`))
	if err != nil {
		t.Fatalf("set_field_value: %v", err)
	}
	if len(ops.Updates) != 1 || ops.Updates[0].WsID != "rec_1" {
		t.Fatalf("unexpected ops %+v", ops)
	}
	if ops.Updates[0].Data["Status"] != "active" {
		t.Fatalf("expected Status=active, got %+v", ops.Updates[0].Data)
	}
}

func TestColumnScopeRestrictsTarget(t *testing.T) {
	rc, _ := testRunContext(t, http.NotFoundHandler(), workbook.ScopeColumn)
	rc.RecordID = "rec_1"
	rc.ColumnID = "col_status"
	registry := ForRun(rc)

	_, _, err := registry.Dispatch(context.Background(), rc, "set_field_value",
		json.RawMessage(`{"record_id":"rec_1","column_id":"col_name","value":"Ada"}`))
	if err == nil || !strings.Contains(err.Error(), "column scope") {
		t.Fatalf("expected column scope error, got %v", err)
	}
}

func TestAppendFieldValueJoinsExistingText(t *testing.T) {
	var ops scratchpad.SuggestionOps
	rc, _ := testRunContext(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tables/tbl_people/records/rec_1":
			_ = json.NewEncoder(w).Encode(workbook.Record{
				WsID:   "rec_1",
				Fields: map[string]any{"Name": "first line"},
			})
		case "/api/tables/tbl_people/suggestions":
			_ = json.NewDecoder(r.Body).Decode(&ops)
			_ = json.NewEncoder(w).Encode(scratchpad.SuggestionResult{Updated: 1})
		default:
			http.NotFound(w, r)
		}
	}), workbook.ScopeRecord)
	rc.RecordID = "rec_1"
	registry := ForRun(rc)

	_, _, err := registry.Dispatch(context.Background(), rc, "append_field_value",
		json.RawMessage(`{"record_id":"rec_1","column_id":"col_name","value":"second line"}`))
	if err != nil {
		t.Fatalf("append_field_value: %v", err)
	}
	if got := ops.Updates[0].Data["Name"]; got != "first line\nsecond line" {
		t.Fatalf("unexpected appended value %q", got)
	}
}

func TestSearchAndReplaceNotFound(t *testing.T) {
	rc, _ := testRunContext(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(workbook.Record{WsID: "rec_1", Fields: map[string]any{"Name": "Ada"}})
	}), workbook.ScopeRecord)
	rc.RecordID = "rec_1"
	registry := ForRun(rc)

	_, _, err := registry.Dispatch(context.Background(), rc, "search_and_replace_field_value",
		json.RawMessage(`{"record_id":"rec_1","column_id":"col_name","search":"Grace","replace":"Ada"}`))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestTextEditsValidateOptionColumns(t *testing.T) {
	suggested := false
	rc, _ := testRunContext(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tables/tbl_people/records/rec_1":
			_ = json.NewEncoder(w).Encode(workbook.Record{WsID: "rec_1", Fields: map[string]any{"Status": "active"}})
		case "/api/tables/tbl_people/suggestions":
			suggested = true
		default:
			http.NotFound(w, r)
		}
	}), workbook.ScopeRecord)
	rc.RecordID = "rec_1"
	registry := ForRun(rc)

	for _, call := range []struct {
		tool string
		args string
	}{
		{"append_field_value", `{"record_id":"rec_1","column_id":"col_status","value":"pending"}`},
		{"insert_value", `{"record_id":"rec_1","column_id":"col_status","value":"x","position":0}`},
		{"search_and_replace_field_value", `{"record_id":"rec_1","column_id":"col_status","search":"active","replace":"Active"}`},
	} {
		_, _, err := registry.Dispatch(context.Background(), rc, call.tool, json.RawMessage(call.args))
		if err == nil || !strings.Contains(err.Error(), "option") {
			t.Fatalf("%s: expected option validation error, got %v", call.tool, err)
		}
	}
	if suggested {
		t.Fatal("invalid option values must not reach the suggestion endpoint")
	}
}

func TestUploadContentLoadCaches(t *testing.T) {
	calls := 0
	rc, _ := testRunContext(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]string{"content": "# doc"})
	}), workbook.ScopeTable)
	registry := ForRun(rc)

	for i := 0; i < 2; i++ {
		content, oversize, err := registry.Dispatch(context.Background(), rc, "upload_content_load",
			json.RawMessage(`{"upload_id":"up_1"}`))
		if err != nil {
			t.Fatalf("upload_content_load: %v", err)
		}
		if content != "# doc" || !oversize {
			t.Fatalf("unexpected result %q oversize=%v", content, oversize)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one HTTP fetch, got %d", calls)
	}
}
