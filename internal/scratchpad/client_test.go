package scratchpad

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetSnapshotSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/workbooks/wb_1/snapshot" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sp_token" {
			t.Fatalf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "snap_1",
			"tables": []map[string]any{
				{"wsId": "tbl_1", "name": "People"},
			},
		})
	}))
	defer srv.Close()

	client := New(nil, srv.URL)
	snap, err := client.GetSnapshot(context.Background(), "sp_token", "wb_1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.ID != "snap_1" || len(snap.Tables) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestNon2xxRaisesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "table missing", http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(nil, srv.URL)
	_, err := client.GetRecord(context.Background(), "tok", "tbl_1", "rec_1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || !apiErr.NotFound() {
		t.Fatalf("expected 404, got %d", apiErr.Status)
	}
}

func TestListRecordsForAIQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("view_id") != "view_1" || query.Get("limit") != "50" || query.Get("cursor") != "c2" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(RecordPage{FilteredCount: 120})
	}))
	defer srv.Close()

	client := New(nil, srv.URL)
	page, err := client.ListRecordsForAI(context.Background(), "tok", "tbl_1", ListRecordsRequest{ViewID: "view_1", Limit: 50, Cursor: "c2"})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if page.FilteredCount != 120 {
		t.Fatalf("expected filtered count 120, got %d", page.FilteredCount)
	}
}

func TestBulkSuggestValidatesBeforeHTTP(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(SuggestionResult{})
	}))
	defer srv.Close()

	client := New(nil, srv.URL)

	_, err := client.BulkSuggestRecordUpdates(context.Background(), "tok", "tbl_1", SuggestionOps{
		Updates: []UpdateOp{{Data: map[string]any{"name": "x"}}},
	})
	if err == nil {
		t.Fatal("expected validation error for update without wsId")
	}
	if called {
		t.Fatal("validation failure must not issue the HTTP call")
	}

	_, err = client.BulkSuggestRecordUpdates(context.Background(), "tok", "tbl_1", SuggestionOps{
		Creates: []CreateOp{{Data: map[string]any{"name": "x"}}},
		Deletes: []DeleteOp{{WsID: "rec_9"}},
	})
	if err != nil {
		t.Fatalf("valid ops should pass: %v", err)
	}
	if !called {
		t.Fatal("expected HTTP call for valid ops")
	}
}

func TestSuggestionOpsValidate(t *testing.T) {
	cases := []struct {
		name    string
		ops     SuggestionOps
		wantErr bool
	}{
		{"empty", SuggestionOps{}, true},
		{"create without data", SuggestionOps{Creates: []CreateOp{{}}}, true},
		{"update without data", SuggestionOps{Updates: []UpdateOp{{WsID: "r1"}}}, true},
		{"delete without wsId", SuggestionOps{Deletes: []DeleteOp{{}}}, true},
		{"undelete without wsId", SuggestionOps{Undeletes: []DeleteOp{{}}}, true},
		{"valid mix", SuggestionOps{
			Creates:   []CreateOp{{Data: map[string]any{"a": 1}}},
			Updates:   []UpdateOp{{WsID: "r1", Data: map[string]any{"a": 2}}},
			Deletes:   []DeleteOp{{WsID: "r2"}},
			Undeletes: []DeleteOp{{WsID: "r3"}},
		}, false},
	}
	for _, tc := range cases {
		err := tc.ops.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestSetActiveRecordsFilterEmptyClears(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(nil, srv.URL)
	if err := client.SetActiveRecordsFilter(context.Background(), "tok", "tbl_1", "  "); err != nil {
		t.Fatalf("clear via empty filter: %v", err)
	}
	if method != http.MethodDelete || path != "/api/tables/tbl_1/active-filter" {
		t.Fatalf("expected DELETE active-filter, got %s %s", method, path)
	}
}
