package scratchpad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scratchpad.local/agent-gateway/internal/workbook"
)

const maxResponseBytes = 8 << 20

// APIError is the single error type raised for non-2xx Scratchpad responses.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.Status)
	}
	return fmt.Sprintf("scratchpad status %d: %s", e.Status, body)
}

func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(logger *log.Logger, baseURL string, opts ...Option) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) GetWorkbook(ctx context.Context, token, workbookID string) (Workbook, error) {
	var out Workbook
	err := c.do(ctx, token, http.MethodGet, "/api/workbooks/"+url.PathEscape(workbookID), nil, &out)
	return out, err
}

func (c *Client) GetSnapshot(ctx context.Context, token, workbookID string) (*workbook.Snapshot, error) {
	var out workbook.Snapshot
	if err := c.do(ctx, token, http.MethodGet, "/api/workbooks/"+url.PathEscape(workbookID)+"/snapshot", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRecordsForAI returns the record listing the data service prepares for
// model consumption: capped, view-filtered, with the total count of records
// passing the table's active filter.
func (c *Client) ListRecordsForAI(ctx context.Context, token, tableID string, req ListRecordsRequest) (RecordPage, error) {
	path := "/api/tables/" + url.PathEscape(tableID) + "/records-for-ai"
	query := url.Values{}
	if req.ViewID != "" {
		query.Set("view_id", req.ViewID)
	}
	if req.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", req.Limit))
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out RecordPage
	err := c.do(ctx, token, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetRecord(ctx context.Context, token, tableID, recordID string) (workbook.Record, error) {
	var out workbook.Record
	err := c.do(ctx, token, http.MethodGet, "/api/tables/"+url.PathEscape(tableID)+"/records/"+url.PathEscape(recordID), nil, &out)
	return out, err
}

func (c *Client) GetRecordsByIDs(ctx context.Context, token, tableID string, ids []string) ([]workbook.Record, error) {
	var out struct {
		Records []workbook.Record `json:"records"`
	}
	body := map[string]any{"ids": ids}
	err := c.do(ctx, token, http.MethodPost, "/api/tables/"+url.PathEscape(tableID)+"/records/by-ids", body, &out)
	return out.Records, err
}

// BulkSuggestRecordUpdates submits suggestion ops. The op shapes are
// validated before any bytes hit the wire; the data service records
// suggestions only, it never applies changes directly.
func (c *Client) BulkSuggestRecordUpdates(ctx context.Context, token, tableID string, ops SuggestionOps) (SuggestionResult, error) {
	if err := ops.Validate(); err != nil {
		return SuggestionResult{}, err
	}
	var out SuggestionResult
	err := c.do(ctx, token, http.MethodPost, "/api/tables/"+url.PathEscape(tableID)+"/suggestions", ops, &out)
	return out, err
}

func (c *Client) AddRecordsToActiveFilter(ctx context.Context, token, tableID string, recordIDs []string) error {
	body := map[string]any{"record_ids": recordIDs}
	return c.do(ctx, token, http.MethodPost, "/api/tables/"+url.PathEscape(tableID)+"/active-filter/records", body, nil)
}

// SetActiveRecordsFilter replaces the table's active SQL record filter. An
// empty clause clears it.
func (c *Client) SetActiveRecordsFilter(ctx context.Context, token, tableID, sqlWhere string) error {
	if strings.TrimSpace(sqlWhere) == "" {
		return c.ClearActiveRecordFilter(ctx, token, tableID)
	}
	body := map[string]any{"sql_where": sqlWhere}
	return c.do(ctx, token, http.MethodPut, "/api/tables/"+url.PathEscape(tableID)+"/active-filter", body, nil)
}

func (c *Client) ClearActiveRecordFilter(ctx context.Context, token, tableID string) error {
	return c.do(ctx, token, http.MethodDelete, "/api/tables/"+url.PathEscape(tableID)+"/active-filter", nil, nil)
}

// CreateView saves a named record-id subset as a view on the table.
func (c *Client) CreateView(ctx context.Context, token, tableID, name string, recordIDs []string) (workbook.View, error) {
	var out workbook.View
	body := map[string]any{"name": name, "record_ids": recordIDs}
	err := c.do(ctx, token, http.MethodPost, "/api/tables/"+url.PathEscape(tableID)+"/views", body, &out)
	return out, err
}

func (c *Client) ActivateView(ctx context.Context, token, tableID, viewID string) error {
	return c.do(ctx, token, http.MethodPost, "/api/tables/"+url.PathEscape(tableID)+"/views/"+url.PathEscape(viewID)+"/activate", nil, nil)
}

func (c *Client) ListViews(ctx context.Context, token, tableID string) ([]workbook.View, error) {
	var out struct {
		Views []workbook.View `json:"views"`
	}
	err := c.do(ctx, token, http.MethodGet, "/api/tables/"+url.PathEscape(tableID)+"/views", nil, &out)
	return out.Views, err
}

func (c *Client) GetView(ctx context.Context, token, viewID string) (workbook.View, error) {
	var out workbook.View
	err := c.do(ctx, token, http.MethodGet, "/api/views/"+url.PathEscape(viewID), nil, &out)
	return out, err
}

func (c *Client) DeleteView(ctx context.Context, token, viewID string) error {
	return c.do(ctx, token, http.MethodDelete, "/api/views/"+url.PathEscape(viewID), nil, nil)
}

func (c *Client) ClearActiveView(ctx context.Context, token, tableID string) error {
	return c.do(ctx, token, http.MethodDelete, "/api/tables/"+url.PathEscape(tableID)+"/active-view", nil, nil)
}

func (c *Client) GetCredentialByService(ctx context.Context, token, service string) (Credential, error) {
	var out Credential
	err := c.do(ctx, token, http.MethodGet, "/api/credentials/service/"+url.PathEscape(service), nil, &out)
	return out, err
}

func (c *Client) GetCredentialByID(ctx context.Context, token, credentialID string) (Credential, error) {
	var out Credential
	err := c.do(ctx, token, http.MethodGet, "/api/credentials/"+url.PathEscape(credentialID), nil, &out)
	return out, err
}

func (c *Client) ReportTokenUsage(ctx context.Context, token string, report UsageReport) error {
	return c.do(ctx, token, http.MethodPost, "/api/usage", report, nil)
}

func (c *Client) GetUploadContent(ctx context.Context, token, uploadID string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/api/uploads/"+url.PathEscape(uploadID)+"/content", nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

func (c *Client) AddScratchColumn(ctx context.Context, token, tableID, name, columnType string) (workbook.Column, error) {
	var out workbook.Column
	body := map[string]any{"name": name, "type": columnType}
	err := c.do(ctx, token, http.MethodPost, "/api/tables/"+url.PathEscape(tableID)+"/columns", body, &out)
	return out, err
}

func (c *Client) RemoveScratchColumn(ctx context.Context, token, tableID, columnID string) error {
	return c.do(ctx, token, http.MethodDelete, "/api/tables/"+url.PathEscape(tableID)+"/columns/"+url.PathEscape(columnID), nil, nil)
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call scratchpad: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode scratchpad response: %w", err)
	}
	return nil
}
