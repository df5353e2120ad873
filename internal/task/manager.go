// Package task orchestrates agent runs: it spawns the pipeline for each
// inbound message, owns the run lifecycle and timeouts, persists session
// history on success, and keeps a bounded history of finished tasks.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"scratchpad.local/agent-gateway/internal/agent"
	"scratchpad.local/agent-gateway/internal/agenttools"
	"scratchpad.local/agent-gateway/internal/assemble"
	"scratchpad.local/agent-gateway/internal/ids"
	"scratchpad.local/agent-gateway/internal/model"
	"scratchpad.local/agent-gateway/internal/prompt"
	"scratchpad.local/agent-gateway/internal/runctx"
	"scratchpad.local/agent-gateway/internal/runstate"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/session"
	"scratchpad.local/agent-gateway/internal/workbook"
)

const (
	historyLimit = 1000

	stoppedMessage = "Request stopped by user"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// HistoryEntry is the record a finished task leaves in the history ring.
type HistoryEntry struct {
	TaskID        string         `json:"task_id"`
	SessionID     string         `json:"session_id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Status        Status         `json:"status"`
	FinalRunState runstate.State `json:"final_run_state"`
	UserMessage   string         `json:"user_message"`
}

// Callbacks frame run outcomes for the transport layer.
type Callbacks struct {
	Progress   agent.ProgressFunc
	Completion func(envelope agent.ResponseEnvelope)
	Error      func(status int, detail string)
}

// StartRequest carries everything one message run needs.
type StartRequest struct {
	SessionID          string
	UserID             string
	APIToken           string
	Message            string
	Model              string
	ModelContextLength int
	Capabilities       []string
	PromptAssets       []prompt.Asset
	DataScope          string
	ActiveTableID      string
	RecordID           string
	ColumnID           string
	ViewID             string
	CredentialID       string
	MentionedTableIDs  []string
	ReadFocus          []workbook.CellRef
	WriteFocus         []workbook.CellRef
}

type Config struct {
	RunTimeout         time.Duration
	RequestLimit       int
	PreloadLimit       int
	DefaultModel       string
	DefaultContextSize int
}

type liveTask struct {
	entry  HistoryEntry
	cancel context.CancelFunc
}

type Manager struct {
	cfg       Config
	sessions  *session.Service
	states    *runstate.Registry
	assembler *assemble.Assembler
	data      *scratchpad.Client
	models    *model.Registry
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	live    map[string]*liveTask
	history []HistoryEntry
}

func NewManager(logger *log.Logger, cfg Config, sessions *session.Service, states *runstate.Registry, data *scratchpad.Client, models *model.Registry) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 1800 * time.Second
	}
	if cfg.DefaultContextSize <= 0 {
		cfg.DefaultContextSize = 128000
	}
	return &Manager{
		cfg:       cfg,
		sessions:  sessions,
		states:    states,
		assembler: assemble.New(logger, data, cfg.PreloadLimit),
		data:      data,
		models:    models,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartMessageTask appends the user message, registers the run, and spawns
// the pipeline in the background. The task id returns synchronously.
func (m *Manager) StartMessageTask(ctx context.Context, req StartRequest, cb Callbacks) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", fmt.Errorf("message is required")
	}

	sess, err := m.sessions.Get(ctx, req.SessionID, req.UserID)
	if err != nil {
		return "", err
	}

	taskID := ids.Tagged("task")
	now := m.now()

	sess.AppendUserMessage(req.Message, now)
	if err := m.sessions.Update(ctx, sess); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	m.states.Register(taskID)

	runCtx, cancel := context.WithTimeout(context.Background(), m.cfg.RunTimeout)
	m.mu.Lock()
	if m.live == nil {
		m.live = make(map[string]*liveTask)
	}
	m.live[taskID] = &liveTask{
		entry: HistoryEntry{
			TaskID:      taskID,
			SessionID:   req.SessionID,
			CreatedAt:   now,
			UpdatedAt:   now,
			Status:      StatusRunning,
			UserMessage: req.Message,
		},
		cancel: cancel,
	}
	m.mu.Unlock()

	m.emit(cb, agent.ProgressTaskStarted, map[string]any{"task_id": taskID})

	go func() {
		defer cancel()
		m.runPipeline(runCtx, taskID, req, cb)
	}()

	return taskID, nil
}

func (m *Manager) runPipeline(ctx context.Context, taskID string, req StartRequest, cb Callbacks) {
	runID := ids.Tagged("run")
	scope := workbook.ParseScope(req.DataScope)

	provider, err := m.resolveProvider(ctx, req)
	if err != nil {
		m.fail(taskID, cb, err)
		return
	}

	sess, err := m.sessions.Get(ctx, req.SessionID, req.UserID)
	if err != nil {
		m.fail(taskID, cb, err)
		return
	}

	assembled, err := m.assembler.Assemble(ctx, req.APIToken, assemble.Input{
		WorkbookID:        sess.WorkbookID,
		UserMessage:       req.Message,
		Scope:             scope,
		ActiveTableID:     req.ActiveTableID,
		RecordID:          req.RecordID,
		ColumnID:          req.ColumnID,
		ViewID:            req.ViewID,
		MentionedTableIDs: req.MentionedTableIDs,
		ReadFocus:         req.ReadFocus,
		WriteFocus:        req.WriteFocus,
	})
	if err != nil {
		m.fail(taskID, cb, err)
		return
	}

	contextLength := req.ModelContextLength
	if contextLength <= 0 {
		contextLength = m.cfg.DefaultContextSize
	}
	modelName := req.Model
	if strings.TrimSpace(modelName) == "" {
		modelName = m.cfg.DefaultModel
	}

	rc := &runctx.Context{
		TaskID:             taskID,
		RunID:              runID,
		SessionID:          req.SessionID,
		UserID:             req.UserID,
		APIToken:           req.APIToken,
		Model:              modelName,
		ModelContextLength: contextLength,
		Scope:              scope,
		WorkbookID:         assembled.Snapshot.WorkbookID,
		ActiveTableID:      req.ActiveTableID,
		RecordID:           req.RecordID,
		ColumnID:           req.ColumnID,
		ViewID:             req.ViewID,
		Capabilities:       runctx.ParseCapabilities(req.Capabilities),
		ReadFocus:          req.ReadFocus,
		WriteFocus:         req.WriteFocus,
		Snapshot:           assembled.Snapshot,
		Records:            assembled.Records,
		FilteredCounts:     assembled.FilteredCounts,
		UploadContents:     make(map[string]string),
		Scratchpad:         m.data,
		Logger:             m.logger,
	}

	runner := agent.New(rc, agent.Config{
		Provider:     provider,
		Tools:        agenttools.ForRun(rc),
		Instructions: prompt.Compose(scope, req.PromptAssets),
		UserMessage:  req.Message,
		UserPrompt:   assembled.UserPrompt,
		History:      sess.MessageHistory,
		RequestLimit: m.cfg.RequestLimit,
		States:       m.states,
		Progress:     cb.Progress,
		Logger:       m.logger,
	})

	result, err := runner.Run(ctx)
	switch {
	case err == nil:
		m.completeSuccess(ctx, taskID, req, rc, result, cb)
	default:
		var stopped *agent.RunStoppedError
		if errors.As(err, &stopped) {
			m.completeStopped(ctx, taskID, req, rc, cb)
			return
		}
		if ctx.Err() != nil {
			m.completeInterrupted(ctx, taskID, req, rc, cb)
			return
		}
		m.fail(taskID, cb, err)
	}
}

// resolveProvider picks the model provider: a run-scoped credential when the
// request names one, then the user's stored openrouter credential, then the
// system default.
func (m *Manager) resolveProvider(ctx context.Context, req StartRequest) (model.Provider, error) {
	if strings.TrimSpace(req.CredentialID) != "" {
		credential, err := m.data.GetCredentialByID(ctx, req.APIToken, req.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("resolve credential: %w", err)
		}
		if provider, ok := m.models.New("openrouter", credential.APIKey); ok {
			return provider, nil
		}
	}
	if credential, err := m.data.GetCredentialByService(ctx, req.APIToken, "openrouter"); err == nil && credential.APIKey != "" {
		if provider, ok := m.models.New("openrouter", credential.APIKey); ok {
			return provider, nil
		}
	}
	if provider, ok := m.models.Get("openrouter"); ok {
		return provider, nil
	}
	return nil, errUnauthorizedProvider
}

func (m *Manager) completeSuccess(ctx context.Context, taskID string, req StartRequest, rc *runctx.Context, result *agent.Result, cb Callbacks) {
	now := m.now()

	sess, err := m.sessions.Get(ctx, req.SessionID, req.UserID)
	if err != nil {
		m.fail(taskID, cb, err)
		return
	}
	sess.AppendAssistantMessage(result.Envelope.ResponseMessage, result.Usage, now)
	sess.AppendSummary(result.Envelope.RequestSummary, result.Envelope.ResponseSummary, now)
	if result.Envelope.RequestSummary != "" {
		sess.MaybeRename(req.Message)
	}
	sess.MessageHistory = result.Messages
	if err := m.sessions.Update(ctx, sess); err != nil {
		m.fail(taskID, cb, fmt.Errorf("persist session: %w", err))
		return
	}

	m.reportUsage(ctx, req, rc, result.Usage, false)
	if cb.Completion != nil {
		cb.Completion(result.Envelope)
	}
	m.finish(taskID, StatusCompleted)
}

// completeStopped handles a cooperative stop: the run still delivers a
// synthetic envelope with partial usage, and the stop is tracked to the
// usage endpoint as user-cancelled.
func (m *Manager) completeStopped(ctx context.Context, taskID string, req StartRequest, rc *runctx.Context, cb Callbacks) {
	now := m.now()
	usage := rc.Usage()
	envelope := agent.ResponseEnvelope{
		ResponseMessage: stoppedMessage,
		ResponseSummary: stoppedMessage,
		RequestSummary:  stoppedMessage,
		UsageStats:      usage,
	}

	sess, err := m.sessions.Get(ctx, req.SessionID, req.UserID)
	if err == nil {
		sess.AppendAssistantMessage(stoppedMessage, usage, now)
		sess.AppendSummary(stoppedMessage, stoppedMessage, now)
		if err := m.sessions.Update(ctx, sess); err != nil {
			m.logger.Printf("level=warn msg=\"persist stopped session failed\" session=%s err=%q", req.SessionID, err)
		}
	}

	m.reportUsage(ctx, req, rc, usage, true)
	if cb.Completion != nil {
		cb.Completion(envelope)
	}
	m.finish(taskID, StatusCancelled)
}

// completeInterrupted handles timeout and hard cancel. No envelope is
// produced; usage observed so far is still reported.
func (m *Manager) completeInterrupted(ctx context.Context, taskID string, req StartRequest, rc *runctx.Context, cb Callbacks) {
	m.reportUsage(context.Background(), req, rc, rc.Usage(), true)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.states.UpdateRunState(taskID, runstate.Timeout)
		if cb.Error != nil {
			cb.Error(408, fmt.Sprintf("agent run timed out after %s", m.cfg.RunTimeout))
		}
		m.finish(taskID, StatusFailed)
		return
	}
	m.finish(taskID, StatusCancelled)
}

func (m *Manager) fail(taskID string, cb Callbacks, err error) {
	status, detail := MapError(err)
	m.logger.Printf("level=error msg=\"task failed\" task=%s status=%d err=%q", taskID, status, err)
	if cb.Error != nil {
		cb.Error(status, detail)
	}
	m.finish(taskID, StatusFailed)
}

func (m *Manager) reportUsage(ctx context.Context, req StartRequest, rc *runctx.Context, usage model.Usage, cancelled bool) {
	if usage.Requests == 0 {
		return
	}
	report := scratchpad.UsageReport{
		SessionID:       req.SessionID,
		RunID:           rc.RunID,
		Model:           rc.Model,
		Requests:        usage.Requests,
		RequestTokens:   usage.RequestTokens,
		ResponseTokens:  usage.ResponseTokens,
		TotalTokens:     usage.TotalTokens,
		CancelledByUser: cancelled,
	}
	if err := m.data.ReportTokenUsage(ctx, req.APIToken, report); err != nil {
		m.logger.Printf("level=warn msg=\"usage report failed\" run=%s err=%q", rc.RunID, err)
	}
}

// finish moves a live task into the bounded history ring.
func (m *Manager) finish(taskID string, status Status) {
	finalState, _ := m.states.RunState(taskID)
	m.states.Delete(taskID)

	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.live[taskID]
	if !ok {
		return
	}
	delete(m.live, taskID)

	live.entry.Status = status
	live.entry.FinalRunState = finalState
	live.entry.UpdatedAt = m.now()
	m.history = append(m.history, live.entry)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// InitiateStop requests a cooperative stop; the run raises at its next
// checkpoint. Returns false for unknown or finished tasks.
func (m *Manager) InitiateStop(taskID string) bool {
	return m.states.Cancel(taskID)
}

// HardCancel kills the run's context. Idempotent: a finished task is a noop
// returning false.
func (m *Manager) HardCancel(taskID string) bool {
	m.mu.Lock()
	live, ok := m.live[taskID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	live.cancel()
	return true
}

// History returns a copy of the finished-task ring, newest last.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history...)
}

func (m *Manager) emit(cb Callbacks, kind agent.ProgressType, payload map[string]any) {
	if cb.Progress == nil {
		return
	}
	cb.Progress(agent.Progress{Type: kind, Payload: payload, Timestamp: m.now()})
}
