package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"

	"scratchpad.local/agent-gateway/internal/agent"
	"scratchpad.local/agent-gateway/internal/auth"
	"scratchpad.local/agent-gateway/internal/task"
	"scratchpad.local/agent-gateway/internal/workbook"
)

// Dispatcher routes inbound frames to the task manager and frames run
// outcomes back onto the session's socket. Per-message failures answer with
// agent_error; the connection is always retained.
type Dispatcher struct {
	conns    *ConnManager
	tasks    *task.Manager
	verifier *auth.Verifier
	logger   *log.Logger
}

func NewDispatcher(logger *log.Logger, conns *ConnManager, tasks *task.Manager, verifier *auth.Verifier) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{conns: conns, tasks: tasks, verifier: verifier, logger: logger}
}

// HandleFrame processes one inbound frame for an authenticated connection.
func (d *Dispatcher) HandleFrame(ctx context.Context, sessionID, userID string, raw []byte) {
	var frame InboundFrame
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&frame); err != nil {
		d.sendError(sessionID, "malformed frame: "+err.Error())
		return
	}
	d.conns.TrackActivity(sessionID, frame.Type)

	switch frame.Type {
	case FramePing:
		d.send(sessionID, FramePong, messageData{Message: "pong"})
	case FrameEchoError:
		d.sendError(sessionID, "echoed error for client testing")
	case FrameStop:
		d.handleStop(sessionID, frame.Data)
	case FrameMessage:
		d.handleMessage(ctx, sessionID, userID, frame.Data)
	default:
		d.sendError(sessionID, "unknown frame type "+frame.Type)
	}
}

func (d *Dispatcher) handleStop(sessionID string, data json.RawMessage) {
	var stop StopMessage
	if err := json.Unmarshal(data, &stop); err != nil || strings.TrimSpace(stop.TaskID) == "" {
		d.sendError(sessionID, "stop requires task_id")
		return
	}

	var ok bool
	if stop.HardKill {
		ok = d.tasks.HardCancel(stop.TaskID)
	} else {
		ok = d.tasks.InitiateStop(stop.TaskID)
	}
	if !ok {
		d.sendError(sessionID, "no running task "+stop.TaskID)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, sessionID, userID string, data json.RawMessage) {
	var msg SendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.sendError(sessionID, "malformed message payload: "+err.Error())
		return
	}

	claims, err := d.verifier.Parse(msg.AgentJWT)
	if err != nil {
		d.sendError(sessionID, "invalid agent token")
		return
	}
	if claims.UserID() != userID {
		d.sendError(sessionID, "agent token does not match the connection user")
		return
	}
	if !claims.ModelAllowed(msg.Model) {
		// Per-message rejection; the connection stays open.
		d.sendError(sessionID, "model "+msg.Model+" is not in the allowed list")
		return
	}

	apiToken := claims.APIToken
	if apiToken == "" {
		apiToken = msg.AgentJWT
	}

	req := task.StartRequest{
		SessionID:          sessionID,
		UserID:             userID,
		APIToken:           apiToken,
		Message:            msg.Message,
		Model:              msg.Model,
		ModelContextLength: msg.ModelContextLength,
		Capabilities:       msg.Capabilities,
		PromptAssets:       msg.PromptAssets,
		DataScope:          msg.DataScope,
		ActiveTableID:      msg.ActiveTableID,
		RecordID:           msg.RecordID,
		ColumnID:           msg.ColumnID,
		ViewID:             msg.ViewID,
		CredentialID:       msg.CredentialID,
		MentionedTableIDs:  msg.MentionedTableIDs,
	}
	if msg.RecordID != "" && msg.ColumnID != "" {
		req.WriteFocus = []workbook.CellRef{{RecordWsID: msg.RecordID, ColumnWsID: msg.ColumnID}}
	}

	callbacks := task.Callbacks{
		Progress: func(p agent.Progress) {
			d.send(sessionID, FrameMessageProgress, progressData{
				ProgressType: string(p.Type),
				Message:      p.Message,
				Payload:      p.Payload,
			})
		},
		Completion: func(envelope agent.ResponseEnvelope) {
			d.send(sessionID, FrameMessageResponse, envelope)
		},
		Error: func(status int, detail string) {
			d.sendError(sessionID, detail)
		},
	}

	if _, err := d.tasks.StartMessageTask(ctx, req, callbacks); err != nil {
		_, detail := task.MapError(err)
		d.sendError(sessionID, detail)
	}
}

func (d *Dispatcher) send(sessionID, frameType string, data any) {
	if err := d.conns.Send(sessionID, NewOutboundFrame(frameType, data)); err != nil {
		d.logger.Printf("level=debug msg=\"frame dropped\" session=%s type=%s err=%q", sessionID, frameType, err)
	}
}

func (d *Dispatcher) sendError(sessionID, detail string) {
	d.send(sessionID, FrameAgentError, errorData{Detail: detail})
}
