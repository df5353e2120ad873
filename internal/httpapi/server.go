// Package httpapi exposes the REST surface and the websocket endpoint of
// the gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"scratchpad.local/agent-gateway/internal/auth"
	"scratchpad.local/agent-gateway/internal/session"
	"scratchpad.local/agent-gateway/internal/task"
	"scratchpad.local/agent-gateway/internal/ws"
)

const maxFrameBytes = 1 << 20

type Server struct {
	logger        *log.Logger
	sessions      *session.Service
	tasks         *task.Manager
	conns         *ws.ConnManager
	dispatcher    *ws.Dispatcher
	verifier      *auth.Verifier
	cleanupMaxAge time.Duration
	upgrader      websocket.Upgrader
}

func New(logger *log.Logger, sessions *session.Service, tasks *task.Manager, conns *ws.ConnManager, dispatcher *ws.Dispatcher, verifier *auth.Verifier, cleanupMaxAge time.Duration) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cleanupMaxAge <= 0 {
		cleanupMaxAge = 24 * time.Hour
	}
	return &Server{
		logger:        logger,
		sessions:      sessions,
		tasks:         tasks,
		conns:         conns,
		dispatcher:    dispatcher,
		verifier:      verifier,
		cleanupMaxAge: cleanupMaxAge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.withAuth(s.handleCreateSession))
	mux.HandleFunc("GET /sessions", s.withAuth(s.handleListSessions))
	mux.HandleFunc("GET /sessions/workbook/{workbook_id}", s.withAuth(s.handleListWorkbookSessions))
	mux.HandleFunc("GET /sessions/{id}", s.withAuth(s.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.withAuth(s.handleDeleteSession))
	mux.HandleFunc("POST /sessions/{id}/cancel-agent-run/{run_id}", s.withAuth(s.handleCancelRun))
	mux.HandleFunc("POST /cleanup", s.withAuth(s.handleCleanup))
	mux.HandleFunc("GET /tasks/history", s.withAuth(s.handleTaskHistory))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)

func (s *Server) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
		claims, err := s.verifier.Parse(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid agent token")
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.conns.ActivitySnapshot(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	workbookID := r.URL.Query().Get("workbook_id")
	created, err := s.sessions.Create(r.Context(), claims.UserID(), r.URL.Query().Get("session_id"), workbookID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	found, err := s.sessions.Get(r.Context(), r.PathValue("id"), claims.UserID())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id"), claims.UserID()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	sessions, err := s.sessions.SessionsForUser(r.Context(), claims.UserID())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleListWorkbookSessions(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	sessions, err := s.sessions.SessionsForWorkbook(r.Context(), r.PathValue("workbook_id"), claims.UserID())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleCancelRun cooperative-stops a run; the task notices at its next
// checkpoint and answers on the websocket with a stop envelope.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	if _, err := s.sessions.Get(r.Context(), r.PathValue("id"), claims.UserID()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	taskID := r.PathValue("run_id")
	if !s.tasks.InitiateStop(taskID) {
		s.writeError(w, http.StatusNotFound, "no running task "+taskID)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stop_initiated", "task_id": taskID})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	removed, err := s.sessions.CleanupInactive(r.Context(), s.cleanupMaxAge)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, _ *http.Request, _ *auth.Claims) {
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": s.tasks.History()})
}

// handleWebSocket authenticates via the auth query parameter, binds the
// socket to the session, and pumps inbound frames to the dispatcher.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Parse(r.URL.Query().Get("auth"))
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "missing or invalid agent token")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if _, err := s.sessions.Get(r.Context(), sessionID, claims.UserID()); err != nil {
		s.writeSessionError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("level=warn msg=\"ws upgrade failed\" session=%s err=%q", sessionID, err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	s.conns.Connect(sessionID, conn)
	if err := s.conns.Send(sessionID, ws.NewOutboundFrame(ws.FrameConnectionConfirmed, map[string]string{
		"message": "connected to session " + sessionID,
	})); err != nil {
		s.logger.Printf("level=warn msg=\"confirm frame failed\" session=%s err=%q", sessionID, err)
	}

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			s.conns.Disconnect(sessionID, conn)
			_ = conn.Close()
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.dispatcher.HandleFrame(context.Background(), sessionID, claims.UserID(), raw)
	}
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("level=warn msg=\"response encode failed\" err=%q", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
