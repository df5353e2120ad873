package task

import (
	"context"
	"errors"
	"net/http"

	"scratchpad.local/agent-gateway/internal/agent"
	"scratchpad.local/agent-gateway/internal/auth"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/session"
)

var errUnauthorizedProvider = errors.New("no model credentials available for this run")

// MapError assigns a canonical HTTP-style status to an escaped pipeline
// error, feeding both the REST surface and framed agent_error responses.
func MapError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var limit *agent.TokenLimitError
	if errors.As(err, &limit) {
		return http.StatusRequestEntityTooLarge, limit.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "agent run timed out"
	}
	if errors.Is(err, session.ErrNotFound) {
		return http.StatusNotFound, "session not found"
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, errUnauthorizedProvider) {
		return http.StatusUnauthorized, err.Error()
	}

	var apiErr *scratchpad.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized:
			return http.StatusUnauthorized, err.Error()
		case http.StatusNotFound:
			return http.StatusNotFound, err.Error()
		}
	}
	return http.StatusInternalServerError, err.Error()
}
