package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TokenLimitError is raised when a request would not fit the model context,
// either by the pre-run estimate or by a provider context-length error.
type TokenLimitError struct {
	Requested int
	Max       int
	PreRun    bool
}

func (e *TokenLimitError) Error() string {
	phase := "provider"
	if e.PreRun {
		phase = "pre-run"
	}
	return fmt.Sprintf("token limit exceeded (%s): requested %d, max %d", phase, e.Requested, e.Max)
}

// RunStoppedError is the sentinel raised at a stop checkpoint. A stopped run
// is not a failure; callers synthesize a response envelope from it.
type RunStoppedError struct {
	RunID string
	When  time.Time
}

func (e *RunStoppedError) Error() string {
	return fmt.Sprintf("run %s stopped by user at %s", e.RunID, e.When.UTC().Format(time.RFC3339))
}

var (
	reInputTokensLimit = regexp.MustCompile(`input_tokens_limit of (\d+)`)
	reMaxContext       = regexp.MustCompile(`maximum context length is (\d+) tokens`)
	reRequestedTokens  = regexp.MustCompile(`requested about (\d+) tokens`)
)

// parseTokenLimit downgrades free-form provider errors into a typed token
// limit error when the message carries a recognizable context-length shape.
// currentTokens stands in for the requested count when the message only
// names the limit. If nothing matches, the original error stands.
func parseTokenLimit(err error, currentTokens int) (*TokenLimitError, bool) {
	if err == nil {
		return nil, false
	}
	text := err.Error()

	if m := reInputTokensLimit.FindStringSubmatch(text); m != nil {
		max, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			return &TokenLimitError{Requested: currentTokens, Max: max}, true
		}
	}

	if !strings.Contains(text, "context length") {
		return nil, false
	}
	limit := &TokenLimitError{Requested: currentTokens}
	matched := false
	if m := reMaxContext.FindStringSubmatch(text); m != nil {
		if max, convErr := strconv.Atoi(m[1]); convErr == nil {
			limit.Max = max
			matched = true
		}
	}
	if m := reRequestedTokens.FindStringSubmatch(text); m != nil {
		if requested, convErr := strconv.Atoi(m[1]); convErr == nil {
			limit.Requested = requested
			matched = true
		}
	}
	if !matched {
		return nil, false
	}
	return limit, true
}
