package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service wraps a Store with user isolation and activity tracking.
// last_activity moves on every read and successful write.
type Service struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

func NewService(logger *log.Logger, store Store) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Create(ctx context.Context, userID, sessionID, workbookID string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(workbookID) == "" {
		return nil, fmt.Errorf("workbook id is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}

	now := s.now()
	created := &Session{
		SessionID:    sessionID,
		UserID:       userID,
		WorkbookID:   workbookID,
		Name:         DefaultName,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.store.Create(ctx, created); err != nil {
		return nil, err
	}
	s.logger.Printf("level=info msg=\"session created\" session=%s user=%s workbook=%s", sessionID, userID, workbookID)
	return created, nil
}

// Get loads a session. A non-empty userID enforces isolation: sessions of
// other users read as not found.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (*Session, error) {
	found, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != "" && found.UserID != userID {
		return nil, ErrNotFound
	}

	found.LastActivity = s.now()
	if err := s.store.Update(ctx, found); err != nil {
		s.logger.Printf("level=warn msg=\"activity touch failed\" session=%s err=%q", sessionID, err)
	}
	return found, nil
}

func (s *Service) Update(ctx context.Context, updated *Session) error {
	updated.LastActivity = s.now()
	return s.store.Update(ctx, updated)
}

func (s *Service) Delete(ctx context.Context, sessionID, userID string) error {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return err
	}
	return s.store.Delete(ctx, sessionID)
}

func (s *Service) SessionsForUser(ctx context.Context, userID string) ([]*Session, error) {
	return s.store.ListByUser(ctx, userID)
}

// SessionsForWorkbook lists a workbook's sessions, filtered to the caller's
// when userID is non-empty.
func (s *Service) SessionsForWorkbook(ctx context.Context, workbookID, userID string) ([]*Session, error) {
	sessions, err := s.store.ListByWorkbook(ctx, workbookID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return sessions, nil
	}
	out := sessions[:0]
	for _, found := range sessions {
		if found.UserID == userID {
			out = append(out, found)
		}
	}
	return out, nil
}

// CleanupInactive drops sessions idle longer than maxAge and reports the
// count. Invoked by both the manual endpoint and the background sweep.
func (s *Service) CleanupInactive(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed, err := s.store.DeleteInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Printf("level=info msg=\"inactive sessions removed\" count=%d max_age=%s", removed, maxAge)
	}
	return removed, nil
}

// Sweep runs CleanupInactive on a ticker until the context ends.
func (s *Service) Sweep(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupInactive(ctx, maxAge); err != nil {
				s.logger.Printf("level=error msg=\"cleanup sweep failed\" err=%q", err)
			}
		}
	}
}
