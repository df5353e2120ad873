package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"scratchpad.local/agent-gateway/internal/model"
)

// sessionRow is the ORM shape. Histories are stored as JSON text so the
// schema stays stable while the message format evolves.
type sessionRow struct {
	SessionID      string    `gorm:"column:session_id;primaryKey"`
	UserID         string    `gorm:"column:user_id;index"`
	WorkbookID     string    `gorm:"column:workbook_id;index"`
	Name           string    `gorm:"column:name"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	LastActivity   time.Time `gorm:"column:last_activity;index"`
	ChatHistory    string    `gorm:"column:chat_history;type:text"`
	SummaryHistory string    `gorm:"column:summary_history;type:text"`
	MessageHistory string    `gorm:"column:message_history;type:text"`
}

func (sessionRow) TableName() string { return "agent_sessions" }

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &GormStore{db: db}, nil
}

func toRow(s *Session) (*sessionRow, error) {
	chat, err := json.Marshal(s.ChatHistory)
	if err != nil {
		return nil, fmt.Errorf("encode chat history: %w", err)
	}
	summaries, err := json.Marshal(s.SummaryHistory)
	if err != nil {
		return nil, fmt.Errorf("encode summary history: %w", err)
	}
	transcript, err := json.Marshal(s.MessageHistory)
	if err != nil {
		return nil, fmt.Errorf("encode message history: %w", err)
	}
	return &sessionRow{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		WorkbookID:     s.WorkbookID,
		Name:           s.Name,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.LastActivity,
		ChatHistory:    string(chat),
		SummaryHistory: string(summaries),
		MessageHistory: string(transcript),
	}, nil
}

func fromRow(row *sessionRow) (*Session, error) {
	s := &Session{
		SessionID:    row.SessionID,
		UserID:       row.UserID,
		WorkbookID:   row.WorkbookID,
		Name:         row.Name,
		CreatedAt:    row.CreatedAt,
		LastActivity: row.LastActivity,
	}
	if row.ChatHistory != "" {
		if err := json.Unmarshal([]byte(row.ChatHistory), &s.ChatHistory); err != nil {
			return nil, fmt.Errorf("decode chat history: %w", err)
		}
	}
	if row.SummaryHistory != "" {
		if err := json.Unmarshal([]byte(row.SummaryHistory), &s.SummaryHistory); err != nil {
			return nil, fmt.Errorf("decode summary history: %w", err)
		}
	}
	if row.MessageHistory != "" {
		var transcript []model.Message
		if err := json.Unmarshal([]byte(row.MessageHistory), &transcript); err != nil {
			return nil, fmt.Errorf("decode message history: %w", err)
		}
		s.MessageHistory = transcript
	}
	return s, nil
}

func (g *GormStore) Create(ctx context.Context, s *Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(row).Error
}

func (g *GormStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func (g *GormStore) Update(ctx context.Context, s *Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	result := g.db.WithContext(ctx).Model(&sessionRow{}).
		Where("session_id = ?", s.SessionID).
		Select("*").
		Updates(row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) Delete(ctx context.Context, sessionID string) error {
	result := g.db.WithContext(ctx).Delete(&sessionRow{}, "session_id = ?", sessionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	return g.list(ctx, "user_id = ?", userID)
}

func (g *GormStore) ListByWorkbook(ctx context.Context, workbookID string) ([]*Session, error) {
	return g.list(ctx, "workbook_id = ?", workbookID)
}

func (g *GormStore) list(ctx context.Context, query string, arg any) ([]*Session, error) {
	var rows []sessionRow
	if err := g.db.WithContext(ctx).Where(query, arg).Order("last_activity desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(rows))
	for i := range rows {
		s, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *GormStore) DeleteInactive(ctx context.Context, cutoff time.Time) (int, error) {
	result := g.db.WithContext(ctx).Delete(&sessionRow{}, "last_activity < ?", cutoff)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
