package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var messageColumns = []string{
	"id", "company_id", "session_id", "chat_id", "wa_message_id",
	"direction", "type", "body", "caption", "media_id", "ack",
	"wa_timestamp", "fetched_from_whatsapp", "cache_until", "created_at",
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("messages").
		Columns(messageColumns...).
		Values(m.ID, m.CompanyID, m.SessionID, m.ChatID, m.WaMessageID,
			m.Direction, m.Type, m.Body, m.Caption, m.MediaID, m.Ack,
			m.WaTimestamp, m.FetchedFromWhatsApp, m.CacheUntil, m.CreatedAt))
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.get(ctx, &m, sq.Select(messageColumns...).From("messages").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageAck applies a delivery ack, matched by external message id
// within a tenant. Returns the number of rows touched; zero means the ack
// referenced a message this process never stored.
func (s *Store) UpdateMessageAck(ctx context.Context, companyID, waMessageID string, ack models.Ack) (int64, error) {
	return s.execCount(ctx, sq.Update("messages").
		Set("ack", ack).
		Where(sq.Eq{"company_id": companyID, "wa_message_id": waMessageID}))
}

// ListMessagesInWindow returns messages for the given chats created inside
// [start, end), newest first, capped at limit. Cache-fetched rows are only
// included while their cache is still valid.
func (s *Store) ListMessagesInWindow(ctx context.Context, chatIDs []string, start, end, now time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	b := sq.Select(messageColumns...).From("messages").
		Where(sq.Eq{"chat_id": chatIDs}).
		Where(sq.GtOrEq{"created_at": start}).
		Where(sq.Lt{"created_at": end}).
		Where(sq.Or{
			sq.Eq{"fetched_from_whatsapp": false},
			sq.And{
				sq.Eq{"fetched_from_whatsapp": true},
				sq.GtOrEq{"cache_until": now},
			},
		}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	err := s.selectAll(ctx, &out, b)
	return out, err
}

// DeleteExpiredCache removes cache-fetched messages whose cache window has
// passed. Idempotent; returns the number of rows removed.
func (s *Store) DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, sq.Delete("messages").
		Where(sq.Eq{"fetched_from_whatsapp": true}).
		Where(sq.Lt{"cache_until": now}))
}

// DeleteOldMessages removes ordinary history older than the cutoff for one
// tenant. Cache-fetched rows are exempt; they expire through their own
// cache_until instead, so the two sweeps never contend for the same rows.
func (s *Store) DeleteOldMessages(ctx context.Context, companyID string, cutoff time.Time) (int64, error) {
	return s.execCount(ctx, sq.Delete("messages").
		Where(sq.Eq{"company_id": companyID, "fetched_from_whatsapp": false}).
		Where(sq.Lt{"created_at": cutoff}))
}

// CountMessagesByChat returns the number of stored messages in a chat.
func (s *Store) CountMessagesByChat(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.get(ctx, &n, sq.Select("COUNT(*)").From("messages").Where(sq.Eq{"chat_id": chatID}))
	return n, err
}
