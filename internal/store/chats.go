package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var chatColumns = []string{
	"id", "company_id", "session_id", "wa_chat_id", "type",
	"client_id", "last_message_at", "unread_count", "created_at",
}

func (s *Store) CreateChat(ctx context.Context, c *models.Chat) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("chats").
		Columns("id", "company_id", "session_id", "wa_chat_id", "type", "client_id", "unread_count", "created_at").
		Values(c.ID, c.CompanyID, c.SessionID, c.WaChatID, c.Type, c.ClientID, c.UnreadCount, c.CreatedAt))
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	err := s.get(ctx, &c, sq.Select(chatColumns...).From("chats").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChatByWaID resolves a chat by its (tenant, session, external id) key.
func (s *Store) GetChatByWaID(ctx context.Context, companyID, sessionID, waChatID string) (*models.Chat, error) {
	var c models.Chat
	err := s.get(ctx, &c, sq.Select(chatColumns...).From("chats").
		Where(sq.Eq{"company_id": companyID, "session_id": sessionID, "wa_chat_id": waChatID}))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SetChatClient(ctx context.Context, chatID, clientID string) error {
	return s.exec(ctx, sq.Update("chats").
		Set("client_id", clientID).
		Where(sq.Eq{"id": chatID}))
}

// BumpChatUnread increments the unread counter and advances the
// last-message timestamp; used by the inbound pipeline.
func (s *Store) BumpChatUnread(ctx context.Context, chatID string) error {
	return s.exec(ctx, sq.Update("chats").
		Set("unread_count", sq.Expr("unread_count + 1")).
		Set("last_message_at", time.Now()).
		Where(sq.Eq{"id": chatID}))
}

// TouchChat advances the last-message timestamp without touching unread;
// used for outbound messages.
func (s *Store) TouchChat(ctx context.Context, chatID string) error {
	return s.exec(ctx, sq.Update("chats").
		Set("last_message_at", time.Now()).
		Where(sq.Eq{"id": chatID}))
}

func (s *Store) ListChatsBySession(ctx context.Context, sessionID string) ([]models.Chat, error) {
	var out []models.Chat
	err := s.selectAll(ctx, &out, sq.Select(chatColumns...).From("chats").
		Where(sq.Eq{"session_id": sessionID}).OrderBy("created_at ASC"))
	return out, err
}

// ListChatsForClient returns all chats of a client under one session.
func (s *Store) ListChatsForClient(ctx context.Context, companyID, clientID, sessionID string) ([]models.Chat, error) {
	var out []models.Chat
	err := s.selectAll(ctx, &out, sq.Select(chatColumns...).From("chats").
		Where(sq.Eq{"company_id": companyID, "client_id": clientID, "session_id": sessionID}))
	return out, err
}
