package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var clientColumns = []string{
	"id", "company_id", "name", "whatsapp_number", "wa_user_id",
	"profile_pic_url", "is_blocked", "last_contact_at", "created_at", "deleted_at",
}

func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("clients").
		Columns("id", "company_id", "name", "whatsapp_number", "wa_user_id", "profile_pic_url", "is_blocked", "last_contact_at", "created_at").
		Values(c.ID, c.CompanyID, c.Name, c.WhatsAppNumber, c.WaUserID, c.ProfilePicURL, c.IsBlocked, c.LastContactAt, c.CreatedAt))
}

func (s *Store) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	err := s.get(ctx, &c, sq.Select(clientColumns...).From("clients").
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClientByNumber resolves a client by its per-tenant unique phone number.
func (s *Store) GetClientByNumber(ctx context.Context, companyID, number string) (*models.Client, error) {
	var c models.Client
	err := s.get(ctx, &c, sq.Select(clientColumns...).From("clients").
		Where(sq.Eq{"company_id": companyID, "whatsapp_number": number, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateClientInfo refreshes name/profile picture metadata and bumps the
// last-contact timestamp.
func (s *Store) UpdateClientInfo(ctx context.Context, id string, name *string, profilePicURL *string) error {
	b := sq.Update("clients").Set("last_contact_at", time.Now()).Where(sq.Eq{"id": id})
	if name != nil {
		b = b.Set("name", *name)
	}
	if profilePicURL != nil {
		b = b.Set("profile_pic_url", *profilePicURL)
	}
	return s.exec(ctx, b)
}

func (s *Store) TouchClientContact(ctx context.Context, id string) error {
	return s.exec(ctx, sq.Update("clients").
		Set("last_contact_at", time.Now()).
		Where(sq.Eq{"id": id}))
}
