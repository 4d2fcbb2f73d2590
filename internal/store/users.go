package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var userColumns = []string{"id", "company_id", "name", "email", "is_active", "created_at", "deleted_at"}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("users").
		Columns("id", "company_id", "name", "email", "is_active", "created_at").
		Values(u.ID, u.CompanyID, u.Name, u.Email, u.IsActive, u.CreatedAt))
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.get(ctx, &u, sq.Select(userColumns...).From("users").
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	return &u, nil
}
