package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var companyColumns = []string{"id", "name", "retention_days", "cache_fetched_days", "media_provider", "created_at", "deleted_at"}

func (s *Store) CreateCompany(ctx context.Context, c *models.Company) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("companies").
		Columns(companyColumns[:len(companyColumns)-1]...).
		Values(c.ID, c.Name, c.RetentionDays, c.CacheFetchedDays, c.MediaProvider, c.CreatedAt))
}

func (s *Store) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	var c models.Company
	err := s.get(ctx, &c, sq.Select(companyColumns...).From("companies").
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCompanies(ctx context.Context) ([]models.Company, error) {
	var out []models.Company
	err := s.selectAll(ctx, &out, sq.Select(companyColumns...).From("companies").
		Where(sq.Eq{"deleted_at": nil}).OrderBy("created_at ASC"))
	return out, err
}
