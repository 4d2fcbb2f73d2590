package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var mediaColumns = []string{"id", "company_id", "storage_provider", "storage_key", "mime_type", "size_bytes", "created_at"}

func (s *Store) CreateMedia(ctx context.Context, m *models.Media) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("media").
		Columns(mediaColumns...).
		Values(m.ID, m.CompanyID, m.StorageProvider, m.StorageKey, m.MimeType, m.SizeBytes, m.CreatedAt))
}

func (s *Store) GetMedia(ctx context.Context, id string) (*models.Media, error) {
	var m models.Media
	err := s.get(ctx, &m, sq.Select(mediaColumns...).From("media").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return &m, nil
}
