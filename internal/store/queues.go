package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var queueColumns = []string{"id", "company_id", "name", "greeting_message", "is_active", "created_at", "deleted_at"}

func (s *Store) CreateQueue(ctx context.Context, q *models.Queue) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("queues").
		Columns("id", "company_id", "name", "greeting_message", "is_active", "created_at").
		Values(q.ID, q.CompanyID, q.Name, q.GreetingMessage, q.IsActive, q.CreatedAt))
}

func (s *Store) GetQueue(ctx context.Context, id string) (*models.Queue, error) {
	var q models.Queue
	err := s.get(ctx, &q, sq.Select(queueColumns...).From("queues").
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListActiveQueues returns a tenant's active queues ordered by creation time.
// The order is what the numbered menu presented to clients is built from.
func (s *Store) ListActiveQueues(ctx context.Context, companyID string) ([]models.Queue, error) {
	var out []models.Queue
	err := s.selectAll(ctx, &out, sq.Select(queueColumns...).From("queues").
		Where(sq.Eq{"company_id": companyID, "is_active": true, "deleted_at": nil}).
		OrderBy("created_at ASC"))
	return out, err
}

func (s *Store) AddUserToQueue(ctx context.Context, userID, queueID string) error {
	return s.exec(ctx, sq.Insert("user_queues").
		Columns("user_id", "queue_id", "created_at").
		Values(userID, queueID, time.Now()))
}

// ListQueueAgents returns the ids of agents serving a queue, roster order.
func (s *Store) ListQueueAgents(ctx context.Context, queueID string) ([]string, error) {
	var out []string
	err := s.selectAll(ctx, &out, sq.Select("user_id").From("user_queues").
		Where(sq.Eq{"queue_id": queueID}).OrderBy("created_at ASC"))
	return out, err
}

// ListQueueIDsForUser returns the queues an agent serves.
func (s *Store) ListQueueIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := s.selectAll(ctx, &out, sq.Select("queue_id").From("user_queues").
		Where(sq.Eq{"user_id": userID}))
	return out, err
}
