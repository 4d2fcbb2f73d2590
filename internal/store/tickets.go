package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var ticketColumns = []string{
	"id", "company_id", "client_id", "user_id", "queue_id", "category_id",
	"chat_id", "subject", "resolution_text", "status", "priority",
	"reopened_count", "last_message_at", "created_at", "deleted_at",
}

var openStatuses = []models.TicketStatus{
	models.TicketAwaitingClientChoice,
	models.TicketAwaitingAgent,
	models.TicketInProgress,
}

func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("tickets").
		Columns("id", "company_id", "client_id", "user_id", "queue_id", "chat_id", "subject", "status", "priority", "created_at").
		Values(t.ID, t.CompanyID, t.ClientID, t.UserID, t.QueueID, t.ChatID, t.Subject, t.Status, t.Priority, t.CreatedAt))
}

func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.get(ctx, &t, sq.Select(ticketColumns...).From("tickets").
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetOpenTicketByClient returns the single non-finished ticket of a client,
// newest first in case soft-deleted leftovers ever coexist.
func (s *Store) GetOpenTicketByClient(ctx context.Context, clientID string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.get(ctx, &t, sq.Select(ticketColumns...).From("tickets").
		Where(sq.Eq{"client_id": clientID, "status": openStatuses, "deleted_at": nil}).
		OrderBy("created_at DESC").Limit(1))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RouteTicketToQueue moves a ticket into a queue: sets queue, assignee
// (nil keeps the column NULL), status AwaitingAgent and the new subject.
func (s *Store) RouteTicketToQueue(ctx context.Context, ticketID, queueID string, userID *string, subject string) error {
	return s.exec(ctx, sq.Update("tickets").
		Set("queue_id", queueID).
		Set("user_id", userID).
		Set("status", models.TicketAwaitingAgent).
		Set("subject", subject).
		Set("last_message_at", time.Now()).
		Where(sq.Eq{"id": ticketID}))
}

// AssignTicket sets the assignee and moves the ticket to InProgress.
func (s *Store) AssignTicket(ctx context.Context, ticketID, userID string) error {
	return s.exec(ctx, sq.Update("tickets").
		Set("user_id", userID).
		Set("status", models.TicketInProgress).
		Set("last_message_at", time.Now()).
		Where(sq.Eq{"id": ticketID}))
}

// FinishTicket records the resolution and moves the ticket to Finished.
func (s *Store) FinishTicket(ctx context.Context, ticketID string, resolution *string) error {
	return s.exec(ctx, sq.Update("tickets").
		Set("status", models.TicketFinished).
		Set("resolution_text", resolution).
		Set("last_message_at", time.Now()).
		Where(sq.Eq{"id": ticketID}))
}

// CancelTicket is the administrative path out of any non-finished state.
func (s *Store) CancelTicket(ctx context.Context, ticketID string) error {
	return s.exec(ctx, sq.Update("tickets").
		Set("status", models.TicketCancelled).
		Set("last_message_at", time.Now()).
		Where(sq.Eq{"id": ticketID}))
}

func (s *Store) TouchTicket(ctx context.Context, ticketID string) error {
	return s.exec(ctx, sq.Update("tickets").
		Set("last_message_at", time.Now()).
		Where(sq.Eq{"id": ticketID}))
}

// ListTicketsForAgent returns tickets the agent is handling, plus unassigned
// tickets that sit in one of the agent's queues or have no queue yet.
// Oldest first so queue pickup stays FIFO-fair.
func (s *Store) ListTicketsForAgent(ctx context.Context, userID string, queueIDs []string, status *models.TicketStatus) ([]models.Ticket, error) {
	unassigned := sq.And{
		sq.Eq{"user_id": nil},
		sq.Or{
			sq.Eq{"queue_id": queueIDs},
			sq.Eq{"queue_id": nil},
		},
	}
	b := sq.Select(ticketColumns...).From("tickets").
		Where(sq.Eq{"deleted_at": nil}).
		Where(sq.Or{sq.Eq{"user_id": userID}, unassigned})
	if status != nil {
		b = b.Where(sq.Eq{"status": *status})
	} else {
		b = b.Where(sq.Eq{"status": openStatuses})
	}
	b = b.OrderBy("created_at ASC")

	var out []models.Ticket
	err := s.selectAll(ctx, &out, b)
	return out, err
}

// CountOpenTicketsByClient reports how many non-finished tickets a
// client has; anything above one is a bug.
func (s *Store) CountOpenTicketsByClient(ctx context.Context, clientID string) (int, error) {
	var n int
	err := s.get(ctx, &n, sq.Select("COUNT(*)").From("tickets").
		Where(sq.Eq{"client_id": clientID, "status": openStatuses, "deleted_at": nil}))
	return n, err
}
