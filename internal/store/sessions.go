package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"zapdesk/internal/models"
)

var sessionColumns = []string{
	"id", "company_id", "name", "phone_number", "status",
	"qr_code", "qr_expires_at", "last_heartbeat", "reauth_required",
	"created_at", "deleted_at",
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	return s.exec(ctx, sq.Insert("sessions").
		Columns("id", "company_id", "name", "phone_number", "status", "reauth_required", "created_at").
		Values(sess.ID, sess.CompanyID, sess.Name, sess.PhoneNumber, sess.Status, sess.ReauthRequired, sess.CreatedAt))
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.get(ctx, &sess, sq.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateSessionStatus persists a state transition together with a heartbeat.
// Any transition clears the reauth flag; restore failures re-set it through
// MarkSessionReauthRequired.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	return s.exec(ctx, sq.Update("sessions").
		Set("status", status).
		Set("last_heartbeat", time.Now()).
		Set("reauth_required", false).
		Where(sq.Eq{"id": id}))
}

// SaveSessionQR stores the last issued pairing payload with its expiry and
// moves the persisted status to QrPending.
func (s *Store) SaveSessionQR(ctx context.Context, id, qr string, expiresAt time.Time) error {
	return s.exec(ctx, sq.Update("sessions").
		Set("qr_code", qr).
		Set("qr_expires_at", expiresAt).
		Set("status", models.SessionQrPending).
		Where(sq.Eq{"id": id}))
}

// MarkSessionReauthRequired is used when a session fails to restore at boot:
// the record is forced Disconnected and flagged so it is not retried in a loop.
func (s *Store) MarkSessionReauthRequired(ctx context.Context, id string) error {
	return s.exec(ctx, sq.Update("sessions").
		Set("status", models.SessionDisconnected).
		Set("reauth_required", true).
		Where(sq.Eq{"id": id}))
}

// ListRestorableSessions returns sessions whose last known status was
// Connected or QrPending; these are restarted at boot.
func (s *Store) ListRestorableSessions(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	err := s.selectAll(ctx, &out, sq.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"status": []models.SessionStatus{models.SessionConnected, models.SessionQrPending}, "deleted_at": nil}))
	return out, err
}

func (s *Store) ListSessionsByCompany(ctx context.Context, companyID string) ([]models.Session, error) {
	var out []models.Session
	err := s.selectAll(ctx, &out, sq.Select(sessionColumns...).From("sessions").
		Where(sq.Eq{"company_id": companyID, "deleted_at": nil}).OrderBy("created_at ASC"))
	return out, err
}
