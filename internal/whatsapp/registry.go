package whatsapp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/media"
	"zapdesk/internal/models"
	"zapdesk/internal/notify"
	"zapdesk/internal/store"
)

// Registry owns the live sessions. Start and stop of the same session id
// are serialized; distinct ids proceed in parallel.
type Registry struct {
	store   *store.Store
	dialer  Dialer
	events  *notify.Dispatcher
	storage media.Storage
	auto    Automation

	qrTimeout   time.Duration
	settleDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

func NewRegistry(st *store.Store, dialer Dialer, events *notify.Dispatcher, storage media.Storage, qrTimeout, settleDelay time.Duration) *Registry {
	return &Registry{
		store:       st,
		dialer:      dialer,
		events:      events,
		storage:     storage,
		qrTimeout:   qrTimeout,
		settleDelay: settleDelay,
		sessions:    make(map[string]*Session),
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetAutomation wires the conversation automation applied to every
// session started afterwards. Called once during boot.
func (r *Registry) SetAutomation(auto Automation) {
	r.auto = auto
}

func (r *Registry) lockFor(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

// StartSession retires any live instance of the session, waits for the
// provider to settle, then pairs fresh. Returns the QR payload, or ""
// when the device reconnected without pairing.
func (r *Registry) StartSession(ctx context.Context, sessionID string) (string, error) {
	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		if store.IsNotFound(err) {
			return "", ErrSessionNotFound
		}
		return "", err
	}

	l := r.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	old := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if old != nil {
		log.Info().Str("sessionID", sessionID).Msg("retiring previous session instance")
		old.Disconnect(ctx)
		time.Sleep(r.settleDelay)
	}

	if err := r.dialer.Cleanup(sessionID); err != nil {
		log.Warn().Err(err).Str("sessionID", sessionID).Msg("session cleanup failed, pairing may resume old state")
	}

	sess, err := r.connect(ctx, sessionID)
	if err != nil {
		return "", err
	}

	qr := sess.WaitForQR(ctx)
	return qr, nil
}

// connect dials, builds the session and begins pairing. The session is
// registered before Start so events find it.
func (r *Registry) connect(ctx context.Context, sessionID string) (*Session, error) {
	rec, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cap, err := r.dialer.Dial(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess := NewSession(sessionID, rec.CompanyID, cap, r.store, r.events, r.storage, r.auto, r.qrTimeout)

	r.mu.Lock()
	r.sessions[sessionID] = sess
	r.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		cap.Close()
		return nil, err
	}
	return sess, nil
}

// StopSession disconnects and removes a live session.
func (r *Registry) StopSession(ctx context.Context, sessionID string) error {
	l := r.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	sess := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if sess == nil {
		return ErrSessionNotFound
	}

	sess.Disconnect(ctx)
	r.events.Bus.DropSession(sessionID)
	return nil
}

// Get returns the live session or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// Status returns the live status, falling back to the persisted record
// for sessions that are not running.
func (r *Registry) Status(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	if sess := r.Get(sessionID); sess != nil {
		return sess.Status(), nil
	}
	rec, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			return models.SessionDisconnected, ErrSessionNotFound
		}
		return models.SessionDisconnected, err
	}
	return rec.Status, nil
}

// QR returns the current QR payload of a live pairing, or "".
func (r *Registry) QR(sessionID string) string {
	if sess := r.Get(sessionID); sess != nil {
		return sess.QR()
	}
	return ""
}

// SendText delivers text through a live session.
func (r *Registry) SendText(ctx context.Context, sessionID, chatJID, text string) (*models.Message, error) {
	sess := r.Get(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess.SendText(ctx, chatJID, text)
}

// SendFile delivers an attachment through a live session.
func (r *Registry) SendFile(ctx context.Context, sessionID, chatJID string, data []byte, mimeType, fileName, caption string) (*models.Message, error) {
	sess := r.Get(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess.SendFile(ctx, chatJID, data, mimeType, fileName, caption)
}

// Contact resolves a chat contact's profile through a live session.
// A missing or offline session yields empty results, not an error.
func (r *Registry) Contact(ctx context.Context, sessionID, chatJID string) (name, photoURL string, err error) {
	sess := r.Get(sessionID)
	if sess == nil || !sess.Connected() {
		return "", "", nil
	}
	info, err := sess.cap.GetContact(ctx, chatJID)
	if err != nil || info == nil {
		return "", "", err
	}
	name = info.Name
	if name == "" {
		name = info.PushName
	}
	return name, info.ProfilePicURL, nil
}

// Subscribe registers an in-process callback for session events.
func (r *Registry) Subscribe(sessionID, eventType string, cb func(notify.Event)) *notify.Subscription {
	return r.events.Bus.Subscribe(sessionID, eventType, cb)
}

// Restore reconnects every session that was connected or mid-pairing
// before the last shutdown. Failures flag the record for re-auth instead
// of aborting the boot.
func (r *Registry) Restore(ctx context.Context) {
	records, err := r.store.ListRestorableSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list restorable sessions")
		return
	}

	restored := 0
	for _, rec := range records {
		l := r.lockFor(rec.ID)
		l.Lock()
		_, err := r.connect(ctx, rec.ID)
		l.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("sessionID", rec.ID).Msg("session restore failed, flagging for re-auth")
			if markErr := r.store.MarkSessionReauthRequired(ctx, rec.ID); markErr != nil {
				log.Error().Err(markErr).Str("sessionID", rec.ID).Msg("failed to flag session for reauth")
			}
			continue
		}
		restored++
	}
	log.Info().Int("restored", restored).Int("candidates", len(records)).Msg("session restore complete")
}

// Stats summarizes the live sessions.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	byStatus := make(map[string]int)
	connected := 0
	for _, sess := range r.sessions {
		status := sess.Status()
		byStatus[status.String()]++
		if status == models.SessionConnected {
			connected++
		}
	}
	return map[string]interface{}{
		"total":     len(r.sessions),
		"connected": connected,
		"byStatus":  byStatus,
	}
}

// CleanupInactive drops disconnected sessions from the registry so their
// resources can be collected. Persisted records are untouched.
func (r *Registry) CleanupInactive(ctx context.Context) int {
	r.mu.Lock()
	var stale []string
	for id, sess := range r.sessions {
		if sess.Status() == models.SessionDisconnected {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		if err := r.StopSession(ctx, id); err != nil && err != ErrSessionNotFound {
			log.Warn().Err(err).Str("sessionID", id).Msg("failed to drop inactive session")
		}
	}
	if len(stale) > 0 {
		log.Info().Int("removed", len(stale)).Msg("inactive sessions cleaned up")
	}
	return len(stale)
}

// Shutdown closes every live connection. Persisted statuses are left as
// they are so the next boot restores the same sessions.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.cap.Close()
	}
}
