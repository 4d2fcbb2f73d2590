package retention

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

// MessageWindow is the result of a retention-aware history query.
// Source tells the caller where the rows came from; "none" means the
// client has no chats under the session.
type MessageWindow struct {
	Messages []models.Message `json:"messages"`
	Source   string           `json:"source"`
	HasMore  bool             `json:"hasMore"`
}

// ContactDirectory resolves contact profiles over a live session. The
// session registry implements it; an offline session yields empty
// results rather than an error.
type ContactDirectory interface {
	Contact(ctx context.Context, sessionID, chatJID string) (name, photoURL string, err error)
}

// ClientSync reports a client backfill run.
type ClientSync struct {
	NewClients      int `json:"newClients"`
	ExistingClients int `json:"existingClients"`
}

// Sweeper owns everything retention: history queries honoring the cache
// windows, the periodic cleanups and the client backfill sync.
type Sweeper struct {
	store    *store.Store
	norm     *Normalizer
	contacts ContactDirectory
}

// NewSweeper builds a sweeper; contacts may be nil, which disables
// profile enrichment during client sync.
func NewSweeper(st *store.Store, norm *Normalizer, contacts ContactDirectory) *Sweeper {
	return &Sweeper{store: st, norm: norm, contacts: contacts}
}

// GetMessagesWithRetention returns the client's messages in [start, end)
// under one session, oldest first. Rows past the tenant's retention are
// only included while their fetch cache is still valid.
func (s *Sweeper) GetMessagesWithRetention(ctx context.Context, companyID, clientID, sessionID string, start, end time.Time, limit int) (*MessageWindow, error) {
	chats, err := s.store.ListChatsForClient(ctx, companyID, clientID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return &MessageWindow{Messages: []models.Message{}, Source: "none"}, nil
	}

	chatIDs := make([]string, len(chats))
	for i, c := range chats {
		chatIDs[i] = c.ID
	}

	msgs, err := s.store.ListMessagesInWindow(ctx, chatIDs, start, end, time.Now(), limit)
	if err != nil {
		return nil, err
	}

	hasMore := limit > 0 && len(msgs) == limit

	// The store returns newest-first so the limit keeps the most recent
	// rows; callers want chronological order.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	return &MessageWindow{Messages: msgs, Source: "database", HasMore: hasMore}, nil
}

// CleanExpiredCache removes fetched rows whose cache window has passed.
// Safe to run repeatedly.
func (s *Sweeper) CleanExpiredCache(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredCache(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("expired cache messages removed")
	}
	return n, nil
}

// CleanOldMessages applies each tenant's retention window. A failing
// tenant is logged and skipped; the sweep continues.
func (s *Sweeper) CleanOldMessages(ctx context.Context) (int64, error) {
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, c := range companies {
		if c.RetentionDays <= 0 {
			continue
		}
		cutoff := time.Now().AddDate(0, 0, -c.RetentionDays)
		n, err := s.store.DeleteOldMessages(ctx, c.ID, cutoff)
		if err != nil {
			log.Error().Err(err).Str("companyID", c.ID).Msg("retention sweep failed for tenant")
			continue
		}
		if n > 0 {
			log.Info().Str("companyID", c.ID).Int64("removed", n).Int("retentionDays", c.RetentionDays).Msg("old messages removed")
		}
		total += n
	}
	return total, nil
}

// SyncClientsFromChats backfills client records for the session's
// individual chats, linking each chat to its client. New clients get
// their contact name and profile picture from the live session when it
// is connected.
func (s *Sweeper) SyncClientsFromChats(ctx context.Context, sessionID string) (*ClientSync, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	chats, err := s.store.ListChatsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &ClientSync{}
	for _, chat := range chats {
		number, ok := NumberFromChatID(chat.WaChatID)
		if !ok {
			continue
		}
		number = s.norm.Normalize(number)

		client, err := s.store.GetClientByNumber(ctx, sess.CompanyID, number)
		if store.IsNotFound(err) {
			name, photoURL := s.contactProfile(ctx, sessionID, chat.WaChatID)
			if name == "" {
				name = number
			}
			client = &models.Client{
				ID:             uuid.NewString(),
				CompanyID:      sess.CompanyID,
				Name:           name,
				WhatsAppNumber: number,
				WaUserID:       chat.WaChatID,
			}
			if photoURL != "" {
				client.ProfilePicURL = &photoURL
			}
			if err := s.store.CreateClient(ctx, client); err != nil {
				log.Warn().Err(err).Str("chatID", chat.ID).Msg("failed to create client from chat")
				continue
			}
			result.NewClients++
		} else if err != nil {
			log.Warn().Err(err).Str("chatID", chat.ID).Msg("failed to look up client for chat")
			continue
		} else {
			result.ExistingClients++
		}

		if chat.ClientID == nil {
			if err := s.store.SetChatClient(ctx, chat.ID, client.ID); err != nil {
				log.Warn().Err(err).Str("chatID", chat.ID).Msg("failed to link chat to client")
			}
		}
	}

	log.Info().Str("sessionID", sessionID).
		Int("new", result.NewClients).
		Int("existing", result.ExistingClients).
		Msg("clients synced from existing chats")
	return result, nil
}

// contactProfile is best effort; a missing directory or offline session
// just leaves the fields empty.
func (s *Sweeper) contactProfile(ctx context.Context, sessionID, chatJID string) (string, string) {
	if s.contacts == nil {
		return "", ""
	}
	name, photoURL, err := s.contacts.Contact(ctx, sessionID, chatJID)
	if err != nil {
		log.Debug().Err(err).Str("chatJID", chatJID).Msg("contact lookup failed")
		return "", ""
	}
	return name, photoURL
}
