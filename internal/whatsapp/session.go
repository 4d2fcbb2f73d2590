package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"zapdesk/internal/media"
	"zapdesk/internal/models"
	"zapdesk/internal/notify"
	"zapdesk/internal/store"
)

var (
	ErrNotConnected    = errors.New("session is not connected")
	ErrSessionNotFound = errors.New("session not found")
)

// Automation receives inbound text from individual chats after the
// message has been persisted. Implementations drive conversation flows
// such as ticket routing.
type Automation interface {
	HandleClientMessage(ctx context.Context, client *models.Client, chat *models.Chat, body string)
}

const pipelineTimeout = 30 * time.Second

// Session supervises one messaging connection: pairing, the inbound
// message pipeline, acks and outbound sends.
type Session struct {
	ID        string
	CompanyID string

	cap     Capability
	store   *store.Store
	events  notify.Publisher
	storage media.Storage
	auto    Automation

	qrTimeout time.Duration

	mu     sync.Mutex
	status models.SessionStatus
	qrSlot chan string
	lastQR string
	qrSeen time.Time

	// short-lived client summaries for event enrichment
	clients *gocache.Cache
}

func NewSession(id, companyID string, cap Capability, st *store.Store, events notify.Publisher, storage media.Storage, auto Automation, qrTimeout time.Duration) *Session {
	s := &Session{
		ID:        id,
		CompanyID: companyID,
		cap:       cap,
		store:     st,
		events:    events,
		storage:   storage,
		auto:      auto,
		qrTimeout: qrTimeout,
		status:    models.SessionDisconnected,
		qrSlot:    make(chan string, 1),
		clients:   gocache.New(5*time.Minute, 10*time.Minute),
	}
	cap.OnMessage(s.handleMessage)
	cap.OnAck(s.handleAck)
	return s
}

// Start begins the connection attempt. For unpaired devices a QR flow
// follows; progress is reported through persisted status and events.
func (s *Session) Start(ctx context.Context) error {
	s.setStatus(ctx, models.SessionConnecting)
	return s.cap.Pair(ctx, s.handleQRCode, s.handleState)
}

// WaitForQR blocks until the first QR code of this pairing round is
// available. Returns "" when none arrives within the configured window,
// which also covers already-paired devices that reconnect directly.
func (s *Session) WaitForQR(ctx context.Context) string {
	deadline := time.After(s.qrTimeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case qr := <-s.qrSlot:
			return qr
		case <-tick.C:
			// Paired devices skip the QR flow entirely.
			if s.Status() == models.SessionConnected {
				return ""
			}
		case <-deadline:
			return ""
		case <-ctx.Done():
			return ""
		}
	}
}

// QR returns the last generated QR payload, or "" once it expired.
func (s *Session) QR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastQR == "" || time.Since(s.qrSeen) > s.qrTimeout {
		return ""
	}
	return s.lastQR
}

func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Connected() bool {
	return s.cap.Connected()
}

// Disconnect tears down the link without logging the device out.
// Safe to call repeatedly.
func (s *Session) Disconnect(ctx context.Context) {
	s.cap.Close()
	s.setStatus(ctx, models.SessionDisconnected)
	s.events.Publish(notify.Event{
		Type:      notify.EventDisconnected,
		SessionID: s.ID,
		CompanyID: s.CompanyID,
		Data:      map[string]interface{}{"status": models.SessionDisconnected.String()},
	})
}

// Logout invalidates the device credentials and disconnects.
func (s *Session) Logout(ctx context.Context) error {
	err := s.cap.Logout(ctx)
	s.Disconnect(ctx)
	return err
}

func (s *Session) setStatus(ctx context.Context, status models.SessionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	if err := s.store.UpdateSessionStatus(ctx, s.ID, status); err != nil {
		log.Error().Err(err).Str("sessionID", s.ID).Msg("failed to persist session status")
	}
}

func (s *Session) handleQRCode(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		log.Error().Err(err).Str("sessionID", s.ID).Msg("failed to encode QR code")
		return
	}
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
	}

	expiry := time.Now().Add(s.qrTimeout)
	if err := s.store.SaveSessionQR(ctx, s.ID, payload, expiry); err != nil {
		log.Error().Err(err).Str("sessionID", s.ID).Msg("failed to persist QR code")
	}

	s.mu.Lock()
	s.status = models.SessionQrPending
	s.lastQR = payload
	s.qrSeen = time.Now()
	s.mu.Unlock()

	// Single slot, latest code wins.
	select {
	case <-s.qrSlot:
	default:
	}
	s.qrSlot <- payload

	s.events.Publish(notify.Event{
		Type:      notify.EventQRCode,
		SessionID: s.ID,
		CompanyID: s.CompanyID,
		Data:      map[string]interface{}{"qrCode": payload, "expiresAt": expiry},
	})
}

func (s *Session) handleState(state ConnState) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch state {
	case ConnConnected:
		s.setStatus(ctx, models.SessionConnected)
		s.mu.Lock()
		s.lastQR = ""
		s.mu.Unlock()
		s.events.Publish(notify.Event{
			Type:      notify.EventConnected,
			SessionID: s.ID,
			CompanyID: s.CompanyID,
			Data:      map[string]interface{}{"status": models.SessionConnected.String()},
		})
	case ConnDisconnected:
		s.setStatus(ctx, models.SessionDisconnected)
		s.events.Publish(notify.Event{
			Type:      notify.EventDisconnected,
			SessionID: s.ID,
			CompanyID: s.CompanyID,
			Data:      map[string]interface{}{"status": models.SessionDisconnected.String()},
		})
	case ConnLoggedOut:
		if err := s.store.MarkSessionReauthRequired(ctx, s.ID); err != nil {
			log.Error().Err(err).Str("sessionID", s.ID).Msg("failed to flag session for reauth")
		}
		s.mu.Lock()
		s.status = models.SessionDisconnected
		s.mu.Unlock()
		s.events.Publish(notify.Event{
			Type:      notify.EventSessionStatus,
			SessionID: s.ID,
			CompanyID: s.CompanyID,
			Data:      map[string]interface{}{"status": models.SessionDisconnected.String(), "reauthRequired": true},
		})
	default:
		return
	}

	if state != ConnLoggedOut {
		s.events.Publish(notify.Event{
			Type:      notify.EventSessionStatus,
			SessionID: s.ID,
			CompanyID: s.CompanyID,
			Data:      map[string]interface{}{"status": s.Status().String()},
		})
	}
}

// handleMessage runs the inbound pipeline: upsert client and chat,
// store media, persist the message, update counters and emit events.
func (s *Session) handleMessage(im InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	var client *models.Client
	var err error

	if !im.IsGroup {
		client, err = s.upsertClient(ctx, im)
		if err != nil {
			log.Error().Err(err).Str("sessionID", s.ID).Str("chat", im.ChatJID).Msg("failed to upsert client")
			return
		}
	}

	chat, err := s.upsertChat(ctx, im, client)
	if err != nil {
		log.Error().Err(err).Str("sessionID", s.ID).Str("chat", im.ChatJID).Msg("failed to upsert chat")
		return
	}

	mediaID := s.storeInboundMedia(ctx, im)

	msg := &models.Message{
		ID:          uuid.NewString(),
		CompanyID:   s.CompanyID,
		SessionID:   s.ID,
		ChatID:      chat.ID,
		WaMessageID: im.WaMessageID,
		Direction:   models.DirectionIn,
		Type:        im.Type,
		Ack:         models.AckServer,
		MediaID:     mediaID,
		WaTimestamp: &im.Timestamp,
	}
	if im.IsFromMe {
		msg.Direction = models.DirectionOut
	}
	if im.Body != "" {
		msg.Body = &im.Body
	}
	if im.Caption != "" {
		msg.Caption = &im.Caption
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("sessionID", s.ID).Str("waMessageID", im.WaMessageID).Msg("failed to persist message")
		return
	}

	if im.IsFromMe {
		if err := s.store.TouchChat(ctx, chat.ID); err != nil {
			log.Warn().Err(err).Str("chatID", chat.ID).Msg("failed to touch chat")
		}
	} else {
		if err := s.store.BumpChatUnread(ctx, chat.ID); err != nil {
			log.Warn().Err(err).Str("chatID", chat.ID).Msg("failed to bump unread count")
		}
		if client != nil {
			if err := s.store.TouchClientContact(ctx, client.ID); err != nil {
				log.Warn().Err(err).Str("clientID", client.ID).Msg("failed to touch client contact")
			}
		}
	}

	s.events.Publish(notify.Event{
		Type:      notify.EventNewMessage,
		SessionID: s.ID,
		CompanyID: s.CompanyID,
		Data: map[string]interface{}{
			"message": msg,
			"chat":    chat,
			"client":  client,
		},
	})

	if s.auto != nil && client != nil && !im.IsFromMe && !im.IsGroup && im.Type == models.MessageText {
		s.auto.HandleClientMessage(ctx, client, chat, im.Body)
	}
}

func (s *Session) upsertClient(ctx context.Context, im InboundMessage) (*models.Client, error) {
	number := numberFromJID(im.ChatJID)

	if cached, ok := s.clients.Get(number); ok {
		return cached.(*models.Client), nil
	}

	client, err := s.store.GetClientByNumber(ctx, s.CompanyID, number)
	if store.IsNotFound(err) {
		client = &models.Client{
			ID:             uuid.NewString(),
			CompanyID:      s.CompanyID,
			Name:           im.PushName,
			WhatsAppNumber: number,
			WaUserID:       im.SenderJID,
		}
		if info, infoErr := s.cap.GetContact(ctx, im.ChatJID); infoErr == nil {
			if info.Name != "" {
				client.Name = info.Name
			}
			if info.ProfilePicURL != "" {
				client.ProfilePicURL = &info.ProfilePicURL
			}
		}
		if client.Name == "" {
			client.Name = number
		}
		if err := s.store.CreateClient(ctx, client); err != nil {
			return nil, err
		}
		s.events.Publish(notify.Event{
			Type:      notify.EventClientCreated,
			SessionID: s.ID,
			CompanyID: s.CompanyID,
			Data:      client,
		})
	} else if err != nil {
		return nil, err
	} else if im.PushName != "" && client.Name == client.WhatsAppNumber {
		// Upgrade number-only names once the contact shares a push name.
		if err := s.store.UpdateClientInfo(ctx, client.ID, &im.PushName, nil); err == nil {
			client.Name = im.PushName
			s.events.Publish(notify.Event{
				Type:      notify.EventClientUpdated,
				SessionID: s.ID,
				CompanyID: s.CompanyID,
				Data:      client,
			})
		}
	}

	s.clients.Set(number, client, gocache.DefaultExpiration)
	return client, nil
}

func (s *Session) upsertChat(ctx context.Context, im InboundMessage, client *models.Client) (*models.Chat, error) {
	chat, err := s.store.GetChatByWaID(ctx, s.CompanyID, s.ID, im.ChatJID)
	if store.IsNotFound(err) {
		chat = &models.Chat{
			ID:        uuid.NewString(),
			CompanyID: s.CompanyID,
			SessionID: s.ID,
			WaChatID:  im.ChatJID,
			Type:      models.ChatIndividual,
		}
		if im.IsGroup {
			chat.Type = models.ChatGroup
		}
		if client != nil {
			chat.ClientID = &client.ID
		}
		if err := s.store.CreateChat(ctx, chat); err != nil {
			return nil, err
		}
		return chat, nil
	}
	if err != nil {
		return nil, err
	}
	if chat.ClientID == nil && client != nil {
		if err := s.store.SetChatClient(ctx, chat.ID, client.ID); err == nil {
			chat.ClientID = &client.ID
		}
	}
	return chat, nil
}

// storeInboundMedia downloads and persists an attachment. On failure the
// message degrades to its text parts; the pipeline never drops it.
func (s *Session) storeInboundMedia(ctx context.Context, im InboundMessage) *string {
	if im.Media == nil || im.Media.Download == nil {
		return nil
	}

	data, err := im.Media.Download(ctx)
	if err != nil {
		log.Warn().Err(err).Str("sessionID", s.ID).Str("waMessageID", im.WaMessageID).Msg("media download failed, storing message without attachment")
		return nil
	}

	stored, err := s.storage.Save(ctx, s.CompanyID, im.ChatJID, im.WaMessageID, data, im.Media.MimeType, im.Media.FileName, !im.IsFromMe)
	if err != nil {
		log.Warn().Err(err).Str("sessionID", s.ID).Str("waMessageID", im.WaMessageID).Msg("media storage failed, storing message without attachment")
		return nil
	}

	m := &models.Media{
		ID:              uuid.NewString(),
		CompanyID:       s.CompanyID,
		StorageProvider: stored.Provider,
		StorageKey:      stored.Key,
		MimeType:        im.Media.MimeType,
		SizeBytes:       int64(len(data)),
	}
	if err := s.store.CreateMedia(ctx, m); err != nil {
		log.Warn().Err(err).Str("sessionID", s.ID).Msg("failed to persist media record")
		return nil
	}
	return &m.ID
}

func (s *Session) handleAck(evt AckEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, waID := range evt.WaMessageIDs {
		n, err := s.store.UpdateMessageAck(ctx, s.CompanyID, waID, evt.Ack)
		if err != nil {
			log.Error().Err(err).Str("waMessageID", waID).Msg("failed to update message ack")
			continue
		}
		if n == 0 {
			log.Debug().Str("waMessageID", waID).Int("ack", int(evt.Ack)).Msg("ack for unknown message")
		}
	}
}

// SendText delivers a text message and persists the outbound record.
func (s *Session) SendText(ctx context.Context, chatJID, text string) (*models.Message, error) {
	if !s.cap.Connected() {
		return nil, ErrNotConnected
	}

	sent, err := s.cap.SendText(ctx, chatJID, text)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return s.persistOutbound(ctx, chatJID, sent, models.MessageText, &text, nil, nil)
}

// SendFile uploads an attachment, delivers it and persists the outbound
// record together with its stored media.
func (s *Session) SendFile(ctx context.Context, chatJID string, data []byte, mimeType, fileName, caption string) (*models.Message, error) {
	if !s.cap.Connected() {
		return nil, ErrNotConnected
	}

	sent, err := s.cap.SendFile(ctx, chatJID, data, mimeType, fileName, caption)
	if err != nil {
		return nil, fmt.Errorf("failed to send file: %w", err)
	}

	var mediaID *string
	if stored, storeErr := s.storage.Save(ctx, s.CompanyID, chatJID, sent.WaMessageID, data, mimeType, fileName, false); storeErr == nil {
		m := &models.Media{
			ID:              uuid.NewString(),
			CompanyID:       s.CompanyID,
			StorageProvider: stored.Provider,
			StorageKey:      stored.Key,
			MimeType:        mimeType,
			SizeBytes:       int64(len(data)),
		}
		if err := s.store.CreateMedia(ctx, m); err == nil {
			mediaID = &m.ID
		}
	} else {
		log.Warn().Err(storeErr).Str("sessionID", s.ID).Msg("failed to store outbound media")
	}

	msgType := models.MessageDocument
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		msgType = models.MessageImage
	case strings.HasPrefix(mimeType, "video/"):
		msgType = models.MessageVideo
	case strings.HasPrefix(mimeType, "audio/"):
		msgType = models.MessageAudio
	}

	var captionPtr *string
	if caption != "" {
		captionPtr = &caption
	}
	return s.persistOutbound(ctx, chatJID, sent, msgType, nil, captionPtr, mediaID)
}

func (s *Session) persistOutbound(ctx context.Context, chatJID string, sent *SentMessage, msgType models.MessageType, body, caption, mediaID *string) (*models.Message, error) {
	chat, err := s.store.GetChatByWaID(ctx, s.CompanyID, s.ID, chatJID)
	if store.IsNotFound(err) {
		chat = &models.Chat{
			ID:        uuid.NewString(),
			CompanyID: s.CompanyID,
			SessionID: s.ID,
			WaChatID:  chatJID,
			Type:      models.ChatIndividual,
		}
		if strings.HasSuffix(chatJID, "@g.us") {
			chat.Type = models.ChatGroup
		}
		if err := s.store.CreateChat(ctx, chat); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:          uuid.NewString(),
		CompanyID:   s.CompanyID,
		SessionID:   s.ID,
		ChatID:      chat.ID,
		WaMessageID: sent.WaMessageID,
		Direction:   models.DirectionOut,
		Type:        msgType,
		Body:        body,
		Caption:     caption,
		MediaID:     mediaID,
		Ack:         models.AckPending,
		WaTimestamp: &sent.Timestamp,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("message sent but not persisted: %w", err)
	}

	if err := s.store.TouchChat(ctx, chat.ID); err != nil {
		log.Warn().Err(err).Str("chatID", chat.ID).Msg("failed to touch chat")
	}

	s.events.Publish(notify.Event{
		Type:      notify.EventNewMessage,
		SessionID: s.ID,
		CompanyID: s.CompanyID,
		Data: map[string]interface{}{
			"message": msg,
			"chat":    chat,
		},
	})
	return msg, nil
}

// numberFromJID extracts the bare phone number from an individual chat id.
func numberFromJID(chatJID string) string {
	if i := strings.IndexByte(chatJID, '@'); i > 0 {
		return chatJID[:i]
	}
	return chatJID
}
