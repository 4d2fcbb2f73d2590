package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"zapdesk/internal/models"
)

// MeowDialer creates whatsmeow-backed capabilities, one device store
// file per session under storePath.
type MeowDialer struct {
	storePath string
}

func NewMeowDialer(storePath string) *MeowDialer {
	return &MeowDialer{storePath: storePath}
}

func (d *MeowDialer) devicePath(sessionID string) string {
	return filepath.Join(d.storePath, sessionID+".db")
}

func (d *MeowDialer) Dial(ctx context.Context, sessionID string) (Capability, error) {
	if err := os.MkdirAll(d.storePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session store dir: %w", err)
	}

	dbLog := waLog.Stdout("Store:"+sessionID, "WARN", false)
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+d.devicePath(sessionID)+"?_pragma=foreign_keys(1)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		device = container.NewDevice()
	} else if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client:"+sessionID, "WARN", false))

	mc := &meowClient{client: client, sessionID: sessionID}
	client.AddEventHandler(mc.handleEvent)
	return mc, nil
}

// Cleanup removes the device store of a retired session so the next
// start pairs from scratch.
func (d *MeowDialer) Cleanup(sessionID string) error {
	err := os.Remove(d.devicePath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type meowClient struct {
	client    *whatsmeow.Client
	sessionID string

	mu        sync.RWMutex
	onMessage func(InboundMessage)
	onAck     func(AckEvent)
	onState   func(ConnState)
}

func (c *meowClient) Pair(ctx context.Context, onCode func(code string), onState func(ConnState)) error {
	c.mu.Lock()
	c.onState = onState
	c.mu.Unlock()

	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go func() {
			for evt := range qrChan {
				switch evt.Event {
				case "code":
					onCode(evt.Code)
				case "success":
					log.Info().Str("sessionID", c.sessionID).Msg("QR pairing succeeded")
				case "timeout":
					log.Warn().Str("sessionID", c.sessionID).Msg("QR pairing timed out")
					onState(ConnDisconnected)
				}
			}
		}()
		return nil
	}

	return c.client.Connect()
}

func (c *meowClient) Connected() bool {
	return c.client.IsConnected() && c.client.IsLoggedIn()
}

func (c *meowClient) SendText(ctx context.Context, chatJID, text string) (*SentMessage, error) {
	jid, err := toWireJID(chatJID)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(text)})
	if err != nil {
		return nil, err
	}
	return &SentMessage{WaMessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *meowClient) SendFile(ctx context.Context, chatJID string, data []byte, mimeType, fileName, caption string) (*SentMessage, error) {
	jid, err := toWireJID(chatJID)
	if err != nil {
		return nil, err
	}

	mediaType := whatsmeow.MediaDocument
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		mediaType = whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		mediaType = whatsmeow.MediaAudio
	}

	up, err := c.client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	msg := &waProto.Message{}
	switch mediaType {
	case whatsmeow.MediaImage:
		msg.ImageMessage = &waProto.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	case whatsmeow.MediaVideo:
		msg.VideoMessage = &waProto.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	case whatsmeow.MediaAudio:
		msg.AudioMessage = &waProto.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	default:
		msg.DocumentMessage = &waProto.DocumentMessage{
			Title:         proto.String(fileName),
			FileName:      proto.String(fileName),
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	}

	resp, err := c.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, err
	}
	return &SentMessage{WaMessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *meowClient) OnMessage(cb func(InboundMessage)) {
	c.mu.Lock()
	c.onMessage = cb
	c.mu.Unlock()
}

func (c *meowClient) OnAck(cb func(AckEvent)) {
	c.mu.Lock()
	c.onAck = cb
	c.mu.Unlock()
}

func (c *meowClient) GetContact(ctx context.Context, chatJID string) (*ContactInfo, error) {
	jid, err := toWireJID(chatJID)
	if err != nil {
		return nil, err
	}

	info := &ContactInfo{}
	if contact, err := c.client.Store.Contacts.GetContact(ctx, jid); err == nil {
		info.Name = contact.FullName
		info.PushName = contact.PushName
	}
	if pic, err := c.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{Preview: true}); err == nil && pic != nil {
		info.ProfilePicURL = pic.URL
	}
	return info, nil
}

func (c *meowClient) Close() {
	c.client.Disconnect()
}

func (c *meowClient) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

func (c *meowClient) handleEvent(raw interface{}) {
	c.mu.RLock()
	onMessage := c.onMessage
	onAck := c.onAck
	onState := c.onState
	c.mu.RUnlock()

	switch evt := raw.(type) {
	case *events.Message:
		if onMessage == nil {
			return
		}
		msg := c.translateMessage(evt)
		if msg != nil {
			onMessage(*msg)
		}
	case *events.Receipt:
		if onAck == nil {
			return
		}
		ack := models.AckDevice
		switch evt.Type {
		case types.ReceiptTypeRead:
			ack = models.AckRead
		case types.ReceiptTypePlayed:
			ack = models.AckPlayed
		}
		onAck(AckEvent{
			ChatJID:      toStoredJID(evt.Chat),
			WaMessageIDs: evt.MessageIDs,
			Ack:          ack,
			Timestamp:    evt.Timestamp,
		})
	case *events.Connected:
		_ = c.client.SendPresence(context.Background(), types.PresenceAvailable)
		if onState != nil {
			onState(ConnConnected)
		}
	case *events.Disconnected:
		if onState != nil {
			onState(ConnDisconnected)
		}
	case *events.LoggedOut:
		log.Warn().Str("sessionID", c.sessionID).Msg("device logged out remotely")
		if onState != nil {
			onState(ConnLoggedOut)
		}
	}
}

func (c *meowClient) translateMessage(evt *events.Message) *InboundMessage {
	msg := &InboundMessage{
		WaMessageID: evt.Info.ID,
		ChatJID:     toStoredJID(evt.Info.Chat),
		SenderJID:   toStoredJID(evt.Info.Sender),
		PushName:    evt.Info.PushName,
		IsFromMe:    evt.Info.IsFromMe,
		IsGroup:     evt.Info.IsGroup,
		Timestamp:   evt.Info.Timestamp,
	}

	m := evt.Message
	switch {
	case m.GetConversation() != "":
		msg.Type = models.MessageText
		msg.Body = m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		msg.Type = models.MessageText
		msg.Body = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		im := m.GetImageMessage()
		msg.Type = models.MessageImage
		msg.Caption = im.GetCaption()
		msg.Media = c.downloadable(im, im.GetMimetype(), "")
	case m.GetVideoMessage() != nil:
		vm := m.GetVideoMessage()
		msg.Type = models.MessageVideo
		msg.Caption = vm.GetCaption()
		msg.Media = c.downloadable(vm, vm.GetMimetype(), "")
	case m.GetAudioMessage() != nil:
		am := m.GetAudioMessage()
		msg.Type = models.MessageAudio
		msg.Media = c.downloadable(am, am.GetMimetype(), "")
	case m.GetDocumentMessage() != nil:
		dm := m.GetDocumentMessage()
		msg.Type = models.MessageDocument
		msg.Caption = dm.GetCaption()
		msg.Media = c.downloadable(dm, dm.GetMimetype(), dm.GetFileName())
	case m.GetStickerMessage() != nil:
		sm := m.GetStickerMessage()
		msg.Type = models.MessageSticker
		msg.Media = c.downloadable(sm, sm.GetMimetype(), "")
	case m.GetLocationMessage() != nil:
		lm := m.GetLocationMessage()
		msg.Type = models.MessageLocation
		msg.Body = fmt.Sprintf("%f,%f", lm.GetDegreesLatitude(), lm.GetDegreesLongitude())
	case m.GetContactMessage() != nil:
		cm := m.GetContactMessage()
		msg.Type = models.MessageContact
		msg.Body = cm.GetDisplayName()
	default:
		// Protocol and unsupported message kinds are not persisted.
		return nil
	}

	return msg
}

func (c *meowClient) downloadable(d whatsmeow.DownloadableMessage, mimeType, fileName string) *InboundMedia {
	return &InboundMedia{
		MimeType: mimeType,
		FileName: fileName,
		Download: func(ctx context.Context) ([]byte, error) {
			return c.client.Download(ctx, d)
		},
	}
}

// toWireJID parses a stored chat id into a whatsmeow JID. Stored
// individual chats use the legacy @c.us form.
func toWireJID(chatJID string) (types.JID, error) {
	if strings.HasSuffix(chatJID, "@c.us") {
		chatJID = strings.TrimSuffix(chatJID, "@c.us") + "@" + types.DefaultUserServer
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid chat JID %q: %w", chatJID, err)
	}
	return jid, nil
}

// toStoredJID renders a whatsmeow JID in the stored form, mapping
// individual chats back to @c.us.
func toStoredJID(jid types.JID) string {
	if jid.Server == types.DefaultUserServer {
		return jid.User + "@c.us"
	}
	return jid.User + "@" + jid.Server
}
