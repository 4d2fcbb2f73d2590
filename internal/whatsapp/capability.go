package whatsapp

import (
	"context"
	"time"

	"zapdesk/internal/models"
)

// InboundMessage is a provider message normalized for the pipeline.
type InboundMessage struct {
	WaMessageID string
	ChatJID     string
	SenderJID   string
	PushName    string
	IsFromMe    bool
	IsGroup     bool
	Timestamp   time.Time
	Type        models.MessageType
	Body        string
	Caption     string
	Media       *InboundMedia
}

// InboundMedia describes an attachment. Download is lazy so the pipeline
// can degrade to a text-only message when the fetch fails.
type InboundMedia struct {
	MimeType string
	FileName string
	Download func(ctx context.Context) ([]byte, error)
}

// AckEvent is a delivery receipt for one or more previously sent messages.
type AckEvent struct {
	ChatJID      string
	WaMessageIDs []string
	Ack          models.Ack
	Timestamp    time.Time
}

// ContactInfo is the provider-side profile of a chat contact.
type ContactInfo struct {
	Name          string
	PushName      string
	ProfilePicURL string
}

// SentMessage is the provider's acknowledgement of an outbound send.
type SentMessage struct {
	WaMessageID string
	Timestamp   time.Time
}

// ConnState is pushed by the capability whenever the underlying link
// changes state.
type ConnState int

const (
	ConnConnected ConnState = iota
	ConnDisconnected
	ConnLoggedOut
)

// Capability is the narrow surface a session needs from the messaging
// provider. The whatsmeow adapter implements it; tests use fakes.
type Capability interface {
	// Pair connects and drives the QR login flow. onCode fires for every
	// fresh QR code; onState fires on link state changes, including the
	// initial successful connect. Pair returns once the connection attempt
	// is underway; completion is reported through onState.
	Pair(ctx context.Context, onCode func(code string), onState func(ConnState)) error

	// Connected reports whether the link is up and authenticated.
	Connected() bool

	SendText(ctx context.Context, chatJID, text string) (*SentMessage, error)
	SendFile(ctx context.Context, chatJID string, data []byte, mimeType, fileName, caption string) (*SentMessage, error)

	OnMessage(cb func(InboundMessage))
	OnAck(cb func(AckEvent))

	GetContact(ctx context.Context, chatJID string) (*ContactInfo, error)

	// Close tears down the connection without logging out the device.
	Close()

	// Logout invalidates the stored credentials.
	Logout(ctx context.Context) error
}

// Dialer creates capabilities bound to a provider session id.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Capability, error)

	// Cleanup removes provider leftovers of a retired session so a fresh
	// pairing can start clean.
	Cleanup(sessionID string) error
}
