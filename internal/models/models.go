package models

import "time"

// SessionStatus is the persisted connection state of a messaging session.
// The numeric values are stable; they survive process restarts.
type SessionStatus int

const (
	SessionDisconnected SessionStatus = 0
	SessionConnected    SessionStatus = 1
	SessionQrPending    SessionStatus = 2
	SessionConnecting   SessionStatus = 3
)

func (s SessionStatus) String() string {
	switch s {
	case SessionConnected:
		return "connected"
	case SessionQrPending:
		return "qr"
	case SessionConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}

type ChatType int

const (
	ChatIndividual ChatType = 0
	ChatGroup      ChatType = 1
)

type Direction int

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

type MessageType int

const (
	MessageText     MessageType = 0
	MessageImage    MessageType = 1
	MessageAudio    MessageType = 2
	MessageVideo    MessageType = 3
	MessageDocument MessageType = 4
	MessageLocation MessageType = 5
	MessageContact  MessageType = 6
	MessageSticker  MessageType = 7
)

// Ack tracks delivery state of a message, last-write-wins keyed by the
// external message id.
type Ack int

const (
	AckError  Ack = 0
	AckPending Ack = 1
	AckServer Ack = 2
	AckDevice Ack = 3
	AckRead   Ack = 4
	AckPlayed Ack = 5
)

type TicketStatus int

const (
	TicketAwaitingClientChoice TicketStatus = 0
	TicketAwaitingAgent        TicketStatus = 1
	TicketInProgress           TicketStatus = 2
	TicketFinished             TicketStatus = 3
	TicketCancelled            TicketStatus = 4
)

// IsOpen reports whether the ticket still counts toward the
// one-open-ticket-per-client limit.
func (s TicketStatus) IsOpen() bool {
	return s == TicketAwaitingClientChoice || s == TicketAwaitingAgent || s == TicketInProgress
}

// Company is a tenant. Retention and cache windows are per tenant.
type Company struct {
	ID               string     `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	RetentionDays    int        `db:"retention_days" json:"retentionDays"`
	CacheFetchedDays int        `db:"cache_fetched_days" json:"cacheFetchedDays"`
	MediaProvider    string     `db:"media_provider" json:"mediaProvider"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
}

// Session is the durable record of one supervised messaging connection.
type Session struct {
	ID             string        `db:"id" json:"id"`
	CompanyID      string        `db:"company_id" json:"companyId"`
	Name           string        `db:"name" json:"name"`
	PhoneNumber    string        `db:"phone_number" json:"phoneNumber"`
	Status         SessionStatus `db:"status" json:"status"`
	QRCode         *string       `db:"qr_code" json:"-"`
	QRExpiresAt    *time.Time    `db:"qr_expires_at" json:"qrExpiresAt"`
	LastHeartbeat  *time.Time    `db:"last_heartbeat" json:"lastHeartbeat"`
	ReauthRequired bool          `db:"reauth_required" json:"reauthRequired"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	DeletedAt      *time.Time    `db:"deleted_at" json:"-"`
}

// Chat is one conversation thread, unique per (company, session, external id).
type Chat struct {
	ID            string     `db:"id" json:"id"`
	CompanyID     string     `db:"company_id" json:"companyId"`
	SessionID     string     `db:"session_id" json:"sessionId"`
	WaChatID      string     `db:"wa_chat_id" json:"waChatId"`
	Type          ChatType   `db:"type" json:"type"`
	ClientID      *string    `db:"client_id" json:"clientId"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt"`
	UnreadCount   int        `db:"unread_count" json:"unreadCount"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// Client is a contact, created lazily on first inbound message.
type Client struct {
	ID            string     `db:"id" json:"id"`
	CompanyID     string     `db:"company_id" json:"companyId"`
	Name          string     `db:"name" json:"name"`
	WhatsAppNumber string    `db:"whatsapp_number" json:"whatsappNumber"`
	WaUserID      string     `db:"wa_user_id" json:"waUserId"`
	ProfilePicURL *string    `db:"profile_pic_url" json:"profilePicUrl"`
	IsBlocked     bool       `db:"is_blocked" json:"isBlocked"`
	LastContactAt *time.Time `db:"last_contact_at" json:"lastContactAt"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt     *time.Time `db:"deleted_at" json:"-"`
}

// Media is a persisted attachment: provider tag plus an opaque key.
type Media struct {
	ID              string    `db:"id" json:"id"`
	CompanyID       string    `db:"company_id" json:"companyId"`
	StorageProvider string    `db:"storage_provider" json:"storageProvider"`
	StorageKey      string    `db:"storage_key" json:"storageKey"`
	MimeType        string    `db:"mime_type" json:"mimeType"`
	SizeBytes       int64     `db:"size_bytes" json:"sizeBytes"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// Message rows are immutable once persisted except for ack and cache fields.
// FetchedFromWhatsApp marks rows recovered through a side channel; such rows
// always carry CacheUntil and are removed only by cache expiry.
type Message struct {
	ID                  string      `db:"id" json:"id"`
	CompanyID           string      `db:"company_id" json:"companyId"`
	SessionID           string      `db:"session_id" json:"sessionId"`
	ChatID              string      `db:"chat_id" json:"chatId"`
	WaMessageID         string      `db:"wa_message_id" json:"waMessageId"`
	Direction           Direction   `db:"direction" json:"direction"`
	Type                MessageType `db:"type" json:"type"`
	Body                *string     `db:"body" json:"body"`
	Caption             *string     `db:"caption" json:"caption"`
	MediaID             *string     `db:"media_id" json:"mediaId"`
	Ack                 Ack         `db:"ack" json:"ack"`
	WaTimestamp         *time.Time  `db:"wa_timestamp" json:"waTimestamp"`
	FetchedFromWhatsApp bool        `db:"fetched_from_whatsapp" json:"fetchedFromWhatsApp"`
	CacheUntil          *time.Time  `db:"cache_until" json:"cacheUntil"`
	CreatedAt           time.Time   `db:"created_at" json:"createdAt"`
}

// Queue is a routing bucket with an agent roster and a greeting.
type Queue struct {
	ID              string     `db:"id" json:"id"`
	CompanyID       string     `db:"company_id" json:"companyId"`
	Name            string     `db:"name" json:"name"`
	GreetingMessage *string    `db:"greeting_message" json:"greetingMessage"`
	IsActive        bool       `db:"is_active" json:"isActive"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt       *time.Time `db:"deleted_at" json:"-"`
}

// Ticket tracks one client's conversation through queueing, assignment and
// resolution. Soft-deleted only, never removed.
type Ticket struct {
	ID             string       `db:"id" json:"id"`
	CompanyID      string       `db:"company_id" json:"companyId"`
	ClientID       string       `db:"client_id" json:"clientId"`
	UserID         *string      `db:"user_id" json:"userId"`
	QueueID        *string      `db:"queue_id" json:"queueId"`
	CategoryID     *string      `db:"category_id" json:"categoryId"`
	ChatID         *string      `db:"chat_id" json:"chatId"`
	Subject        string       `db:"subject" json:"subject"`
	ResolutionText *string      `db:"resolution_text" json:"resolutionText"`
	Status         TicketStatus `db:"status" json:"status"`
	Priority       int          `db:"priority" json:"priority"`
	ReopenedCount  int          `db:"reopened_count" json:"reopenedCount"`
	LastMessageAt  *time.Time   `db:"last_message_at" json:"lastMessageAt"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	DeletedAt      *time.Time   `db:"deleted_at" json:"-"`
}

// User is an agent account. Authentication lives outside this core.
type User struct {
	ID        string     `db:"id" json:"id"`
	CompanyID string     `db:"company_id" json:"companyId"`
	Name      string     `db:"name" json:"name"`
	Email     string     `db:"email" json:"email"`
	IsActive  bool       `db:"is_active" json:"isActive"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// UserQueue links an agent to a queue roster.
type UserQueue struct {
	UserID    string    `db:"user_id" json:"userId"`
	QueueID   string    `db:"queue_id" json:"queueId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
