package notify

import "time"

// Event is the typed payload fanned out to the notification sink.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	CompanyID string      `json:"companyId,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// List of supported event types
var supportedEventTypes = []string{
	// Session lifecycle
	"Connected",
	"Disconnected",
	"SessionStatus",
	"QRCode",

	// Conversations
	"NewMessage",
	"ClientCreated",
	"ClientUpdated",

	// Special - receives all events
	"All",
}

const (
	EventConnected     = "Connected"
	EventDisconnected  = "Disconnected"
	EventSessionStatus = "SessionStatus"
	EventQRCode        = "QRCode"
	EventNewMessage    = "NewMessage"
	EventClientCreated = "ClientCreated"
	EventClientUpdated = "ClientUpdated"
	EventAll           = "All"
)

// Map for quick validation
var eventTypeMap map[string]bool

func init() {
	eventTypeMap = make(map[string]bool)
	for _, eventType := range supportedEventTypes {
		eventTypeMap[eventType] = true
	}
}

// IsValidEventType reports whether a subscriber may register for this type.
func IsValidEventType(eventType string) bool {
	return eventTypeMap[eventType]
}

// Publisher is the outbound boundary of the core: delivery is best-effort
// and must never block the caller on subscriber availability.
type Publisher interface {
	Publish(event Event)
}
