package media

import (
	"context"

	"github.com/vincent-petithory/dataurl"
)

// Stored describes where an attachment ended up: a provider tag plus an
// opaque key the provider can resolve later.
type Stored struct {
	Provider string
	Key      string
	URL      string
}

// Storage persists attachment bytes. Implementations must be safe for
// concurrent use; failures degrade the enclosing message to text-only and
// are never fatal.
type Storage interface {
	Save(ctx context.Context, companyID, contactJID, messageID string, data []byte, mimeType, fileName string, incoming bool) (*Stored, error)
}

// Base64Storage keeps the attachment inline as a data URL; the storage key
// is the payload itself. This is the default provider for tenants without
// object storage.
type Base64Storage struct{}

func NewBase64Storage() *Base64Storage {
	return &Base64Storage{}
}

func (b *Base64Storage) Save(_ context.Context, _, _, _ string, data []byte, mimeType, _ string, _ bool) (*Stored, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &Stored{
		Provider: "base64",
		Key:      dataurl.New(data, mimeType).String(),
	}, nil
}
