package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// WebhookPublisher POSTs events to a configured global webhook URL.
type WebhookPublisher struct {
	url    string
	client *resty.Client
}

func NewWebhookPublisher(url string) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		client: resty.New().SetTimeout(5 * time.Second),
	}
}

// Enabled reports whether a target URL is configured.
func (w *WebhookPublisher) Enabled() bool {
	return w != nil && w.url != ""
}

func (w *WebhookPublisher) Publish(event Event) {
	if err := w.send(context.Background(), event); err != nil {
		log.Error().Err(err).Str("url", w.url).Str("eventType", event.Type).Msg("Webhook delivery failed")
	}
}

func (w *WebhookPublisher) send(ctx context.Context, event Event) error {
	if !w.Enabled() {
		return nil
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(w.url)
	if err != nil {
		return err
	}
	log.Debug().
		Int("status", resp.StatusCode()).
		Str("eventType", event.Type).
		Msg("Webhook POST completed")
	return nil
}
