package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DeliveryStatus represents the status of a delivery
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

type deliveryRecord struct {
	ID           string
	Event        Event
	CreatedAt    time.Time
	AttemptCount int
	Status       DeliveryStatus
	LastError    string
}

// DeliveryResult represents the result of one channel attempt.
type DeliveryResult struct {
	Channel  string
	Success  bool
	Error    string
	Duration int64
}

// DeliveryManager fans events out to the external channels (RabbitMQ,
// webhook) in parallel, with bounded retries. The in-process bus is not a
// delivery channel here; it runs synchronously in the Dispatcher.
type DeliveryManager struct {
	mu           sync.RWMutex
	pending      map[string]*deliveryRecord
	rabbit       *RabbitPublisher
	webhook      *WebhookPublisher
	maxRetries   int
	retryBackoff time.Duration
	timeout      time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewDeliveryManager(rabbit *RabbitPublisher, webhook *WebhookPublisher) *DeliveryManager {
	dm := &DeliveryManager{
		pending:      make(map[string]*deliveryRecord),
		rabbit:       rabbit,
		webhook:      webhook,
		maxRetries:   3,
		retryBackoff: 2 * time.Second,
		timeout:      10 * time.Second,
		stop:         make(chan struct{}),
	}
	go dm.processRetries()
	log.Info().
		Int("maxRetries", dm.maxRetries).
		Dur("timeout", dm.timeout).
		Msg("Delivery manager initialized")
	return dm
}

// Deliver queues an event for background delivery to all external channels.
// Never blocks the caller.
func (dm *DeliveryManager) Deliver(event Event) {
	if !dm.rabbit.Enabled() && !dm.webhook.Enabled() {
		return
	}

	rec := &deliveryRecord{
		ID:        fmt.Sprintf("%s_%d", event.SessionID, time.Now().UnixNano()),
		Event:     event,
		CreatedAt: time.Now(),
		Status:    DeliveryStatusPending,
	}

	dm.mu.Lock()
	dm.pending[rec.ID] = rec
	dm.mu.Unlock()

	go dm.processDelivery(rec)
}

func (dm *DeliveryManager) processDelivery(rec *deliveryRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), dm.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan DeliveryResult, 2)

	if dm.rabbit.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- dm.deliverToRabbit(ctx, rec)
		}()
	}

	if dm.webhook.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- dm.deliverToWebhook(ctx, rec)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	allSuccess := true
	for result := range results {
		if !result.Success {
			allSuccess = false
		}
		log.Debug().
			Str("deliveryID", rec.ID).
			Str("channel", result.Channel).
			Bool("success", result.Success).
			Int64("durationMs", result.Duration).
			Str("error", result.Error).
			Msg("Channel delivery result")
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if allSuccess {
		rec.Status = DeliveryStatusDelivered
		delete(dm.pending, rec.ID)
		return
	}
	rec.AttemptCount++
	if rec.AttemptCount >= dm.maxRetries {
		rec.Status = DeliveryStatusFailed
		rec.LastError = "max retries exceeded"
		delete(dm.pending, rec.ID)
		log.Error().
			Str("deliveryID", rec.ID).
			Int("attemptCount", rec.AttemptCount).
			Msg("Event delivery failed permanently")
	} else {
		log.Warn().
			Str("deliveryID", rec.ID).
			Int("attemptCount", rec.AttemptCount).
			Int("maxRetries", dm.maxRetries).
			Msg("Event delivery partially failed, will retry")
	}
}

func (dm *DeliveryManager) deliverToRabbit(ctx context.Context, rec *deliveryRecord) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{Channel: "rabbitmq"}

	select {
	case <-ctx.Done():
		result.Error = "context timeout"
		result.Duration = time.Since(start).Milliseconds()
		return result
	default:
	}

	err := dm.rabbit.publish(rec.Event)
	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
	}
	return result
}

func (dm *DeliveryManager) deliverToWebhook(ctx context.Context, rec *deliveryRecord) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{Channel: "webhook"}

	err := dm.webhook.send(ctx, rec.Event)
	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
	}
	return result
}

func (dm *DeliveryManager) processRetries() {
	ticker := time.NewTicker(dm.retryBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-dm.stop:
			return
		case <-ticker.C:
			dm.retryPending()
		}
	}
}

func (dm *DeliveryManager) retryPending() {
	dm.mu.RLock()
	toRetry := make([]*deliveryRecord, 0)
	for _, rec := range dm.pending {
		if rec.Status == DeliveryStatusPending &&
			rec.AttemptCount > 0 &&
			rec.AttemptCount < dm.maxRetries &&
			time.Since(rec.CreatedAt) > dm.retryBackoff {
			toRetry = append(toRetry, rec)
		}
	}
	dm.mu.RUnlock()

	for _, rec := range toRetry {
		log.Info().
			Str("deliveryID", rec.ID).
			Int("attemptCount", rec.AttemptCount).
			Msg("Retrying failed event delivery")
		go dm.processDelivery(rec)
	}
}

// PendingCount returns the number of in-flight deliveries.
func (dm *DeliveryManager) PendingCount() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.pending)
}

// Stop ends the retry loop.
func (dm *DeliveryManager) Stop() {
	dm.stopOnce.Do(func() { close(dm.stop) })
}

// Dispatcher is the event sink handed to the core: it runs the
// in-process bus synchronously and hands the event to the delivery manager
// for the external channels.
type Dispatcher struct {
	Bus *Bus
	dm  *DeliveryManager
}

func NewDispatcher(bus *Bus, dm *DeliveryManager) *Dispatcher {
	return &Dispatcher{Bus: bus, dm: dm}
}

func (d *Dispatcher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	d.Bus.Publish(event)
	if d.dm != nil {
		d.dm.Deliver(event)
	}
}
