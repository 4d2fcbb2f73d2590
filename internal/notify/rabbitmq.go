package notify

import (
	"encoding/json"
	"strings"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitPublisher pushes events to RabbitMQ queues. Event types listed in
// specificEvents get their own queue (prefix + lowercased type); everything
// else lands on the default queue.
type RabbitPublisher struct {
	conn           *amqp091.Connection
	channel        *amqp091.Channel
	enabled        bool
	queue          string
	queuePrefix    string
	specificEvents map[string]bool
}

// NewRabbitPublisher dials RabbitMQ. An empty URL disables publishing
// without error: the sink is best-effort by contract.
func NewRabbitPublisher(url, queue, queuePrefix string, specificEvents []string) *RabbitPublisher {
	p := &RabbitPublisher{
		queue:          queue,
		queuePrefix:    queuePrefix,
		specificEvents: make(map[string]bool),
	}
	for _, event := range specificEvents {
		if e := strings.TrimSpace(event); e != "" {
			p.specificEvents[e] = true
		}
	}

	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. RabbitMQ publishing disabled.")
		return p
	}

	var err error
	p.conn, err = amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ")
		return p
	}
	p.channel, err = p.conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel")
		return p
	}
	p.enabled = true
	log.Info().
		Str("queue", queue).
		Str("prefix", queuePrefix).
		Msg("RabbitMQ connection established")
	return p
}

// Enabled reports whether a channel is open.
func (p *RabbitPublisher) Enabled() bool {
	return p != nil && p.enabled
}

func (p *RabbitPublisher) queueName(eventType string) string {
	if p.specificEvents[eventType] {
		return p.queuePrefix + "_" + strings.ToLower(eventType)
	}
	return p.queuePrefix + "_" + p.queue
}

// Publish marshals the event and pushes it to the resolved queue. Queue
// declaration is idempotent.
func (p *RabbitPublisher) Publish(event Event) {
	if err := p.publish(event); err != nil {
		log.Error().Err(err).Str("eventType", event.Type).Msg("Failed to publish to RabbitMQ")
	}
}

func (p *RabbitPublisher) publish(event Event) error {
	if !p.Enabled() {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	queueName := p.queueName(event.Type)
	_, err = p.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not declare RabbitMQ queue")
		return err
	}

	err = p.channel.Publish(
		"",        // exchange (default)
		queueName, // routing key = queue
		false,     // mandatory
		false,     // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err == nil {
		log.Debug().Str("queue", queueName).Str("eventType", event.Type).Msg("Published event to RabbitMQ")
	}
	return err
}

// Close shuts the channel and connection.
func (p *RabbitPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
