package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
)

// EventPublisher publishes booking events. Callers log failures and carry on;
// an event is never a reason to fail a booking request.
type EventPublisher interface {
	Publish(ctx context.Context, event models.BookingEvent) error
}

// NopPublisher drops events; used when the broker is disabled
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, models.BookingEvent) error { return nil }

// defaultDialTimeout bounds the dial and AMQP handshake when ctx has no
// earlier deadline
const defaultDialTimeout = 5 * time.Second

// RabbitPublisher publishes booking events to a durable RabbitMQ queue.
// The connection is opened lazily and re-dialled after a failure.
type RabbitPublisher struct {
	url    string
	queue  string
	logger *logrus.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitPublisher creates a publisher for the given queue
func NewRabbitPublisher(url, queue string, logger *logrus.Logger) *RabbitPublisher {
	return &RabbitPublisher{
		url:    url,
		queue:  queue,
		logger: logger,
	}
}

// Publish sends the event as a persistent JSON message, routed by queue name
func (p *RabbitPublisher) Publish(ctx context.Context, event models.BookingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	messageID := event.ID
	if messageID == "" {
		messageID = uuid.New().String()
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(event.Type),
		MessageId:    messageID,
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.drop(ch)
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"booking_id": event.BookingID,
		"message_id": messageID,
	}).Debug("Booking event published")

	return nil
}

// Close closes the channel and connection
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// channel returns an open channel, dialling if needed. The dial runs without
// p.mu so a slow broker only stalls the callers that need a connection.
func (p *RabbitPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	timeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		// Another caller connected first
		_ = ch.Close()
		_ = conn.Close()
		return p.ch, nil
	}
	p.reset()
	p.conn, p.ch = conn, ch
	p.logger.WithField("queue", p.queue).Info("Connected to booking event broker")
	return ch, nil
}

// drop discards ch after a failed publish unless it was already replaced
func (p *RabbitPublisher) drop(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.reset()
	}
}

func (p *RabbitPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// publishEvent publishes and logs a failure; shared by the orchestrator and lifecycle manager
func publishEvent(ctx context.Context, publisher EventPublisher, logger *logrus.Logger, event models.BookingEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"booking_id": event.BookingID,
		}).Warn("Failed to publish booking event")
	}
}
