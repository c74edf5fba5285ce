package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/campus-reservation/internal/application"
)

// amqpMessage is the wire shape published to the notification queue.
type amqpMessage struct {
	RecordID      string                `json:"record_id"`
	ReservationID string                `json:"reservation_id"`
	EventType     application.EventType `json:"event_type"`
	Recipient     string                `json:"recipient"`
	Subject       string                `json:"subject"`
	Body          string                `json:"body"`
	CreatedAt     time.Time             `json:"created_at"`
}

// AMQPDeliverer publishes notifications to a durable RabbitMQ queue. It
// dials per delivery: notification volume is low and a persistent
// connection would need its own supervision.
type AMQPDeliverer struct {
	URL    string
	Queue  string
	Logger *slog.Logger
}

func (d *AMQPDeliverer) Deliver(ctx context.Context, record Record) error {
	conn, err := amqp.Dial(d.URL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(d.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	body, err := json.Marshal(amqpMessage{
		RecordID:      record.ID,
		ReservationID: record.ReservationID,
		EventType:     record.EventType,
		Recipient:     record.Recipient,
		Subject:       record.Subject,
		Body:          record.Body,
		CreatedAt:     record.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", d.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}

	if d.Logger != nil {
		d.Logger.Debug("notification published", "queue", d.Queue, "record_id", record.ID)
	}
	return nil
}
