package notify

import (
	"context"
	"log/slog"
)

// Deliverer hands one notification to its delivery channel.
type Deliverer interface {
	Deliver(ctx context.Context, record Record) error
}

// LogDeliverer writes notifications to the log instead of a real channel.
// It is the default when no message broker is configured.
type LogDeliverer struct {
	Logger *slog.Logger
}

func (d *LogDeliverer) Deliver(_ context.Context, record Record) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification delivered to log",
		"record_id", record.ID,
		"reservation_id", record.ReservationID,
		"event_type", record.EventType,
		"recipient", record.Recipient,
		"subject", record.Subject)
	return nil
}
