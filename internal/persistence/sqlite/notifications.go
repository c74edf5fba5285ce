package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/notify"
	"github.com/example/campus-reservation/internal/persistence"
)

const notificationColumns = `id, reservation_id, event_type, recipient, subject, body, sent, sent_at, created_at`

// FindSent returns the sent record for the (reservation, event type) pair.
func (s *Store) FindSent(ctx context.Context, reservationID string, eventType application.EventType) (notify.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE reservation_id = ? AND event_type = ? AND sent = 1
		LIMIT 1`,
		reservationID, string(eventType))
	return scanNotification(row)
}

// CreateRecord inserts a new notification record.
func (s *Store) CreateRecord(ctx context.Context, record notify.Record) (notify.Record, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ReservationID,
		string(record.EventType),
		record.Recipient,
		record.Subject,
		record.Body,
		boolToInt(record.Sent),
		formatNullableTime(record.SentAt),
		formatTime(record.CreatedAt),
	)
	if err != nil {
		return notify.Record{}, mapError(err)
	}
	return record, nil
}

// MarkSent flips a record to sent exactly once. The partial unique index on
// (reservation_id, event_type) WHERE sent = 1 makes a second sent row for
// the pair fail with ErrDuplicate.
func (s *Store) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET sent = 1, sent_at = ? WHERE id = ? AND sent = 0`,
		formatTime(sentAt), id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListPending returns unsent records, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]notify.Record, error) {
	return s.listNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE sent = 0 ORDER BY created_at, id`)
}

// ListHistory returns every record for a reservation, oldest first.
func (s *Store) ListHistory(ctx context.Context, reservationID string) ([]notify.Record, error) {
	return s.listNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE reservation_id = ? ORDER BY created_at, id`, reservationID)
}

func (s *Store) listNotifications(ctx context.Context, query string, args ...any) ([]notify.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []notify.Record
	for rows.Next() {
		record, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (notify.Record, error) {
	var record notify.Record
	var eventType, createdStr string
	var sent int
	var sentAt sql.NullString

	err := row.Scan(
		&record.ID,
		&record.ReservationID,
		&eventType,
		&record.Recipient,
		&record.Subject,
		&record.Body,
		&sent,
		&sentAt,
		&createdStr,
	)
	if err != nil {
		return notify.Record{}, mapError(err)
	}

	record.EventType = application.EventType(eventType)
	record.Sent = sent != 0
	if record.SentAt, err = parseNullableTime(sentAt); err != nil {
		return notify.Record{}, err
	}
	if record.CreatedAt, err = parseTime(createdStr); err != nil {
		return notify.Record{}, err
	}
	return record, nil
}
