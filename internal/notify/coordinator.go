// Package notify delivers reservation lifecycle notifications with
// exactly-once sent records. The idempotency key is the pair
// (reservation id, event type): once a sent record exists for the pair,
// later dispatches of the same event are duplicates and deliver nothing.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

// ErrDeliveryFailed reports that the deliverer could not hand the message
// to its channel. The record stays unsent and a later dispatch retries it.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Record is one notification on file. Sent flips to true exactly once,
// after a successful delivery.
type Record struct {
	ID            string
	ReservationID string
	EventType     application.EventType
	Recipient     string
	Subject       string
	Body          string
	Sent          bool
	SentAt        *time.Time
	CreatedAt     time.Time
}

// RecordRepository persists notification records.
type RecordRepository interface {
	// FindSent returns the sent record for the idempotency pair, or a
	// not-found error when none exists.
	FindSent(ctx context.Context, reservationID string, eventType application.EventType) (Record, error)
	CreateRecord(ctx context.Context, record Record) (Record, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	ListPending(ctx context.Context) ([]Record, error)
	ListHistory(ctx context.Context, reservationID string) ([]Record, error)
}

// ReferenceData resolves the entities a notification text needs.
type ReferenceData interface {
	GetReservation(ctx context.Context, id string) (application.Reservation, error)
	GetSpace(ctx context.Context, id string) (application.Space, error)
	GetUser(ctx context.Context, id string) (application.User, error)
}

// DispatchResult reports what one dispatch did.
type DispatchResult struct {
	Record    Record
	Duplicate bool
	Delivered bool
}

// Coordinator consumes reservation events and dispatches notifications.
// It satisfies application.EventPublisher: PublishReservationEvent queues
// the event and returns immediately, so the reservation engine never waits
// on delivery.
type Coordinator struct {
	records     RecordRepository
	refs        ReferenceData
	deliverer   Deliverer
	idGenerator func() string
	now         func() time.Time
	queue       chan application.ReservationEvent
	logger      *slog.Logger

	// pairMu serializes Dispatch per (reservation, event type) so two
	// concurrent dispatches of the same pair cannot both miss FindSent.
	pairMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// NewCoordinator wires the coordinator. queueSize bounds the async backlog;
// a non-positive value falls back to 64.
func NewCoordinator(records RecordRepository, refs ReferenceData, deliverer Deliverer, idGenerator func() string, now func() time.Time, queueSize int, logger *slog.Logger) *Coordinator {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		records:     records,
		refs:        refs,
		deliverer:   deliverer,
		idGenerator: idGenerator,
		now:         now,
		queue:       make(chan application.ReservationEvent, queueSize),
		logger:      logger,
		pairLocks:   make(map[string]*sync.Mutex),
	}
}

// PublishReservationEvent queues the event for asynchronous dispatch.
// When the queue is full the event is dropped with a log line; the
// reservation transition it belongs to has already committed and must not
// be held back.
func (c *Coordinator) PublishReservationEvent(event application.ReservationEvent) {
	select {
	case c.queue <- event:
	default:
		c.logger.Warn("notification queue full, event dropped",
			"reservation_id", event.ReservationID, "event_type", event.Type)
	}
}

// Run consumes queued events until ctx is cancelled. Call it from its own
// goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.queue:
			if _, err := c.Dispatch(ctx, event.ReservationID, event.Type); err != nil {
				c.logger.Warn("notification dispatch failed",
					"reservation_id", event.ReservationID,
					"event_type", event.Type,
					"error", err)
			}
		}
	}
}

// acquirePair locks the mutex for one idempotency pair, creating it on
// first use, and returns the unlock.
func (c *Coordinator) acquirePair(reservationID string, eventType application.EventType) func() {
	key := reservationID + "|" + string(eventType)
	c.pairMu.Lock()
	mu, ok := c.pairLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.pairLocks[key] = mu
	}
	c.pairMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Dispatch sends the notification for one (reservation, event) pair. A
// pair that already has a sent record is reported as a duplicate and not
// delivered again. A failed delivery leaves the record unsent so a later
// dispatch can retry it.
func (c *Coordinator) Dispatch(ctx context.Context, reservationID string, eventType application.EventType) (DispatchResult, error) {
	release := c.acquirePair(reservationID, eventType)
	defer release()

	if existing, err := c.records.FindSent(ctx, reservationID, eventType); err == nil {
		c.logger.Debug("duplicate notification suppressed",
			"reservation_id", reservationID, "event_type", eventType)
		return DispatchResult{Record: existing, Duplicate: true}, nil
	} else if !isNotFound(err) {
		return DispatchResult{}, fmt.Errorf("find sent record: %w", err)
	}

	record, err := c.buildRecord(ctx, reservationID, eventType)
	if err != nil {
		return DispatchResult{}, err
	}

	record, err = c.records.CreateRecord(ctx, record)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("create record: %w", err)
	}

	if err := c.deliverer.Deliver(ctx, record); err != nil {
		return DispatchResult{Record: record}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	sentAt := c.now()
	if err := c.records.MarkSent(ctx, record.ID, sentAt); err != nil {
		// The storage-level dedup constraint fired: another dispatch won
		// the race and its record is the sent one.
		if errors.Is(err, persistence.ErrDuplicate) {
			if existing, findErr := c.records.FindSent(ctx, reservationID, eventType); findErr == nil {
				return DispatchResult{Record: existing, Duplicate: true}, nil
			}
			return DispatchResult{Record: record, Duplicate: true}, nil
		}
		return DispatchResult{Record: record}, fmt.Errorf("mark sent: %w", err)
	}
	record.Sent = true
	record.SentAt = &sentAt

	c.logger.Info("notification sent",
		"reservation_id", reservationID, "event_type", eventType, "recipient", record.Recipient)
	return DispatchResult{Record: record, Delivered: true}, nil
}

// Redeliver retries every unsent record. It returns how many were
// delivered this time.
func (c *Coordinator) Redeliver(ctx context.Context) (int, error) {
	pending, err := c.records.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	delivered := 0
	for _, record := range pending {
		if err := c.deliverer.Deliver(ctx, record); err != nil {
			c.logger.Warn("redelivery failed", "record_id", record.ID, "error", err)
			continue
		}
		if err := c.records.MarkSent(ctx, record.ID, c.now()); err != nil {
			return delivered, fmt.Errorf("mark sent: %w", err)
		}
		delivered++
	}
	return delivered, nil
}

// History lists the notifications on file for one reservation.
func (c *Coordinator) History(ctx context.Context, reservationID string) ([]Record, error) {
	return c.records.ListHistory(ctx, reservationID)
}

// Pending lists the records still waiting for delivery.
func (c *Coordinator) Pending(ctx context.Context) ([]Record, error) {
	return c.records.ListPending(ctx)
}

func (c *Coordinator) buildRecord(ctx context.Context, reservationID string, eventType application.EventType) (Record, error) {
	reservation, err := c.refs.GetReservation(ctx, reservationID)
	if err != nil {
		return Record{}, fmt.Errorf("load reservation: %w", err)
	}
	space, err := c.refs.GetSpace(ctx, reservation.SpaceID)
	if err != nil {
		return Record{}, fmt.Errorf("load space: %w", err)
	}
	recipient, err := c.refs.GetUser(ctx, reservation.RequesterID)
	if err != nil {
		return Record{}, fmt.Errorf("load requester: %w", err)
	}

	subject, body := renderTemplate(eventType, reservation, space, recipient)
	return Record{
		ID:            c.idGenerator(),
		ReservationID: reservationID,
		EventType:     eventType,
		Recipient:     recipient.Email,
		Subject:       subject,
		Body:          body,
		CreatedAt:     c.now(),
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, application.ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}
