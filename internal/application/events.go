package application

import "time"

// EventType names a reservation lifecycle event. The set is closed and every
// value doubles as a notification template key.
type EventType string

const (
	EventCreated             EventType = "created"
	EventApproved            EventType = "approved"
	EventRejected            EventType = "rejected"
	EventCancelled           EventType = "cancelled"
	EventBlockedCancellation EventType = "blocked-cancellation"
)

// ReservationEvent is emitted by the reservation engine after a state
// transition commits. Events are fire-and-forget: publishing must never block
// the engine's critical section, and a lost event only delays a notification.
type ReservationEvent struct {
	ReservationID string
	Type          EventType
	OccurredAt    time.Time
}

// EventPublisher receives reservation events for asynchronous handling.
type EventPublisher interface {
	PublishReservationEvent(event ReservationEvent)
}
