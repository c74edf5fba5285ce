package application

import (
	"fmt"
	"time"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// SpaceCategory classifies a bookable space. The set is closed.
type SpaceCategory string

const (
	CategoryRoom  SpaceCategory = "room"
	CategoryCourt SpaceCategory = "court"
)

// KnownCategory reports whether c belongs to the closed category set.
func KnownCategory(c SpaceCategory) bool {
	return c == CategoryRoom || c == CategoryCourt
}

// Space represents a bookable campus resource. Deactivation is a soft delete:
// inactive spaces keep their reservation history but accept no new bookings.
type Space struct {
	ID          string
	Name        string
	Category    SpaceCategory
	Capacity    int
	Description string
	Location    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReservationState is the lifecycle state of a reservation.
type ReservationState string

const (
	StatePending   ReservationState = "pending"
	StateApproved  ReservationState = "approved"
	StateRejected  ReservationState = "rejected"
	StateCancelled ReservationState = "cancelled"
	StateBlocked   ReservationState = "blocked"
)

// Terminal reports whether the state admits no further transitions.
func (s ReservationState) Terminal() bool {
	return s == StateRejected || s == StateCancelled
}

// ReservationKind distinguishes normal bookings from administrative holds.
type ReservationKind string

const (
	KindNormal        ReservationKind = "normal"
	KindBlock         ReservationKind = "block"
	KindIncidentBlock ReservationKind = "incident-block"
)

// ActiveStates are the states that occupy a slot for conflict purposes.
var ActiveStates = []ReservationState{StatePending, StateApproved, StateBlocked}

// Reservation represents one booking of a space over a half-open interval.
type Reservation struct {
	ID                string
	RequesterID       string
	SpaceID           string
	Start             time.Time
	End               time.Time
	State             ReservationState
	Kind              ReservationKind
	Reason            string
	Recurring         bool
	RecurrencePattern string
	ApproverID        *string
	ApprovedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TimeOfDay is minutes since midnight. The operating policy expresses the
// daily open and close boundary with it.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" into a TimeOfDay.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// TimeOfDayFrom extracts the minutes-since-midnight component of an instant.
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// String formats the time of day as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// OperatingPolicy is the singleton configuration consulted on every
// availability and creation check.
type OperatingPolicy struct {
	AdvanceBookingDays    int
	MaxActivePerRequester int
	MaxDurationHours      int
	OpensAt               TimeOfDay
	ClosesAt              TimeOfDay
	UpdatedAt             time.Time
}

// MaxDuration returns the policy limit as a duration.
func (p OperatingPolicy) MaxDuration() time.Duration {
	return time.Duration(p.MaxDurationHours) * time.Hour
}

// DefaultPolicy mirrors the values the system is seeded with.
func DefaultPolicy() OperatingPolicy {
	return OperatingPolicy{
		AdvanceBookingDays:    7,
		MaxActivePerRequester: 1,
		MaxDurationHours:      4,
		OpensAt:               8 * 60,
		ClosesAt:              22 * 60,
	}
}

// UserRole classifies an account.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleStaff   UserRole = "staff"
	RoleAdmin   UserRole = "admin"
)

// KnownRole reports whether r belongs to the closed role set.
func KnownRole(r UserRole) bool {
	return r == RoleStudent || r == RoleStaff || r == RoleAdmin
}

// User represents a campus account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Role         UserRole
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IncidentState is the lifecycle state of a reported incident.
type IncidentState string

const (
	IncidentOpen       IncidentState = "open"
	IncidentInProgress IncidentState = "in-progress"
	IncidentResolved   IncidentState = "resolved"
)

// Incident is a reported problem with a space. Applying a block ties the
// incident to a blocked reservation covering the affected interval.
type Incident struct {
	ID          string
	SpaceID     string
	Kind        string
	Description string
	State       IncidentState
	ReportedBy  string
	ReportedAt  time.Time
	ResolvedBy  *string
	ResolvedAt  *time.Time
	Resolution  *string
}

// AuditEntry records one state-changing operation for the audit trail.
type AuditEntry struct {
	ID       string
	Table    string
	Action   string
	RecordID string
	ActorID  string
	Before   map[string]any
	After    map[string]any
	At       time.Time
}

// Session represents an opaque authentication token issued to a user.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}
