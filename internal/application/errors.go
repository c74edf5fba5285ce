package application

import "errors"

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a create collides with an existing record.
	ErrAlreadyExists = errors.New("application: already exists")

	// ErrSpaceNotFound is returned when a reservation references an unknown space.
	ErrSpaceNotFound = errors.New("application: space not found")
	// ErrSpaceInactive is returned when the referenced space is soft deleted.
	ErrSpaceInactive = errors.New("application: space is inactive")
	// ErrDurationExceeded is returned when a slot is longer than the policy maximum.
	ErrDurationExceeded = errors.New("application: duration exceeds policy maximum")
	// ErrOutsideOperatingHours is returned when a slot leaves the daily open window.
	ErrOutsideOperatingHours = errors.New("application: slot outside operating hours")
	// ErrInsufficientNotice is returned when a slot starts inside the advance booking window.
	ErrInsufficientNotice = errors.New("application: insufficient advance notice")
	// ErrQuotaExceeded is returned when the requester already holds the maximum
	// number of active reservations.
	ErrQuotaExceeded = errors.New("application: active reservation quota exceeded")
	// ErrSlotConflict is returned when the requested slot overlaps an active reservation.
	ErrSlotConflict = errors.New("application: slot conflicts with an existing reservation")
	// ErrNotPending is returned when a decision targets a reservation that left pending.
	ErrNotPending = errors.New("application: reservation is not pending")
	// ErrAlreadyTerminal is returned when an operation targets a cancelled or
	// rejected reservation.
	ErrAlreadyTerminal = errors.New("application: reservation is already terminal")

	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrSessionExpired is returned when a session token is past its expiry.
	ErrSessionExpired = errors.New("application: session expired")
	// ErrSessionRevoked is returned when a session token was explicitly revoked.
	ErrSessionRevoked = errors.New("application: session revoked")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
