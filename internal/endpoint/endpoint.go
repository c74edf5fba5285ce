// Package endpoint adapts the application services to the routing bus.
// Every request payload is a JSON object with an "action" field selecting
// the operation, a "token" field where authentication is required, and the
// operation's own fields alongside. Responses are plain JSON views; errors
// propagate to the bus, which turns them into error envelopes.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

// TokenVerifier resolves an opaque session token to its principal.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (application.Principal, error)
}

// actionEnvelope is the part of every request the dispatcher needs.
type actionEnvelope struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

func decodeAction(payload json.RawMessage) (actionEnvelope, error) {
	var envelope actionEnvelope
	if len(payload) == 0 {
		return envelope, validationError("action", "request payload is empty")
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return envelope, validationError("payload", fmt.Sprintf("malformed request: %v", err))
	}
	if envelope.Action == "" {
		return envelope, validationError("action", "action is required")
	}
	return envelope, nil
}

func decode(payload json.RawMessage, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return validationError("payload", fmt.Sprintf("malformed request: %v", err))
	}
	return nil
}

func unknownAction(service, action string) error {
	return validationError("action", fmt.Sprintf("unknown %s action %q", service, action))
}

func validationError(field, message string) error {
	return &application.ValidationError{FieldErrors: map[string]string{field: message}}
}

// parseTime parses an RFC3339 request field.
func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, validationError(field, field+" is required")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, validationError(field, fmt.Sprintf("%s must be RFC 3339, got %q", field, value))
	}
	return t, nil
}

// parseDate parses a YYYY-MM-DD request field.
func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, validationError(field, field+" is required")
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, validationError(field, fmt.Sprintf("%s must be YYYY-MM-DD, got %q", field, value))
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullableTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// mapRepoError keeps repository sentinels from leaking to the wire when an
// endpoint reads a repository directly.
func mapRepoError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return application.ErrNotFound
	}
	return err
}

// okResponse is the response of operations with nothing else to report.
type okResponse struct {
	OK bool `json:"ok"`
}

var ok = okResponse{OK: true}
