package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/notify"
)

// NotificationEndpoint serves the "notif" service on top of the
// notification coordinator.
type NotificationEndpoint struct {
	coordinator *notify.Coordinator
	verifier    TokenVerifier
}

func NewNotificationEndpoint(coordinator *notify.Coordinator, verifier TokenVerifier) *NotificationEndpoint {
	return &NotificationEndpoint{coordinator: coordinator, verifier: verifier}
}

func (e *NotificationEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "dispatch":
		if !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		var req struct {
			ReservationID string `json:"reservation_id"`
			EventType     string `json:"event_type"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		result, err := e.coordinator.Dispatch(ctx, req.ReservationID, application.EventType(req.EventType))
		if err != nil {
			return nil, err
		}
		return struct {
			Notification notificationView `json:"notification"`
			Duplicate    bool             `json:"duplicate"`
			Delivered    bool             `json:"delivered"`
		}{
			Notification: newNotificationView(result.Record),
			Duplicate:    result.Duplicate,
			Delivered:    result.Delivered,
		}, nil

	case "pending":
		if !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		records, err := e.coordinator.Pending(ctx)
		if err != nil {
			return nil, err
		}
		return newNotificationViews(records), nil

	case "redeliver":
		if !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		delivered, err := e.coordinator.Redeliver(ctx)
		if err != nil {
			return nil, err
		}
		return struct {
			Delivered int `json:"delivered"`
		}{Delivered: delivered}, nil

	case "history":
		var req struct {
			ReservationID string `json:"reservation_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		records, err := e.coordinator.History(ctx, req.ReservationID)
		if err != nil {
			return nil, err
		}
		return newNotificationViews(records), nil

	default:
		return nil, unknownAction("notif", envelope.Action)
	}
}
