package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
)

// BookingEndpoint serves the "book" service: the reservation lifecycle.
type BookingEndpoint struct {
	engine       *application.ReservationService
	reservations application.ReservationRepository
	verifier     TokenVerifier
}

func NewBookingEndpoint(engine *application.ReservationService, reservations application.ReservationRepository, verifier TokenVerifier) *BookingEndpoint {
	return &BookingEndpoint{engine: engine, reservations: reservations, verifier: verifier}
}

func (e *BookingEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "create":
		var req struct {
			SpaceID           string `json:"space_id"`
			Start             string `json:"start"`
			End               string `json:"end"`
			Reason            string `json:"reason"`
			Recurring         bool   `json:"recurring"`
			RecurrencePattern string `json:"recurrence_pattern"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		start, err := parseTime("start", req.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseTime("end", req.End)
		if err != nil {
			return nil, err
		}
		reservation, err := e.engine.CreateReservation(ctx, application.CreateReservationParams{
			RequesterID:       principal.UserID,
			SpaceID:           req.SpaceID,
			Start:             start,
			End:               end,
			Reason:            req.Reason,
			Recurring:         req.Recurring,
			RecurrencePattern: req.RecurrencePattern,
		})
		if err != nil {
			return nil, err
		}
		return newReservationView(reservation), nil

	case "approve", "reject":
		if !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		var req struct {
			ReservationID string `json:"reservation_id"`
			Reason        string `json:"reason"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		decision := application.DecisionApproved
		if envelope.Action == "reject" {
			decision = application.DecisionRejected
		}
		reservation, err := e.engine.ApproveOrReject(ctx, application.DecideReservationParams{
			ReservationID: req.ReservationID,
			Decision:      decision,
			ApproverID:    principal.UserID,
			Reason:        req.Reason,
		})
		if err != nil {
			return nil, err
		}
		return newReservationView(reservation), nil

	case "cancel":
		var req struct {
			ReservationID string `json:"reservation_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		// Only the requester or an admin may cancel.
		current, err := e.reservations.GetReservation(ctx, req.ReservationID)
		if err != nil {
			return nil, mapRepoError(err)
		}
		if current.RequesterID != principal.UserID && !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		reservation, err := e.engine.Cancel(ctx, req.ReservationID, principal.UserID)
		if err != nil {
			return nil, err
		}
		return newReservationView(reservation), nil

	case "get":
		var req struct {
			ReservationID string `json:"reservation_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		reservation, err := e.reservations.GetReservation(ctx, req.ReservationID)
		if err != nil {
			return nil, mapRepoError(err)
		}
		if reservation.RequesterID != principal.UserID && !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		return newReservationView(reservation), nil

	case "list-mine":
		reservations, err := e.reservations.ListReservations(ctx, application.ReservationFilter{
			RequesterID: principal.UserID,
		})
		if err != nil {
			return nil, err
		}
		return newReservationViews(reservations), nil

	case "list":
		if !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		var req struct {
			SpaceID string   `json:"space_id"`
			States  []string `json:"states"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		filter := application.ReservationFilter{SpaceID: req.SpaceID}
		for _, state := range req.States {
			filter.States = append(filter.States, application.ReservationState(state))
		}
		reservations, err := e.reservations.ListReservations(ctx, filter)
		if err != nil {
			return nil, err
		}
		return newReservationViews(reservations), nil

	default:
		return nil, unknownAction("book", envelope.Action)
	}
}
