package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
)

// AdminEndpoint serves the "admin" service: operating policy reads and
// updates. Reading the policy is open so clients can render booking rules
// without logging in.
type AdminEndpoint struct {
	admin    *application.AdminService
	verifier TokenVerifier
}

func NewAdminEndpoint(admin *application.AdminService, verifier TokenVerifier) *AdminEndpoint {
	return &AdminEndpoint{admin: admin, verifier: verifier}
}

func (e *AdminEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "get-policy":
		policy, err := e.admin.GetPolicy(ctx)
		if err != nil {
			return nil, err
		}
		return newPolicyView(policy), nil

	case "update-policy":
		principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
		if err != nil {
			return nil, err
		}
		var req struct {
			AdvanceBookingDays    *int    `json:"advance_booking_days"`
			MaxActivePerRequester *int    `json:"max_active_per_requester"`
			MaxDurationHours      *int    `json:"max_duration_hours"`
			OpensAt               *string `json:"opens_at"`
			ClosesAt              *string `json:"closes_at"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		policy, err := e.admin.UpdatePolicy(ctx, principal, application.UpdatePolicyParams{
			AdvanceBookingDays:    req.AdvanceBookingDays,
			MaxActivePerRequester: req.MaxActivePerRequester,
			MaxDurationHours:      req.MaxDurationHours,
			OpensAt:               req.OpensAt,
			ClosesAt:              req.ClosesAt,
		})
		if err != nil {
			return nil, err
		}
		return newPolicyView(policy), nil

	default:
		return nil, unknownAction("admin", envelope.Action)
	}
}
