package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
)

// SpaceEndpoint serves the "space" service.
type SpaceEndpoint struct {
	spaces   *application.SpaceService
	verifier TokenVerifier
}

func NewSpaceEndpoint(spaces *application.SpaceService, verifier TokenVerifier) *SpaceEndpoint {
	return &SpaceEndpoint{spaces: spaces, verifier: verifier}
}

func (e *SpaceEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "get":
		var req struct {
			SpaceID string `json:"space_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		space, err := e.spaces.GetSpace(ctx, req.SpaceID)
		if err != nil {
			return nil, err
		}
		return newSpaceView(space), nil

	case "list":
		var req struct {
			Category   string `json:"category"`
			ActiveOnly bool   `json:"active_only"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		spaces, err := e.spaces.ListSpaces(ctx, application.SpaceFilter{
			Category:   application.SpaceCategory(req.Category),
			ActiveOnly: req.ActiveOnly,
		})
		if err != nil {
			return nil, err
		}
		return newSpaceViews(spaces), nil
	}

	principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "create":
		var req struct {
			Name        string `json:"name"`
			Category    string `json:"category"`
			Capacity    int    `json:"capacity"`
			Description string `json:"description"`
			Location    string `json:"location"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		space, err := e.spaces.CreateSpace(ctx, principal, application.CreateSpaceParams{
			Name:        req.Name,
			Category:    application.SpaceCategory(req.Category),
			Capacity:    req.Capacity,
			Description: req.Description,
			Location:    req.Location,
		})
		if err != nil {
			return nil, err
		}
		return newSpaceView(space), nil

	case "update":
		var req struct {
			SpaceID     string  `json:"space_id"`
			Name        *string `json:"name"`
			Capacity    *int    `json:"capacity"`
			Description *string `json:"description"`
			Location    *string `json:"location"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		space, err := e.spaces.UpdateSpace(ctx, principal, application.UpdateSpaceParams{
			ID:          req.SpaceID,
			Name:        req.Name,
			Capacity:    req.Capacity,
			Description: req.Description,
			Location:    req.Location,
		})
		if err != nil {
			return nil, err
		}
		return newSpaceView(space), nil

	case "deactivate":
		var req struct {
			SpaceID string `json:"space_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		space, err := e.spaces.DeactivateSpace(ctx, principal, req.SpaceID)
		if err != nil {
			return nil, err
		}
		return newSpaceView(space), nil

	default:
		return nil, unknownAction("space", envelope.Action)
	}
}
