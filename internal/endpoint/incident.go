package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
)

// IncidentEndpoint serves the "incid" service.
type IncidentEndpoint struct {
	incidents *application.IncidentService
	verifier  TokenVerifier
}

func NewIncidentEndpoint(incidents *application.IncidentService, verifier TokenVerifier) *IncidentEndpoint {
	return &IncidentEndpoint{incidents: incidents, verifier: verifier}
}

func (e *IncidentEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "report":
		var req struct {
			SpaceID     string `json:"space_id"`
			Kind        string `json:"kind"`
			Description string `json:"description"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		incident, err := e.incidents.ReportIncident(ctx, application.ReportIncidentParams{
			SpaceID:     req.SpaceID,
			Kind:        req.Kind,
			Description: req.Description,
			ReporterID:  principal.UserID,
		})
		if err != nil {
			return nil, err
		}
		return newIncidentView(incident), nil

	case "get":
		var req struct {
			IncidentID string `json:"incident_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		incident, err := e.incidents.GetIncident(ctx, req.IncidentID)
		if err != nil {
			return nil, err
		}
		return newIncidentView(incident), nil

	case "list":
		var req struct {
			SpaceID string `json:"space_id"`
			State   string `json:"state"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		incidents, err := e.incidents.ListIncidents(ctx, application.IncidentFilter{
			SpaceID: req.SpaceID,
			State:   application.IncidentState(req.State),
		})
		if err != nil {
			return nil, err
		}
		views := make([]incidentView, 0, len(incidents))
		for _, incident := range incidents {
			views = append(views, newIncidentView(incident))
		}
		return views, nil

	case "block":
		var req struct {
			IncidentID string `json:"incident_id"`
			Start      string `json:"start"`
			End        string `json:"end"`
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
		incident, result, err := e.incidents.ApplyBlock(ctx, principal, application.BlockIncidentParams{
			IncidentID: req.IncidentID,
			Start:      start,
			End:        end,
		})
		if err != nil {
			return nil, err
		}
		return struct {
			Incident       incidentView    `json:"incident"`
			Block          reservationView `json:"block"`
			CancelledCount int             `json:"cancelled_count"`
		}{
			Incident:       newIncidentView(incident),
			Block:          newReservationView(result.Block),
			CancelledCount: result.CancelledCount,
		}, nil

	case "resolve":
		var req struct {
			IncidentID string `json:"incident_id"`
			Resolution string `json:"resolution"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		incident, released, err := e.incidents.ResolveIncident(ctx, principal, application.ResolveIncidentParams{
			IncidentID: req.IncidentID,
			Resolution: req.Resolution,
		})
		if err != nil {
			return nil, err
		}
		return struct {
			Incident       incidentView `json:"incident"`
			ReleasedBlocks int          `json:"released_blocks"`
		}{Incident: newIncidentView(incident), ReleasedBlocks: released}, nil

	default:
		return nil, unknownAction("incid", envelope.Action)
	}
}
