package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/slot"
)

// AvailabilityEndpoint serves the "avail" service. Availability queries
// are read-only and open to anonymous callers, matching the public booking
// board of the campus portal.
type AvailabilityEndpoint struct {
	engine       *application.ReservationService
	availability *application.AvailabilityService
}

func NewAvailabilityEndpoint(engine *application.ReservationService, availability *application.AvailabilityService) *AvailabilityEndpoint {
	return &AvailabilityEndpoint{engine: engine, availability: availability}
}

type slotView struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func newSlotViews(spans []slot.Span) []slotView {
	views := make([]slotView, 0, len(spans))
	for _, span := range spans {
		views = append(views, slotView{Start: formatTime(span.Start), End: formatTime(span.End)})
	}
	return views
}

func (e *AvailabilityEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "check":
		var req struct {
			SpaceID string `json:"space_id"`
			Start   string `json:"start"`
			End     string `json:"end"`
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
		availability, err := e.engine.CheckAvailability(ctx, application.CheckAvailabilityParams{
			SpaceID: req.SpaceID,
			Start:   start,
			End:     end,
		})
		if err != nil {
			return nil, err
		}
		type conflictView struct {
			ReservationID string `json:"reservation_id,omitempty"`
			Start         string `json:"start,omitempty"`
			End           string `json:"end,omitempty"`
			State         string `json:"state,omitempty"`
			Reason        string `json:"reason,omitempty"`
		}
		conflicts := make([]conflictView, 0, len(availability.Conflicts))
		for _, conflict := range availability.Conflicts {
			view := conflictView{
				ReservationID: conflict.ReservationID,
				State:         string(conflict.State),
				Reason:        conflict.Reason,
			}
			if !conflict.Start.IsZero() {
				view.Start = formatTime(conflict.Start)
				view.End = formatTime(conflict.End)
			}
			conflicts = append(conflicts, view)
		}
		return struct {
			Available bool           `json:"available"`
			Conflicts []conflictView `json:"conflicts"`
		}{Available: availability.Available, Conflicts: conflicts}, nil

	case "slots":
		var req struct {
			SpaceID string `json:"space_id"`
			Date    string `json:"date"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		date, err := parseDate("date", req.Date)
		if err != nil {
			return nil, err
		}
		slots, err := e.availability.FreeSlots(ctx, application.SlotsParams{
			SpaceID: req.SpaceID,
			Date:    date,
		})
		if err != nil {
			return nil, err
		}
		return struct {
			Slots []slotView `json:"slots"`
		}{Slots: newSlotViews(slots)}, nil

	case "spaces":
		var req struct {
			Start    string `json:"start"`
			End      string `json:"end"`
			Category string `json:"category"`
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
		spaces, err := e.availability.FreeSpaces(ctx, application.FreeSpacesParams{
			Start:    start,
			End:      end,
			Category: application.SpaceCategory(req.Category),
		})
		if err != nil {
			return nil, err
		}
		return newSpaceViews(spaces), nil

	case "calendar":
		var req struct {
			SpaceID string `json:"space_id"`
			From    string `json:"from"`
			To      string `json:"to"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		from, err := parseDate("from", req.From)
		if err != nil {
			return nil, err
		}
		to, err := parseDate("to", req.To)
		if err != nil {
			return nil, err
		}
		reservations, err := e.availability.Calendar(ctx, application.CalendarParams{
			SpaceID: req.SpaceID,
			From:    from,
			To:      to,
		})
		if err != nil {
			return nil, err
		}
		return newReservationViews(reservations), nil

	default:
		return nil, unknownAction("avail", envelope.Action)
	}
}
