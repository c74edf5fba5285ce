package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/campus-reservation/internal/slot"
)

// SpaceLister enumerates spaces, optionally narrowed to one category.
type SpaceLister interface {
	ListSpaces(ctx context.Context, filter SpaceFilter) ([]Space, error)
}

// SlotsParams asks for the free slots of a space on one calendar day.
type SlotsParams struct {
	SpaceID string
	Date    time.Time
}

// FreeSpacesParams asks which spaces are free over an interval.
type FreeSpacesParams struct {
	Start    time.Time
	End      time.Time
	Category SpaceCategory
}

// CalendarParams asks for a space's occupied intervals over a date range.
type CalendarParams struct {
	SpaceID string
	From    time.Time
	To      time.Time
}

// AvailabilityService answers read-only availability queries. It shares the
// reservation repository with the engine but never writes; the authoritative
// conflict decision stays inside the engine's critical section.
type AvailabilityService struct {
	reservations ReservationRepository
	spaces       SpaceLister
	catalog      SpaceCatalog
	policies     PolicyStore
	logger       *slog.Logger
}

// NewAvailabilityService wires dependencies for availability queries.
func NewAvailabilityService(reservations ReservationRepository, spaces SpaceLister, catalog SpaceCatalog, policies PolicyStore, logger *slog.Logger) *AvailabilityService {
	return &AvailabilityService{
		reservations: reservations,
		spaces:       spaces,
		catalog:      catalog,
		policies:     policies,
		logger:       defaultLogger(logger),
	}
}

// FreeSlots slices the operating window of the given day into hourly slots
// and returns those not occupied by an active reservation.
func (s *AvailabilityService) FreeSlots(ctx context.Context, params SlotsParams) ([]slot.Span, error) {
	if s == nil {
		return nil, fmt.Errorf("AvailabilityService is nil")
	}

	space, err := s.catalog.GetSpace(ctx, params.SpaceID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrSpaceNotFound
		}
		return nil, err
	}
	if !space.Active {
		return nil, nil
	}

	policy, err := s.policies.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}

	occupied, err := s.occupiedSpans(ctx, params.SpaceID)
	if err != nil {
		return nil, err
	}

	y, m, d := params.Date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, params.Date.Location())

	var free []slot.Span
	for minute := int(policy.OpensAt); minute+60 <= int(policy.ClosesAt); minute += 60 {
		candidate := slot.Span{
			Start: midnight.Add(time.Duration(minute) * time.Minute),
			End:   midnight.Add(time.Duration(minute+60) * time.Minute),
		}
		if overlapsAny(candidate, occupied) {
			continue
		}
		free = append(free, candidate)
	}
	return free, nil
}

// FreeSpaces returns the active spaces without any active reservation
// overlapping the requested interval.
func (s *AvailabilityService) FreeSpaces(ctx context.Context, params FreeSpacesParams) ([]Space, error) {
	if s == nil {
		return nil, fmt.Errorf("AvailabilityService is nil")
	}

	span := slot.Span{Start: params.Start, End: params.End}
	if !span.Valid() {
		vErr := &ValidationError{}
		vErr.add("time", "end must be after start")
		return nil, vErr
	}

	spaces, err := s.spaces.ListSpaces(ctx, SpaceFilter{Category: params.Category, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	var free []Space
	for _, space := range spaces {
		occupied, err := s.occupiedSpans(ctx, space.ID)
		if err != nil {
			return nil, err
		}
		if overlapsAny(span, occupied) {
			continue
		}
		free = append(free, space)
	}
	return free, nil
}

// Calendar lists the active reservations of a space intersecting [From, To).
func (s *AvailabilityService) Calendar(ctx context.Context, params CalendarParams) ([]Reservation, error) {
	if s == nil {
		return nil, fmt.Errorf("AvailabilityService is nil")
	}

	window := slot.Span{Start: params.From, End: params.To}
	if !window.Valid() {
		vErr := &ValidationError{}
		vErr.add("time", "to must be after from")
		return nil, vErr
	}

	reservations, err := s.reservations.ListReservations(ctx, ReservationFilter{
		SpaceID: params.SpaceID,
		States:  ActiveStates,
	})
	if err != nil {
		return nil, err
	}

	var visible []Reservation
	for _, res := range reservations {
		if window.Overlaps(slot.Span{Start: res.Start, End: res.End}) {
			visible = append(visible, res)
		}
	}
	return visible, nil
}

func (s *AvailabilityService) occupiedSpans(ctx context.Context, spaceID string) ([]slot.Span, error) {
	reservations, err := s.reservations.ListReservations(ctx, ReservationFilter{
		SpaceID: spaceID,
		States:  ActiveStates,
	})
	if err != nil {
		return nil, err
	}

	spans := make([]slot.Span, 0, len(reservations))
	for _, res := range reservations {
		spans = append(spans, slot.Span{Start: res.Start, End: res.End})
	}
	return spans, nil
}

func overlapsAny(candidate slot.Span, spans []slot.Span) bool {
	for _, other := range spans {
		if candidate.Overlaps(other) {
			return true
		}
	}
	return false
}
