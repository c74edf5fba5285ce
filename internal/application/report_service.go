package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// SpaceUsage aggregates reservation activity for one space over a window.
type SpaceUsage struct {
	SpaceID      string
	SpaceName    string
	Reservations int
	Approved     int
	Cancelled    int
	BookedHours  float64
}

// UsageReport is the per-space usage breakdown over a window.
type UsageReport struct {
	From   time.Time
	To     time.Time
	Spaces []SpaceUsage
}

// Statistics summarises the whole system at a point in time.
type Statistics struct {
	TotalSpaces        int
	ActiveSpaces       int
	TotalReservations  int
	PendingCount       int
	ApprovedCount      int
	RejectedCount      int
	CancelledCount     int
	BlockedCount       int
	OpenIncidents      int
	GeneratedAt        time.Time
}

// ReportService computes usage reports and system statistics. Reports are
// computed from the live repositories on demand; nothing is materialised.
type ReportService struct {
	reservations ReservationRepository
	spaces       SpaceLister
	incidents    IncidentRepository
	now          func() time.Time
	logger       *slog.Logger
}

// NewReportService wires dependencies for reporting.
func NewReportService(reservations ReservationRepository, spaces SpaceLister, incidents IncidentRepository, now func() time.Time, logger *slog.Logger) *ReportService {
	return &ReportService{
		reservations: reservations,
		spaces:       spaces,
		incidents:    incidents,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

// Usage breaks down reservation activity per space over [from, to).
// Admins only. Booked hours count approved reservations clipped to the
// window.
func (s *ReportService) Usage(ctx context.Context, principal Principal, from, to time.Time) (UsageReport, error) {
	if s == nil {
		return UsageReport{}, fmt.Errorf("ReportService is nil")
	}
	if !principal.IsAdmin {
		return UsageReport{}, ErrUnauthorized
	}
	if !to.After(from) {
		vErr := &ValidationError{}
		vErr.add("time", "to must be after from")
		return UsageReport{}, vErr
	}

	spaces, err := s.spaces.ListSpaces(ctx, SpaceFilter{})
	if err != nil {
		return UsageReport{}, err
	}

	report := UsageReport{From: from, To: to}
	for _, space := range spaces {
		reservations, listErr := s.reservations.ListReservations(ctx, ReservationFilter{SpaceID: space.ID})
		if listErr != nil {
			return UsageReport{}, listErr
		}

		usage := SpaceUsage{SpaceID: space.ID, SpaceName: space.Name}
		for _, res := range reservations {
			if res.Kind != KindNormal {
				continue
			}
			if !res.Start.Before(to) || !from.Before(res.End) {
				continue
			}
			usage.Reservations++
			switch res.State {
			case StateApproved:
				usage.Approved++
				usage.BookedHours += clippedHours(res.Start, res.End, from, to)
			case StateCancelled:
				usage.Cancelled++
			}
		}
		report.Spaces = append(report.Spaces, usage)
	}

	sort.Slice(report.Spaces, func(i, j int) bool {
		if report.Spaces[i].BookedHours != report.Spaces[j].BookedHours {
			return report.Spaces[i].BookedHours > report.Spaces[j].BookedHours
		}
		return report.Spaces[i].SpaceName < report.Spaces[j].SpaceName
	})
	return report, nil
}

// Stats returns system-wide counters. Admins only.
func (s *ReportService) Stats(ctx context.Context, principal Principal) (Statistics, error) {
	if s == nil {
		return Statistics{}, fmt.Errorf("ReportService is nil")
	}
	if !principal.IsAdmin {
		return Statistics{}, ErrUnauthorized
	}

	stats := Statistics{GeneratedAt: s.now()}

	spaces, err := s.spaces.ListSpaces(ctx, SpaceFilter{})
	if err != nil {
		return Statistics{}, err
	}
	stats.TotalSpaces = len(spaces)
	for _, space := range spaces {
		if space.Active {
			stats.ActiveSpaces++
		}
	}

	reservations, err := s.reservations.ListReservations(ctx, ReservationFilter{})
	if err != nil {
		return Statistics{}, err
	}
	stats.TotalReservations = len(reservations)
	for _, res := range reservations {
		switch res.State {
		case StatePending:
			stats.PendingCount++
		case StateApproved:
			stats.ApprovedCount++
		case StateRejected:
			stats.RejectedCount++
		case StateCancelled:
			stats.CancelledCount++
		case StateBlocked:
			stats.BlockedCount++
		}
	}

	incidents, err := s.incidents.ListIncidents(ctx, IncidentFilter{})
	if err != nil {
		return Statistics{}, err
	}
	for _, incident := range incidents {
		if incident.State != IncidentResolved {
			stats.OpenIncidents++
		}
	}
	return stats, nil
}

func clippedHours(start, end, from, to time.Time) float64 {
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start).Hours()
}
