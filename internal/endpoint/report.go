package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
)

// ReportEndpoint serves the "repor" service: usage aggregation, overall
// statistics and the audit trail. All actions require an administrator.
type ReportEndpoint struct {
	reports  *application.ReportService
	admin    *application.AdminService
	verifier TokenVerifier
}

func NewReportEndpoint(reports *application.ReportService, admin *application.AdminService, verifier TokenVerifier) *ReportEndpoint {
	return &ReportEndpoint{reports: reports, admin: admin, verifier: verifier}
}

type spaceUsageView struct {
	SpaceID      string  `json:"space_id"`
	SpaceName    string  `json:"space_name"`
	Reservations int     `json:"reservations"`
	Approved     int     `json:"approved"`
	Cancelled    int     `json:"cancelled"`
	BookedHours  float64 `json:"booked_hours"`
}

type auditEntryView struct {
	ID       string         `json:"id"`
	Table    string         `json:"table"`
	Action   string         `json:"action"`
	RecordID string         `json:"record_id"`
	ActorID  string         `json:"actor_id"`
	Before   map[string]any `json:"before,omitempty"`
	After    map[string]any `json:"after,omitempty"`
	At       string         `json:"at"`
}

func (e *ReportEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "usage":
		var req struct {
			From string `json:"from"`
			To   string `json:"to"`
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
		report, err := e.reports.Usage(ctx, principal, from, to)
		if err != nil {
			return nil, err
		}
		spaces := make([]spaceUsageView, 0, len(report.Spaces))
		for _, usage := range report.Spaces {
			spaces = append(spaces, spaceUsageView{
				SpaceID:      usage.SpaceID,
				SpaceName:    usage.SpaceName,
				Reservations: usage.Reservations,
				Approved:     usage.Approved,
				Cancelled:    usage.Cancelled,
				BookedHours:  usage.BookedHours,
			})
		}
		return struct {
			From   string           `json:"from"`
			To     string           `json:"to"`
			Spaces []spaceUsageView `json:"spaces"`
		}{From: formatTime(report.From), To: formatTime(report.To), Spaces: spaces}, nil

	case "stats":
		stats, err := e.reports.Stats(ctx, principal)
		if err != nil {
			return nil, err
		}
		return struct {
			TotalSpaces       int    `json:"total_spaces"`
			ActiveSpaces      int    `json:"active_spaces"`
			TotalReservations int    `json:"total_reservations"`
			PendingCount      int    `json:"pending_count"`
			ApprovedCount     int    `json:"approved_count"`
			RejectedCount     int    `json:"rejected_count"`
			CancelledCount    int    `json:"cancelled_count"`
			BlockedCount      int    `json:"blocked_count"`
			OpenIncidents     int    `json:"open_incidents"`
			GeneratedAt       string `json:"generated_at"`
		}{
			TotalSpaces:       stats.TotalSpaces,
			ActiveSpaces:      stats.ActiveSpaces,
			TotalReservations: stats.TotalReservations,
			PendingCount:      stats.PendingCount,
			ApprovedCount:     stats.ApprovedCount,
			RejectedCount:     stats.RejectedCount,
			CancelledCount:    stats.CancelledCount,
			BlockedCount:      stats.BlockedCount,
			OpenIncidents:     stats.OpenIncidents,
			GeneratedAt:       formatTime(stats.GeneratedAt),
		}, nil

	case "audit":
		var req struct {
			Table    string `json:"table"`
			RecordID string `json:"record_id"`
			Limit    int    `json:"limit"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		entries, err := e.admin.ListAuditEntries(ctx, principal, application.AuditFilter{
			Table:    req.Table,
			RecordID: req.RecordID,
			Limit:    req.Limit,
		})
		if err != nil {
			return nil, err
		}
		views := make([]auditEntryView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, auditEntryView{
				ID:       entry.ID,
				Table:    entry.Table,
				Action:   entry.Action,
				RecordID: entry.RecordID,
				ActorID:  entry.ActorID,
				Before:   entry.Before,
				After:    entry.After,
				At:       formatTime(entry.At),
			})
		}
		return views, nil

	default:
		return nil, unknownAction("repor", envelope.Action)
	}
}
