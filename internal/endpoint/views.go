package endpoint

import (
	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/notify"
)

type reservationView struct {
	ID                string `json:"id"`
	RequesterID       string `json:"requester_id"`
	SpaceID           string `json:"space_id"`
	Start             string `json:"start"`
	End               string `json:"end"`
	State             string `json:"state"`
	Kind              string `json:"kind"`
	Reason            string `json:"reason,omitempty"`
	Recurring         bool   `json:"recurring,omitempty"`
	RecurrencePattern string `json:"recurrence_pattern,omitempty"`
	ApproverID        string `json:"approver_id,omitempty"`
	ApprovedAt        string `json:"approved_at,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func newReservationView(res application.Reservation) reservationView {
	view := reservationView{
		ID:                res.ID,
		RequesterID:       res.RequesterID,
		SpaceID:           res.SpaceID,
		Start:             formatTime(res.Start),
		End:               formatTime(res.End),
		State:             string(res.State),
		Kind:              string(res.Kind),
		Reason:            res.Reason,
		Recurring:         res.Recurring,
		RecurrencePattern: res.RecurrencePattern,
		ApprovedAt:        formatNullableTime(res.ApprovedAt),
		CreatedAt:         formatTime(res.CreatedAt),
		UpdatedAt:         formatTime(res.UpdatedAt),
	}
	if res.ApproverID != nil {
		view.ApproverID = *res.ApproverID
	}
	return view
}

func newReservationViews(reservations []application.Reservation) []reservationView {
	views := make([]reservationView, 0, len(reservations))
	for _, res := range reservations {
		views = append(views, newReservationView(res))
	}
	return views
}

type spaceView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Capacity    int    `json:"capacity"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func newSpaceView(space application.Space) spaceView {
	return spaceView{
		ID:          space.ID,
		Name:        space.Name,
		Category:    string(space.Category),
		Capacity:    space.Capacity,
		Description: space.Description,
		Location:    space.Location,
		Active:      space.Active,
		CreatedAt:   formatTime(space.CreatedAt),
		UpdatedAt:   formatTime(space.UpdatedAt),
	}
}

func newSpaceViews(spaces []application.Space) []spaceView {
	views := make([]spaceView, 0, len(spaces))
	for _, space := range spaces {
		views = append(views, newSpaceView(space))
	}
	return views
}

type userView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// newUserView never exposes the password hash.
func newUserView(user application.User) userView {
	return userView{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		Active:      user.Active,
		CreatedAt:   formatTime(user.CreatedAt),
		UpdatedAt:   formatTime(user.UpdatedAt),
	}
}

type incidentView struct {
	ID          string `json:"id"`
	SpaceID     string `json:"space_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	State       string `json:"state"`
	ReportedBy  string `json:"reported_by"`
	ReportedAt  string `json:"reported_at"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

func newIncidentView(incident application.Incident) incidentView {
	view := incidentView{
		ID:          incident.ID,
		SpaceID:     incident.SpaceID,
		Kind:        incident.Kind,
		Description: incident.Description,
		State:       string(incident.State),
		ReportedBy:  incident.ReportedBy,
		ReportedAt:  formatTime(incident.ReportedAt),
		ResolvedAt:  formatNullableTime(incident.ResolvedAt),
	}
	if incident.ResolvedBy != nil {
		view.ResolvedBy = *incident.ResolvedBy
	}
	if incident.Resolution != nil {
		view.Resolution = *incident.Resolution
	}
	return view
}

type policyView struct {
	AdvanceBookingDays    int    `json:"advance_booking_days"`
	MaxActivePerRequester int    `json:"max_active_per_requester"`
	MaxDurationHours      int    `json:"max_duration_hours"`
	OpensAt               string `json:"opens_at"`
	ClosesAt              string `json:"closes_at"`
	UpdatedAt             string `json:"updated_at"`
}

func newPolicyView(policy application.OperatingPolicy) policyView {
	return policyView{
		AdvanceBookingDays:    policy.AdvanceBookingDays,
		MaxActivePerRequester: policy.MaxActivePerRequester,
		MaxDurationHours:      policy.MaxDurationHours,
		OpensAt:               policy.OpensAt.String(),
		ClosesAt:              policy.ClosesAt.String(),
		UpdatedAt:             formatTime(policy.UpdatedAt),
	}
}

type notificationView struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	EventType     string `json:"event_type"`
	Recipient     string `json:"recipient"`
	Subject       string `json:"subject"`
	Sent          bool   `json:"sent"`
	SentAt        string `json:"sent_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func newNotificationView(record notify.Record) notificationView {
	return notificationView{
		ID:            record.ID,
		ReservationID: record.ReservationID,
		EventType:     string(record.EventType),
		Recipient:     record.Recipient,
		Subject:       record.Subject,
		Sent:          record.Sent,
		SentAt:        formatNullableTime(record.SentAt),
		CreatedAt:     formatTime(record.CreatedAt),
	}
}

func newNotificationViews(records []notify.Record) []notificationView {
	views := make([]notificationView, 0, len(records))
	for _, record := range records {
		views = append(views, newNotificationView(record))
	}
	return views
}
