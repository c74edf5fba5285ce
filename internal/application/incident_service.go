package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// IncidentRepository persists reported incidents.
type IncidentRepository interface {
	CreateIncident(ctx context.Context, incident Incident) (Incident, error)
	GetIncident(ctx context.Context, id string) (Incident, error)
	UpdateIncident(ctx context.Context, incident Incident) (Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
}

// IncidentFilter narrows an incident listing. Zero values match everything.
type IncidentFilter struct {
	SpaceID string
	State   IncidentState
}

// ReportIncidentParams carries a new incident report.
type ReportIncidentParams struct {
	SpaceID     string
	Kind        string
	Description string
	ReporterID  string
}

// BlockIncidentParams ties a maintenance block to an open incident.
type BlockIncidentParams struct {
	IncidentID string
	Start      time.Time
	End        time.Time
	ActorID    string
}

// ResolveIncidentParams closes an incident with its resolution note.
type ResolveIncidentParams struct {
	IncidentID string
	Resolution string
	ActorID    string
}

// IncidentService tracks facility incidents and drives the maintenance
// blocks they cause. Blocking and resolving delegate the reservation side
// effects to the engine.
type IncidentService struct {
	incidents   IncidentRepository
	engine      *ReservationService
	audits      AuditLog
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewIncidentService wires dependencies for incident tracking.
func NewIncidentService(incidents IncidentRepository, engine *ReservationService, audits AuditLog, idGenerator func() string, now func() time.Time, logger *slog.Logger) *IncidentService {
	return &IncidentService{
		incidents:   incidents,
		engine:      engine,
		audits:      audits,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// ReportIncident files a new open incident against a space.
func (s *IncidentService) ReportIncident(ctx context.Context, params ReportIncidentParams) (incident Incident, err error) {
	logger := serviceLogger(ctx, s.logger, "IncidentService", "ReportIncident")
	defer func() {
		if err != nil {
			logger.Warn("report incident failed", "space_id", params.SpaceID, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("incident reported", "incident_id", incident.ID, "space_id", incident.SpaceID)
	}()

	if s == nil {
		return Incident{}, fmt.Errorf("IncidentService is nil")
	}

	vErr := &ValidationError{}
	if params.SpaceID == "" {
		vErr.add("space_id", "space id must not be empty")
	}
	if params.Kind == "" {
		vErr.add("kind", "kind must not be empty")
	}
	if params.Description == "" {
		vErr.add("description", "description must not be empty")
	}
	if vErr.HasErrors() {
		return Incident{}, vErr
	}

	incident = Incident{
		ID:          s.idGenerator(),
		SpaceID:     params.SpaceID,
		Kind:        params.Kind,
		Description: params.Description,
		State:       IncidentOpen,
		ReportedBy:  params.ReporterID,
		ReportedAt:  s.now(),
	}

	incident, err = s.incidents.CreateIncident(ctx, incident)
	if err != nil {
		return Incident{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "incidents",
		Action:   "create",
		RecordID: incident.ID,
		ActorID:  params.ReporterID,
		After:    incidentAuditData(incident),
		At:       incident.ReportedAt,
	})
	return incident, nil
}

// GetIncident returns one incident by id.
func (s *IncidentService) GetIncident(ctx context.Context, id string) (Incident, error) {
	if s == nil {
		return Incident{}, fmt.Errorf("IncidentService is nil")
	}
	incident, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return Incident{}, mapRepoError(err)
	}
	return incident, nil
}

// ListIncidents returns incidents matching the filter.
func (s *IncidentService) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	if s == nil {
		return nil, fmt.Errorf("IncidentService is nil")
	}
	return s.incidents.ListIncidents(ctx, filter)
}

// ApplyBlock places a maintenance block on the incident's space for the
// given interval, cancelling the contained reservations, and moves the
// incident to in-progress. Admins only.
func (s *IncidentService) ApplyBlock(ctx context.Context, principal Principal, params BlockIncidentParams) (incident Incident, result BlockResult, err error) {
	logger := serviceLogger(ctx, s.logger, "IncidentService", "ApplyBlock")
	defer func() {
		if err != nil {
			logger.Warn("apply block failed", "incident_id", params.IncidentID, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("block applied",
			"incident_id", incident.ID,
			"block_id", result.Block.ID,
			"cancelled_count", result.CancelledCount)
	}()

	if s == nil {
		return Incident{}, BlockResult{}, fmt.Errorf("IncidentService is nil")
	}
	if !principal.IsAdmin {
		return Incident{}, BlockResult{}, ErrUnauthorized
	}

	incident, err = s.incidents.GetIncident(ctx, params.IncidentID)
	if err != nil {
		return Incident{}, BlockResult{}, mapRepoError(err)
	}
	if incident.State == IncidentResolved {
		vErr := &ValidationError{}
		vErr.add("state", "incident is already resolved")
		return Incident{}, BlockResult{}, vErr
	}

	result, err = s.engine.ApplyIncidentBlock(ctx, ApplyBlockParams{
		SpaceID: incident.SpaceID,
		Start:   params.Start,
		End:     params.End,
		Reason:  fmt.Sprintf("incident %s: %s", incident.ID, incident.Kind),
		Kind:    KindIncidentBlock,
		ActorID: principal.UserID,
	})
	if err != nil {
		return Incident{}, BlockResult{}, err
	}

	before := incidentAuditData(incident)
	incident.State = IncidentInProgress
	incident, err = s.incidents.UpdateIncident(ctx, incident)
	if err != nil {
		return Incident{}, BlockResult{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "incidents",
		Action:   "block",
		RecordID: incident.ID,
		ActorID:  principal.UserID,
		Before:   before,
		After:    incidentAuditData(incident),
		At:       s.now(),
	})
	return incident, result, nil
}

// ResolveIncident closes the incident and releases the remaining blocks on
// its space. Admins only.
func (s *IncidentService) ResolveIncident(ctx context.Context, principal Principal, params ResolveIncidentParams) (incident Incident, released int, err error) {
	logger := serviceLogger(ctx, s.logger, "IncidentService", "ResolveIncident")
	defer func() {
		if err != nil {
			logger.Warn("resolve incident failed", "incident_id", params.IncidentID, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("incident resolved", "incident_id", incident.ID, "released_blocks", released)
	}()

	if s == nil {
		return Incident{}, 0, fmt.Errorf("IncidentService is nil")
	}
	if !principal.IsAdmin {
		return Incident{}, 0, ErrUnauthorized
	}
	if params.Resolution == "" {
		vErr := &ValidationError{}
		vErr.add("resolution", "resolution must not be empty")
		return Incident{}, 0, vErr
	}

	incident, err = s.incidents.GetIncident(ctx, params.IncidentID)
	if err != nil {
		return Incident{}, 0, mapRepoError(err)
	}
	if incident.State == IncidentResolved {
		return incident, 0, nil
	}

	released, err = s.engine.ResolveIncidentBlock(ctx, incident.SpaceID, principal.UserID)
	if err != nil {
		return Incident{}, 0, err
	}

	now := s.now()
	before := incidentAuditData(incident)
	incident.State = IncidentResolved
	incident.ResolvedBy = &principal.UserID
	incident.ResolvedAt = &now
	incident.Resolution = &params.Resolution

	incident, err = s.incidents.UpdateIncident(ctx, incident)
	if err != nil {
		return Incident{}, 0, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "incidents",
		Action:   "resolve",
		RecordID: incident.ID,
		ActorID:  principal.UserID,
		Before:   before,
		After:    incidentAuditData(incident),
		At:       now,
	})
	return incident, released, nil
}

func (s *IncidentService) appendAudit(ctx context.Context, entry AuditEntry) {
	if s.audits == nil {
		return
	}
	entry.ID = s.idGenerator()
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", "table", entry.Table, "record_id", entry.RecordID, "error", err)
	}
}

func incidentAuditData(incident Incident) map[string]any {
	data := map[string]any{
		"space_id":    incident.SpaceID,
		"kind":        incident.Kind,
		"description": incident.Description,
		"state":       string(incident.State),
	}
	if incident.Resolution != nil {
		data["resolution"] = *incident.Resolution
	}
	return data
}
