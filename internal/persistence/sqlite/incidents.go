package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

const incidentColumns = `id, space_id, kind, description, state, reported_by, reported_at,
	resolved_by, resolved_at, resolution`

// CreateIncident inserts a new incident.
func (s *Store) CreateIncident(ctx context.Context, incident application.Incident) (application.Incident, error) {
	var resolvedBy, resolution any
	if incident.ResolvedBy != nil {
		resolvedBy = *incident.ResolvedBy
	}
	if incident.Resolution != nil {
		resolution = *incident.Resolution
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID,
		incident.SpaceID,
		incident.Kind,
		incident.Description,
		string(incident.State),
		incident.ReportedBy,
		formatTime(incident.ReportedAt),
		resolvedBy,
		formatNullableTime(incident.ResolvedAt),
		resolution,
	)
	if err != nil {
		return application.Incident{}, mapError(err)
	}
	return incident, nil
}

// GetIncident retrieves one incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (application.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	return scanIncident(row)
}

// UpdateIncident replaces the mutable columns of an incident.
func (s *Store) UpdateIncident(ctx context.Context, incident application.Incident) (application.Incident, error) {
	var resolvedBy, resolution any
	if incident.ResolvedBy != nil {
		resolvedBy = *incident.ResolvedBy
	}
	if incident.Resolution != nil {
		resolution = *incident.Resolution
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE incidents
		SET state = ?, resolved_by = ?, resolved_at = ?, resolution = ?
		WHERE id = ?`,
		string(incident.State),
		resolvedBy,
		formatNullableTime(incident.ResolvedAt),
		resolution,
		incident.ID,
	)
	if err != nil {
		return application.Incident{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.Incident{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return application.Incident{}, persistence.ErrNotFound
	}
	return incident, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(ctx context.Context, filter application.IncidentFilter) ([]application.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	var conditions []string
	var args []any
	if filter.SpaceID != "" {
		conditions = append(conditions, "space_id = ?")
		args = append(args, filter.SpaceID)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, string(filter.State))
	}
	if len(conditions) > 0 {
		query += " WHERE " + conditions[0]
		for _, condition := range conditions[1:] {
			query += " AND " + condition
		}
	}
	query += " ORDER BY reported_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []application.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, incident)
	}
	return out, rows.Err()
}

func scanIncident(row rowScanner) (application.Incident, error) {
	var incident application.Incident
	var state, reportedStr string
	var resolvedBy, resolvedAt, resolution sql.NullString

	err := row.Scan(
		&incident.ID,
		&incident.SpaceID,
		&incident.Kind,
		&incident.Description,
		&state,
		&incident.ReportedBy,
		&reportedStr,
		&resolvedBy,
		&resolvedAt,
		&resolution,
	)
	if err != nil {
		return application.Incident{}, mapError(err)
	}

	incident.State = application.IncidentState(state)
	incident.ResolvedBy = nullableString(resolvedBy)
	incident.Resolution = nullableString(resolution)
	if incident.ReportedAt, err = parseTime(reportedStr); err != nil {
		return application.Incident{}, err
	}
	if incident.ResolvedAt, err = parseNullableTime(resolvedAt); err != nil {
		return application.Incident{}, err
	}
	return incident, nil
}
