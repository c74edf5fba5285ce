package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

const reservationColumns = `id, requester_id, space_id, start_at, end_at, state, kind,
	reason, recurring, recurrence_pattern, approver_id, approved_at, created_at, updated_at`

// CreateReservation inserts a new reservation.
func (s *Store) CreateReservation(ctx context.Context, reservation application.Reservation) (application.Reservation, error) {
	approvedAt := formatNullableTime(reservation.ApprovedAt)
	var approverID any
	if reservation.ApproverID != nil {
		approverID = *reservation.ApproverID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reservation.ID,
		reservation.RequesterID,
		reservation.SpaceID,
		formatTime(reservation.Start),
		formatTime(reservation.End),
		string(reservation.State),
		string(reservation.Kind),
		reservation.Reason,
		boolToInt(reservation.Recurring),
		reservation.RecurrencePattern,
		approverID,
		approvedAt,
		formatTime(reservation.CreatedAt),
		formatTime(reservation.UpdatedAt),
	)
	if err != nil {
		return application.Reservation{}, mapError(err)
	}
	return reservation, nil
}

// GetReservation retrieves one reservation by id.
func (s *Store) GetReservation(ctx context.Context, id string) (application.Reservation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	return scanReservation(row)
}

// UpdateReservation replaces the mutable columns of a reservation.
func (s *Store) UpdateReservation(ctx context.Context, reservation application.Reservation) (application.Reservation, error) {
	approvedAt := formatNullableTime(reservation.ApprovedAt)
	var approverID any
	if reservation.ApproverID != nil {
		approverID = *reservation.ApproverID
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE reservations
		SET start_at = ?, end_at = ?, state = ?, kind = ?, reason = ?,
			approver_id = ?, approved_at = ?, updated_at = ?
		WHERE id = ?`,
		formatTime(reservation.Start),
		formatTime(reservation.End),
		string(reservation.State),
		string(reservation.Kind),
		reservation.Reason,
		approverID,
		approvedAt,
		formatTime(reservation.UpdatedAt),
		reservation.ID,
	)
	if err != nil {
		return application.Reservation{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.Reservation{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return application.Reservation{}, persistence.ErrNotFound
	}
	return reservation, nil
}

// ListReservations returns reservations matching the filter, ordered by
// start time.
func (s *Store) ListReservations(ctx context.Context, filter application.ReservationFilter) ([]application.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations`
	var conditions []string
	var args []any

	if filter.SpaceID != "" {
		conditions = append(conditions, "space_id = ?")
		args = append(args, filter.SpaceID)
	}
	if filter.RequesterID != "" {
		conditions = append(conditions, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		conditions = append(conditions, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.EndsAfter != nil {
		conditions = append(conditions, "end_at > ?")
		args = append(args, formatTime(*filter.EndsAfter))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []application.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reservation)
	}
	return out, rows.Err()
}

// CountActiveForRequester counts the requester's pending and approved
// reservations that have not yet ended.
func (s *Store) CountActiveForRequester(ctx context.Context, requesterID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE requester_id = ? AND state IN (?, ?) AND end_at > ?`,
		requesterID,
		string(application.StatePending),
		string(application.StateApproved),
		formatTime(now),
	).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (application.Reservation, error) {
	var reservation application.Reservation
	var startStr, endStr, createdStr, updatedStr, state, kind string
	var recurring int
	var approverID, approvedAt sql.NullString

	err := row.Scan(
		&reservation.ID,
		&reservation.RequesterID,
		&reservation.SpaceID,
		&startStr,
		&endStr,
		&state,
		&kind,
		&reservation.Reason,
		&recurring,
		&reservation.RecurrencePattern,
		&approverID,
		&approvedAt,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return application.Reservation{}, mapError(err)
	}

	reservation.State = application.ReservationState(state)
	reservation.Kind = application.ReservationKind(kind)
	reservation.Recurring = recurring != 0
	reservation.ApproverID = nullableString(approverID)
	if reservation.Start, err = parseTime(startStr); err != nil {
		return application.Reservation{}, err
	}
	if reservation.End, err = parseTime(endStr); err != nil {
		return application.Reservation{}, err
	}
	if reservation.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.Reservation{}, err
	}
	if reservation.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.Reservation{}, err
	}
	if reservation.ApprovedAt, err = parseNullableTime(approvedAt); err != nil {
		return application.Reservation{}, err
	}
	return reservation, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
