package sqlite

import (
	"context"
	"fmt"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

// GetPolicy reads the single operating policy row.
func (s *Store) GetPolicy(ctx context.Context) (application.OperatingPolicy, error) {
	var policy application.OperatingPolicy
	var opensAt, closesAt int
	var updatedStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT advance_booking_days, max_active_per_requester, max_duration_hours, opens_at, closes_at, updated_at
		FROM policy WHERE id = 1`).Scan(
		&policy.AdvanceBookingDays,
		&policy.MaxActivePerRequester,
		&policy.MaxDurationHours,
		&opensAt,
		&closesAt,
		&updatedStr,
	)
	if err != nil {
		return application.OperatingPolicy{}, mapError(err)
	}

	policy.OpensAt = application.TimeOfDay(opensAt)
	policy.ClosesAt = application.TimeOfDay(closesAt)
	if policy.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.OperatingPolicy{}, err
	}
	return policy, nil
}

// UpdatePolicy replaces the single operating policy row.
func (s *Store) UpdatePolicy(ctx context.Context, policy application.OperatingPolicy) (application.OperatingPolicy, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE policy
		SET advance_booking_days = ?, max_active_per_requester = ?, max_duration_hours = ?,
			opens_at = ?, closes_at = ?, updated_at = ?
		WHERE id = 1`,
		policy.AdvanceBookingDays,
		policy.MaxActivePerRequester,
		policy.MaxDurationHours,
		int(policy.OpensAt),
		int(policy.ClosesAt),
		formatTime(policy.UpdatedAt),
	)
	if err != nil {
		return application.OperatingPolicy{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.OperatingPolicy{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return application.OperatingPolicy{}, persistence.ErrNotFound
	}
	return policy, nil
}
