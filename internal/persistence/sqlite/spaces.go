package sqlite

import (
	"context"
	"fmt"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

const spaceColumns = `id, name, category, capacity, description, location, active, created_at, updated_at`

// CreateSpace inserts a new space. Space names are unique.
func (s *Store) CreateSpace(ctx context.Context, space application.Space) (application.Space, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (`+spaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		space.ID,
		space.Name,
		string(space.Category),
		space.Capacity,
		space.Description,
		space.Location,
		boolToInt(space.Active),
		formatTime(space.CreatedAt),
		formatTime(space.UpdatedAt),
	)
	if err != nil {
		return application.Space{}, mapError(err)
	}
	return space, nil
}

// GetSpace retrieves one space by id.
func (s *Store) GetSpace(ctx context.Context, id string) (application.Space, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+spaceColumns+` FROM spaces WHERE id = ?`, id)
	return scanSpace(row)
}

// UpdateSpace replaces the mutable columns of a space.
func (s *Store) UpdateSpace(ctx context.Context, space application.Space) (application.Space, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE spaces
		SET name = ?, capacity = ?, description = ?, location = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		space.Name,
		space.Capacity,
		space.Description,
		space.Location,
		boolToInt(space.Active),
		formatTime(space.UpdatedAt),
		space.ID,
	)
	if err != nil {
		return application.Space{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.Space{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return application.Space{}, persistence.ErrNotFound
	}
	return space, nil
}

// ListSpaces returns spaces matching the filter, ordered by name.
func (s *Store) ListSpaces(ctx context.Context, filter application.SpaceFilter) ([]application.Space, error) {
	query := `SELECT ` + spaceColumns + ` FROM spaces`
	var conditions []string
	var args []any
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = 1")
	}
	if len(conditions) > 0 {
		query += " WHERE " + conditions[0]
		for _, condition := range conditions[1:] {
			query += " AND " + condition
		}
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []application.Space
	for rows.Next() {
		space, err := scanSpace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, space)
	}
	return out, rows.Err()
}

func scanSpace(row rowScanner) (application.Space, error) {
	var space application.Space
	var category, createdStr, updatedStr string
	var active int

	err := row.Scan(
		&space.ID,
		&space.Name,
		&category,
		&space.Capacity,
		&space.Description,
		&space.Location,
		&active,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return application.Space{}, mapError(err)
	}

	space.Category = application.SpaceCategory(category)
	space.Active = active != 0
	if space.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.Space{}, err
	}
	if space.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.Space{}, err
	}
	return space, nil
}
