package sqlite

import (
	"context"
	"fmt"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

const userColumns = `id, email, display_name, role, password_hash, active, created_at, updated_at`

// CreateUser inserts a new user. Emails are unique.
func (s *Store) CreateUser(ctx context.Context, user application.User) (application.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.DisplayName,
		string(user.Role),
		user.PasswordHash,
		boolToInt(user.Active),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		return application.User{}, mapError(err)
	}
	return user, nil
}

// GetUser retrieves one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (application.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves one user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (application.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UpdateUser replaces the mutable columns of a user.
func (s *Store) UpdateUser(ctx context.Context, user application.User) (application.User, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET display_name = ?, role = ?, password_hash = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		user.DisplayName,
		string(user.Role),
		user.PasswordHash,
		boolToInt(user.Active),
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return application.User{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return application.User{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return application.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// ListUsers returns users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, activeOnly bool) ([]application.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []application.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func scanUser(row rowScanner) (application.User, error) {
	var user application.User
	var role, createdStr, updatedStr string
	var active int

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&role,
		&user.PasswordHash,
		&active,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return application.User{}, mapError(err)
	}

	user.Role = application.UserRole(role)
	user.Active = active != 0
	if user.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return application.User{}, err
	}
	return user, nil
}
