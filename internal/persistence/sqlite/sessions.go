package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/persistence"
)

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, session application.Session) (application.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token, expires_at, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.Token,
		formatTime(session.ExpiresAt),
		formatTime(session.CreatedAt),
		formatNullableTime(session.RevokedAt),
	)
	if err != nil {
		return application.Session{}, mapError(err)
	}
	return session, nil
}

// GetSessionByToken retrieves one session by its opaque token.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (application.Session, error) {
	var session application.Session
	var expiresStr, createdStr string
	var revokedAt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, expires_at, created_at, revoked_at
		FROM sessions WHERE token = ?`, token).Scan(
		&session.ID,
		&session.UserID,
		&session.Token,
		&expiresStr,
		&createdStr,
		&revokedAt,
	)
	if err != nil {
		return application.Session{}, mapError(err)
	}

	if session.ExpiresAt, err = parseTime(expiresStr); err != nil {
		return application.Session{}, err
	}
	if session.CreatedAt, err = parseTime(createdStr); err != nil {
		return application.Session{}, err
	}
	if session.RevokedAt, err = parseNullableTime(revokedAt); err != nil {
		return application.Session{}, err
	}
	return session, nil
}

// RevokeSession stamps the session revoked.
func (s *Store) RevokeSession(ctx context.Context, id string, revokedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ? WHERE id = ?`,
		formatTime(revokedAt), id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// PurgeExpiredSessions deletes sessions that expired before the cutoff.
// Returns how many were removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, mapError(err)
	}
	return result.RowsAffected()
}
