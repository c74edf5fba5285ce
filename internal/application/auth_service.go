package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionRepository persists authentication sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, id string, revokedAt time.Time) error
}

// DefaultSessionTTL is how long a token stays valid when no TTL is
// configured.
const DefaultSessionTTL = 12 * time.Hour

// LoginParams carries the credentials of a login attempt.
type LoginParams struct {
	Email    string
	Password string
}

// LoginResult is a successful login: the issued token and the account it
// belongs to.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// AuthService issues and verifies opaque session tokens. A token is a
// random value looked up in storage; revoking or expiring the session
// invalidates it immediately.
type AuthService struct {
	users          UserRepository
	sessions       SessionRepository
	verifyPassword func(hashedPassword, password string) error
	tokenGenerator func() (string, error)
	idGenerator    func() string
	now            func() time.Time
	sessionTTL     time.Duration
	logger         *slog.Logger
}

// NewAuthService wires dependencies for authentication. A nil
// verifyPassword falls back to the argon2id verifier, a nil tokenGenerator
// to 32 random bytes hex-encoded, and a non-positive ttl to
// DefaultSessionTTL.
func NewAuthService(users UserRepository, sessions SessionRepository, verifyPassword func(hashedPassword, password string) error, tokenGenerator func() (string, error), idGenerator func() string, now func() time.Time, ttl time.Duration, logger *slog.Logger) *AuthService {
	if verifyPassword == nil {
		verifyPassword = VerifyPassword
	}
	if tokenGenerator == nil {
		tokenGenerator = randomToken
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &AuthService{
		users:          users,
		sessions:       sessions,
		verifyPassword: verifyPassword,
		tokenGenerator: tokenGenerator,
		idGenerator:    idGenerator,
		now:            now,
		sessionTTL:     ttl,
		logger:         defaultLogger(logger),
	}
}

// Login verifies the credentials and issues a session token. Unknown
// email, wrong password and deactivated account all report
// ErrInvalidCredentials so the response does not reveal which one failed.
func (s *AuthService) Login(ctx context.Context, params LoginParams) (result LoginResult, err error) {
	logger := serviceLogger(ctx, s.logger, "AuthService", "Login")
	defer func() {
		if err != nil {
			logger.Warn("login failed", "error_kind", ErrorKind(err))
			return
		}
		logger.Info("login succeeded", "user_id", result.User.ID)
	}()

	if s == nil {
		return LoginResult{}, fmt.Errorf("AuthService is nil")
	}
	if params.Email == "" || params.Password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, params.Email)
	if err != nil {
		if isNotFoundError(err) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.Active {
		return LoginResult{}, ErrInvalidCredentials
	}
	if verifyErr := s.verifyPassword(user.PasswordHash, params.Password); verifyErr != nil {
		if errors.Is(verifyErr, ErrInvalidPasswordHash) || errors.Is(verifyErr, ErrIncompatiblePasswordVersion) {
			return LoginResult{}, fmt.Errorf("verify password: %w", verifyErr)
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.tokenGenerator()
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate token: %w", err)
	}

	now := s.now()
	session := Session{
		ID:        s.idGenerator(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}
	session, err = s.sessions.CreateSession(ctx, session)
	if err != nil {
		return LoginResult{}, mapRepoError(err)
	}

	return LoginResult{Token: session.Token, ExpiresAt: session.ExpiresAt, User: user}, nil
}

// VerifyToken resolves a token to its principal. Expired sessions report
// ErrSessionExpired, revoked ones ErrSessionRevoked, unknown tokens
// ErrUnauthorized.
func (s *AuthService) VerifyToken(ctx context.Context, token string) (Principal, error) {
	if s == nil {
		return Principal{}, fmt.Errorf("AuthService is nil")
	}
	if token == "" {
		return Principal{}, ErrUnauthorized
	}

	session, err := s.sessions.GetSessionByToken(ctx, token)
	if err != nil {
		if isNotFoundError(err) {
			return Principal{}, ErrUnauthorized
		}
		return Principal{}, err
	}
	if session.RevokedAt != nil {
		return Principal{}, ErrSessionRevoked
	}
	if !s.now().Before(session.ExpiresAt) {
		return Principal{}, ErrSessionExpired
	}

	user, err := s.users.GetUser(ctx, session.UserID)
	if err != nil {
		return Principal{}, mapRepoError(err)
	}
	if !user.Active {
		return Principal{}, ErrUnauthorized
	}

	return Principal{UserID: user.ID, IsAdmin: user.Role == RoleAdmin}, nil
}

// Logout revokes the session behind the token. Revoking an unknown or
// already revoked token is not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if token == "" {
		return nil
	}

	session, err := s.sessions.GetSessionByToken(ctx, token)
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}
	return s.sessions.RevokeSession(ctx, session.ID, s.now())
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
