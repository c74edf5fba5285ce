package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"
)

// UserRepository persists user accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	ListUsers(ctx context.Context, activeOnly bool) ([]User, error)
}

// CreateUserParams carries the attributes of a new account.
type CreateUserParams struct {
	Email       string
	DisplayName string
	Password    string
	Role        UserRole
}

// UpdateUserParams carries the mutable profile attributes of an account.
// Nil pointers leave the current value untouched.
type UpdateUserParams struct {
	ID          string
	DisplayName *string
	Password    *string
}

const minPasswordLength = 8

// UserService manages user accounts. Role changes and deactivation are
// restricted to administrators.
type UserService struct {
	users        UserRepository
	audits       AuditLog
	hashPassword func(password string) (string, error)
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewUserService wires dependencies for account management. A nil
// hashPassword falls back to the argon2id default.
func NewUserService(users UserRepository, audits AuditLog, hashPassword func(string) (string, error), idGenerator func() string, now func() time.Time, logger *slog.Logger) *UserService {
	if hashPassword == nil {
		hashPassword = func(password string) (string, error) {
			return CreatePasswordHash(password, DefaultArgon2idParams)
		}
	}
	return &UserService{
		users:        users,
		audits:       audits,
		hashPassword: hashPassword,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

// CreateUser registers a new active account. Email addresses are unique;
// a duplicate reports ErrAlreadyExists.
func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (user User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "CreateUser")
	defer func() {
		if err != nil {
			logger.Warn("create user failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("user created", "user_id", user.ID, "role", user.Role)
	}()

	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}

	vErr := &ValidationError{}
	if _, mailErr := mail.ParseAddress(params.Email); mailErr != nil {
		vErr.add("email", "email address is not valid")
	}
	if params.DisplayName == "" {
		vErr.add("display_name", "display name must not be empty")
	}
	if len(params.Password) < minPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if !KnownRole(params.Role) {
		vErr.add("role", fmt.Sprintf("unknown role %q", params.Role))
	}
	if vErr.HasErrors() {
		return User{}, vErr
	}

	hash, err := s.hashPassword(params.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user = User{
		ID:           s.idGenerator(),
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		Role:         params.Role,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	user, err = s.users.CreateUser(ctx, user)
	if err != nil {
		return User{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "users",
		Action:   "create",
		RecordID: user.ID,
		ActorID:  user.ID,
		After:    userAuditData(user),
		At:       now,
	})
	return user, nil
}

// GetUser returns one account by id.
func (s *UserService) GetUser(ctx context.Context, id string) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return User{}, mapRepoError(err)
	}
	return user, nil
}

// ListUsers returns accounts, admins only.
func (s *UserService) ListUsers(ctx context.Context, principal Principal, activeOnly bool) ([]User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}
	return s.users.ListUsers(ctx, activeOnly)
}

// UpdateUser applies the non-nil profile fields. Users may update their own
// profile; admins may update anyone's.
func (s *UserService) UpdateUser(ctx context.Context, principal Principal, params UpdateUserParams) (user User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "UpdateUser")
	defer func() {
		if err != nil {
			logger.Warn("update user failed", "user_id", params.ID, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("user updated", "user_id", user.ID)
	}()

	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if principal.UserID != params.ID && !principal.IsAdmin {
		return User{}, ErrUnauthorized
	}

	current, err := s.users.GetUser(ctx, params.ID)
	if err != nil {
		return User{}, mapRepoError(err)
	}

	before := userAuditData(current)
	updated := current
	if params.DisplayName != nil {
		if *params.DisplayName == "" {
			vErr := &ValidationError{}
			vErr.add("display_name", "display name must not be empty")
			return User{}, vErr
		}
		updated.DisplayName = *params.DisplayName
	}
	if params.Password != nil {
		if len(*params.Password) < minPasswordLength {
			vErr := &ValidationError{}
			vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
			return User{}, vErr
		}
		hash, hashErr := s.hashPassword(*params.Password)
		if hashErr != nil {
			return User{}, fmt.Errorf("hash password: %w", hashErr)
		}
		updated.PasswordHash = hash
	}
	updated.UpdatedAt = s.now()

	user, err = s.users.UpdateUser(ctx, updated)
	if err != nil {
		return User{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "users",
		Action:   "update",
		RecordID: user.ID,
		ActorID:  principal.UserID,
		Before:   before,
		After:    userAuditData(user),
		At:       user.UpdatedAt,
	})
	return user, nil
}

// ChangeRole assigns a new role, admins only.
func (s *UserService) ChangeRole(ctx context.Context, principal Principal, userID string, role UserRole) (user User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "ChangeRole")
	defer func() {
		if err != nil {
			logger.Warn("change role failed", "user_id", userID, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("role changed", "user_id", user.ID, "role", user.Role)
	}()

	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return User{}, ErrUnauthorized
	}
	if !KnownRole(role) {
		vErr := &ValidationError{}
		vErr.add("role", fmt.Sprintf("unknown role %q", role))
		return User{}, vErr
	}

	current, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, mapRepoError(err)
	}

	before := userAuditData(current)
	current.Role = role
	current.UpdatedAt = s.now()

	user, err = s.users.UpdateUser(ctx, current)
	if err != nil {
		return User{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "users",
		Action:   "change_role",
		RecordID: user.ID,
		ActorID:  principal.UserID,
		Before:   before,
		After:    userAuditData(user),
		At:       user.UpdatedAt,
	})
	return user, nil
}

// DeactivateUser disables an account, admins only. Disabled accounts cannot
// log in; their reservations remain on record.
func (s *UserService) DeactivateUser(ctx context.Context, principal Principal, userID string) (user User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "DeactivateUser")
	defer func() {
		if err != nil {
			logger.Warn("deactivate user failed", "user_id", userID, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("user deactivated", "user_id", user.ID)
	}()

	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return User{}, ErrUnauthorized
	}

	current, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, mapRepoError(err)
	}
	if !current.Active {
		return current, nil
	}

	before := userAuditData(current)
	current.Active = false
	current.UpdatedAt = s.now()

	user, err = s.users.UpdateUser(ctx, current)
	if err != nil {
		return User{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "users",
		Action:   "deactivate",
		RecordID: user.ID,
		ActorID:  principal.UserID,
		Before:   before,
		After:    userAuditData(user),
		At:       user.UpdatedAt,
	})
	return user, nil
}

func (s *UserService) appendAudit(ctx context.Context, entry AuditEntry) {
	if s.audits == nil {
		return
	}
	entry.ID = s.idGenerator()
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", "table", entry.Table, "record_id", entry.RecordID, "error", err)
	}
}

func userAuditData(user User) map[string]any {
	return map[string]any{
		"email":        user.Email,
		"display_name": user.DisplayName,
		"role":         string(user.Role),
		"active":       user.Active,
	}
}
