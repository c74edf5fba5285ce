package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
)

// UserEndpoint serves the "user" service.
type UserEndpoint struct {
	users    *application.UserService
	verifier TokenVerifier
}

func NewUserEndpoint(users *application.UserService, verifier TokenVerifier) *UserEndpoint {
	return &UserEndpoint{users: users, verifier: verifier}
}

func (e *UserEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	// Registration is the one action open to anonymous callers. Elevated
	// roles still require an administrator token.
	if envelope.Action == "create" {
		var req struct {
			Email       string `json:"email"`
			DisplayName string `json:"display_name"`
			Password    string `json:"password"`
			Role        string `json:"role"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		role := application.UserRole(req.Role)
		if req.Role == "" {
			role = application.RoleStudent
		}
		if role != application.RoleStudent {
			principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
			if err != nil {
				return nil, err
			}
			if !principal.IsAdmin {
				return nil, application.ErrUnauthorized
			}
		}
		user, err := e.users.CreateUser(ctx, application.CreateUserParams{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Password:    req.Password,
			Role:        role,
		})
		if err != nil {
			return nil, err
		}
		return newUserView(user), nil
	}

	principal, err := e.verifier.VerifyToken(ctx, envelope.Token)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "get":
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.UserID == "" {
			req.UserID = principal.UserID
		}
		if req.UserID != principal.UserID && !principal.IsAdmin {
			return nil, application.ErrUnauthorized
		}
		user, err := e.users.GetUser(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		return newUserView(user), nil

	case "list":
		var req struct {
			ActiveOnly bool `json:"active_only"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		users, err := e.users.ListUsers(ctx, principal, req.ActiveOnly)
		if err != nil {
			return nil, err
		}
		views := make([]userView, 0, len(users))
		for _, user := range users {
			views = append(views, newUserView(user))
		}
		return views, nil

	case "update":
		var req struct {
			UserID      string  `json:"user_id"`
			DisplayName *string `json:"display_name"`
			Password    *string `json:"password"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.UserID == "" {
			req.UserID = principal.UserID
		}
		user, err := e.users.UpdateUser(ctx, principal, application.UpdateUserParams{
			ID:          req.UserID,
			DisplayName: req.DisplayName,
			Password:    req.Password,
		})
		if err != nil {
			return nil, err
		}
		return newUserView(user), nil

	case "change-role":
		var req struct {
			UserID string `json:"user_id"`
			Role   string `json:"role"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		user, err := e.users.ChangeRole(ctx, principal, req.UserID, application.UserRole(req.Role))
		if err != nil {
			return nil, err
		}
		return newUserView(user), nil

	case "deactivate":
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		user, err := e.users.DeactivateUser(ctx, principal, req.UserID)
		if err != nil {
			return nil, err
		}
		return newUserView(user), nil

	default:
		return nil, unknownAction("user", envelope.Action)
	}
}
