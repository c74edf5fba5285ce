package endpoint

import (
	"context"
	"encoding/json"

	"github.com/example/campus-reservation/internal/application"
)

// AuthEndpoint serves the "auth" service: login, verify, logout.
type AuthEndpoint struct {
	auth *application.AuthService
}

func NewAuthEndpoint(auth *application.AuthService) *AuthEndpoint {
	return &AuthEndpoint{auth: auth}
}

func (e *AuthEndpoint) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	envelope, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}

	switch envelope.Action {
	case "login":
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		result, err := e.auth.Login(ctx, application.LoginParams{
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			return nil, err
		}
		return struct {
			Token     string   `json:"token"`
			ExpiresAt string   `json:"expires_at"`
			User      userView `json:"user"`
		}{
			Token:     result.Token,
			ExpiresAt: formatTime(result.ExpiresAt),
			User:      newUserView(result.User),
		}, nil

	case "verify":
		principal, err := e.auth.VerifyToken(ctx, envelope.Token)
		if err != nil {
			return nil, err
		}
		return struct {
			UserID  string `json:"user_id"`
			IsAdmin bool   `json:"is_admin"`
		}{UserID: principal.UserID, IsAdmin: principal.IsAdmin}, nil

	case "logout":
		if err := e.auth.Logout(ctx, envelope.Token); err != nil {
			return nil, err
		}
		return ok, nil

	default:
		return nil, unknownAction("auth", envelope.Action)
	}
}
