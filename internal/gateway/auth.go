package gateway

import (
	"context"
	"net/http"

	"github.com/ashureev/chatdesk/internal/domain"
)

// Credentials are the login inputs.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration are the register inputs.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

type userEnvelope struct {
	User *domain.User `json:"user"`
}

type profileRequest struct {
	Username string `json:"username"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, reg, &out); err != nil {
		return nil, err
	}
	if err := checkAuthResponse(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, creds, &out); err != nil {
		return nil, err
	}
	if err := checkAuthResponse(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me resolves the user behind the current token.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, &Error{Kind: KindServer, Message: "auth/me returned no user"}
	}
	return out.User, nil
}

// UpdateProfile changes the username.
func (c *Client) UpdateProfile(ctx context.Context, username string) (*domain.User, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodPut, "/auth/profile", nil, profileRequest{Username: username}, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, &Error{Kind: KindServer, Message: "auth/profile returned no user"}
	}
	return out.User, nil
}

// ChangePassword replaces the account password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.do(ctx, http.MethodPost, "/auth/change-password", nil, changePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	}, nil)
}

func checkAuthResponse(out *AuthResponse) error {
	if out.User == nil || out.Token == "" {
		return &Error{Kind: KindServer, Message: "auth response missing user or token"}
	}
	return nil
}
