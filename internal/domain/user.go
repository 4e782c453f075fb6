// Package domain contains core domain types shared by the chat client and the reference gateway.
package domain

import (
	"time"
)

// Role values carried by User.Role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account as exposed by the gateway.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsAdmin returns true if the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Session is the client-side view of authentication.
// Authenticated is true iff User is non-nil.
type Session struct {
	Authenticated bool
	User          *User
	Token         string
}

// NewSession builds an authenticated session for user.
func NewSession(user *User, token string) Session {
	if user == nil {
		return Session{}
	}
	u := *user
	return Session{Authenticated: true, User: &u, Token: token}
}
